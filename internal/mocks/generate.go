// Package mocks provides gomock mocks for the gate's backend ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	minter := mocks.NewMockTokenMinter(ctrl)
//	minter.EXPECT().MintToken(gomock.Any(), "a@example.com").Return("tok", nil)
package mocks

// TokenMinter and UserDirectory are the gate's only outbound calls to the backend.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=backend_mock.go github.com/edumanage/edugate/internal/ports TokenMinter,UserDirectory

// TokenStore is mocked to inject persistence failures.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=token_store_mock.go github.com/edumanage/edugate/internal/ports TokenStore
