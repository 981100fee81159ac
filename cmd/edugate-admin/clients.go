package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	redisadapter "github.com/edumanage/edugate/internal/adapters/redis"
	"github.com/edumanage/edugate/internal/bootstrap"
	"github.com/edumanage/edugate/internal/ports"
)

type signOutOptions struct {
	ClientID string
}

func parseSignOutFlags(args []string) (signOutOptions, error) {
	fs := flag.NewFlagSet("sign-out-client", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts signOutOptions
	fs.StringVar(&opts.ClientID, "client-id", "", "Value of the browser's edu_client cookie")

	if err := fs.Parse(args); err != nil {
		return signOutOptions{}, err
	}

	opts.ClientID = strings.TrimSpace(opts.ClientID)
	if opts.ClientID == "" {
		return signOutOptions{}, errors.New("--client-id is required")
	}
	if _, err := uuid.Parse(opts.ClientID); err != nil {
		return signOutOptions{}, fmt.Errorf("--client-id: %w", err)
	}
	return opts, nil
}

// runSignOutClient removes the persisted state for one client. A gate replica
// holding the client's session in memory keeps it until the store is swept.
func runSignOutClient(cmdCtx *commandContext, args []string) error {
	opts, err := parseSignOutFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", cerr)
		}
	}()

	prefix := cmdCtx.Config.Redis.KeyPrefix
	if err := signOutClient(
		ctx,
		redisadapter.NewTokenStoreWithPrefix(client, prefix+"client:"),
		redisadapter.NewAuthStateStoreWithPrefix(client, prefix+"authstate:"),
		opts.ClientID,
	); err != nil {
		return err
	}
	cmdCtx.Logger.Info("client signed out", "client_id", opts.ClientID)
	return nil
}

func signOutClient(ctx context.Context, tokens ports.TokenStore, states ports.AuthStateStore, clientID string) error {
	return errors.Join(
		wrapErr("clear token", tokens.Clear(ctx, clientID)),
		wrapErr("delete auth state", states.Delete(ctx, clientID)),
	)
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
