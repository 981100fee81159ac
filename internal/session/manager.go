package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edumanage/edugate/internal/observability/metrics"
	"github.com/edumanage/edugate/internal/observability/statsd"
	"github.com/edumanage/edugate/internal/ports"
)

const (
	defaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = time.Minute
	defaultMaxStores     = 10000
)

// ErrManagerClosed is returned by Get after Dispose.
var ErrManagerClosed = errors.New("session manager closed")

// ManagerOptions holds the dependencies shared by every Store.
type ManagerOptions struct {
	Provider ports.IdentityProvider
	Tokens   ports.TokenStore
	Minter   ports.TokenMinter
	Logger   *slog.Logger
	Metrics  statsd.Sink

	// IdleTTL is how long a store may go untouched before Sweep disposes it.
	IdleTTL       time.Duration
	SweepInterval time.Duration
	// MaxStores caps the registry. Creating a store beyond it disposes the
	// least recently seen one; its state survives in the provider and token
	// store and is restored on the client's next request.
	MaxStores int
	Now       func() time.Time
}

// Manager owns one Store per client and disposes idle ones.
type Manager struct {
	opts   ManagerOptions
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]*Store
	closed bool
}

// NewManager validates opts and applies defaults.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Provider == nil || opts.Tokens == nil || opts.Minter == nil {
		return nil, errors.New("session manager: provider, token store and minter are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.MaxStores <= 0 {
		opts.MaxStores = defaultMaxStores
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		opts:   opts,
		logger: opts.Logger.With("component", "session_manager"),
		stores: make(map[string]*Store),
	}, nil
}

// Get returns the initialised store for clientID, creating it on first use.
func (m *Manager) Get(ctx context.Context, clientID string) (*Store, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	s, ok := m.stores[clientID]
	var evicted *Store
	if !ok {
		var err error
		s, err = NewStore(Config{
			ClientID: clientID,
			Provider: m.opts.Provider,
			Tokens:   m.opts.Tokens,
			Minter:   m.opts.Minter,
			Logger:   m.opts.Logger,
			Now:      m.opts.Now,
		})
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		if len(m.stores) >= m.opts.MaxStores {
			evicted = m.evictOldestLocked()
		}
		m.stores[clientID] = s
	}
	m.mu.Unlock()

	if evicted != nil {
		evicted.Dispose()
		metrics.EmitSessions(m.opts.Metrics, m.Len(), 1)
		m.logger.DebugContext(ctx, "session registry full; evicted least recently seen store")
	}

	s.Touch()
	if err := s.Init(ctx); err != nil {
		m.remove(clientID, s)
		return nil, fmt.Errorf("init session: %w", err)
	}
	return s, nil
}

// Peek returns the store for clientID without creating one.
func (m *Manager) Peek(clientID string) (*Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[clientID]
	return s, ok
}

// Len reports the number of live stores.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}

// evictOldestLocked removes the least recently seen store. Callers hold m.mu.
func (m *Manager) evictOldestLocked() *Store {
	var (
		oldestID string
		oldest   *Store
	)
	for id, s := range m.stores {
		if oldest == nil || s.LastSeen().Before(oldest.LastSeen()) {
			oldestID, oldest = id, s
		}
	}
	if oldest != nil {
		delete(m.stores, oldestID)
	}
	return oldest
}

func (m *Manager) remove(clientID string, s *Store) {
	m.mu.Lock()
	if cur, ok := m.stores[clientID]; ok && cur == s {
		delete(m.stores, clientID)
	}
	m.mu.Unlock()
	s.Dispose()
}

// Sweep disposes stores idle for longer than IdleTTL and returns how many it removed.
func (m *Manager) Sweep() int {
	cutoff := m.opts.Now().Add(-m.opts.IdleTTL)

	m.mu.Lock()
	var idle []*Store
	for id, s := range m.stores {
		if s.LastSeen().Before(cutoff) {
			idle = append(idle, s)
			delete(m.stores, id)
		}
	}
	live := len(m.stores)
	m.mu.Unlock()

	for _, s := range idle {
		s.Dispose()
	}
	metrics.EmitSessions(m.opts.Metrics, live, len(idle))
	return len(idle)
}

// Run sweeps on every interval until ctx is cancelled, then disposes all stores.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "starting session sweeper",
		"idle_ttl", m.opts.IdleTTL, "interval", m.opts.SweepInterval)

	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Dispose()
			return nil
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.DebugContext(ctx, "evicted idle sessions", "count", n)
			}
		}
	}
}

// Dispose disposes every store. Later calls to Get fail with ErrManagerClosed.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	stores := m.stores
	m.stores = make(map[string]*Store)
	m.mu.Unlock()

	for _, s := range stores {
		s.Dispose()
	}
}
