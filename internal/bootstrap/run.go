package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// RunConfig groups what Run drives.
type RunConfig struct {
	Server   *http.Server
	Services *ServiceContainer
	Logger   *slog.Logger
	// Listener is optional; when nil the server listens on Server.Addr.
	Listener net.Listener
}

// Run serves HTTP and sweeps idle sessions until ctx ends or SIGINT/SIGTERM
// arrives, then shuts both down. The first failure stops everything.
func Run(ctx context.Context, cfg RunConfig) error {
	if cfg.Server == nil || cfg.Services == nil {
		return errors.New("run requires a server and services")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", cfg.Server.Addr)
		var err error
		if cfg.Listener != nil {
			err = cfg.Server.Serve(cfg.Listener)
		} else {
			err = cfg.Server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return cfg.Services.Sessions.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		// gctx is already done; shut down on a fresh context.
		return ShutdownHTTPServer(context.WithoutCancel(gctx), cfg.Server, logger)
	})

	err := g.Wait()
	if cerr := cfg.Services.Close(); cerr != nil {
		logger.Warn("close services", "error", cerr)
	}
	return err
}
