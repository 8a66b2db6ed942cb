package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	agentrouter "github.com/ferro-labs/agent-router"
	"github.com/ferro-labs/agent-router/internal/admin"
	"github.com/ferro-labs/agent-router/internal/configstore"
	"github.com/ferro-labs/agent-router/internal/health"
	"github.com/ferro-labs/agent-router/internal/logging"
	"github.com/ferro-labs/agent-router/internal/version"
	"github.com/ferro-labs/agent-router/providers"
)

func newServeCmd() *cobra.Command {
	var (
		port       string
		seedConfig string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the routing server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			if port != "" {
				s.Port = port
			}
			logging.Setup(s.LogLevel, s.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, s, seedConfig)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	cmd.Flags().StringVarP(&seedConfig, "config", "c", "", "seed config file (JSON, YAML or TOML) applied when no config is stored")
	return cmd
}

func serve(ctx context.Context, s settings, seedConfig string) error {
	log := logging.Component("server")

	backend, backendCloser, err := openConfigBackend(s)
	if err != nil {
		return fmt.Errorf("config store: %w", err)
	}
	if backendCloser != nil {
		defer closeQuietly(log, "config store", backendCloser)
	}
	cfgStore := configstore.New(backend)
	if seedConfig != "" {
		if err := seed(ctx, cfgStore, seedConfig); err != nil {
			return err
		}
	}

	usageStore, err := openUsageStore(s)
	if err != nil {
		return fmt.Errorf("usage store: %w", err)
	}
	defer closeQuietly(log, "usage store", usageStore)

	client := providers.NewClient(nil)
	monitor := health.NewMonitor(client)
	rt, err := agentrouter.New(agentrouter.Options{
		Config:     cfgStore,
		Dispatcher: client,
		Health:     monitor,
		Usage:      usageStore,
	})
	if err != nil {
		return err
	}
	cfgStore.OnChange(rt.PruneHealth)

	sweeper := health.NewSweeper(monitor, s.SweepInterval, sweepReprobe(s, rt))
	sweeper.Start(ctx)
	defer sweeper.Stop()

	handler := newRouter(serverDeps{
		Router:      rt,
		Admin:       &admin.Handlers{Config: cfgStore, Router: rt, Usage: usageStore},
		Tokens:      admin.NewTokens(s.AdminToken, s.ReadToken),
		CORSOrigins: s.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      providers.DefaultDispatchTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		cfg := cfgStore.Load(ctx)
		log.Info("agentrouter listening",
			"version", version.Short(),
			"addr", srv.Addr,
			"providers", len(cfg.Providers),
			"admin_auth", s.AdminToken != "" || s.ReadToken != "",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// seed writes the config file at path into the store when nothing is
// stored yet.
func seed(ctx context.Context, store *configstore.Store, path string) error {
	stored, err := store.Stored(ctx)
	if err != nil {
		return fmt.Errorf("check stored config: %w", err)
	}
	if stored {
		logging.Component("server").Info("config already stored; seed file ignored", "path", path)
		return nil
	}
	cfg, err := agentrouter.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load seed config: %w", err)
	}
	if err := store.Replace(ctx, *cfg); err != nil {
		return fmt.Errorf("seed config: %w", err)
	}
	return nil
}

func closeQuietly(log *slog.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warn("close failed", "resource", what, "error", err)
	}
}

// sweepReprobe returns the sweeper's re-probe hook. By default the sweep is
// a watchdog only and providers are probed on demand by routing.
func sweepReprobe(s settings, rt *agentrouter.Router) health.ReprobeFunc {
	if !s.SweepReprobe {
		return nil
	}
	return rt.Reprobe
}
