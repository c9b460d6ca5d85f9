package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/gamebeat/internal/api"
	"github.com/gyaneshwarpardhi/gamebeat/internal/config"
	"github.com/gyaneshwarpardhi/gamebeat/internal/dispatch"
	"github.com/gyaneshwarpardhi/gamebeat/internal/orchestrator"
	"github.com/gyaneshwarpardhi/gamebeat/internal/playback"
	"github.com/gyaneshwarpardhi/gamebeat/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the telemetry server and playback orchestrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context())
		},
	}
	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	if err := a.v.BindPFlag("addr", cmd.Flags().Lookup("addr")); err != nil {
		panic(fmt.Sprintf("bind addr flag: %v", err))
	}
	return cmd
}

func (a *app) run(ctx context.Context) error {
	logger := a.logger
	addr := a.v.GetString("addr")

	// Config
	loader, err := config.NewLoader(a.v.GetString("config"), logger)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	a.applyConfigLevel(cfg.Developer.LoggingLevel)
	cancelLevel := loader.OnChange(func(c *config.AppConfig) { a.applyConfigLevel(c.Developer.LoggingLevel) })
	defer cancelLevel()

	stopWatch, err := loader.Watch()
	if err != nil {
		logger.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// Playback
	creds, err := config.LoadCredentials()
	if err != nil {
		return err
	}
	mode := playback.ModeFor(cfg)
	client, err := playback.New(mode, playback.OptionsFor(cfg, creds, logger))
	if err != nil {
		return err
	}
	queue := dispatch.New(
		dispatch.WithTaskTimeout(cfg.Dispatch.TaskTimeout()),
		dispatch.WithLogger(logger),
	)
	defer queue.Close()

	feed := telemetry.NewFeed(cfg.Telemetry.Buffer, logger)
	defer feed.Close()

	// HTTP server; started before the orchestrator so a web playback device can register.
	deps := api.Deps{
		Loader:       loader,
		Feed:         feed,
		Queue:        queue,
		ReadyBacklog: cfg.Dispatch.ReadyBacklog,
		Logger:       logger,
	}
	if reg, ok := client.(playback.DeviceRegistrar); ok {
		deps.Registrar = reg
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.New(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	shutdown := func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logger.Warn("server shutdown", "err", err)
		}
	}

	// Orchestrator
	orch, err := orchestrator.New(orchestrator.Deps{
		Loader: loader,
		Feed:   feed,
		Client: client,
		Queue:  queue,
		Logger: logger,
	})
	if err != nil {
		shutdown()
		return err
	}
	if err := orch.Start(ctx); err != nil {
		shutdown()
		return fmt.Errorf("start orchestrator (%s): %w", mode, err)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		orch.Stop()
		shutdown()
		return fmt.Errorf("http server: %w", err)
	}

	shutdown()
	orch.Stop()
	logger.Info("goodbye")
	return nil
}
