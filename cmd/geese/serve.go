package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartridge/geese/internal/config"
	httpServer "github.com/cartridge/geese/internal/http"
	"github.com/cartridge/geese/internal/metrics"
	"github.com/cartridge/geese/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent as a Kaggle HTTP endpoint",
	Long: `Serves POST /api/v1/act for Kaggle observations. SIGHUP reloads the
model from --model-path.`,
	RunE: runServe,
}

func init() {
	d := config.Default()
	serveCmd.Flags().String("http-addr", d.HTTPAddr, "HTTP listen address")
	serveCmd.Flags().Int64("seed", d.Seed, "Random seed (0 for time based)")
	serveCmd.Flags().Duration("shutdown-timeout", d.ShutdownTimeout, "Graceful shutdown timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	m, err := openModel(cfg)
	if err != nil {
		return fmt.Errorf("failed to open model: %w", err)
	}
	ag := newAgent(cfg, m, 0)
	defer func() { closeModel(ag.Model()) }()

	var store storage.EpisodeStore
	closeStore := func() {}
	if cfg.DatabaseURL != "" {
		store, closeStore, err = openStore(context.Background(), cfg)
		if err != nil {
			return fmt.Errorf("failed to open episode store: %w", err)
		}
	}
	defer closeStore()

	h := httpServer.NewServer(ag, store, metrics.NewCollector(logger), &logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info().Str("addr", cfg.HTTPAddr).Bool("episodes", store != nil).Msg("Agent HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sig)

wait:
	for {
		select {
		case <-done:
			return fmt.Errorf("http server exited")
		case s := <-sig:
			if s != syscall.SIGHUP {
				break wait
			}
			if err := h.Reload(cfg.ModelPath); err != nil {
				logger.Error().Err(err).Str("path", cfg.ModelPath).Msg("Model reload failed")
			}
		}
	}
	logger.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	<-done
	logger.Info().Msg("agent server stopped")
	return nil
}
