package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// shutdownGrace bounds how long serve waits for the metrics server to shut
// down. The scheduler and the reminder worker are stopped before that with
// no deadline, and each Stop waits only for its own polling loop. Job runs
// already in flight share the signal context, so they are cancelled when
// the signal arrives; they are not drained or waited for.
const shutdownGrace = 20 * time.Second

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher: scheduler clock, reminder worker, and metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "corebot.yaml", "path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	a, err := buildApp(configPath)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.logger.Info(ctx, "corebot: starting",
		"version", version, "commit", commit,
		"channel_type", string(a.channelType),
		"metrics_port", a.cfg.MetricsPort,
	)

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error(ctx, "corebot: metrics server failed", "error", err)
		}
	}()

	if err := a.skills.StartWatching(ctx); err != nil {
		a.logger.Warn(ctx, "corebot: skill file watch disabled", "error", err)
	}

	a.scheduler.Start(ctx)
	a.reminderWork.Start(ctx)

	<-ctx.Done()
	a.logger.Info(ctx, "corebot: shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	a.scheduler.Stop()
	a.reminderWork.Stop()
	_ = metricsSrv.Shutdown(shutdownCtx)

	a.logger.Info(ctx, "corebot: stopped")
	return nil
}
