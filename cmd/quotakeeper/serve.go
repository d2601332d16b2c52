package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/quotakeeper/internal/calendar"
	"github.com/goodtune/quotakeeper/internal/clock"
	"github.com/goodtune/quotakeeper/internal/config"
	"github.com/goodtune/quotakeeper/internal/metrics"
	"github.com/goodtune/quotakeeper/internal/schedule"
	"github.com/goodtune/quotakeeper/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the metrics/status server",
	Long: `Run quotakeeper as a long-lived service: the midnight reset, the periodic
reconcile and reclaim sweep, deferred exhaustion checks and the window-end
stop are triggered by an internal cron scheduler.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting quotakeeper")

	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	a, err := buildApp(cfg, clock.Real{}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("redis_host", cfg.Storage.Redis.Host).
		Int("redis_port", cfg.Storage.Redis.Port).
		Msg("Storage initialized")

	year := time.Now().In(a.calendar.Location()).Year()
	if !a.calendar.Covers(year) {
		logger.Warn().Int("year", year).Msg("Holiday table does not cover the current year; only weekends are non-working days")
	}

	var watcher *calendar.Watcher
	if cfg.Calendar.Watch && cfg.Calendar.HolidaysFile != "" {
		watcher, err = calendar.Watch(cfg.Calendar.HolidaysFile, a.calendar, logger)
		if err != nil {
			return fmt.Errorf("failed to watch holiday file: %w", err)
		}
		defer watcher.Stop()
	}

	scheduler := schedule.New(a.calendar.Location(), logger)
	if err := schedule.Register(scheduler, a.engine, cfg.Schedule); err != nil {
		return fmt.Errorf("failed to register scheduled jobs: %w", err)
	}

	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, a.engine, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().
		Str("addr", metricsAddr).
		Msg("Metrics server started")

	// Catch up on a reset missed while the service was down
	if _, err := a.engine.ResetToday(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Startup ledger reset failed")
	}

	scheduler.Start()
	for _, e := range scheduler.Entries() {
		logger.Info().Str("job", e.Name).Str("spec", e.Spec).Time("next", e.Next).Msg("Next run")
	}

	logger.Info().Msg("quotakeeper startup complete")

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	watchdogCtx, stopWatchdog := context.WithCancel(context.Background())
	defer stopWatchdog()
	go systemd.RunWatchdog(watchdogCtx, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, reloading policies and holidays...")
			reload(a, logger)
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := scheduler.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Error stopping scheduler")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("quotakeeper stopped")
	return nil
}

// reload re-reads the gate policies and the holiday table
func reload(a *app, logger zerolog.Logger) {
	if err := a.policy.Reload(); err != nil {
		logger.Error().Err(err).Msg("Failed to reload policies")
	} else {
		logger.Info().Msg("Policies reloaded successfully")
	}

	if path := a.cfg.Calendar.HolidaysFile; path != "" {
		table, err := calendar.LoadTable(path)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to reload holiday table")
			return
		}
		a.calendar.SetHolidays(table)
		logger.Info().Ints("years", table.Years()).Msg("Holiday table reloaded")
	}
}
