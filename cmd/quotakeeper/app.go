package main

import (
	"fmt"
	"time"

	"github.com/goodtune/quotakeeper/internal/calendar"
	"github.com/goodtune/quotakeeper/internal/clock"
	"github.com/goodtune/quotakeeper/internal/config"
	"github.com/goodtune/quotakeeper/internal/engine"
	"github.com/goodtune/quotakeeper/internal/ledger"
	"github.com/goodtune/quotakeeper/internal/notify"
	"github.com/goodtune/quotakeeper/internal/policy"
	"github.com/goodtune/quotakeeper/internal/policy/opa"
	"github.com/goodtune/quotakeeper/internal/reclaim"
	"github.com/goodtune/quotakeeper/internal/storage"
	"github.com/goodtune/quotakeeper/internal/storage/redis"
	"github.com/goodtune/quotakeeper/internal/usage"
	"github.com/rs/zerolog"
)

// app is every component wired from one configuration
type app struct {
	cfg        *config.Config
	store      *redis.Store
	calendar   *calendar.Calendar
	ownership  *storage.CachedOwnership
	controller *redis.Controller
	policy     *opa.Engine
	gate       *policy.Gate
	engine     *engine.Engine
}

// openStorage creates the configured storage backend
func openStorage(cfg config.StorageConfig) (*redis.Store, error) {
	switch cfg.Type {
	case "redis", "":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// buildCalendar creates the quota calendar from configuration
func buildCalendar(cfg *config.Config, logger zerolog.Logger) (*calendar.Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}

	start, err := calendar.ParseTimeOfDay(cfg.Quota.ExclusionWindow.Start)
	if err != nil {
		return nil, err
	}
	end, err := calendar.ParseTimeOfDay(cfg.Quota.ExclusionWindow.End)
	if err != nil {
		return nil, err
	}

	pol := calendar.Policy{
		WorkingDayBudget:    parseDuration(cfg.Quota.WorkingDayBudget, 6*time.Hour),
		NonWorkingDayBudget: parseDuration(cfg.Quota.NonWorkingDayBudget, 12*time.Hour),
		Exclusion:           calendar.Window{Start: start, End: end},
	}
	if err := pol.Validate(); err != nil {
		return nil, err
	}

	table := calendar.DefaultTable()
	if cfg.Calendar.HolidaysFile != "" {
		table, err = calendar.LoadTable(cfg.Calendar.HolidaysFile)
		if err != nil {
			return nil, err
		}
	}

	return calendar.New(loc, pol, table, logger), nil
}

// buildApp opens storage and wires the engine. clk may be a fixed clock for
// what-if checks.
func buildApp(cfg *config.Config, clk clock.Clock, logger zerolog.Logger) (*app, error) {
	cal, err := buildCalendar(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize calendar: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	policyEngine, err := opa.NewEngine(cfg.Policy.PolicyDir, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	ownership := storage.NewCachedOwnership(
		store.Ownership(),
		cfg.Ownership.CacheSize,
		parseDuration(cfg.Ownership.CacheTTL, time.Minute),
	)
	controller := redis.NewController(store, logger)
	notifier := notify.Multi{notify.NewLog(logger), redis.NewNotifier(store)}
	led := ledger.New(store.Ledger(), cal, logger)
	gate := policy.NewGate(led, ownership, controller, policyEngine, clk, logger)

	reclaimer := reclaim.New(led, ownership, controller, store.Events(), notifier, clk, reclaim.Options{
		Concurrency: cfg.Reclaim.Concurrency,
		StopRetries: cfg.Reclaim.StopRetries,
		Message:     cfg.Reclaim.Message,
	}, logger)

	eng := engine.New(engine.Deps{
		Calendar:   cal,
		Accountant: usage.NewAccountant(cal, logger),
		Ledger:     led,
		Gate:       gate,
		Reclaimer:  reclaimer,
		Events:     store.Events(),
		Ownership:  ownership,
		Controller: controller,
		Deferred:   store.Deferred(),
		Clock:      clk,
	}, engine.Options{
		Lookback:         parseDuration(cfg.Quota.Lookback, 6*time.Hour),
		Concurrency:      cfg.Reclaim.Concurrency,
		UpdatePeriodOnly: cfg.Schedule.UpdatePeriodOnly,
		WindowEndStop:    cfg.Schedule.WindowEndStopEnabled,
	}, logger)

	return &app{
		cfg:        cfg,
		store:      store,
		calendar:   cal,
		ownership:  ownership,
		controller: controller,
		policy:     policyEngine,
		gate:       gate,
		engine:     eng,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// loadApp loads configuration and builds the app with the real clock
func loadApp(logger zerolog.Logger) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return buildApp(cfg, clock.Real{}, logger)
}
