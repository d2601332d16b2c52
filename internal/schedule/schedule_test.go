package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goodtune/quotakeeper/internal/config"
	"github.com/goodtune/quotakeeper/internal/engine"
	"github.com/goodtune/quotakeeper/internal/reclaim"
	"github.com/rs/zerolog"
)

type countingRunner struct {
	resets, sweeps, deferred, windowEnd atomic.Int32
}

func (c *countingRunner) ResetToday(context.Context) (int, error) {
	c.resets.Add(1)
	return 0, nil
}

func (c *countingRunner) AccountAndReclaim(context.Context) (engine.Stats, error) {
	c.sweeps.Add(1)
	return engine.Stats{}, errors.New("partial sweep")
}

func (c *countingRunner) RunDeferred(context.Context) (int, error) {
	c.deferred.Add(1)
	return 0, nil
}

func (c *countingRunner) StopAtWindowEnd(context.Context) (reclaim.Stats, error) {
	c.windowEnd.Add(1)
	return reclaim.Stats{}, nil
}

func TestValidate(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"0 0 * * *", false},
		{"@every 5m", false},
		{"@daily", false},
		{"0 18 * * 1-5", false},
		{"* * * * * *", true},
		{"every five minutes", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			err := Validate(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	cfg := config.Defaults().Schedule

	tests := []struct {
		name      string
		windowEnd bool
		wantJobs  []string
	}{
		{"with window end", true, []string{"reset", "reconcile", "deferred", "window-end"}},
		{"without window end", false, []string{"reset", "reconcile", "deferred"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(time.UTC, zerolog.Nop())
			cfg.WindowEndStopEnabled = tt.windowEnd

			if err := Register(s, &countingRunner{}, cfg); err != nil {
				t.Fatalf("Register failed: %v", err)
			}

			got := map[string]bool{}
			for _, e := range s.Entries() {
				got[e.Name] = true
			}
			if len(got) != len(tt.wantJobs) {
				t.Errorf("Expected %d jobs, got %v", len(tt.wantJobs), got)
			}
			for _, name := range tt.wantJobs {
				if !got[name] {
					t.Errorf("Expected job %s to be registered", name)
				}
			}
		})
	}
}

func TestRegister_InvalidSpec(t *testing.T) {
	cfg := config.Defaults().Schedule
	cfg.Reconcile = "sometimes"

	if err := Register(New(time.UTC, zerolog.Nop()), &countingRunner{}, cfg); err == nil {
		t.Error("Expected error for invalid reconcile spec")
	}
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := New(time.UTC, zerolog.Nop())
	runner := &countingRunner{}

	cfg := config.ScheduleConfig{
		Reset:     "@every 1h",
		Reconcile: "@every 1s",
		Deferred:  "@every 1s",
	}
	if err := Register(s, runner, cfg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	s.Start()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if runner.sweeps.Load() > 0 && runner.deferred.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// A failing job keeps being scheduled
	if runner.sweeps.Load() == 0 {
		t.Error("Expected reconcile job to run")
	}
	if runner.deferred.Load() == 0 {
		t.Error("Expected deferred job to run")
	}
	if runner.resets.Load() != 0 {
		t.Errorf("Expected hourly reset not to run yet, got %d", runner.resets.Load())
	}
}
