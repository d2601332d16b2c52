package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Timezone != "Asia/Seoul" {
		t.Errorf("Expected Asia/Seoul, got %s", cfg.Timezone)
	}
	if cfg.Quota.WorkingDayBudget != "6h" || cfg.Quota.NonWorkingDayBudget != "12h" {
		t.Errorf("Unexpected budgets: %+v", cfg.Quota)
	}
	if cfg.Quota.ExclusionWindow.Start != "08:30" || cfg.Quota.ExclusionWindow.End != "18:00" {
		t.Errorf("Unexpected exclusion window: %+v", cfg.Quota.ExclusionWindow)
	}
	if cfg.Schedule.Reconcile != "@every 5m" {
		t.Errorf("Expected 5 minute reconcile, got %s", cfg.Schedule.Reconcile)
	}
	if cfg.Storage.Redis.KeyPrefix != "quotakeeper" {
		t.Errorf("Expected default key prefix, got %s", cfg.Storage.Redis.KeyPrefix)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
timezone: UTC
quota:
  working_day_budget: 4h
  exclusion_window:
    start: "09:00"
    end: "17:00"
storage:
  redis:
    host: redis.internal
`)
	t.Setenv("QUOTAKEEPER_RECLAIM_CONCURRENCY", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Quota.WorkingDayBudget != "4h" {
		t.Errorf("Expected 4h, got %s", cfg.Quota.WorkingDayBudget)
	}
	if cfg.Quota.NonWorkingDayBudget != "12h" {
		t.Errorf("Expected default non-working budget, got %s", cfg.Quota.NonWorkingDayBudget)
	}
	if cfg.Storage.Redis.Host != "redis.internal" {
		t.Errorf("Expected redis.internal, got %s", cfg.Storage.Redis.Host)
	}
	if cfg.Reclaim.Concurrency != 3 {
		t.Errorf("Expected env override of concurrency, got %d", cfg.Reclaim.Concurrency)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad timezone", "timezone: Mars/Olympus\n", "timezone"},
		{"bad budget", "quota:\n  working_day_budget: lots\n", "working_day_budget"},
		{"inverted window", "quota:\n  exclusion_window:\n    start: \"18:00\"\n    end: \"08:30\"\n", "exclusion window"},
		{"unsupported storage", "storage:\n  type: bolt\n", "storage type"},
		{"zero concurrency", "reclaim:\n  concurrency: 0\n", "concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}
