package opa

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestEvaluate_EmbeddedPolicy(t *testing.T) {
	engine, err := NewEngine("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	tests := []struct {
		name       string
		input      map[string]interface{}
		wantAllow  bool
		wantReason string
	}{
		{
			name:      "start allowed",
			input:     input("start", "alice", "alice", "stopped", 3600000),
			wantAllow: true,
		},
		{
			name:       "start without budget",
			input:      input("start", "alice", "alice", "stopped", 0),
			wantReason: "no_budget",
		},
		{
			name:       "start while running",
			input:      input("start", "alice", "alice", "running", 3600000),
			wantReason: "wrong_state",
		},
		{
			name:       "start of unknown state",
			input:      input("start", "alice", "alice", "unknown", 3600000),
			wantReason: "wrong_state",
		},
		{
			name:       "start by another user",
			input:      input("start", "bob", "alice", "stopped", 3600000),
			wantReason: "not_owner",
		},
		{
			name:       "start of unowned entity",
			input:      input("start", "bob", "", "stopped", 3600000),
			wantReason: "not_owner",
		},
		{
			name:      "stop without budget",
			input:     input("stop", "alice", "alice", "running", 0),
			wantAllow: true,
		},
		{
			name:       "stop while stopped",
			input:      input("stop", "alice", "alice", "stopped", 0),
			wantReason: "wrong_state",
		},
		{
			name:       "stop by another user",
			input:      input("stop", "bob", "alice", "running", 0),
			wantReason: "not_owner",
		},
		{
			name:       "unknown action",
			input:      input("reboot", "alice", "alice", "running", 0),
			wantReason: "unsupported_action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := engine.Evaluate(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if d.Allow != tt.wantAllow {
				t.Errorf("Expected allow=%v, got %v (reason %q)", tt.wantAllow, d.Allow, d.Reason)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Expected reason %q, got %q", tt.wantReason, d.Reason)
			}
		})
	}
}

func TestNewEngine_PolicyDir(t *testing.T) {
	dir := t.TempDir()
	policy := `package quotakeeper.gate

import rego.v1

decision := {"allow": false, "reason": "maintenance"}
`
	if err := os.WriteFile(filepath.Join(dir, "gate.rego"), []byte(policy), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	engine, err := NewEngine(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	d, err := engine.Evaluate(context.Background(), input("start", "alice", "alice", "stopped", 3600000))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if d.Allow || d.Reason != "maintenance" {
		t.Errorf("Expected override policy to deny with maintenance, got %+v", d)
	}
}

func TestNewEngine_Errors(t *testing.T) {
	if _, err := NewEngine(t.TempDir(), zerolog.Nop()); err == nil {
		t.Error("Expected error for empty policy directory")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package x\n\nthis is not rego {"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := NewEngine(dir, zerolog.Nop()); err == nil {
		t.Error("Expected error for unparseable policy")
	}
}

// TestReloadThreadSafety checks reloads while evaluations are in flight
func TestReloadThreadSafety(t *testing.T) {
	engine, err := NewEngine("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	var wg sync.WaitGroup
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := engine.Evaluate(ctx, input("start", "alice", "alice", "stopped", 60000)); err != nil {
					t.Errorf("Evaluate failed: %v", err)
					return
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		if err := engine.Reload(); err != nil {
			t.Errorf("Reload failed: %v", err)
		}
	}

	wg.Wait()
}

func input(action, requester, owner, state string, remaining int) map[string]interface{} {
	return map[string]interface{}{
		"action":            action,
		"requester":         requester,
		"owner":             owner,
		"state":             state,
		"remaining_ms":      remaining,
	}
}
