package opa

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

//go:embed policies/*.rego
var embeddedPolicies embed.FS

const decisionQuery = "data.quotakeeper.gate.decision"

// Decision is the raw gate policy result
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Engine wraps OPA rego engine for gate evaluation
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu    sync.RWMutex
	query rego.PreparedEvalQuery
}

// NewEngine creates a new OPA engine. An empty policyDir uses the embedded
// gate policy.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "opa").Logger(),
	}

	if err := e.Reload(); err != nil {
		return nil, err
	}

	source := policyDir
	if source == "" {
		source = "embedded"
	}
	e.logger.Info().Str("policy_source", source).Msg("OPA engine initialized")

	return e, nil
}

// Reload re-reads and recompiles the policies. On failure the previously
// prepared query stays in place.
func (e *Engine) Reload() error {
	sources, err := e.loadSources()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for _, name := range sortedKeys(sources) {
		opts = append(opts, rego.Module(name, sources[name]))
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare gate query: %w", err)
	}

	e.mu.Lock()
	e.query = query
	e.mu.Unlock()

	return nil
}

// loadSources returns policy source text keyed by file name
func (e *Engine) loadSources() (map[string]string, error) {
	sources := make(map[string]string)

	if e.policyDir == "" {
		entries, err := embeddedPolicies.ReadDir("policies")
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			name := "policies/" + entry.Name()
			content, err := embeddedPolicies.ReadFile(name)
			if err != nil {
				return nil, err
			}
			sources[name] = string(content)
		}
	} else {
		files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("failed to glob policy files: %w", err)
		}
		for _, file := range files {
			content, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
			}
			sources[file] = string(content)
		}
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("no policy files found")
	}

	// Parse up front so syntax errors name the offending file
	for name, src := range sources {
		module, err := ast.ParseModule(name, src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", name, err)
		}
		e.logger.Debug().Str("file", name).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	return sources, nil
}

// Evaluate runs the gate decision for input
func (e *Engine) Evaluate(ctx context.Context, input map[string]interface{}) (*Decision, error) {
	startTime := time.Now()

	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("gate query evaluation failed: %w", err)
	}

	e.logger.Debug().Dur("duration", time.Since(startTime)).Msg("Gate query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, fmt.Errorf("no results from gate query")
	}

	raw, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gate result: %w", err)
	}

	var decision Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gate result: %w", err)
	}

	return &decision, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
