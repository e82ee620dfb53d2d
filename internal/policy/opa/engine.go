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

// DecisionQuery is the rule every override policy must define.
const DecisionQuery = "data.lockbox.override.decision"

//go:embed policies/*.rego
var embedded embed.FS

// Engine wraps OPA rego engine for override policy evaluation
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu      sync.RWMutex
	query   rego.PreparedEvalQuery
	modules map[string]*ast.Module
}

// NewEngine creates a new OPA engine. An empty policyDir uses the built-in
// policy.
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

// Source describes where policies are loaded from.
func (e *Engine) Source() string {
	if e.policyDir == "" {
		return "embedded"
	}
	return e.policyDir
}

// loadPolicies parses all .rego files from the policy directory or the
// embedded defaults
func (e *Engine) loadPolicies() (map[string]*ast.Module, error) {
	sources := make(map[string]string)

	if e.policyDir == "" {
		entries, err := embedded.ReadDir("policies")
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded policies: %w", err)
		}
		for _, entry := range entries {
			name := "policies/" + entry.Name()
			content, err := embedded.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("failed to read embedded policy %s: %w", name, err)
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
		return nil, fmt.Errorf("no policy files found in %s", e.Source())
	}

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	modules := make(map[string]*ast.Module, len(sources))
	for _, name := range names {
		module, err := ast.ParseModuleWithOpts(name, sources[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", name, err)
		}
		modules[name] = module
		e.logger.Debug().Str("file", name).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	return modules, nil
}

// prepareQuery prepares the decision query against modules
func (e *Engine) prepareQuery(modules map[string]*ast.Module) (rego.PreparedEvalQuery, error) {
	opts := []func(*rego.Rego){
		rego.Query(DecisionQuery),
		rego.SetRegoVersion(ast.RegoV1),
	}
	for _, module := range modules {
		opts = append(opts, rego.ParsedModule(module))
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to prepare decision query: %w", err)
	}
	return query, nil
}

// Decision is the raw policy result
type Decision struct {
	Route  string `json:"route"`
	Reason string `json:"reason"`
}

// Evaluate evaluates the decision query with input
func (e *Engine) Evaluate(ctx context.Context, input map[string]interface{}) (Decision, error) {
	startTime := time.Now()

	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("decision query evaluation failed: %w", err)
	}

	e.logger.Debug().Dur("duration_ms", time.Since(startTime)).Msg("Decision query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("no results from decision query")
	}

	// Convert result to Decision
	resultBytes, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to marshal decision: %w", err)
	}

	var decision Decision
	if err := json.Unmarshal(resultBytes, &decision); err != nil {
		return Decision{}, fmt.Errorf("failed to unmarshal decision: %w", err)
	}
	if decision.Route == "" {
		return Decision{}, fmt.Errorf("decision has no route: %s", resultBytes)
	}

	return decision, nil
}

// Reload reloads all policies and re-prepares the query. On failure the
// previously loaded policies stay in effect.
func (e *Engine) Reload() error {
	modules, err := e.loadPolicies()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	query, err := e.prepareQuery(modules)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.modules = modules
	e.query = query
	e.mu.Unlock()

	e.logger.Info().Int("modules", len(modules)).Msg("OPA policies loaded")
	return nil
}
