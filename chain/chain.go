// Package chain implements the multi-step workflow executor. A chain is a
// named, statically defined sequence of steps; execution is strictly
// sequential, each step's raw output is threaded into later steps, and a
// failing step aborts the chain unless it sits on the non-critical
// allow-list.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/logging"
)

// Default non-critical steps. These only produce suggestions or secondary
// side effects, so their failure never aborts a chain.
var defaultNonCritical = []string{"promote_signals", "suggest_improvements"}

// StepHandler executes one chain step. args is the original chain input;
// prev holds the raw outputs of earlier steps keyed by step name.
type StepHandler func(ctx context.Context, args map[string]any, prev map[string]any) (any, error)

// Definition is one statically defined chain. Read-only at runtime.
type Definition struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []string `yaml:"steps" json:"steps"`
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Step    string `json:"step"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is the structured outcome of one chain execution.
type Result struct {
	RunID      string       `json:"run_id"`
	Chain      string       `json:"chain"`
	Success    bool         `json:"success"`
	FailedStep string       `json:"failed_step,omitempty"`
	Error      string       `json:"error,omitempty"`
	Results    []StepResult `json:"results"`
	Summary    string       `json:"summary,omitempty"`
	NavigateTo string       `json:"navigate_to,omitempty"`
	DurationMS int64        `json:"duration_ms"`
}

// Executor holds the chain definitions and the closed step handler table.
// Definitions and handlers are registered at startup and verified together;
// after Verify the executor is safe for concurrent use.
type Executor struct {
	mu          sync.RWMutex
	chains      map[string]Definition
	handlers    map[string]StepHandler
	nonCritical map[string]bool
	logger      logging.Logger
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	Logger logging.Logger

	// NonCriticalSteps replaces the default allow-list of steps whose
	// failure does not abort a chain.
	NonCriticalSteps []string
}

// NewExecutor constructs an empty executor.
func NewExecutor(optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		Logger:           logging.NoOpLogger{},
		NonCriticalSteps: defaultNonCritical,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	nonCritical := make(map[string]bool, len(opts.NonCriticalSteps))
	for _, s := range opts.NonCriticalSteps {
		nonCritical[s] = true
	}

	return &Executor{
		chains:      make(map[string]Definition),
		handlers:    make(map[string]StepHandler),
		nonCritical: nonCritical,
		logger:      opts.Logger,
	}
}

// RegisterChain adds a chain definition.
func (e *Executor) RegisterChain(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("chain definition requires a name")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("chain %q has no steps", def.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.chains[def.Name] = def
	return nil
}

// RegisterHandler binds a step name to its handler.
func (e *Executor) RegisterHandler(step string, handler StepHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[step] = handler
}

// Verify checks that every step of every registered chain has a handler.
// Call it once after registration, before serving; a chain referencing an
// unbound step is a programming error surfaced at startup rather than
// mid-execution.
func (e *Executor) Verify() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var missing []string
	for name, def := range e.chains {
		for _, step := range def.Steps {
			if _, ok := e.handlers[step]; !ok {
				missing = append(missing, fmt.Sprintf("%s/%s", name, step))
			}
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("chain steps without handlers: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Chains returns the registered chain names, sorted.
func (e *Executor) Chains() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.chains))
	for name := range e.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a chain to completion. Steps run sequentially; each raw step
// output is stored under previous_outputs[step] and handed to later steps.
// A failing step outside the non-critical allow-list stops the chain
// immediately; the returned Result then carries the failed step name and
// every result gathered so far.
func (e *Executor) Execute(ctx context.Context, chainName string, args map[string]any) Result {
	runID := uuid.NewString()
	started := time.Now()

	e.mu.RLock()
	def, ok := e.chains[chainName]
	e.mu.RUnlock()

	if !ok {
		return Result{
			RunID:   runID,
			Chain:   chainName,
			Success: false,
			Error:   fmt.Sprintf("unknown chain %q (available: %s)", chainName, strings.Join(e.Chains(), ", ")),
			Results: []StepResult{},
		}
	}

	if args == nil {
		args = map[string]any{}
	}

	e.logger.Info("chain.execute.start", "chain", chainName, "run_id", runID, "steps", len(def.Steps))

	prev := make(map[string]any)
	results := make([]StepResult, 0, len(def.Steps))

	for _, step := range def.Steps {
		e.mu.RLock()
		handler, ok := e.handlers[step]
		e.mu.RUnlock()

		if !ok {
			// Verify should have caught this; treat it as a step failure.
			results = append(results, StepResult{Step: step, Success: false, Error: "no handler registered"})
			return e.failed(chainName, runID, step, results, started)
		}

		out, err := handler(ctx, args, prev)
		if err != nil {
			results = append(results, StepResult{Step: step, Success: false, Error: err.Error()})

			if e.nonCritical[step] {
				e.logger.Warn("chain.step.noncritical_failure",
					"chain", chainName, "run_id", runID, "step", step, "error", err.Error())
				continue
			}

			return e.failed(chainName, runID, step, results, started)
		}

		results = append(results, StepResult{Step: step, Success: true, Result: out})
		prev[step] = out
	}

	res := Result{
		RunID:      runID,
		Chain:      chainName,
		Success:    true,
		Results:    results,
		Summary:    summarize(results),
		NavigateTo: navigateHint(results),
		DurationMS: time.Since(started).Milliseconds(),
	}

	if cl, ok := e.logger.(logging.ChainLogger); ok {
		cl.LogChainExecution(chainName, len(results), time.Since(started), true, nil)
	} else {
		e.logger.Info("chain.execute.complete",
			"chain", chainName, "run_id", runID,
			"steps", len(results), "duration_ms", res.DurationMS)
	}

	return res
}

func (e *Executor) failed(chainName, runID, step string, results []StepResult, started time.Time) Result {
	last := results[len(results)-1]

	if cl, ok := e.logger.(logging.ChainLogger); ok {
		cl.LogChainExecution(chainName, len(results), time.Since(started), false, errors.New(last.Error))
	} else {
		e.logger.Error("chain.execute.failed",
			"chain", chainName, "run_id", runID,
			"failed_step", step, "error", last.Error)
	}

	return Result{
		RunID:      runID,
		Chain:      chainName,
		Success:    false,
		FailedStep: step,
		Error:      fmt.Sprintf("step %q failed: %s", step, last.Error),
		Results:    results,
		Summary:    summarize(results),
		DurationMS: time.Since(started).Milliseconds(),
	}
}

// summarize renders the per-step status line shown to users, one glyph per
// step.
func summarize(results []StepResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		glyph := "✓"
		if !r.Success {
			glyph = "✗"
		}
		parts = append(parts, fmt.Sprintf("%s %s", glyph, r.Step))
	}
	return strings.Join(parts, " · ")
}

// navigateHint lifts a navigate_to value out of the final step's result, if
// the handler produced one.
func navigateHint(results []StepResult) string {
	if len(results) == 0 {
		return ""
	}

	out, ok := results[len(results)-1].Result.(map[string]any)
	if !ok {
		return ""
	}

	hint, _ := out["navigate_to"].(string)
	return hint
}
