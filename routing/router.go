package routing

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cadencehq/cadence/logging"
)

// SelectionReason tags which branch of the priority cascade produced a choice.
type SelectionReason string

const (
	// ReasonExplicitOverride means the caller supplied a model directly.
	ReasonExplicitOverride SelectionReason = "explicit_override"
	// ReasonAgentConfigOverride means the agent's configuration pinned a model.
	ReasonAgentConfigOverride SelectionReason = "agent_config_override"
	// ReasonTaskTypeDefault means the task type's default model was used.
	ReasonTaskTypeDefault SelectionReason = "task_type_default"
	// ReasonAgentDefaultTaskType means the agent's registered default task type resolved the model.
	ReasonAgentDefaultTaskType SelectionReason = "agent_default_task_type"
	// ReasonGlobalFallback means no other branch applied.
	ReasonGlobalFallback SelectionReason = "global_fallback"
)

// maxSelectionLog bounds the rolling selection log; the oldest entries are
// evicted first once the cap is reached.
const maxSelectionLog = 1000

// Selection is the immutable record of one routing decision. Exactly one
// SelectionReason is produced per call, matching the first applicable branch
// of the cascade.
type Selection struct {
	Model           string          `json:"model"`
	TaskType        string          `json:"task_type,omitempty"`
	AgentName       string          `json:"agent_name,omitempty"`
	Reason          SelectionReason `json:"reason"`
	FallbackUsed    bool            `json:"fallback_used"`
	OverrideApplied bool            `json:"override_applied"`
	CostTier        string          `json:"cost_tier,omitempty"`
	LatencyBudgetMS int             `json:"latency_budget_ms,omitempty"`
	MaxTokens       int             `json:"max_tokens,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// SelectRequest carries the optional inputs to a routing decision. Every
// combination of empty fields resolves to some model via the cascade.
type SelectRequest struct {
	TaskType            string
	AgentName           string
	Override            string
	AgentConfigOverride string
}

// Stats aggregates selection log entries inside a time window.
type Stats struct {
	WindowMinutes int            `json:"window_minutes"`
	Total         int            `json:"total"`
	ByModel       map[string]int `json:"by_model"`
	ByTaskType    map[string]int `json:"by_task_type"`
	OverrideRate  float64        `json:"override_rate"`
	FallbackRate  float64        `json:"fallback_rate"`
}

// Router applies the selection cascade against the active policy. The policy
// is held behind an atomic pointer so ReloadPolicy swaps it without readers
// ever observing a partially updated document. The rolling selection log is
// guarded by its own mutex; Router is safe for concurrent use.
type Router struct {
	policy atomic.Pointer[Policy]

	mu  sync.Mutex // protects log
	log []Selection

	logger logging.Logger
}

// RouterOptions configures a Router.
type RouterOptions struct {
	// Policy is the initial routing policy. Defaults to the embedded default.
	Policy *Policy
	// Logger receives routing decision records. Defaults to NoOpLogger.
	Logger logging.Logger
}

// NewRouter constructs a Router with the embedded default policy unless
// overridden via options.
func NewRouter(optFns ...func(o *RouterOptions)) *Router {
	opts := RouterOptions{
		Policy: DefaultPolicy(),
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Router{logger: opts.Logger}
	r.policy.Store(opts.Policy)

	return r
}

// Policy returns the currently active policy snapshot.
func (r *Router) Policy() *Policy { return r.policy.Load() }

// Select resolves a model for one call.
//
// Cascade, first applicable branch wins:
//  1. explicit override
//  2. per-agent config override
//  3. task type default
//  4. agent's registered default task type
//  5. global fallback
//
// The decision is appended to the rolling selection log and emitted as a
// debug record before returning.
func (r *Router) Select(req SelectRequest) Selection {
	policy := r.policy.Load()

	sel := Selection{
		TaskType:  req.TaskType,
		AgentName: req.AgentName,
		Timestamp: time.Now(),
	}

	switch {
	case req.Override != "":
		sel.Model = req.Override
		sel.Reason = ReasonExplicitOverride
		sel.OverrideApplied = true

	case req.AgentConfigOverride != "":
		sel.Model = req.AgentConfigOverride
		sel.Reason = ReasonAgentConfigOverride
		sel.OverrideApplied = true

	default:
		if tt, ok := policy.TaskType(req.TaskType); req.TaskType != "" && ok {
			sel.Model = tt.DefaultModel
			sel.Reason = ReasonTaskTypeDefault
			sel.CostTier = tt.CostTier
			sel.LatencyBudgetMS = tt.LatencyBudgetMS
			sel.MaxTokens = tt.MaxTokens
			break
		}

		if defaultTask, ok := policy.AgentDefaultTaskType(req.AgentName); ok {
			if tt, ok := policy.TaskType(defaultTask); ok {
				sel.Model = tt.DefaultModel
				sel.TaskType = defaultTask
				sel.Reason = ReasonAgentDefaultTaskType
				sel.CostTier = tt.CostTier
				sel.LatencyBudgetMS = tt.LatencyBudgetMS
				sel.MaxTokens = tt.MaxTokens
				break
			}
		}

		sel.Model = policy.GlobalFallback.Model
		sel.Reason = ReasonGlobalFallback
		sel.FallbackUsed = true
	}

	r.appendLog(sel)

	if sl, ok := r.logger.(logging.SelectionLogger); ok {
		sl.LogSelection(sel.Model, sel.TaskType, sel.AgentName, string(sel.Reason))
	} else {
		r.logger.Debug(
			"routing.select",
			"model", sel.Model,
			"task_type", sel.TaskType,
			"agent", sel.AgentName,
			"reason", string(sel.Reason),
		)
	}

	return sel
}

// FallbackChain returns the ordered models to try for a task type, starting
// with its default model followed by its configured fallbacks. An unknown
// task type yields a single-element chain containing the global fallback.
func (r *Router) FallbackChain(taskType string) []string {
	policy := r.policy.Load()

	tt, ok := policy.TaskType(taskType)
	if !ok {
		return []string{policy.GlobalFallback.Model}
	}

	chain := make([]string, 0, len(tt.FallbackModels)+1)
	chain = append(chain, tt.DefaultModel)
	chain = append(chain, tt.FallbackModels...)

	return chain
}

// SelectionStats computes aggregate counts over log entries newer than the
// given window.
func (r *Router) SelectionStats(windowMinutes int) Stats {
	cutoff := time.Now().Add(-time.Duration(windowMinutes) * time.Minute)

	stats := Stats{
		WindowMinutes: windowMinutes,
		ByModel:       map[string]int{},
		ByTaskType:    map[string]int{},
	}

	var overrides, fallbacks int

	r.mu.Lock()
	for _, sel := range r.log {
		if sel.Timestamp.Before(cutoff) {
			continue
		}

		stats.Total++
		stats.ByModel[sel.Model]++

		if sel.TaskType != "" {
			stats.ByTaskType[sel.TaskType]++
		}

		if sel.OverrideApplied {
			overrides++
		}

		if sel.FallbackUsed {
			fallbacks++
		}
	}
	r.mu.Unlock()

	if stats.Total > 0 {
		stats.OverrideRate = float64(overrides) / float64(stats.Total)
		stats.FallbackRate = float64(fallbacks) / float64(stats.Total)
	}

	return stats
}

// SelectionLogLen reports the current size of the rolling log.
func (r *Router) SelectionLogLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.log)
}

// ReloadPolicy replaces the active policy wholesale. With a path the policy
// is loaded from disk; with an empty path the embedded default is restored.
// The swap is atomic, so in-flight selections keep the snapshot they loaded.
func (r *Router) ReloadPolicy(path string) error {
	var (
		policy *Policy
		err    error
	)

	if path == "" {
		policy = DefaultPolicy()
	} else {
		policy, err = LoadPolicy(path)
		if err != nil {
			return err
		}
	}

	r.policy.Store(policy)

	r.logger.Info(
		"routing.policy.reloaded",
		"version", policy.Version,
		"task_types", len(policy.TaskTypes),
		"path", path,
	)

	return nil
}

// SetPolicy installs an already-parsed policy, validating it first.
func (r *Router) SetPolicy(p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.policy.Store(p)

	return nil
}

func (r *Router) appendLog(sel Selection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log = append(r.log, sel)
	if len(r.log) > maxSelectionLog {
		// Evict oldest first; shift rather than reslice so the backing
		// array does not grow without bound.
		copy(r.log, r.log[len(r.log)-maxSelectionLog:])
		r.log = r.log[:maxSelectionLog]
	}
}
