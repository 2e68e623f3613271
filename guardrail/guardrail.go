// Package guardrail defines the safety gate contract wrapped around every
// model call: a pre-call hook that may block the call outright and a
// post-call reflection hook that is advisory only. Production deployments
// inject their own evaluator; the package ships a NoOpGate and a rule-based
// RuleGate so the orchestration core runs end to end without one.
package guardrail

import "context"

// Actions reported in a pre-call Result.
const (
	ActionAllowed = "allowed"
	ActionBlocked = "blocked"
)

// Outcomes reported in a post-call Reflection.
const (
	OutcomeAccepted = "accepted"
	OutcomeFlagged  = "flagged"
)

// Result is the outcome of a pre-call evaluation. When Blocked is true the
// caller must not invoke the model and must surface RefusalMessage (or a
// generic refusal if empty) as the final answer.
type Result struct {
	Blocked        bool     `json:"blocked"`
	Action         string   `json:"action"`
	TriggeredRules []string `json:"triggered_rules,omitempty"`
	RefusalMessage string   `json:"refusal_message,omitempty"`
}

// Reflection is the outcome of a post-call self-check. It is advisory only:
// callers log high HallucinationRisk but take no corrective action.
type Reflection struct {
	NeedsRevision     bool     `json:"needs_revision"`
	Outcome           string   `json:"outcome"`
	Issues            []string `json:"issues,omitempty"`
	HallucinationRisk float64  `json:"hallucination_risk"` // in [0,1]
}

// Gate is the guardrail contract consumed by the agent request pipeline.
//
// Implementations should be fast (both hooks sit on the hot path of every
// model call), safe for concurrent use, and must never panic.
type Gate interface {
	// PreCall evaluates the user input before the model is invoked.
	PreCall(ctx context.Context, input, agentName string, meta map[string]any) (Result, error)

	// PostCall reflects on a model response after generation.
	PostCall(ctx context.Context, response, agentName, originalQuery string, meta map[string]any) (Reflection, error)
}

// Reloadable is an optional capability for gates whose rule set can be
// refreshed at runtime. An empty path restores the implementation's
// embedded defaults.
type Reloadable interface {
	Reload(path string) error
}

// NoOpGate allows every call and reports a clean reflection. Useful for
// tests and for hosts that wire their own evaluator at a different layer.
type NoOpGate struct{}

// PreCall implements Gate; it never blocks.
func (NoOpGate) PreCall(context.Context, string, string, map[string]any) (Result, error) {
	return Result{Action: ActionAllowed}, nil
}

// PostCall implements Gate; it reports an accepted outcome with zero risk.
func (NoOpGate) PostCall(context.Context, string, string, string, map[string]any) (Reflection, error) {
	return Reflection{Outcome: OutcomeAccepted}, nil
}
