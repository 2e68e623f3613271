package routing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/logging"
)

func testPolicy(t *testing.T) *Policy {
	t.Helper()

	p, err := ParsePolicy([]byte(`
version: "1.0"
task_types:
  classification:
    default_model: gpt-4o-mini
    fallback_models:
      - gpt-3.5-turbo
    latency_budget_ms: 2000
    max_tokens: 512
    cost_tier: low
  synthesis:
    default_model: gpt-4o
    fallback_models:
      - gpt-4o-mini
      - gpt-3.5-turbo
    cost_tier: standard
agent_defaults:
  ticket_agent: synthesis
global_fallback:
  model: gpt-4o-mini
`))
	require.NoError(t, err)
	return p
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	return NewRouter(func(o *RouterOptions) {
		o.Policy = testPolicy(t)
	})
}

func TestSelectCascade(t *testing.T) {
	tests := []struct {
		name       string
		req        SelectRequest
		wantModel  string
		wantReason SelectionReason
	}{
		{
			name:       "explicit override wins over everything",
			req:        SelectRequest{TaskType: "classification", AgentName: "ticket_agent", Override: "gpt-4o", AgentConfigOverride: "gpt-3.5-turbo"},
			wantModel:  "gpt-4o",
			wantReason: ReasonExplicitOverride,
		},
		{
			name:       "agent config override beats task type",
			req:        SelectRequest{TaskType: "classification", AgentConfigOverride: "gpt-4o"},
			wantModel:  "gpt-4o",
			wantReason: ReasonAgentConfigOverride,
		},
		{
			name:       "task type default",
			req:        SelectRequest{TaskType: "classification"},
			wantModel:  "gpt-4o-mini",
			wantReason: ReasonTaskTypeDefault,
		},
		{
			name:       "agent default task type",
			req:        SelectRequest{AgentName: "ticket_agent"},
			wantModel:  "gpt-4o",
			wantReason: ReasonAgentDefaultTaskType,
		},
		{
			name:       "unknown task type falls through to agent default",
			req:        SelectRequest{TaskType: "nope", AgentName: "ticket_agent"},
			wantModel:  "gpt-4o",
			wantReason: ReasonAgentDefaultTaskType,
		},
		{
			name:       "global fallback",
			req:        SelectRequest{TaskType: "nope", AgentName: "nobody"},
			wantModel:  "gpt-4o-mini",
			wantReason: ReasonGlobalFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t)

			sel := r.Select(tt.req)

			assert.Equal(t, tt.wantModel, sel.Model)
			assert.Equal(t, tt.wantReason, sel.Reason)
		})
	}
}

func TestSelectTaskTypeCarriesMetadata(t *testing.T) {
	r := newTestRouter(t)

	sel := r.Select(SelectRequest{TaskType: "classification"})

	assert.Equal(t, "low", sel.CostTier)
	assert.Equal(t, 2000, sel.LatencyBudgetMS)
	assert.Equal(t, 512, sel.MaxTokens)
	assert.False(t, sel.FallbackUsed)
	assert.False(t, sel.OverrideApplied)
}

func TestSelectGlobalFallbackFlags(t *testing.T) {
	r := newTestRouter(t)

	sel := r.Select(SelectRequest{})

	assert.Equal(t, ReasonGlobalFallback, sel.Reason)
	assert.True(t, sel.FallbackUsed)
}

func TestSelectAgentDefaultRewritesTaskType(t *testing.T) {
	r := newTestRouter(t)

	sel := r.Select(SelectRequest{AgentName: "ticket_agent"})

	assert.Equal(t, "synthesis", sel.TaskType)
}

func TestFallbackChain(t *testing.T) {
	r := newTestRouter(t)

	chain := r.FallbackChain("synthesis")
	require.NotEmpty(t, chain)
	assert.Equal(t, "gpt-4o", chain[0], "chain must start with the default model")
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo"}, chain)
}

func TestFallbackChainUnknownTaskType(t *testing.T) {
	r := newTestRouter(t)

	assert.Equal(t, []string{"gpt-4o-mini"}, r.FallbackChain("unknown"))
}

func TestSelectionLogEviction(t *testing.T) {
	r := newTestRouter(t)

	for i := 0; i < maxSelectionLog+50; i++ {
		r.Select(SelectRequest{Override: fmt.Sprintf("model-%d", i)})
	}

	assert.Equal(t, maxSelectionLog, r.SelectionLogLen())

	// The oldest entries must be gone and the newest retained.
	stats := r.SelectionStats(60)
	assert.Equal(t, maxSelectionLog, stats.Total)
	assert.Zero(t, stats.ByModel["model-0"])
	assert.Equal(t, 1, stats.ByModel[fmt.Sprintf("model-%d", maxSelectionLog+49)])
}

func TestSelectionStats(t *testing.T) {
	r := newTestRouter(t)

	r.Select(SelectRequest{TaskType: "classification"})
	r.Select(SelectRequest{TaskType: "classification"})
	r.Select(SelectRequest{Override: "gpt-4o"})
	r.Select(SelectRequest{TaskType: "nope"})

	stats := r.SelectionStats(60)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.ByModel["gpt-4o-mini"])
	assert.Equal(t, 2, stats.ByTaskType["classification"])
	assert.InDelta(t, 0.25, stats.OverrideRate, 1e-9)
	assert.InDelta(t, 0.25, stats.FallbackRate, 1e-9)
}

func TestSetPolicySwapsAtomically(t *testing.T) {
	r := newTestRouter(t)

	p, err := ParsePolicy([]byte(`
version: "2.0"
task_types:
  classification:
    default_model: claude-sonnet-4-20250514
    cost_tier: premium
global_fallback:
  model: claude-sonnet-4-20250514
`))
	require.NoError(t, err)
	require.NoError(t, r.SetPolicy(p))

	sel := r.Select(SelectRequest{TaskType: "classification"})
	assert.Equal(t, "claude-sonnet-4-20250514", sel.Model)
}

func TestReloadPolicyEmptyPathRestoresDefault(t *testing.T) {
	r := newTestRouter(t)

	require.NoError(t, r.ReloadPolicy(""))

	assert.Equal(t, DefaultPolicy().Version, r.Policy().Version)
}

type selectionRecorder struct {
	logging.NoOpLogger
	models  []string
	reasons []string
}

func (r *selectionRecorder) LogSelection(model, taskType, agent, reason string) {
	r.models = append(r.models, model)
	r.reasons = append(r.reasons, reason)
}

func TestSelectUsesSelectionLogger(t *testing.T) {
	rec := &selectionRecorder{}
	r := NewRouter(func(o *RouterOptions) {
		o.Policy = testPolicy(t)
		o.Logger = rec
	})

	r.Select(SelectRequest{TaskType: "classification"})
	r.Select(SelectRequest{Override: "gpt-4o"})

	require.Len(t, rec.models, 2)
	assert.Equal(t, []string{"gpt-4o-mini", "gpt-4o"}, rec.models)
	assert.Equal(t, []string{string(ReasonTaskTypeDefault), string(ReasonExplicitOverride)}, rec.reasons)
}

func TestConcurrentSelect(t *testing.T) {
	r := newTestRouter(t)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 200; j++ {
				r.Select(SelectRequest{TaskType: "classification"})
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, maxSelectionLog, r.SelectionLogLen())
}
