// Package agent implements the base agent abstraction and its request
// pipeline. One logical "ask the model" operation flows through: model
// selection via the routing cascade, the pre-call guardrail hook, an
// observability span, the provider call, interaction logging, the advisory
// post-call reflection, and automatic retry across the fallback chain when
// the primary model fails.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cadencehq/cadence/command"
	"github.com/cadencehq/cadence/guardrail"
	"github.com/cadencehq/cadence/internal/textutil"
	"github.com/cadencehq/cadence/logging"
	"github.com/cadencehq/cadence/model"
	"github.com/cadencehq/cadence/routing"
	"github.com/cadencehq/cadence/tracing"
)

// GenericRefusal is surfaced when a guardrail blocks a call without
// providing its own refusal message.
const GenericRefusal = "I can't help with that request."

// Interaction log statuses.
const (
	StatusSuccess  = "success"
	StatusFallback = "fallback"
	StatusError    = "error"
)

// Reflections scoring above this threshold are logged as high risk. The
// pipeline never acts on them beyond the warning.
const hallucinationWarnThreshold = 0.8

// truncateLen bounds prompt/completion excerpts on spans and logs.
const truncateLen = 200

// Agent is the contract the registry manages. Concrete agents embed
// BaseAgent and add their domain methods on top of AskLLM.
type Agent interface {
	Name() string
	Description() string
	Config() Config

	// Dependency setters used by the registry for retroactive injection.
	SetClient(c model.Client)
	SetRouter(r *routing.Router)
	SetGate(g guardrail.Gate)
	SetCommands(cmds *command.Router)
}

// AskOptions carries the optional per-call inputs of the request pipeline.
type AskOptions struct {
	// TaskType selects the routing policy entry for this call.
	TaskType string
	// ModelOverride forces a specific model, winning over every other branch.
	ModelOverride string
	// SystemPrompt overrides the agent's prompt template for this call.
	SystemPrompt string
	// Temperature overrides the agent default when non-nil.
	Temperature *float64
	// MaxTokens overrides the agent default when > 0.
	MaxTokens int
	// SkipGuardrails bypasses both hooks (trusted internal calls only).
	SkipGuardrails bool
	// Meta is passed through to the guardrail hooks.
	Meta map[string]any
}

// AskResult is the structured outcome of one pipeline run. A guardrail
// block is a normal outcome: Blocked is true, Text carries the refusal and
// the error is nil.
type AskResult struct {
	Text         string                `json:"text"`
	Model        string                `json:"model"`
	TaskType     string                `json:"task_type,omitempty"`
	Blocked      bool                  `json:"blocked"`
	FallbackUsed bool                  `json:"fallback_used"`
	LatencyMS    int64                 `json:"latency_ms"`
	Reflection   *guardrail.Reflection `json:"reflection,omitempty"`
}

// BaseAgent bundles the injected collaborators (model client, router,
// guardrail gate, command registry) behind the request pipeline. Embed it in
// concrete agent implementations. Dependency setters may run while other
// goroutines call AskLLM, so access goes through a RWMutex; a setter is not
// transactional with respect to an in-flight request, which may observe a
// dependency mid-update.
type BaseAgent struct {
	cfg Config

	mu     sync.RWMutex
	client model.Client
	router *routing.Router
	gate   guardrail.Gate
	cmds   *command.Router

	logger logging.Logger
}

// BaseAgentOptions configures a BaseAgent instance.
type BaseAgentOptions struct {
	Client   model.Client
	Router   *routing.Router
	Gate     guardrail.Gate
	Commands *command.Router
	Logger   logging.Logger
}

// NewBaseAgent constructs a BaseAgent for the given config. Unset
// collaborators default to inert implementations so a partially wired agent
// degrades rather than panics.
func NewBaseAgent(cfg Config, optFns ...func(o *BaseAgentOptions)) *BaseAgent {
	opts := BaseAgentOptions{
		Gate:   guardrail.NoOpGate{},
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Router == nil {
		opts.Router = routing.NewRouter()
	}

	return &BaseAgent{
		cfg:    cfg,
		client: opts.Client,
		router: opts.Router,
		gate:   opts.Gate,
		cmds:   opts.Commands,
		logger: opts.Logger,
	}
}

// Name returns the agent's registry key.
func (a *BaseAgent) Name() string { return a.cfg.Name }

// Description returns the agent's human-readable purpose.
func (a *BaseAgent) Description() string { return a.cfg.Description }

// Config returns the agent's immutable configuration.
func (a *BaseAgent) Config() Config { return a.cfg }

// SetClient swaps the shared model-calling client.
func (a *BaseAgent) SetClient(c model.Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = c
}

// SetRouter swaps the model router.
func (a *BaseAgent) SetRouter(r *routing.Router) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.router = r
}

// SetGate swaps the guardrail gate.
func (a *BaseAgent) SetGate(g guardrail.Gate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gate = g
}

// SetCommands swaps the command registry.
func (a *BaseAgent) SetCommands(cmds *command.Router) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cmds = cmds
}

// Commands returns the command registry shared with this agent.
func (a *BaseAgent) Commands() *command.Router {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cmds
}

// deps snapshots the injected collaborators for one pipeline run.
func (a *BaseAgent) deps() (model.Client, *routing.Router, guardrail.Gate) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client, a.router, a.gate
}

// AskLLM runs the full request pipeline for one prompt.
//
// Sequence:
//  1. Resolve the model through the routing cascade.
//  2. Pre-call guardrail (skippable); a block short-circuits with the
//     refusal text as a normal outcome.
//  3. Open an observability span when tracing is enabled for the agent.
//  4. Invoke the provider with the resolved model and sampling parameters.
//  5. On success: log the interaction, run the advisory post-call
//     reflection, return the response.
//  6. On failure: walk the fallback chain (routing chain for the task type
//     minus the failed model, plus the agent's static fallback model);
//     the first success is logged with status "fallback". If every model
//     fails the last error is propagated to the caller.
func (a *BaseAgent) AskLLM(ctx context.Context, prompt string, optFns ...func(o *AskOptions)) (*AskResult, error) {
	var opts AskOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	client, router, gate := a.deps()
	if client == nil {
		return nil, fmt.Errorf("agent %s: no model client configured", a.cfg.Name)
	}

	sel := router.Select(routing.SelectRequest{
		TaskType:            opts.TaskType,
		AgentName:           a.cfg.Name,
		Override:            opts.ModelOverride,
		AgentConfigOverride: a.cfg.ModelOverride,
	})

	a.logger.Debug(
		"agent.ask.start",
		"agent", a.cfg.Name,
		"model", sel.Model,
		"task_type", sel.TaskType,
		"reason", string(sel.Reason),
	)

	if !opts.SkipGuardrails {
		pre, err := gate.PreCall(ctx, prompt, a.cfg.Name, opts.Meta)
		if err != nil {
			return nil, fmt.Errorf("guardrail pre-call failed: %w", err)
		}

		if pre.Blocked {
			refusal := pre.RefusalMessage
			if refusal == "" {
				refusal = GenericRefusal
			}

			a.logger.Info(
				"agent.ask.blocked",
				"agent", a.cfg.Name,
				"rules", pre.TriggeredRules,
			)

			return &AskResult{
				Text:     refusal,
				Model:    sel.Model,
				TaskType: sel.TaskType,
				Blocked:  true,
			}, nil
		}
	}

	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = a.cfg.PromptTemplate
	}

	req := model.Request{
		Model:        sel.Model,
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		Temperature:  a.cfg.Temperature,
		MaxTokens:    a.cfg.MaxTokens,
	}

	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}

	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	} else if sel.MaxTokens > 0 {
		req.MaxTokens = sel.MaxTokens
	}

	text, latency, err := a.callModel(ctx, client, req)
	if err == nil {
		a.logInteraction(req, text, sel.TaskType, StatusSuccess, latency)

		result := &AskResult{
			Text:      text,
			Model:     req.Model,
			TaskType:  sel.TaskType,
			LatencyMS: latency.Milliseconds(),
		}

		if !opts.SkipGuardrails {
			result.Reflection = a.reflect(ctx, gate, text, prompt)
		}

		return result, nil
	}

	a.logger.Warn(
		"agent.ask.primary_failed",
		"agent", a.cfg.Name,
		"model", req.Model,
		"error", err.Error(),
	)

	text, usedModel, fbErr := a.walkFallbacks(ctx, client, router, req, sel.TaskType, err)
	if fbErr != nil {
		return nil, fbErr
	}

	result := &AskResult{
		Text:         text,
		Model:        usedModel,
		TaskType:     sel.TaskType,
		FallbackUsed: true,
	}

	if !opts.SkipGuardrails {
		result.Reflection = a.reflect(ctx, gate, text, prompt)
	}

	return result, nil
}

// callModel invokes the provider inside an observability span.
func (a *BaseAgent) callModel(ctx context.Context, client model.Client, req model.Request) (string, time.Duration, error) {
	if a.cfg.TracingEnabled {
		spanCtx, s := tracing.StartSpan(ctx, "agent.ask")
		s.SetAttributes(
			tracing.StringAttr("agent", a.cfg.Name),
			tracing.StringAttr("model", req.Model),
			tracing.StringAttr("prompt", textutil.Truncate(req.UserPrompt, truncateLen)),
			tracing.StringAttr("system_prompt", textutil.Truncate(req.SystemPrompt, truncateLen)),
		)

		start := time.Now()
		text, err := client.Complete(spanCtx, req)
		dur := time.Since(start)

		if err != nil {
			tracing.RecordError(s, err)
		} else {
			s.SetAttributes(tracing.StringAttr("output", textutil.Truncate(text, truncateLen)))
			tracing.SetOK(s)
		}
		s.End()

		return text, dur, err
	}

	start := time.Now()
	text, err := client.Complete(ctx, req)
	return text, time.Since(start), err
}

// walkFallbacks tries each fallback model in order after the primary failed.
// The chain is the router's chain for the task type with the failed model
// excluded, extended by the agent's statically configured fallback model if
// not already present. Returns the first success; otherwise the last error.
func (a *BaseAgent) walkFallbacks(
	ctx context.Context,
	client model.Client,
	router *routing.Router,
	req model.Request,
	taskType string,
	lastErr error,
) (string, string, error) {
	failed := req.Model

	chain := router.FallbackChain(taskType)
	fallbacks := make([]string, 0, len(chain)+1)
	seen := map[string]bool{failed: true}

	for _, m := range chain {
		if !seen[m] {
			seen[m] = true
			fallbacks = append(fallbacks, m)
		}
	}

	if fb := a.cfg.FallbackModel; fb != "" && !seen[fb] {
		fallbacks = append(fallbacks, fb)
	}

	for _, m := range fallbacks {
		fbReq := req
		fbReq.Model = m

		text, latency, err := a.callModel(ctx, client, fbReq)
		if err != nil {
			a.logger.Warn(
				"agent.ask.fallback_failed",
				"agent", a.cfg.Name,
				"model", m,
				"error", err.Error(),
			)
			lastErr = err
			continue
		}

		a.logInteraction(fbReq, text, taskType, StatusFallback, latency)

		return text, m, nil
	}

	a.logger.Error(
		"agent.ask.exhausted",
		"agent", a.cfg.Name,
		"attempted", len(fallbacks)+1,
		"error", lastErr.Error(),
	)

	return "", "", lastErr
}

// reflect runs the advisory post-call hook. High hallucination risk only
// produces a warning; no retry or regeneration occurs.
func (a *BaseAgent) reflect(ctx context.Context, gate guardrail.Gate, response, prompt string) *guardrail.Reflection {
	refl, err := gate.PostCall(ctx, response, a.cfg.Name, prompt, nil)
	if err != nil {
		a.logger.Warn("agent.reflect.error", "agent", a.cfg.Name, "error", err.Error())
		return nil
	}

	if refl.HallucinationRisk > hallucinationWarnThreshold {
		a.logger.Warn(
			"agent.reflect.high_risk",
			"agent", a.cfg.Name,
			"risk", refl.HallucinationRisk,
			"issues", refl.Issues,
		)
	}

	return &refl
}

// logInteraction records one model interaction with estimated token counts.
// The 4-chars-per-token heuristic is telemetry only.
func (a *BaseAgent) logInteraction(req model.Request, completion, taskType, status string, latency time.Duration) {
	promptTokens := textutil.EstimateTokens(req.SystemPrompt + req.UserPrompt)
	completionTokens := textutil.EstimateTokens(completion)

	if mcl, ok := a.logger.(logging.ModelCallLogger); ok {
		mcl.LogModelCall(req.Model, taskType, status, promptTokens, completionTokens, latency, nil)
		return
	}

	a.logger.Info(
		"agent.interaction",
		"agent", a.cfg.Name,
		"model", req.Model,
		"task_type", taskType,
		"status", status,
		"prompt_tokens", promptTokens,
		"completion_tokens", completionTokens,
		"latency_ms", latency.Milliseconds(),
	)
}
