// Package routing implements the declarative model-routing policy and the
// Router that resolves every model call through a fixed priority cascade:
// explicit override > agent config override > task type default > agent
// default task type > global fallback. Policies are YAML documents; an
// embedded default policy keeps the system operable with zero external
// configuration.
package routing

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

// Cost tiers accepted by policy validation.
const (
	CostTierLow      = "low"
	CostTierStandard = "standard"
	CostTierPremium  = "premium"
)

// TaskTypeConfig is the selection configuration for one task type. One
// instance per task type is held in the policy; the whole policy is replaced
// wholesale on reload, never merged incrementally.
type TaskTypeConfig struct {
	DefaultModel    string   `yaml:"default_model"`
	FallbackModels  []string `yaml:"fallback_models"`
	LatencyBudgetMS int      `yaml:"latency_budget_ms"`
	MaxTokens       int      `yaml:"max_tokens"`
	CostTier        string   `yaml:"cost_tier"`
	Description     string   `yaml:"description"`
}

// GlobalFallback names the process-wide model of last resort.
type GlobalFallback struct {
	Model  string `yaml:"model"`
	Reason string `yaml:"reason"`
}

// Policy is the versioned routing policy document. It is treated as
// immutable once loaded; Router swaps the active policy atomically.
type Policy struct {
	Version        string                    `yaml:"version"`
	Description    string                    `yaml:"description"`
	TaskTypes      map[string]TaskTypeConfig `yaml:"task_types"`
	AgentDefaults  map[string]string         `yaml:"agent_defaults"`
	GlobalFallback GlobalFallback            `yaml:"global_fallback"`
}

// TaskType returns the configuration for a task type.
func (p *Policy) TaskType(name string) (TaskTypeConfig, bool) {
	tt, ok := p.TaskTypes[name]
	return tt, ok
}

// AgentDefaultTaskType returns the default task type registered for an agent.
func (p *Policy) AgentDefaultTaskType(agent string) (string, bool) {
	tt, ok := p.AgentDefaults[agent]
	return tt, ok
}

// Validate checks structural invariants of the policy document.
//
// Enforced rules:
//   - a global fallback model must be present
//   - every task type needs a default model
//   - fallback models must not repeat the task type's default model
//   - cost tiers are limited to low, standard and premium
//   - agent defaults must reference a declared task type
func (p *Policy) Validate() error {
	if p.GlobalFallback.Model == "" {
		return fmt.Errorf("policy %q: global_fallback.model is required", p.Version)
	}

	for name, tt := range p.TaskTypes {
		if tt.DefaultModel == "" {
			return fmt.Errorf("task type %q: default_model is required", name)
		}

		for _, fb := range tt.FallbackModels {
			if fb == tt.DefaultModel {
				return fmt.Errorf("task type %q: fallback model %q repeats the default model", name, fb)
			}
		}

		switch tt.CostTier {
		case "", CostTierLow, CostTierStandard, CostTierPremium:
		default:
			return fmt.Errorf("task type %q: unknown cost tier %q", name, tt.CostTier)
		}
	}

	for agent, taskType := range p.AgentDefaults {
		if _, ok := p.TaskTypes[taskType]; !ok {
			return fmt.Errorf("agent default %q: unknown task type %q", agent, taskType)
		}
	}

	return nil
}

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse routing policy: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// LoadPolicy reads and parses a policy file from disk.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing policy %s: %w", path, err)
	}

	return ParsePolicy(data)
}

// DefaultPolicy returns the embedded default routing policy. The embedded
// document is validated at build time by tests; a parse failure here means
// the binary itself is broken, so it panics.
func DefaultPolicy() *Policy {
	p, err := ParsePolicy(defaultPolicyYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default policy is invalid: %v", err))
	}
	return p
}
