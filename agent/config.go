package agent

import "gopkg.in/yaml.v3"

// Config is the immutable per-agent configuration value object. It is
// created once at registry load time and never mutated afterwards; edits go
// through the With* copy-on-change helpers.
type Config struct {
	// Name is the agent's registry key (snake_case, e.g. "meeting_agent").
	Name string `yaml:"name"`
	// Description explains the agent's purpose to humans and prompts.
	Description string `yaml:"description"`
	// Model is the agent's primary model.
	Model string `yaml:"model"`
	// FallbackModel is a statically configured model of last resort,
	// appended to the routing fallback chain if not already present.
	FallbackModel string `yaml:"fallback_model,omitempty"`
	// ModelOverride pins every call of this agent to one model, winning
	// over task-type routing (but not over explicit per-call overrides).
	ModelOverride string `yaml:"model_override,omitempty"`
	// Temperature is the default sampling temperature.
	Temperature float64 `yaml:"temperature"`
	// MaxTokens caps completion length when the caller does not.
	MaxTokens int `yaml:"max_tokens"`
	// PromptTemplate references the agent's system prompt template.
	PromptTemplate string `yaml:"prompt_template,omitempty"`
	// AllowedTools lists the tool names this agent may dispatch.
	AllowedTools []string `yaml:"allowed_tools,omitempty"`
	// TracingEnabled turns on observability spans for this agent's calls.
	TracingEnabled bool `yaml:"tracing_enabled"`
}

// WithModelOverride returns a copy with the model override replaced.
func (c Config) WithModelOverride(model string) Config {
	c.ModelOverride = model
	return c
}

// WithTemperature returns a copy with the temperature replaced.
func (c Config) WithTemperature(t float64) Config {
	c.Temperature = t
	return c
}

// AllowsTool reports whether the named tool is on the agent's allow-list.
// An empty list allows nothing.
func (c Config) AllowsTool(name string) bool {
	for _, t := range c.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

// ParseConfigs decodes a YAML document mapping agent names to configs. The
// map key wins over an inline name field so a config cannot masquerade
// under a different registry key.
func ParseConfigs(data []byte) (map[string]Config, error) {
	var raw map[string]Config
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	for name, cfg := range raw {
		cfg.Name = name
		raw[name] = cfg
	}

	return raw, nil
}
