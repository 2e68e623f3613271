package guardrail

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// rule is one compiled deny rule.
type rule struct {
	id      string
	pattern *regexp.Regexp
	refusal string
}

// ruleSpec is the YAML shape of a deny rule.
type ruleSpec struct {
	ID      string `yaml:"id"`
	Pattern string `yaml:"pattern"`
	Refusal string `yaml:"refusal"`
}

// rulesDoc is the YAML shape of a rule file.
type rulesDoc struct {
	Version        string     `yaml:"version"`
	DefaultRefusal string     `yaml:"default_refusal"`
	Deny           []ruleSpec `yaml:"deny"`
}

// RuleGate is a reference Gate built on regex deny rules loaded from YAML.
// Pre-call blocks on the first matching deny rule; post-call applies cheap
// textual heuristics to score hallucination risk. The rule set is swapped
// wholesale under a mutex on Reload.
type RuleGate struct {
	mu             sync.RWMutex
	rules          []rule
	defaultRefusal string
}

// NewRuleGate constructs a RuleGate from the embedded default rules.
func NewRuleGate() *RuleGate {
	g := &RuleGate{}
	if err := g.load(defaultRulesYAML); err != nil {
		panic(fmt.Sprintf("embedded default guardrail rules are invalid: %v", err))
	}
	return g
}

// NewRuleGateFromFile constructs a RuleGate from a YAML rule file.
func NewRuleGateFromFile(path string) (*RuleGate, error) {
	g := &RuleGate{}
	if err := g.Reload(path); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload replaces the rule set from a YAML file; an empty path restores the
// embedded defaults.
func (g *RuleGate) Reload(path string) error {
	if path == "" {
		return g.load(defaultRulesYAML)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read guardrail rules %s: %w", path, err)
	}

	return g.load(data)
}

func (g *RuleGate) load(data []byte) error {
	var doc rulesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse guardrail rules: %w", err)
	}

	compiled := make([]rule, 0, len(doc.Deny))
	for _, spec := range doc.Deny {
		re, err := regexp.Compile("(?i)" + spec.Pattern)
		if err != nil {
			return fmt.Errorf("rule %q: invalid pattern: %w", spec.ID, err)
		}
		compiled = append(compiled, rule{id: spec.ID, pattern: re, refusal: spec.Refusal})
	}

	g.mu.Lock()
	g.rules = compiled
	g.defaultRefusal = doc.DefaultRefusal
	g.mu.Unlock()

	return nil
}

// PreCall implements Gate. The first matching deny rule blocks the call.
func (g *RuleGate) PreCall(_ context.Context, input, _ string, _ map[string]any) (Result, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, r := range g.rules {
		if r.pattern.MatchString(input) {
			refusal := r.refusal
			if refusal == "" {
				refusal = g.defaultRefusal
			}

			return Result{
				Blocked:        true,
				Action:         ActionBlocked,
				TriggeredRules: []string{r.id},
				RefusalMessage: refusal,
			}, nil
		}
	}

	return Result{Action: ActionAllowed}, nil
}

// Phrases that suggest the model is guessing rather than answering.
var uncertaintyMarkers = []string{
	"i'm not sure",
	"i am not sure",
	"i cannot verify",
	"as far as i know",
	"i might be wrong",
}

// PostCall implements Gate with cheap textual heuristics. Empty responses
// and stacked uncertainty markers raise the risk score; the result stays
// advisory regardless of the score.
func (g *RuleGate) PostCall(_ context.Context, response, _, _ string, _ map[string]any) (Reflection, error) {
	refl := Reflection{Outcome: OutcomeAccepted}

	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		refl.NeedsRevision = true
		refl.Outcome = OutcomeFlagged
		refl.Issues = append(refl.Issues, "empty response")
		refl.HallucinationRisk = 1.0
		return refl, nil
	}

	lower := strings.ToLower(trimmed)
	for _, marker := range uncertaintyMarkers {
		if strings.Contains(lower, marker) {
			refl.Issues = append(refl.Issues, "uncertainty marker: "+marker)
		}
	}

	// Each marker adds risk; three or more saturates the score.
	refl.HallucinationRisk = float64(len(refl.Issues)) / 3.0
	if refl.HallucinationRisk > 1.0 {
		refl.HallucinationRisk = 1.0
	}

	if len(refl.Issues) > 0 {
		refl.Outcome = OutcomeFlagged
	}

	return refl, nil
}
