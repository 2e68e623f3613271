// Package cadence provides a high-level façade over the agent orchestration
// core: the model router, guardrail gate, agent registry, command dispatcher
// and chain workflow executor. Most host applications interact with this
// package by:
//  1. Creating a Cadence via New() (optionally overriding stores, gate, client)
//  2. Registering agent factories and command handlers
//  3. Asking agents (Ask), dispatching commands (Route) or running chains (ExecuteChain)
//
// Defaults are safe for local development: embedded routing policy, embedded
// guardrail rules, in-memory record store and a no-op logger. Production
// deployments supply a SQLite or hosted store, file-based policy and rules,
// and a structured logger.
package cadence

import (
	"context"
	"fmt"

	"github.com/cadencehq/cadence/agent"
	"github.com/cadencehq/cadence/chain"
	"github.com/cadencehq/cadence/command"
	"github.com/cadencehq/cadence/guardrail"
	"github.com/cadencehq/cadence/logging"
	"github.com/cadencehq/cadence/model"
	"github.com/cadencehq/cadence/registry"
	"github.com/cadencehq/cadence/routing"
	"github.com/cadencehq/cadence/store"
)

// Options configures the Cadence instance.
type Options struct {
	// Client is the model client shared by all agents. Leaving it nil is
	// valid for setups that inject clients per agent later via SetClient.
	Client model.Client

	// Gate replaces the default rule-based guardrail gate.
	Gate guardrail.Gate

	// Store backs chain step handlers. Defaults to an in-memory store.
	Store store.RecordStore

	// AgentConfigPath locates the agents YAML file. Optional; a missing
	// file yields zero configured agents.
	AgentConfigPath string

	// PolicyPath locates the routing policy YAML. Empty uses the embedded
	// default policy.
	PolicyPath string

	// RulesPath locates the guardrail rules YAML. Empty uses the embedded
	// default rules.
	RulesPath string

	// NonCriticalSteps overrides the chain steps allowed to fail without
	// aborting their chain.
	NonCriticalSteps []string

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Cadence aggregates the orchestration core behind one entry point.
type Cadence struct {
	opts     Options
	router   *routing.Router
	gate     guardrail.Gate
	commands *command.Router
	chains   *chain.Executor
	store    store.RecordStore
	registry *registry.Registry
}

// New creates a Cadence instance with optional overrides. Any unset
// collaborator is initialized with its embedded or in-memory default.
func New(optFns ...func(o *Options)) (*Cadence, error) {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Store == nil {
		opts.Store = store.NewInMemoryStore()
	}

	router := routing.NewRouter(func(o *routing.RouterOptions) {
		o.Logger = opts.Logger
	})
	if opts.PolicyPath != "" {
		if err := router.ReloadPolicy(opts.PolicyPath); err != nil {
			return nil, fmt.Errorf("load routing policy: %w", err)
		}
	}

	gate := opts.Gate
	if gate == nil {
		if opts.RulesPath != "" {
			ruleGate, err := guardrail.NewRuleGateFromFile(opts.RulesPath)
			if err != nil {
				return nil, fmt.Errorf("load guardrail rules: %w", err)
			}
			gate = ruleGate
		} else {
			gate = guardrail.NewRuleGate()
		}
	}

	commands := command.NewRouter(func(o *command.RouterOptions) {
		o.Logger = opts.Logger
	})

	chains := chain.NewExecutor(func(o *chain.ExecutorOptions) {
		o.Logger = opts.Logger
		if opts.NonCriticalSteps != nil {
			o.NonCriticalSteps = opts.NonCriticalSteps
		}
	})

	reg, err := registry.New(func(o *registry.Options) {
		o.Router = router
		o.Gate = gate
		o.Client = opts.Client
		o.Commands = commands
		o.Logger = opts.Logger
		o.ConfigPath = opts.AgentConfigPath
		o.PolicyPath = opts.PolicyPath
		o.RulesPath = opts.RulesPath
	})
	if err != nil {
		return nil, err
	}

	return &Cadence{
		opts:     opts,
		router:   router,
		gate:     gate,
		commands: commands,
		chains:   chains,
		store:    opts.Store,
		registry: reg,
	}, nil
}

// Router returns the shared model router.
func (c *Cadence) Router() *routing.Router { return c.router }

// Gate returns the shared guardrail gate.
func (c *Cadence) Gate() guardrail.Gate { return c.gate }

// Commands returns the shared command dispatcher.
func (c *Cadence) Commands() *command.Router { return c.commands }

// Chains returns the chain workflow executor.
func (c *Cadence) Chains() *chain.Executor { return c.chains }

// Store returns the record store backing chain step handlers.
func (c *Cadence) Store() store.RecordStore { return c.store }

// Registry returns the agent registry.
func (c *Cadence) Registry() *registry.Registry { return c.registry }

// RegisterAgent binds a factory to an agent name in the registry.
func (c *Cadence) RegisterAgent(name string, factory registry.Factory) {
	c.registry.Register(name, factory)
}

// RegisterBuiltinChains wires the stock productivity chains against the
// configured record store.
func (c *Cadence) RegisterBuiltinChains(optFns ...func(o *chain.BuiltinOptions)) error {
	return chain.RegisterBuiltins(c.chains, c.store, optFns...)
}

// Ask runs one request through the named agent's pipeline.
func (c *Cadence) Ask(ctx context.Context, agentName, prompt string, optFns ...func(o *agent.AskOptions)) (*agent.AskResult, error) {
	inst, err := c.registry.Create(agentName)
	if err != nil {
		return nil, err
	}

	asker, ok := inst.(interface {
		AskLLM(ctx context.Context, prompt string, optFns ...func(o *agent.AskOptions)) (*agent.AskResult, error)
	})
	if !ok {
		return nil, fmt.Errorf("agent %q does not support ask", agentName)
	}

	return asker.AskLLM(ctx, prompt, optFns...)
}

// Route dispatches one (tool, subcommand) command.
func (c *Cadence) Route(ctx context.Context, tool, subcommand string, args map[string]any) (any, error) {
	return c.commands.Route(ctx, tool, subcommand, args)
}

// ExecuteChain runs a named chain workflow.
func (c *Cadence) ExecuteChain(ctx context.Context, chainName string, args map[string]any) chain.Result {
	return c.chains.Execute(ctx, chainName, args)
}

// Reload re-reads agent configurations, routing policy and guardrail rules
// without rebuilding live agent instances.
func (c *Cadence) Reload() error {
	return c.registry.ReloadConfigurations()
}

// SetClient replaces the shared model client on the registry and every live
// agent instance.
func (c *Cadence) SetClient(client model.Client) {
	c.registry.SetClient(client)
}
