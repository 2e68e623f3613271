// Package registry manages the agent lifecycle: YAML configuration loading,
// factory registration, singleton instance caching, shared dependency
// injection, and hot reload of configurations without instance rebuilds.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/cadencehq/cadence/agent"
	"github.com/cadencehq/cadence/command"
	"github.com/cadencehq/cadence/guardrail"
	"github.com/cadencehq/cadence/logging"
	"github.com/cadencehq/cadence/model"
	"github.com/cadencehq/cadence/routing"
)

// Factory constructs one agent from its configuration. Registered per agent
// kind, keyed by normalized name.
type Factory func(cfg agent.Config, optFns ...func(o *agent.BaseAgentOptions)) (agent.Agent, error)

// Registry owns one Router and one Gate shared by every agent it creates,
// plus the singleton cache of live instances. All methods are safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]agent.Agent
	configs   map[string]agent.Config

	router *routing.Router
	gate   guardrail.Gate
	client model.Client
	cmds   *command.Router

	configPath string
	policyPath string
	rulesPath  string

	logger logging.Logger
}

// Options configures a Registry.
type Options struct {
	Router   *routing.Router
	Gate     guardrail.Gate
	Client   model.Client
	Commands *command.Router
	Logger   logging.Logger

	// ConfigPath locates the agents YAML file. A missing file is not an
	// error; the registry simply starts with zero configured agents.
	ConfigPath string

	// PolicyPath and RulesPath are handed to the router and gate on
	// ReloadConfigurations. Empty paths reload the embedded defaults.
	PolicyPath string
	RulesPath  string
}

// New constructs a Registry and performs the initial configuration load.
func New(optFns ...func(o *Options)) (*Registry, error) {
	opts := Options{
		Gate:   guardrail.NoOpGate{},
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Router == nil {
		opts.Router = routing.NewRouter()
	}

	r := &Registry{
		factories:  make(map[string]Factory),
		instances:  make(map[string]agent.Agent),
		configs:    make(map[string]agent.Config),
		router:     opts.Router,
		gate:       opts.Gate,
		client:     opts.Client,
		cmds:       opts.Commands,
		configPath: opts.ConfigPath,
		policyPath: opts.PolicyPath,
		rulesPath:  opts.RulesPath,
		logger:     opts.Logger,
	}

	if err := r.loadConfigs(); err != nil {
		return nil, err
	}

	if r.policyPath != "" {
		if err := r.router.ReloadPolicy(r.policyPath); err != nil {
			return nil, fmt.Errorf("load routing policy: %w", err)
		}
	}

	return r, nil
}

// normalize maps user-facing agent names onto registry keys.
func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// loadConfigs reads the agents YAML file. Absent file means zero agents;
// individually invalid entries are logged and skipped so one bad stanza
// never takes down the rest.
func (r *Registry) loadConfigs() error {
	if r.configPath == "" {
		return nil
	}

	data, err := os.ReadFile(r.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Info("registry.config.missing", "path", r.configPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read agent configs: %w", err)
	}

	parsed, err := agent.ParseConfigs(data)
	if err != nil {
		return fmt.Errorf("parse agent configs: %w", err)
	}

	configs := make(map[string]agent.Config, len(parsed))
	for name, cfg := range parsed {
		key := normalize(name)
		if key == "" || cfg.Model == "" {
			r.logger.Warn("registry.config.skipped", "agent", name, "reason", "missing name or model")
			continue
		}
		configs[key] = cfg
	}

	r.mu.Lock()
	r.configs = configs
	r.mu.Unlock()

	r.logger.Info("registry.config.loaded", "path", r.configPath, "agents", len(configs))
	return nil
}

// Register binds a factory to an agent name. The factory is consulted by
// Create; registering twice replaces the previous factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(name)] = factory
}

// Names returns the registered factory names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create returns the singleton instance for an agent name, constructing it
// on first use. Unlike Get, every failure is surfaced to the caller: both a
// registered factory and a loaded configuration are required.
func (r *Registry) Create(name string) (agent.Agent, error) {
	key := normalize(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}

	factory, ok := r.factories[key]
	if !ok {
		return nil, fmt.Errorf("no agent factory registered for %q (known: %s)",
			name, strings.Join(r.namesLocked(), ", "))
	}

	cfg, ok := r.configs[key]
	if !ok {
		return nil, fmt.Errorf("no configuration loaded for agent %q (loaded: %s)",
			name, strings.Join(r.configNamesLocked(), ", "))
	}

	inst, err := factory(cfg, func(o *agent.BaseAgentOptions) {
		o.Client = r.client
		o.Router = r.router
		o.Gate = r.gate
		o.Commands = r.cmds
		o.Logger = r.logger
	})
	if err != nil {
		return nil, fmt.Errorf("create agent %q: %w", name, err)
	}

	r.instances[key] = inst
	r.logger.Info("registry.agent.created", "agent", key)
	return inst, nil
}

// Get is the best-effort variant of Create used by request paths that
// prefer a degraded response over an error: failures are logged and nil is
// returned.
func (r *Registry) Get(name string) agent.Agent {
	inst, err := r.Create(name)
	if err != nil {
		r.logger.Error("registry.agent.get_failed", "agent", name, "error", err)
		return nil
	}
	return inst
}

// Router returns the registry's shared model router.
func (r *Registry) Router() *routing.Router {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.router
}

// Gate returns the registry's shared guardrail gate.
func (r *Registry) Gate() guardrail.Gate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gate
}

// SetClient replaces the shared model client and pushes it into every live
// instance. The push is not transactional: an in-flight request may see the
// old client on some agents and the new one on others.
func (r *Registry) SetClient(c model.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.client = c
	for _, inst := range r.instances {
		inst.SetClient(c)
	}
}

// SetRouter replaces the shared model router and pushes it into every live
// instance. Subsequent policy reloads go through the new router.
func (r *Registry) SetRouter(router *routing.Router) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.router = router
	for _, inst := range r.instances {
		inst.SetRouter(router)
	}
}

// SetGate replaces the shared gate and pushes it into every live instance.
func (r *Registry) SetGate(g guardrail.Gate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gate = g
	for _, inst := range r.instances {
		inst.SetGate(g)
	}
}

// SetCommands replaces the shared command router and pushes it into every
// live instance.
func (r *Registry) SetCommands(cmds *command.Router) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cmds = cmds
	for _, inst := range r.instances {
		inst.SetCommands(cmds)
	}
}

// ReloadConfigurations re-reads the agents YAML file, the routing policy
// and the guardrail rules. Existing instances are not rebuilt; new configs
// only affect agents created after the reload. Returns the first error,
// after attempting every reload.
func (r *Registry) ReloadConfigurations() error {
	var firstErr error

	if err := r.loadConfigs(); err != nil {
		firstErr = err
	}

	if err := r.router.ReloadPolicy(r.policyPath); err != nil {
		r.logger.Error("registry.reload.policy_failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	if reloadable, ok := r.gate.(guardrail.Reloadable); ok {
		if err := reloadable.Reload(r.rulesPath); err != nil {
			r.logger.Error("registry.reload.rules_failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	r.logger.Info("registry.reload.complete")
	return firstErr
}

// Config returns the loaded configuration for an agent name, if present.
func (r *Registry) Config(name string) (agent.Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[normalize(name)]
	return cfg, ok
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) configNamesLocked() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
