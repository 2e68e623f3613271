// Package command implements the hierarchical (tool, subcommand) dispatch
// table used to route structured commands to handler functions. The table is
// the sole source of truth for what can be dispatched; routing failures are
// descriptive, enumerating the actually-registered names so callers can
// self-correct.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cadencehq/cadence/logging"
)

// Sentinel errors for routing failures; match with errors.Is.
var (
	// ErrUnknownTool is returned when no tool of that name is registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrUnknownSubcommand is returned when the tool exists but the subcommand does not.
	ErrUnknownSubcommand = errors.New("unknown subcommand")
	// ErrBadArguments is returned when a handler rejects its arguments.
	ErrBadArguments = errors.New("bad arguments")
)

// Handler executes one subcommand with named arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Info describes one registered subcommand.
type Info struct {
	Tool        string   `json:"tool"`
	Subcommand  string   `json:"subcommand"`
	Handler     Handler  `json:"-"`
	Description string   `json:"description,omitempty"`
	ArgNames    []string `json:"arg_names,omitempty"`
}

// RegisterOptions carries the optional metadata of a registration.
type RegisterOptions struct {
	Description string
	ArgNames    []string
}

// Router is the two-level dispatch table. Registration normally happens
// once at startup, but the table is guarded by a RWMutex so late
// registration and concurrent routing stay safe.
type Router struct {
	mu     sync.RWMutex
	table  map[string]map[string]Info
	logger logging.Logger
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Logger logging.Logger
}

// NewRouter constructs an empty dispatch table.
func NewRouter(optFns ...func(o *RouterOptions)) *Router {
	opts := RouterOptions{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Router{
		table:  make(map[string]map[string]Info),
		logger: opts.Logger,
	}
}

// Register inserts a handler under (tool, subcommand). The last registration
// for a given key wins; replacing an existing entry is logged at warn level
// so accidental collisions surface in operation.
func (r *Router) Register(tool, subcommand string, handler Handler, optFns ...func(o *RegisterOptions)) {
	var opts RegisterOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.table[tool]
	if !ok {
		subs = make(map[string]Info)
		r.table[tool] = subs
	}

	if _, exists := subs[subcommand]; exists {
		r.logger.Warn(
			"command.register.overwrite",
			"tool", tool,
			"subcommand", subcommand,
		)
	}

	subs[subcommand] = Info{
		Tool:        tool,
		Subcommand:  subcommand,
		Handler:     handler,
		Description: opts.Description,
		ArgNames:    opts.ArgNames,
	}
}

// Route dispatches one command. Unknown tools and subcommands fail with
// errors enumerating the registered alternatives. Handler argument failures
// are re-raised as routing errors listing the handler's expected argument
// names, so a raw low-level error never escapes uncontextualized.
func (r *Router) Route(ctx context.Context, tool, subcommand string, args map[string]any) (any, error) {
	info, err := r.lookup(tool, subcommand)
	if err != nil {
		return nil, err
	}

	if args == nil {
		args = map[string]any{}
	}

	result, err := r.invoke(ctx, info, args)
	if err != nil {
		if errors.Is(err, ErrBadArguments) {
			return nil, fmt.Errorf(
				"%s.%s: %w (expected arguments: %s)",
				tool, subcommand, err, formatArgNames(info.ArgNames),
			)
		}

		return nil, fmt.Errorf("%s.%s: %w", tool, subcommand, err)
	}

	return result, nil
}

// invoke runs the handler, converting a panic into an ErrBadArguments
// failure. Handlers typically panic on unchecked type asserts against their
// args map, so a caller-supplied malformed command must not take the router
// down with it.
func (r *Router) invoke(ctx context.Context, info Info, args map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(
				"command.handler.panic",
				"tool", info.Tool,
				"subcommand", info.Subcommand,
				"panic", fmt.Sprintf("%v", rec),
			)
			err = fmt.Errorf("%w: handler panicked: %v", ErrBadArguments, rec)
		}
	}()

	return info.Handler(ctx, args)
}

func (r *Router) lookup(tool, subcommand string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.table[tool]
	if !ok {
		return Info{}, fmt.Errorf(
			"%w %q (known tools: %s)",
			ErrUnknownTool, tool, strings.Join(r.toolNamesLocked(), ", "),
		)
	}

	info, ok := subs[subcommand]
	if !ok {
		return Info{}, fmt.Errorf(
			"%w %q for tool %q (known subcommands: %s)",
			ErrUnknownSubcommand, subcommand, tool, strings.Join(sortedKeys(subs), ", "),
		)
	}

	return info, nil
}

// ListTools returns the registered tool names, sorted.
func (r *Router) ListTools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.toolNamesLocked()
}

// ListSubcommands returns the subcommand names of a tool, sorted.
func (r *Router) ListSubcommands(tool string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.table[tool]
	if !ok {
		return nil, fmt.Errorf(
			"%w %q (known tools: %s)",
			ErrUnknownTool, tool, strings.Join(r.toolNamesLocked(), ", "),
		)
	}

	return sortedKeys(subs), nil
}

// SubcommandInfo returns the metadata of one registered subcommand.
func (r *Router) SubcommandInfo(tool, subcommand string) (Info, error) {
	return r.lookup(tool, subcommand)
}

func (r *Router) toolNamesLocked() []string {
	return sortedKeys(r.table)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatArgNames(names []string) string {
	if len(names) == 0 {
		return "none declared"
	}
	return strings.Join(names, ", ")
}

// RequireArgs is a handler-side helper that checks the presence of named
// arguments and returns an ErrBadArguments failure naming the missing ones.
func RequireArgs(args map[string]any, names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrBadArguments, strings.Join(missing, ", "))
	}

	return nil
}

// StringArg extracts a string argument, failing with ErrBadArguments when
// absent or of the wrong type.
func StringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrBadArguments, name)
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrBadArguments, name, v)
	}

	return s, nil
}
