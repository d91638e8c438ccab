package eval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/shmux/shmux/internal/state"
)

// ErrInterrupted marks an evaluation aborted via Interrupt or context
// cancellation.
var ErrInterrupted = errors.New("evaluation interrupted")

// Interp is the bundled script evaluator: a sandboxed goja VM with shell
// builtins bridged to the read view and local scope. One Interp serves one
// session; evaluations on it are serialized.
type Interp struct {
	vm *goja.Runtime
	mu sync.Mutex

	// Per-evaluation bridge state, valid only while Eval runs.
	view    ReadView
	scope   Scope
	pending *Changes
	out     strings.Builder
}

// NewInterp creates a session evaluator.
func NewInterp() (*Interp, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(1024)

	i := &Interp{vm: vm}
	if err := i.setupGlobals(); err != nil {
		return nil, fmt.Errorf("setup interpreter globals: %w", err)
	}
	return i, nil
}

// NewInterpFactory returns a Factory producing one Interp per session.
func NewInterpFactory() Factory {
	return func() (Evaluator, error) { return NewInterp() }
}

// Eval runs one line of input. The returned Changes carry everything the
// script proposed via setenv/defn/alias/export and friends.
func (i *Interp) Eval(ctx context.Context, input string, view ReadView, scope Scope) (string, *Changes, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.view = view
	i.scope = scope
	i.pending = &Changes{}
	i.out.Reset()
	defer func() {
		i.view = nil
		i.scope = nil
		i.pending = nil
	}()

	i.vm.ClearInterrupt()

	// Watch for cancellation while the script runs.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			i.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	value, err := i.vm.RunString(input)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return i.out.String(), nil, fmt.Errorf("%w: %v", ErrInterrupted, interrupted.Value())
		}
		return i.out.String(), nil, fmt.Errorf("evaluate %q: %w", firstLine(input), err)
	}

	output := i.out.String()
	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		output += value.String() + "\n"
	}

	changes := i.pending
	if changes.Empty() {
		changes = nil
	}
	return output, changes, nil
}

// Interrupt aborts an in-flight evaluation. No-op when idle; the pending
// interrupt is cleared at the start of the next Eval.
func (i *Interp) Interrupt(reason string) {
	i.vm.Interrupt(reason)
}

// setupGlobals installs the builtin bridge functions.
func (i *Interp) setupGlobals() error {
	builtins := map[string]any{
		// echo writes its arguments to the session's output.
		"echo": func(args ...goja.Value) {
			parts := make([]string, len(args))
			for n, a := range args {
				parts[n] = a.String()
			}
			i.out.WriteString(strings.Join(parts, " ") + "\n")
		},
		// set binds a session-local variable; other sessions never see it
		// unless export() names it.
		"set": func(name string, value goja.Value) error {
			if name == "" {
				return errors.New("set: empty variable name")
			}
			i.scope.Set(name, value.Export())
			return nil
		},
		// get resolves locals first, then the shared environment.
		"get": func(name string) goja.Value {
			v, ok := i.scope.Lookup(name)
			if !ok {
				return goja.Undefined()
			}
			return i.vm.ToValue(v)
		},
		// getenv reads the shared environment only.
		"getenv": func(name string) goja.Value {
			v, ok := i.view.Getenv(name)
			if !ok {
				return goja.Undefined()
			}
			return i.vm.ToValue(v)
		},
		// setenv proposes a shared environment variable (add_env_var).
		"setenv": func(name, value string) error {
			if name == "" {
				return errors.New("setenv: empty variable name")
			}
			if i.pending.Env == nil {
				i.pending.Env = make(map[string]string)
			}
			i.pending.Env[name] = value
			return nil
		},
		// defn proposes a shared function definition (merge_delta).
		"defn": func(name, body string) error {
			if name == "" {
				return errors.New("defn: empty function name")
			}
			i.pending.Definitions = append(i.pending.Definitions, state.Definition{
				Name: name,
				Kind: state.KindFunction,
				Body: body,
			})
			return nil
		},
		// alias proposes a shared alias definition (merge_delta).
		"alias": func(name, body string) error {
			if name == "" {
				return errors.New("alias: empty alias name")
			}
			i.pending.Definitions = append(i.pending.Definitions, state.Definition{
				Name: name,
				Kind: state.KindAlias,
				Body: body,
			})
			return nil
		},
		// call invokes a shared function definition by name.
		"call": func(name string) (goja.Value, error) {
			def, ok := i.view.LookupDefinition(name)
			if !ok {
				return nil, fmt.Errorf("undefined function %q", name)
			}
			return i.vm.RunString(def.Body)
		},
		// export proposes promoting named local bindings to the shared
		// environment (merge up).
		"export": func(names ...string) error {
			for _, name := range names {
				if name == "" {
					return errors.New("export: empty variable name")
				}
			}
			i.pending.PromoteLocals = append(i.pending.PromoteLocals, names...)
			return nil
		},
		// trap proposes a signal disposition (set_signals).
		"trap": func(sig, disposition string) error {
			if sig == "" {
				return errors.New("trap: empty signal name")
			}
			if i.pending.Signals == nil {
				i.pending.Signals = make(map[string]state.Disposition)
			}
			i.pending.Signals[sig] = state.Disposition(disposition)
			return nil
		},
		// source proposes loading a shell config file (set_config_path).
		"source": func(path string) {
			i.pending.ConfigPath = path
		},
		"cwd": func() string {
			return i.view.Cwd()
		},
		"prompt": func() string {
			return i.view.Config().Prompt
		},
	}

	for name, fn := range builtins {
		if err := i.vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}
