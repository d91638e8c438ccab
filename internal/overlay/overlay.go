// Package overlay implements a session's local variable scope: an ordered
// set of local bindings layered over the shared runtime baseline.
//
// Lookups check local bindings first and fall through to the shared
// environment. The overlay belongs to exactly one session and is only ever
// touched from that session's loop, so it carries no lock; merge-up is the
// single path by which its contents reach the shared state, and it copies
// only the entries named by the caller, never the whole overlay.
package overlay

import (
	"fmt"

	"github.com/shmux/shmux/internal/state"
)

// Baseline is the read side of the shared state an overlay falls through to.
type Baseline interface {
	Getenv(name string) (string, bool)
	LookupDefinition(name string) (state.Definition, bool)
	AddEnvVar(name, value string) error
}

// Binding is one local name/value pair. Values are kept as produced by the
// evaluator; they are stringified only when merged up.
type Binding struct {
	Name  string
	Value any
}

// Overlay layers local bindings over an immutable baseline reference.
type Overlay struct {
	baseline Baseline
	locals   []Binding
	index    map[string]int
}

// New creates an empty overlay over the given baseline.
func New(baseline Baseline) *Overlay {
	return &Overlay{
		baseline: baseline,
		index:    make(map[string]int),
	}
}

// Set binds a local name, shadowing any baseline entry of the same name.
// Rebinding keeps the original position in the overlay order.
func (o *Overlay) Set(name string, value any) {
	if i, ok := o.index[name]; ok {
		o.locals[i].Value = value
		return
	}
	o.index[name] = len(o.locals)
	o.locals = append(o.locals, Binding{Name: name, Value: value})
}

// Lookup resolves a name: local bindings first, then the shared baseline.
func (o *Overlay) Lookup(name string) (any, bool) {
	if i, ok := o.index[name]; ok {
		return o.locals[i].Value, true
	}
	if v, ok := o.baseline.Getenv(name); ok {
		return v, true
	}
	return nil, false
}

// LookupLocal resolves a name against local bindings only.
func (o *Overlay) LookupLocal(name string) (any, bool) {
	if i, ok := o.index[name]; ok {
		return o.locals[i].Value, true
	}
	return nil, false
}

// Unset removes a local binding, re-exposing any shadowed baseline entry.
func (o *Overlay) Unset(name string) {
	i, ok := o.index[name]
	if !ok {
		return
	}
	o.locals = append(o.locals[:i], o.locals[i+1:]...)
	delete(o.index, name)
	for j := i; j < len(o.locals); j++ {
		o.index[o.locals[j].Name] = j
	}
}

// Names returns local binding names in binding order.
func (o *Overlay) Names() []string {
	names := make([]string, len(o.locals))
	for i, b := range o.locals {
		names[i] = b.Name
	}
	return names
}

// Len returns the number of local bindings.
func (o *Overlay) Len() int {
	return len(o.locals)
}

// MergeUp copies the named local bindings into the shared baseline. Only
// the listed entries move; everything else stays session-local. Empty and
// unknown names fail before anything is merged.
func (o *Overlay) MergeUp(names ...string) error {
	for _, name := range names {
		if name == "" {
			return fmt.Errorf("merge up: empty binding name")
		}
		if _, ok := o.index[name]; !ok {
			return fmt.Errorf("merge up: no local binding %q", name)
		}
	}
	for _, name := range names {
		v := o.locals[o.index[name]].Value
		if err := o.baseline.AddEnvVar(name, fmt.Sprint(v)); err != nil {
			return fmt.Errorf("merge up %q: %w", name, err)
		}
	}
	return nil
}
