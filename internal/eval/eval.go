// Package eval defines the evaluator contract consumed by the session loop
// and ships a sandboxed script interpreter as the bundled default.
//
// An Evaluator turns one line of input plus a read view of the shared state
// and the session's local scope into printable output and an optional set
// of proposed global changes. It never mutates the shared state directly;
// the session loop applies proposed changes through the named merge
// operations after evaluation returns.
package eval

import (
	"context"

	"github.com/shmux/shmux/internal/state"
)

// ReadView is the read-only slice of the shared runtime state an evaluator
// may consult.
type ReadView interface {
	LookupDefinition(name string) (state.Definition, bool)
	Getenv(name string) (string, bool)
	EnvSnapshot() map[string]string
	Config() state.Config
	Cwd() string
}

// Scope is the session-local variable scope. Set affects only the owning
// session until a merge promotes named entries.
type Scope interface {
	Lookup(name string) (any, bool)
	LookupLocal(name string) (any, bool)
	Set(name string, value any)
}

// Changes is the set of global updates an evaluation proposes. Each field
// maps onto one named merge operation; nothing here touches shared state
// until the session applies it.
type Changes struct {
	Definitions   []state.Definition
	Env           map[string]string
	ReplaceEnv    map[string]string
	Config        *state.Config
	ConfigPath    string
	Signals       map[string]state.Disposition
	ResetSignals  bool
	PromoteLocals []string
}

// Empty reports whether the evaluation proposed nothing.
func (c *Changes) Empty() bool {
	if c == nil {
		return true
	}
	return len(c.Definitions) == 0 &&
		len(c.Env) == 0 &&
		c.ReplaceEnv == nil &&
		c.Config == nil &&
		c.ConfigPath == "" &&
		len(c.Signals) == 0 &&
		!c.ResetSignals &&
		len(c.PromoteLocals) == 0
}

// Evaluator evaluates one input line. Evaluation is atomic from the
// caller's point of view: it runs to completion unless Interrupt is called
// from the signal path or ctx is cancelled, and even then it returns
// through the normal error path rather than being torn down externally.
type Evaluator interface {
	Eval(ctx context.Context, input string, view ReadView, scope Scope) (output string, changes *Changes, err error)

	// Interrupt aborts an in-flight evaluation from the signal path.
	// Safe to call concurrently with Eval and when nothing is running.
	Interrupt(reason string)
}

// Factory builds one evaluator per session, so per-evaluator state such as
// interpreter globals stays session-local.
type Factory func() (Evaluator, error)
