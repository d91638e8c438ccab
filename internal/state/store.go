package state

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shmux/shmux/internal/logging"
)

// ErrStateLock marks merge failures recovered by snapshot rollback.
// Callers surface it as a warning to the requesting session; it is not
// fatal unless the Guard trips.
var ErrStateLock = errors.New("shared state lock failure")

// Store is the single owner of the shared runtime state. Reads run
// concurrently under the read lock; every mutation goes through one of the
// named merge operations, which hold the write lock for their (short,
// I/O-free) duration and either apply completely or roll back completely.
type Store struct {
	mu       sync.RWMutex
	cur      *runtime
	lastGood *runtime

	guard *Guard
	log   *logging.Logger

	onMerge   func(op string)
	onRecover func(op string)
	fatal     func(op string, cause error)
}

// Option configures a Store.
type Option func(*Store)

// WithGuard replaces the default two-strike integrity guard.
func WithGuard(g *Guard) Option {
	return func(s *Store) { s.guard = g }
}

// WithMergeHook registers a counter hook invoked after each completed merge.
// The hook runs under the write lock and must not block.
func WithMergeHook(fn func(op string)) Option {
	return func(s *Store) { s.onMerge = fn }
}

// WithRecoveryHook registers a counter hook invoked after each snapshot
// rollback. Same constraints as WithMergeHook.
func WithRecoveryHook(fn func(op string)) Option {
	return func(s *Store) { s.onRecover = fn }
}

// WithFatalHandler replaces the process-abort behavior on a tripped guard.
// Tests use this to observe the abort instead of dying.
func WithFatalHandler(fn func(op string, cause error)) Option {
	return func(s *Store) { s.fatal = fn }
}

// NewStore creates the runtime state. One Store exists per process.
func NewStore(log *logging.Logger, opts ...Option) *Store {
	if log == nil {
		log = logging.NewDefault()
	}
	s := &Store{
		cur:   newRuntime(),
		guard: NewGuard(0),
		log:   log,
	}
	s.lastGood = s.cur.clone()
	for _, opt := range opts {
		opt(s)
	}
	if s.fatal == nil {
		s.fatal = func(op string, cause error) {
			log.Error("shared state corrupted twice, aborting",
				zap.String("op", op), zap.Error(cause))
			os.Exit(1)
		}
	}
	return s
}

// ---------------------------------------------------------------------------
// Read accessors. These never block each other.
// ---------------------------------------------------------------------------

// LookupDefinition returns the named global definition.
func (s *Store) LookupDefinition(name string) (Definition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.cur.definitions[name]
	return def, ok
}

// Getenv returns the value of one shared environment variable.
func (s *Store) Getenv(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.cur.env[name]
	return v, ok
}

// EnvSnapshot returns a copy of the shared environment.
func (s *Store) EnvSnapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env := make(map[string]string, len(s.cur.env))
	for k, v := range s.cur.env {
		env[k] = v
	}
	return env
}

// Cwd returns the shared working directory. It falls back to the process
// working directory when no merge has set PWD yet.
func (s *Store) Cwd() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if wd, ok := s.cur.env["PWD"]; ok && wd != "" {
		return wd
	}
	wd, err := os.Getwd()
	if err != nil {
		return "/"
	}
	return wd
}

// Config returns the shared configuration record.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cur.config.clone()
}

// ConfigPath returns the path of the last loaded configuration file.
func (s *Store) ConfigPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cur.configPath
}

// SignalDisposition returns the shared disposition for a signal name.
func (s *Store) SignalDisposition(name string) Disposition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d, ok := s.cur.signals[name]; ok {
		return d
	}
	return DispositionDefault
}

// StartupTime returns the runtime startup timestamp.
func (s *Store) StartupTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cur.startupTime
}

// Generation returns the merge counter. It increases by exactly one per
// completed merge, so two equal generations bracket an unchanged state.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cur.generation
}

// Snapshot returns a consistent copy of the entire state under one read
// lock acquisition.
func (s *Store) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.cur.clone()
	return View{
		Definitions: c.definitions,
		Env:         c.env,
		Config:      c.config,
		Signals:     c.signals,
		Files:       c.files,
		Spans:       c.spans,
		ConfigPath:  c.configPath,
		StartupTime: c.startupTime,
		Generation:  c.generation,
	}
}

// Stats summarizes the state for the control API.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	gen := s.cur.generation
	defs := len(s.cur.definitions)
	envs := len(s.cur.env)
	files := len(s.cur.files)
	spans := len(s.cur.spans)
	started := s.cur.startupTime
	s.mu.RUnlock()

	return Stats{
		Definitions: defs,
		EnvVars:     envs,
		Files:       files,
		Spans:       spans,
		Generation:  gen,
		Recoveries:  s.guard.Counts().Recoveries,
		StartupTime: started,
	}
}

// GuardCounts exposes the integrity guard statistics.
func (s *Store) GuardCounts() GuardCounts {
	return s.guard.Counts()
}

// ---------------------------------------------------------------------------
// Named merge operations. Each applies completely or not at all.
// ---------------------------------------------------------------------------

// MergeDelta installs a session's proposed definitions and environment
// additions as one atomic unit.
func (s *Store) MergeDelta(d Delta) error {
	return s.mutate("merge_delta", func(r *runtime) error {
		for _, def := range d.Definitions {
			if def.Name == "" {
				return fmt.Errorf("definition with empty name")
			}
			if def.Kind == "" {
				def.Kind = KindFunction
			}
			r.definitions[def.Name] = def
		}
		for k, v := range d.Env {
			if k == "" {
				return fmt.Errorf("environment variable with empty name")
			}
			r.env[k] = v
		}
		return nil
	})
}

// MergeEnv replaces the shared environment wholesale.
func (s *Store) MergeEnv(env map[string]string) error {
	return s.mutate("merge_env", func(r *runtime) error {
		next := make(map[string]string, len(env))
		for k, v := range env {
			if k == "" {
				return fmt.Errorf("environment variable with empty name")
			}
			next[k] = v
		}
		r.env = next
		return nil
	})
}

// AddEnvVar sets a single shared environment variable.
func (s *Store) AddEnvVar(name, value string) error {
	return s.mutate("add_env_var", func(r *runtime) error {
		if name == "" {
			return fmt.Errorf("environment variable with empty name")
		}
		r.env[name] = value
		return nil
	})
}

// SetConfig replaces the shared configuration record.
func (s *Store) SetConfig(cfg Config) error {
	return s.mutate("set_config", func(r *runtime) error {
		if cfg.HistorySize < 0 {
			return fmt.Errorf("negative history size %d", cfg.HistorySize)
		}
		r.config = cfg.clone()
		return nil
	})
}

// SetSignals installs signal dispositions, merging over existing entries.
func (s *Store) SetSignals(sigs map[string]Disposition) error {
	return s.mutate("set_signals", func(r *runtime) error {
		for name, d := range sigs {
			if name == "" {
				return fmt.Errorf("signal with empty name")
			}
			r.signals[name] = d
		}
		return nil
	})
}

// ResetSignals restores every signal to its default disposition.
func (s *Store) ResetSignals() error {
	return s.mutate("reset_signals", func(r *runtime) error {
		r.signals = make(map[string]Disposition)
		return nil
	})
}

// AddFile registers a source file and returns its monotonic id.
func (s *Store) AddFile(path string) (int, error) {
	var id int
	err := s.mutate("add_file", func(r *runtime) error {
		if path == "" {
			return fmt.Errorf("source file with empty path")
		}
		r.files = append(r.files, path)
		id = len(r.files) - 1
		return nil
	})
	return id, err
}

// AddSpan registers a source span and returns its monotonic id.
func (s *Store) AddSpan(sp Span) (int, error) {
	var id int
	err := s.mutate("add_span", func(r *runtime) error {
		if sp.FileID < 0 || sp.FileID >= len(r.files) {
			return fmt.Errorf("span references unknown file %d", sp.FileID)
		}
		if sp.End < sp.Start {
			return fmt.Errorf("span end %d before start %d", sp.End, sp.Start)
		}
		r.spans = append(r.spans, sp)
		id = len(r.spans) - 1
		return nil
	})
	return id, err
}

// SetConfigPath records the active configuration file path. Loading the
// file happens outside the lock; see LoadConfigFile.
func (s *Store) SetConfigPath(path string) error {
	return s.mutate("set_config_path", func(r *runtime) error {
		r.configPath = path
		return nil
	})
}

// SetStartupTime overrides the startup timestamp.
func (s *Store) SetStartupTime(t time.Time) error {
	return s.mutate("set_startup_time", func(r *runtime) error {
		if t.IsZero() {
			return fmt.Errorf("zero startup time")
		}
		r.startupTime = t
		return nil
	})
}

// mutate runs one named merge under the write lock. A failing or panicking
// writer rolls the state back to the last-known-good snapshot before the
// lock is released, so the next acquirer never sees a partial merge and the
// lock is never left held.
//
// The two failure classes are kept apart: an error returned by the merge
// function is a rejected proposal, restored from snapshot and surfaced as a
// per-session warning. A panic means the merge died mid-mutation, and only
// that counts as a corruption strike against the guard.
func (s *Store) mutate(op string, fn func(r *runtime) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			err = s.corruptLocked(op, fmt.Errorf("merge panic: %v", p))
		}
	}()

	if ferr := fn(s.cur); ferr != nil {
		return s.rejectLocked(op, ferr)
	}

	s.cur.generation++
	s.lastGood = s.cur.clone()
	s.guard.MarkClean()
	if s.onMerge != nil {
		s.onMerge(op)
	}
	return nil
}

// rejectLocked restores the last-known-good snapshot after a merge function
// returned an error. The state is fully reconstructed, so the failure stays
// a warning no matter how often it repeats. Called with the write lock held.
func (s *Store) rejectLocked(op string, cause error) error {
	s.cur = s.lastGood.clone()
	s.guard.MarkRecovered()
	if s.onRecover != nil {
		s.onRecover(op)
	}
	s.log.Warn("merge rejected, state restored from snapshot",
		zap.String("op", op), zap.Error(cause))
	return fmt.Errorf("%w: %s: %v", ErrStateLock, op, cause)
}

// corruptLocked restores the last-known-good snapshot after a merge died
// mid-mutation. This is a corruption detection: the guard takes a strike,
// and two consecutive strikes abort the process. Called with the write lock
// held.
func (s *Store) corruptLocked(op string, cause error) error {
	s.cur = s.lastGood.clone()
	if s.onRecover != nil {
		s.onRecover(op)
	}
	if s.guard.MarkCorrupt() {
		s.fatal(op, cause)
	} else {
		s.log.Warn("merge corrupted state, restored from snapshot",
			zap.String("op", op), zap.Error(cause))
	}
	return fmt.Errorf("%w: %s: %v", ErrStateLock, op, cause)
}
