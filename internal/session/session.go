package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shmux/shmux/internal/eval"
	"github.com/shmux/shmux/internal/lineedit"
	"github.com/shmux/shmux/internal/logging"
	"github.com/shmux/shmux/internal/overlay"
	"github.com/shmux/shmux/internal/pty"
	"github.com/shmux/shmux/internal/shared/id"
	"github.com/shmux/shmux/internal/state"
)

// State is a session lifecycle state.
type State int32

const (
	StateBackground State = iota
	StateForeground
	StateTerminating
)

// String returns the lifecycle state name.
func (s State) String() string {
	switch s {
	case StateBackground:
		return "background"
	case StateForeground:
		return "foreground"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Config assembles a session's collaborators. The multiplexer owns PTY
// allocation and evaluator construction; the session owns their use.
type Config struct {
	ID        id.SessionID
	Store     *state.Store
	Scope     *overlay.Overlay
	TTY       *pty.Handle
	Evaluator eval.Evaluator
	Editor    lineedit.LineEditor
	Log       *logging.Logger

	// SignalQueueDepth bounds signals queued while Background. Zero means 16.
	SignalQueueDepth int

	// OnExit runs exactly once when the loop finishes, after output is
	// flushed. The multiplexer uses it to deregister the session.
	OnExit func(id.SessionID)
}

// Session is one interactive shell instance.
type Session struct {
	id        id.SessionID
	createdAt time.Time

	store *state.Store
	scope *overlay.Overlay
	tty   *pty.Handle
	eval  eval.Evaluator
	edit  lineedit.LineEditor
	out   *bufio.Writer
	log   *logging.Logger

	st     atomic.Int32
	wmu    sync.Mutex
	sigq   chan os.Signal
	done   chan struct{}
	closer sync.Once
	onExit func(id.SessionID)
}

// New builds a session in Background state. Run must be called exactly once.
func New(cfg Config) *Session {
	if cfg.Log == nil {
		cfg.Log = logging.NewDefault()
	}
	depth := cfg.SignalQueueDepth
	if depth <= 0 {
		depth = 16
	}

	s := &Session{
		id:        cfg.ID,
		createdAt: time.Now(),
		store:     cfg.Store,
		scope:     cfg.Scope,
		tty:       cfg.TTY,
		eval:      cfg.Evaluator,
		edit:      cfg.Editor,
		out:       bufio.NewWriter(cfg.TTY.Slave()),
		log:       cfg.Log,
		sigq:      make(chan os.Signal, depth),
		done:      make(chan struct{}),
		onExit:    cfg.OnExit,
	}
	if s.edit == nil {
		s.edit = lineedit.New(
			cfg.TTY.Slave(),
			func() string { return cfg.Store.Config().Prompt },
			cfg.Store.Config().HistorySize,
		)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() id.SessionID { return s.id }

// CreatedAt returns the construction timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.st.Load()) }

// Done is closed when the loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// History returns the session's input history.
func (s *Session) History() []string { return s.edit.History() }

// SetForeground marks the session foreground. It only flips state, so it is
// safe to call under a registry lock; callers drain the signal queue with
// DrainSignals once no lock is held, since acting on a signal writes to the
// PTY.
func (s *Session) SetForeground() {
	s.st.CompareAndSwap(int32(StateBackground), int32(StateForeground))
}

// DrainSignals acts on everything queued while the session was Background.
// Safe to call concurrently; each queued signal is acted on exactly once.
func (s *Session) DrainSignals() {
	for {
		select {
		case sig := <-s.sigq:
			s.actOn(sig)
		default:
			return
		}
	}
}

// SetBackground marks the session background.
func (s *Session) SetBackground() {
	s.st.CompareAndSwap(int32(StateForeground), int32(StateBackground))
}

// Deliver hands the session a routed signal. Foreground sessions act on it
// immediately; background sessions queue it until they take the foreground;
// terminating sessions drop it.
func (s *Session) Deliver(sig os.Signal) {
	switch s.State() {
	case StateForeground:
		s.actOn(sig)
	case StateBackground:
		select {
		case s.sigq <- sig:
		default:
			s.log.Debug("signal queue full, dropping",
				zap.String("session", s.id.String()),
				zap.String("signal", sigName(sig)))
			return
		}
		// A promotion may have finished its drain between the state check
		// and the enqueue; re-check so the signal is not stranded in the
		// queue for the whole foreground tenure.
		if s.State() == StateForeground {
			s.DrainSignals()
		}
	case StateTerminating:
	}
}

// actOn applies one signal, honoring the shared trap dispositions.
func (s *Session) actOn(sig os.Signal) {
	name := sigName(sig)
	if s.store.SignalDisposition(name) == state.DispositionIgnore {
		return
	}
	switch sig {
	case os.Interrupt, syscall.SIGINT:
		s.eval.Interrupt("interrupt")
		s.write("^C\n")
	case syscall.SIGQUIT:
		s.eval.Interrupt("quit")
		s.write("^\\\n")
	case syscall.SIGWINCH:
		// Geometry already updated on the master side; nothing local.
	default:
		s.log.Debug("unhandled signal",
			zap.String("session", s.id.String()),
			zap.String("signal", name))
	}
}

// Run drives the read-eval-print loop until the transport closes or the
// session exits itself. It is the session's only goroutine.
func (s *Session) Run(ctx context.Context) {
	defer func() {
		s.st.Store(int32(StateTerminating))
		if s.onExit != nil {
			s.onExit(s.id)
		}
		close(s.done)
	}()

	for {
		line, err := s.edit.ReadLine()
		if err != nil {
			// Closed PTY or EOF: the one sanctioned way to unblock us.
			return
		}
		if line == "" {
			continue
		}
		if line == "exit" {
			s.write("exit\n")
			return
		}

		out, changes, err := s.eval.Eval(ctx, line, s.store, s.scope)
		if out != "" {
			s.write(out)
		}
		if err != nil {
			// Evaluation errors stay local to this session's terminal.
			s.write(fmt.Sprintf("shmux: %v\n", err))
			continue
		}
		if !changes.Empty() {
			if err := s.applyChanges(changes); err != nil {
				s.write(fmt.Sprintf("shmux: warning: %v\n", err))
			}
		}
	}
}

// Close unblocks a pending read by closing the PTY pair and waits for the
// loop to exit. It never interrupts an evaluation in flight. Idempotent.
func (s *Session) Close() error {
	var err error
	s.closer.Do(func() {
		s.st.Store(int32(StateTerminating))
		err = s.tty.Close()
		<-s.done
	})
	return err
}

// applyChanges maps proposed changes onto the named merge operations. A
// merge that fails rolled-back is surfaced as a warning; later merges in
// the same batch still run, each one atomic on its own.
func (s *Session) applyChanges(ch *eval.Changes) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if err != nil && errors.Is(err, state.ErrStateLock) {
			s.log.Warn("merge rolled back",
				zap.String("session", s.id.String()), zap.Error(err))
		}
	}

	if ch.ReplaceEnv != nil {
		keep(s.store.MergeEnv(ch.ReplaceEnv))
	}
	if len(ch.Definitions) > 0 || len(ch.Env) > 0 {
		keep(s.store.MergeDelta(state.Delta{
			Definitions: ch.Definitions,
			Env:         ch.Env,
		}))
	}
	if ch.Config != nil {
		keep(s.store.SetConfig(*ch.Config))
	}
	if ch.ConfigPath != "" {
		keep(state.ApplyConfigFile(s.store, ch.ConfigPath))
	}
	if ch.ResetSignals {
		keep(s.store.ResetSignals())
	}
	if len(ch.Signals) > 0 {
		keep(s.store.SetSignals(ch.Signals))
	}
	if len(ch.PromoteLocals) > 0 {
		keep(s.scope.MergeUp(ch.PromoteLocals...))
	}
	return firstErr
}

// write puts text on the session's terminal. Both the loop and the signal
// path write here, so it serializes and flushes per call.
func (s *Session) write(text string) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.out.WriteString(text); err != nil {
		s.log.Debug("session write failed",
			zap.String("session", s.id.String()), zap.Error(err))
		return
	}
	s.out.Flush()
}

// sigName maps a signal to its trap-table name.
func sigName(sig os.Signal) string {
	switch sig {
	case os.Interrupt, syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGQUIT:
		return "SIGQUIT"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGWINCH:
		return "SIGWINCH"
	case syscall.SIGTSTP:
		return "SIGTSTP"
	default:
		return sig.String()
	}
}
