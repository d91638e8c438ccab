// Package mux multiplexes shell sessions: it owns the session registry and
// the single active-session indicator, arbitrates terminal-control handoff,
// and pumps each session's PTY master into a scrollback buffer.
//
// The indicator and registry are the only cross-session mutable state
// outside the shared runtime store, and they follow the same discipline:
// concurrent reads, short exclusive writes, no I/O under the lock.
package mux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shmux/shmux/internal/eval"
	"github.com/shmux/shmux/internal/logging"
	"github.com/shmux/shmux/internal/monitoring"
	"github.com/shmux/shmux/internal/overlay"
	"github.com/shmux/shmux/internal/pty"
	"github.com/shmux/shmux/internal/session"
	"github.com/shmux/shmux/internal/shared/id"
	"github.com/shmux/shmux/internal/state"
)

var (
	// ErrSessionNotFound is returned for switch/destroy on unknown ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoForeground is returned when input arrives with no session active.
	ErrNoForeground = errors.New("no foreground session")

	// ErrSessionLimit is returned when the registry is full.
	ErrSessionLimit = errors.New("session limit reached")

	// ErrShutdown is returned once the manager has begun tearing down.
	ErrShutdown = errors.New("session manager shut down")
)

// Config assembles a Manager.
type Config struct {
	Store     *state.Store
	Evaluator eval.Factory
	Log       *logging.Logger
	Metrics   *monitoring.Metrics

	MaxSessions      int
	SignalQueueDepth int
	ScrollbackBytes  int
	Cols             int
	Rows             int

	// OpenPTY overrides PTY allocation. Tests inject failures here.
	OpenPTY func(cols, rows int) (*pty.Handle, error)
}

type entry struct {
	sess     *session.Session
	tty      *pty.Handle
	scroll   *Buffer
	pumpDone chan struct{}
}

// Manager is the session registry plus the active-session indicator.
type Manager struct {
	cfg   Config
	log   *logging.Logger
	store *state.Store

	mu       sync.RWMutex
	sessions map[id.SessionID]*entry
	order    []id.SessionID
	active   id.SessionID // "" means none
	closed   bool
}

// NewManager creates an empty session multiplexer.
func NewManager(cfg Config) *Manager {
	if cfg.Log == nil {
		cfg.Log = logging.NewDefault()
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = eval.NewInterpFactory()
	}
	if cfg.OpenPTY == nil {
		cfg.OpenPTY = pty.Open
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 32
	}
	return &Manager{
		cfg:      cfg,
		log:      cfg.Log,
		store:    cfg.Store,
		sessions: make(map[id.SessionID]*entry),
	}
}

// CreateSession allocates a PTY pair, layers a fresh overlay over the
// shared state, spawns the session loop, and registers it Background. The
// very first session takes the foreground. Allocation failures are
// reported synchronously and leave running sessions untouched.
func (m *Manager) CreateSession() (id.SessionID, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return "", ErrShutdown
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.RUnlock()
		return "", fmt.Errorf("%w: %d sessions", ErrSessionLimit, m.cfg.MaxSessions)
	}
	m.mu.RUnlock()

	// Allocation and construction happen outside the registry lock.
	tty, err := m.cfg.OpenPTY(m.cfg.Cols, m.cfg.Rows)
	if err != nil {
		return "", err
	}
	ev, err := m.cfg.Evaluator()
	if err != nil {
		tty.Close()
		return "", fmt.Errorf("build evaluator: %w", err)
	}

	sid := id.NewSessionID()
	sess := session.New(session.Config{
		ID:               sid,
		Store:            m.store,
		Scope:            overlay.New(m.store),
		TTY:              tty,
		Evaluator:        ev,
		Log:              m.log,
		SignalQueueDepth: m.cfg.SignalQueueDepth,
		OnExit:           m.reap,
	})

	e := &entry{
		sess:     sess,
		tty:      tty,
		scroll:   NewBuffer(m.cfg.ScrollbackBytes),
		pumpDone: make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed || len(m.sessions) >= m.cfg.MaxSessions {
		closed := m.closed
		m.mu.Unlock()
		tty.Close()
		if closed {
			return "", ErrShutdown
		}
		return "", fmt.Errorf("%w: %d sessions", ErrSessionLimit, m.cfg.MaxSessions)
	}
	m.sessions[sid] = e
	m.order = append(m.order, sid)
	if m.active == "" {
		m.active = sid
		sess.SetForeground()
	}
	m.mu.Unlock()

	go m.pump(e)
	go sess.Run(context.Background())

	if mm := m.cfg.Metrics; mm != nil {
		mm.IncSessionsCreated()
		mm.SetSessionsActive(m.Count())
	}
	m.log.Info("session created", zap.String("session", sid.String()))
	return sid, nil
}

// SwitchActive atomically reassigns the foreground indicator. Every party
// consulting the indicator observes either the old or the new id, never
// two foreground sessions and never none.
func (m *Manager) SwitchActive(sid id.SessionID) error {
	m.mu.Lock()
	e, ok := m.sessions[sid]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}
	if m.active == sid {
		m.mu.Unlock()
		return nil
	}
	if old, ok := m.sessions[m.active]; ok {
		old.sess.SetBackground()
	}
	m.active = sid
	e.sess.SetForeground()
	if mm := m.cfg.Metrics; mm != nil {
		mm.IncForegroundSwitch()
	}
	m.mu.Unlock()

	// Queued signals write to the session's PTY; that I/O stays outside
	// the registry lock.
	e.sess.DrainSignals()
	return nil
}

// History returns a session's input history.
func (m *Manager) History(sid id.SessionID) ([]string, error) {
	m.mu.RLock()
	e, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}
	return e.sess.History(), nil
}

// Active returns the current foreground id, or false when none.
func (m *Manager) Active() (id.SessionID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.active, m.active != ""
}

// Foreground returns the current foreground session for signal dispatch.
func (m *Manager) Foreground() (*session.Session, id.SessionID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active == "" {
		return nil, "", false
	}
	e, ok := m.sessions[m.active]
	if !ok {
		return nil, "", false
	}
	return e.sess, m.active, true
}

// DestroySession unblocks the session's pending read by closing its PTY,
// waits for the loop to exit, and removes the registry entry. Foreground
// replacement happens before this returns, inside the exit path.
func (m *Manager) DestroySession(sid id.SessionID) error {
	m.mu.RLock()
	e, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}

	err := e.sess.Close()
	<-e.pumpDone
	return err
}

// reap removes an exited session and, when it held the foreground, hands
// the indicator to the most recently created survivor or sets it to none.
// Runs on the session's own goroutine at loop exit.
func (m *Manager) reap(sid id.SessionID) {
	m.mu.Lock()
	e, ok := m.sessions[sid]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sid)
	for i, other := range m.order {
		if other == sid {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	var promoted *session.Session
	if m.active == sid {
		m.active = ""
		if n := len(m.order); n > 0 {
			m.active = m.order[n-1]
			promoted = m.sessions[m.active].sess
			promoted.SetForeground()
		}
	}
	m.mu.Unlock()

	if promoted != nil {
		promoted.DrainSignals()
	}

	// The loop has exited; release the pair in case of self-exit.
	e.tty.Close()

	if mm := m.cfg.Metrics; mm != nil {
		mm.IncSessionsDestroyed()
		mm.SetSessionsActive(m.Count())
	}
	m.log.Info("session removed", zap.String("session", sid.String()))
}

// RouteInput forwards raw bytes to the foreground session's PTY master.
func (m *Manager) RouteInput(p []byte) (int, error) {
	m.mu.RLock()
	if m.active == "" {
		m.mu.RUnlock()
		return 0, ErrNoForeground
	}
	e := m.sessions[m.active]
	m.mu.RUnlock()

	// Write outside the lock; a concurrently destroyed session surfaces
	// as a write error on the closed master, never as a deadlock.
	return e.tty.Master().Write(p)
}

// WriteInput forwards raw bytes to a specific session's PTY master.
func (m *Manager) WriteInput(sid id.SessionID, p []byte) (int, error) {
	m.mu.RLock()
	e, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}
	return e.tty.Master().Write(p)
}

// ReadOutput drains a session's scrollback buffer.
func (m *Manager) ReadOutput(sid id.SessionID) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}
	return e.scroll.ReadAll(), nil
}

// Resize changes a session's terminal geometry and notifies it.
func (m *Manager) Resize(sid id.SessionID, cols, rows int) error {
	m.mu.RLock()
	e, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
	}
	if err := e.tty.Resize(cols, rows); err != nil {
		return err
	}
	e.sess.Deliver(sigWinch)
	return nil
}

// Info describes one registered session.
type Info struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
}

// List returns registered sessions in creation order.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.order))
	for _, sid := range m.order {
		e := m.sessions[sid]
		cols, rows := e.tty.Size()
		infos = append(infos, Info{
			ID:        sid.String(),
			State:     e.sess.State().String(),
			Active:    sid == m.active,
			CreatedAt: e.sess.CreatedAt(),
			Cols:      cols,
			Rows:      rows,
		})
	}
	return infos
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}

// Shutdown destroys every session. The returned error aggregates any PTY
// or loop that could not be torn down; callers map it to a non-zero exit.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	m.closed = true
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.sess.Close(); err != nil {
			errs = append(errs, err)
		}
		select {
		case <-e.pumpDone:
		case <-time.After(5 * time.Second):
			errs = append(errs, fmt.Errorf("session %s: output pump did not stop", e.sess.ID()))
		}
	}
	return errors.Join(errs...)
}

// pump copies the session's PTY master into its scrollback buffer until
// the pair closes.
func (m *Manager) pump(e *entry) {
	defer close(e.pumpDone)

	buf := make([]byte, 4096)
	for {
		n, err := e.tty.Master().Read(buf)
		if n > 0 {
			e.scroll.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}
