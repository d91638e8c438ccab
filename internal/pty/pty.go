// Package pty allocates and manages one pseudo-terminal pair per session.
//
// The master end is driven by the multiplexer (input pump, output pump,
// resize); the slave end is handed to the session and behaves like a real
// terminal device, including an independent raw/cooked mode. Toggling raw
// mode on one handle's slave never affects another handle.
package pty

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// ErrAllocation marks a failed pseudo-terminal allocation. It is reported
// synchronously to the caller that requested a new session and leaves
// already-running sessions untouched.
var ErrAllocation = errors.New("pty allocation failed")

// ErrClosed is returned by operations on a released handle.
var ErrClosed = errors.New("pty pair closed")

// Handle is one master/slave pseudo-terminal pair plus its current size.
type Handle struct {
	master *os.File
	slave  *os.File

	mu     sync.Mutex
	cols   uint16
	rows   uint16
	saved  *term.State // cooked state captured before a raw toggle
	closed bool
}

// Open allocates a new pseudo-terminal pair with the given geometry.
func Open(cols, rows int) (*Handle, error) {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}

	h := &Handle{
		master: master,
		slave:  slave,
		cols:   uint16(cols),
		rows:   uint16(rows),
	}
	if err := pty.Setsize(master, &pty.Winsize{Cols: h.cols, Rows: h.rows}); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("%w: set initial size: %v", ErrAllocation, err)
	}
	return h, nil
}

// Master returns the driver end. Owned by the multiplexer.
func (h *Handle) Master() *os.File {
	return h.master
}

// Slave returns the terminal device end. Owned by the session.
func (h *Handle) Slave() *os.File {
	return h.slave
}

// Resize changes the terminal dimensions on the master side. The kernel
// propagates the change to consumers of the slave end.
func (h *Handle) Resize(cols, rows int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid size %dx%d", cols, rows)
	}
	h.cols = uint16(cols)
	h.rows = uint16(rows)
	return pty.Setsize(h.master, &pty.Winsize{Cols: h.cols, Rows: h.rows})
}

// Size returns the current terminal dimensions.
func (h *Handle) Size() (cols, rows int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return int(h.cols), int(h.rows)
}

// SetRaw switches the slave side into raw mode, saving the cooked state.
// The toggle is local to this pair.
func (h *Handle) SetRaw() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if h.saved != nil {
		return nil // already raw
	}
	saved, err := term.MakeRaw(int(h.slave.Fd()))
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	h.saved = saved
	return nil
}

// RestoreCooked returns the slave side to the mode saved by SetRaw.
func (h *Handle) RestoreCooked() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.restoreCookedLocked()
}

func (h *Handle) restoreCookedLocked() error {
	if h.saved == nil {
		return nil
	}
	err := term.Restore(int(h.slave.Fd()), h.saved)
	h.saved = nil
	if err != nil {
		return fmt.Errorf("restore cooked mode: %w", err)
	}
	return nil
}

// Close releases both ends of the pair. Closing unblocks any reader
// pending on either end. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	// Best effort: a destroyed session should not leave the device raw.
	_ = h.restoreCookedLocked()

	serr := h.slave.Close()
	merr := h.master.Close()
	if serr != nil {
		return serr
	}
	return merr
}
