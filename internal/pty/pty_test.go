package pty

import (
	"errors"
	"testing"
)

func openTestPair(t *testing.T, cols, rows int) *Handle {
	t.Helper()
	h, err := Open(cols, rows)
	if err != nil {
		t.Skipf("no pty device available: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestOpenAppliesGeometry(t *testing.T) {
	h := openTestPair(t, 120, 40)
	cols, rows := h.Size()
	if cols != 120 || rows != 40 {
		t.Errorf("size %dx%d, want 120x40", cols, rows)
	}
}

func TestOpenDefaultsGeometry(t *testing.T) {
	h := openTestPair(t, 0, -1)
	cols, rows := h.Size()
	if cols != 80 || rows != 24 {
		t.Errorf("size %dx%d, want 80x24", cols, rows)
	}
}

func TestMasterSlaveRelay(t *testing.T) {
	h := openTestPair(t, 80, 24)

	// Slave writes surface on the master side untouched.
	if _, err := h.Slave().Write([]byte("out\n")); err != nil {
		t.Fatalf("slave write: %v", err)
	}
	buf := make([]byte, 64)
	n, err := h.Master().Read(buf)
	if err != nil {
		t.Fatalf("master read: %v", err)
	}
	if string(buf[:n]) != "out\n" {
		t.Errorf("master read %q", buf[:n])
	}
}

func TestResize(t *testing.T) {
	h := openTestPair(t, 80, 24)

	if err := h.Resize(132, 50); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	cols, rows := h.Size()
	if cols != 132 || rows != 50 {
		t.Errorf("size %dx%d after resize", cols, rows)
	}

	if err := h.Resize(0, 50); err == nil {
		t.Error("invalid geometry accepted")
	}
}

func TestRawModeIsPerPair(t *testing.T) {
	a := openTestPair(t, 80, 24)
	b := openTestPair(t, 80, 24)

	if err := a.SetRaw(); err != nil {
		t.Skipf("raw mode not supported here: %v", err)
	}
	// Second toggle is a no-op, not an error.
	if err := a.SetRaw(); err != nil {
		t.Errorf("repeated SetRaw failed: %v", err)
	}
	// The sibling pair keeps its own cooked state.
	if err := b.SetRaw(); err != nil {
		t.Errorf("SetRaw on second pair failed: %v", err)
	}
	if err := b.RestoreCooked(); err != nil {
		t.Errorf("RestoreCooked on second pair failed: %v", err)
	}
	if err := a.RestoreCooked(); err != nil {
		t.Errorf("RestoreCooked failed: %v", err)
	}
	// Restore without a saved state is a no-op.
	if err := a.RestoreCooked(); err != nil {
		t.Errorf("idempotent RestoreCooked failed: %v", err)
	}
}

func TestCloseIsIdempotentAndFailsFurtherOps(t *testing.T) {
	h := openTestPair(t, 80, 24)

	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if err := h.Resize(100, 30); !errors.Is(err, ErrClosed) {
		t.Errorf("Resize after close returned %v", err)
	}
	if err := h.SetRaw(); !errors.Is(err, ErrClosed) {
		t.Errorf("SetRaw after close returned %v", err)
	}
}

func TestCloseUnblocksPendingRead(t *testing.T) {
	h := openTestPair(t, 80, 24)

	errCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, err := h.Master().Read(buf)
		errCh <- err
	}()

	h.Close()
	if err := <-errCh; err == nil {
		t.Error("blocked read returned no error after close")
	}
}
