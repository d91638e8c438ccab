package mux

import (
	"bytes"
	"testing"
)

func TestBufferWriteRead(t *testing.T) {
	b := NewBuffer(64)
	b.Write([]byte("hello "))
	b.Write([]byte("world"))

	if got := b.ReadAll(); !bytes.Equal(got, []byte("hello world")) {
		t.Errorf("got %q", got)
	}
	// ReadAll drains.
	if got := b.ReadAll(); len(got) != 0 {
		t.Errorf("second read returned %q", got)
	}
}

func TestBufferHoldsExactlyItsCapacity(t *testing.T) {
	b := NewBuffer(8)
	b.Write([]byte("abcdefgh")) // exactly the capacity

	if got := b.ReadAll(); !bytes.Equal(got, []byte("abcdefgh")) {
		t.Errorf("full buffer lost data: %q", got)
	}
}

func TestBufferOverwritesOldest(t *testing.T) {
	b := NewBuffer(8)
	b.Write([]byte("abcdefghij")) // 10 bytes into 8

	got := b.ReadAll()
	if len(got) >= 10 {
		t.Fatalf("buffer did not drop old bytes: %q", got)
	}
	if !bytes.HasSuffix([]byte("abcdefghij"), got) {
		t.Errorf("kept bytes are not the newest: %q", got)
	}
}

func TestBufferWrapAround(t *testing.T) {
	b := NewBuffer(8)
	b.Write([]byte("12345"))
	b.ReadAll()
	b.Write([]byte("67890")) // crosses the ring boundary

	if got := b.ReadAll(); !bytes.Equal(got, []byte("67890")) {
		t.Errorf("got %q", got)
	}
}
