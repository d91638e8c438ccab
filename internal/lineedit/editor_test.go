package lineedit

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

// stream pairs an input reader with an output sink the way a PTY slave does.
type stream struct {
	in  io.Reader
	out bytes.Buffer
}

func (s *stream) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.out.Write(p) }

func TestReadLineWritesPromptAndStripsNewline(t *testing.T) {
	s := &stream{in: strings.NewReader("hello world\n")}
	e := New(s, func() string { return "shmux> " }, 0)

	line, err := e.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if line != "hello world" {
		t.Errorf("line %q", line)
	}
	if !strings.Contains(s.out.String(), "shmux> ") {
		t.Errorf("prompt missing from output %q", s.out.String())
	}
}

func TestReadLinePromptRefreshesPerLine(t *testing.T) {
	s := &stream{in: strings.NewReader("a\nb\n")}
	prompts := []string{"one> ", "two> "}
	n := 0
	e := New(s, func() string { p := prompts[n]; n++; return p }, 0)

	e.ReadLine()
	e.ReadLine()
	got := s.out.String()
	if !strings.Contains(got, "one> ") || !strings.Contains(got, "two> ") {
		t.Errorf("prompt not re-evaluated per line: %q", got)
	}
}

func TestHistoryRecordsNonEmptyLines(t *testing.T) {
	s := &stream{in: strings.NewReader("first\n\nsecond\r\n")}
	e := New(s, nil, 0)

	for i := 0; i < 3; i++ {
		if _, err := e.ReadLine(); err != nil {
			t.Fatalf("ReadLine %d failed: %v", i, err)
		}
	}

	h := e.History()
	if len(h) != 2 || h[0] != "first" || h[1] != "second" {
		t.Errorf("history %v", h)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	var input strings.Builder
	for i := 0; i < 10; i++ {
		input.WriteString("line\n")
	}
	s := &stream{in: strings.NewReader(input.String())}
	e := New(s, nil, 3)

	for i := 0; i < 10; i++ {
		e.ReadLine()
	}
	if len(e.History()) != 3 {
		t.Errorf("history length %d, want 3", len(e.History()))
	}
}

func TestUnterminatedFinalLineCountsOnce(t *testing.T) {
	s := &stream{in: strings.NewReader("partial")}
	e := New(s, nil, 0)

	line, err := e.ReadLine()
	if err != nil {
		t.Fatalf("expected the partial line, got error %v", err)
	}
	if line != "partial" {
		t.Errorf("line %q", line)
	}

	if _, err := e.ReadLine(); err != io.EOF {
		t.Errorf("expected io.EOF after stream end, got %v", err)
	}
}
