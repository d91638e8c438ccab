// Package lineedit provides the line-editing contract consumed by the
// session loop plus a minimal default editor.
//
// The contract is a byte-stream-in, completed-lines-out component with
// per-instance history; rendering stays local to the session's terminal.
// The default editor does prompt display and history only; anything richer
// can be swapped in behind the same interface.
package lineedit

import (
	"bufio"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// LineEditor produces completed input lines from a terminal stream.
type LineEditor interface {
	// ReadLine blocks until one full line is available. io.EOF means the
	// stream is gone and the session should wind down.
	ReadLine() (string, error)

	// History returns this instance's input history, oldest first.
	History() []string
}

// PromptFunc supplies the prompt at read time, so shared config changes
// show up on the next line without replumbing the editor.
type PromptFunc func() string

// Editor is the default LineEditor: prompt, blocking line read, bounded
// history. It owns no goroutines and is used only by its session.
type Editor struct {
	r        *bufio.Reader
	out      *termenv.Output
	prompt   PromptFunc
	history  []string
	histSize int
}

// New creates an editor over a terminal stream. histSize bounds the
// retained history; zero or negative means 500.
func New(rw io.ReadWriter, prompt PromptFunc, histSize int) *Editor {
	if histSize <= 0 {
		histSize = 500
	}
	if prompt == nil {
		prompt = func() string { return "> " }
	}
	return &Editor{
		r:        bufio.NewReader(rw),
		out:      termenv.NewOutput(rw),
		prompt:   prompt,
		histSize: histSize,
	}
}

// ReadLine writes the prompt and blocks for one completed line.
func (e *Editor) ReadLine() (string, error) {
	styled := e.out.String(e.prompt()).Bold()
	if _, err := io.WriteString(e.out, styled.String()); err != nil {
		return "", err
	}

	line, err := e.r.ReadString('\n')
	if err != nil {
		// A final unterminated line still counts once the stream ends.
		if err == io.EOF && line != "" {
			return e.record(line), nil
		}
		return "", err
	}
	return e.record(line), nil
}

// History returns a copy of the recorded lines, oldest first.
func (e *Editor) History() []string {
	return append([]string(nil), e.history...)
}

func (e *Editor) record(raw string) string {
	line := strings.TrimRight(raw, "\r\n")
	if line != "" {
		e.history = append(e.history, line)
		if len(e.history) > e.histSize {
			e.history = e.history[len(e.history)-e.histSize:]
		}
	}
	return line
}
