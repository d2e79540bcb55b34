package procs

import (
	"bufio"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrorPipe is the close-on-exec pipe a child process uses to report
// pre-exec diagnostics back to the parent.
//
// The child end (writeEnd) is handed to the trampoline via ExtraFiles; the
// parent end (readEnd) is drained here. Because the write end is
// close-on-exec in every process except the trampoline's own copy, EOF is
// guaranteed once the trampoline execs successfully or exits.
type ErrorPipe struct {
	readEnd  *os.File
	writeEnd *os.File
}

// NewErrorPipe creates a new Error Pipe pair.
func NewErrorPipe() (*ErrorPipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "procs: creating error pipe")
	}
	if err := unix.SetNonblock(int(r.Fd()), false); err != nil {
		r.Close()
		w.Close()
		return nil, errors.Wrap(err, "procs: configuring error pipe")
	}
	return &ErrorPipe{readEnd: r, writeEnd: w}, nil
}

// WriteEnd is the *os.File to place in the trampoline's ExtraFiles.
func (p *ErrorPipe) WriteEnd() *os.File { return p.writeEnd }

// CloseParentWriteEnd closes the parent's copy of the write end immediately
// after Start(), so that EOF on the read end is driven solely by the
// child's copy closing (on exec or exit).
func (p *ErrorPipe) CloseParentWriteEnd() error {
	return p.writeEnd.Close()
}

// Drain reads newline-delimited diagnostics from the read end until EOF,
// returning them as a slice. It blocks until EOF; callers run it in its own
// goroutine.
func (p *ErrorPipe) Drain() []string {
	defer p.readEnd.Close()
	var lines []string
	scanner := bufio.NewScanner(p.readEnd)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
