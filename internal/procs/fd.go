package procs

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/alexhsamuel/procstar/internal/spec"
)

// DefaultCaptureCap is the default per-fd capture buffer bound: 64 MiB,
// beyond which further bytes are dropped and the fd result's Truncated flag
// is set. Overflow adds nothing to the record's errors.
const DefaultCaptureCap = 64 << 20

// ChildFdPlan tells the child trampoline (internal/procs/child.go) how to
// wire one target fd: either dup2 an inherited ExtraFile onto it, or dup2
// it from another already-placed target fd (for FdDup specs).
type ChildFdPlan struct {
	TargetFd        int
	ExtraFileIndex  int // index into the trampoline's ExtraFiles, or -1
	DupFromTargetFd int // another plan's TargetFd to dup2 from, or -1
}

// FdResultKind discriminates the kinds of FdResult.
type FdResultKind int

const (
	FdResultNone FdResultKind = iota
	FdResultFile
	FdResultCapture
	FdResultError
)

// FdResult is the serializable outcome of one fd, as returned by a query
// for a process's current results.
type FdResult struct {
	Kind      FdResultKind
	Path      string
	Encoding  spec.CaptureFormat
	Data      string // rendered per Encoding
	Truncated bool
	Message   string
}

// FdHandler is the parent-visible half of one fd's setup strategy.
type FdHandler interface {
	// ChildPlan returns the instruction for the child trampoline, and the
	// *os.File (if any) that must be appended to the trampoline's
	// ExtraFiles so the plan's ExtraFileIndex resolves.
	ChildPlan() (ChildFdPlan, *os.File)

	// ParentSetup runs in the parent immediately after Start(); for
	// capturing handlers it launches the goroutine that drains the pipe.
	// It must not block.
	ParentSetup() error

	// Done returns a channel that closes once any parent-side drain task
	// has finished (immediately-closed for non-capturing handlers). The
	// Reaper Task awaits this before finalizing the record, so captured
	// output is complete by the time results are projected.
	Done() <-chan struct{}

	// GetResult projects the handler's current state.
	GetResult() FdResult

	// GetData returns raw bytes captured so far in [start, stop), and
	// whether that slice is valid UTF-8. Fails with ErrNoFd if this
	// handler doesn't capture.
	GetData(start int, stop *int) ([]byte, bool, error)

	// Close releases any parent-held OS resources (e.g. the unused child
	// end of a pipe, once Start has run).
	Close()
}

// NewFdHandler builds the FdHandler for one FdSpec. For a "dup" spec it only
// parses the source fd name; whether that fd is configured, and whether the
// dups form a cycle, is checked by spec.ValidateFds.
func NewFdHandler(fdNum int, fs spec.FdSpec) (FdHandler, error) {
	switch fs.Kind {
	case spec.FdInherit:
		return newInheritHandler(fdNum)
	case spec.FdNull:
		return newNullHandler(fdNum, fs.Null)
	case spec.FdFile:
		return newFileHandler(fdNum, fs.Path, fs.Flags, fs.Mode)
	case spec.FdCapture:
		return newCaptureHandler(fdNum, fs.CaptureMode, fs.CaptureFormat, DefaultCaptureCap)
	case spec.FdDup:
		n, err := spec.ParseFdName(fs.DupFrom)
		if err != nil {
			return nil, err
		}
		return &dupHandler{targetFd: fdNum, dupFromFd: n}, nil
	default:
		return nil, errors.Errorf("procs: unknown fd spec kind %d", fs.Kind)
	}
}

//------------------------------------------------------------------------------
// inherit

type inheritHandler struct {
	targetFd int
	file     *os.File
	done     chan struct{}
}

func newInheritHandler(fdNum int) (FdHandler, error) {
	f := os.NewFile(uintptr(fdNum), fmt.Sprintf("inherited-fd-%d", fdNum))
	if f == nil {
		return nil, errors.Errorf("procs: fd %d is not open in this process", fdNum)
	}
	done := make(chan struct{})
	close(done)
	return &inheritHandler{targetFd: fdNum, file: f, done: done}, nil
}

func (h *inheritHandler) ChildPlan() (ChildFdPlan, *os.File) {
	return ChildFdPlan{TargetFd: h.targetFd, ExtraFileIndex: -1, DupFromTargetFd: -1}, h.file
}
func (h *inheritHandler) ParentSetup() error        { return nil }
func (h *inheritHandler) Done() <-chan struct{}      { return h.done }
func (h *inheritHandler) GetResult() FdResult        { return FdResult{Kind: FdResultNone} }
func (h *inheritHandler) GetData(int, *int) ([]byte, bool, error) {
	return nil, false, errors.Wrap(ErrNoFd, "fd is inherited, not captured")
}
func (h *inheritHandler) Close() {}

//------------------------------------------------------------------------------
// null

type nullHandler struct {
	targetFd int
	mode     spec.NullMode
	file     *os.File
	done     chan struct{}
}

func newNullHandler(fdNum int, mode spec.NullMode) (FdHandler, error) {
	flags := os.O_RDONLY
	if mode == spec.NullWrite {
		flags = os.O_WRONLY
	}
	f, err := os.OpenFile(os.DevNull, flags, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "procs: opening %s", os.DevNull)
	}
	done := make(chan struct{})
	close(done)
	return &nullHandler{targetFd: fdNum, mode: mode, file: f, done: done}, nil
}

func (h *nullHandler) ChildPlan() (ChildFdPlan, *os.File) {
	return ChildFdPlan{TargetFd: h.targetFd, ExtraFileIndex: -1, DupFromTargetFd: -1}, h.file
}
func (h *nullHandler) ParentSetup() error        { return nil }
func (h *nullHandler) Done() <-chan struct{}      { return h.done }
func (h *nullHandler) GetResult() FdResult        { return FdResult{Kind: FdResultNone} }
func (h *nullHandler) GetData(int, *int) ([]byte, bool, error) {
	return nil, false, errors.Wrap(ErrNoFd, "fd is /dev/null, not captured")
}
func (h *nullHandler) Close() { h.file.Close() }

//------------------------------------------------------------------------------
// file

var fileFlagTokens = map[string]int{
	"read":      os.O_RDONLY,
	"write":     os.O_WRONLY,
	"readwrite": os.O_RDWR,
	"append":    os.O_APPEND,
	"create":    os.O_CREATE,
	"truncate":  os.O_TRUNC,
	"exclusive": os.O_EXCL,
}

func parseFileFlags(s string) (int, error) {
	if s == "" {
		return os.O_RDONLY, nil
	}
	flags := 0
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		f, ok := fileFlagTokens[tok]
		if !ok {
			return 0, errors.Errorf("procs: unknown file fd flag %q", tok)
		}
		flags |= f
	}
	return flags, nil
}

type fileHandler struct {
	targetFd int
	path     string
	file     *os.File
	done     chan struct{}
}

func newFileHandler(fdNum int, path, flagsStr string, mode uint32) (FdHandler, error) {
	flags, err := parseFileFlags(flagsStr)
	if err != nil {
		return nil, err
	}
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(path, flags, os.FileMode(mode))
	if err != nil {
		return nil, errors.Wrapf(err, "procs: opening %s", path)
	}
	done := make(chan struct{})
	close(done)
	return &fileHandler{targetFd: fdNum, path: path, file: f, done: done}, nil
}

func (h *fileHandler) ChildPlan() (ChildFdPlan, *os.File) {
	return ChildFdPlan{TargetFd: h.targetFd, ExtraFileIndex: -1, DupFromTargetFd: -1}, h.file
}
func (h *fileHandler) ParentSetup() error   { return nil }
func (h *fileHandler) Done() <-chan struct{} { return h.done }
func (h *fileHandler) GetResult() FdResult {
	return FdResult{Kind: FdResultFile, Path: h.path}
}
func (h *fileHandler) GetData(int, *int) ([]byte, bool, error) {
	return nil, false, errors.Wrap(ErrNoFd, "fd is a file redirect, not captured")
}
func (h *fileHandler) Close() { h.file.Close() }

//------------------------------------------------------------------------------
// capture

type captureHandler struct {
	targetFd int
	mode     spec.CaptureMode
	format   spec.CaptureFormat
	cap      int

	writeEnd *os.File // closed in parent right after Start()
	readEnd  *os.File

	tempFile *os.File // non-nil iff mode == CaptureTempfile
	tempSize int64

	mu        sync.Mutex
	buf       []byte
	truncated bool
	err       error

	done chan struct{}
}

func newCaptureHandler(fdNum int, mode spec.CaptureMode, format spec.CaptureFormat, capBytes int) (FdHandler, error) {
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "procs: creating capture pipe")
	}
	h := &captureHandler{
		targetFd: fdNum,
		mode:     mode,
		format:   format,
		cap:      capBytes,
		writeEnd: writeEnd,
		readEnd:  readEnd,
		done:     make(chan struct{}),
	}
	if mode == spec.CaptureTempfile {
		tf, err := os.CreateTemp("", "procstar-capture-*")
		if err != nil {
			readEnd.Close()
			writeEnd.Close()
			return nil, errors.Wrap(err, "procs: creating capture tempfile")
		}
		h.tempFile = tf
	}
	return h, nil
}

func (h *captureHandler) ChildPlan() (ChildFdPlan, *os.File) {
	return ChildFdPlan{TargetFd: h.targetFd, ExtraFileIndex: -1, DupFromTargetFd: -1}, h.writeEnd
}

// ParentSetup closes our copy of the write end (so EOF is observable once
// the child's copy closes, i.e. on child exit) and starts the drain
// goroutine.
func (h *captureHandler) ParentSetup() error {
	if err := h.writeEnd.Close(); err != nil {
		return err
	}
	go h.drain()
	return nil
}

func (h *captureHandler) drain() {
	defer close(h.done)
	defer h.readEnd.Close()
	if h.tempFile != nil {
		defer h.tempFile.Close()
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := h.readEnd.Read(buf)
		if n > 0 {
			h.mu.Lock()
			if h.tempFile != nil {
				// Unbounded: spilling to disk is the point of tempfile
				// mode, so the memory cap doesn't apply here.
				if wn, werr := h.tempFile.Write(buf[:n]); werr != nil {
					if h.err == nil {
						h.err = werr
					}
					h.tempSize += int64(wn)
				} else {
					h.tempSize += int64(wn)
				}
			} else if !h.truncated {
				room := h.cap - len(h.buf)
				if room <= 0 {
					h.truncated = true
				} else {
					take := n
					if take > room {
						take = room
						h.truncated = true
					}
					h.buf = append(h.buf, buf[:take]...)
				}
			}
			h.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.mu.Lock()
				if h.err == nil {
					h.err = err
				}
				h.mu.Unlock()
			}
			return
		}
	}
}

func (h *captureHandler) Done() <-chan struct{} { return h.done }

func (h *captureHandler) GetResult() FdResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return FdResult{Kind: FdResultError, Message: h.err.Error()}
	}
	if h.tempFile != nil {
		return FdResult{Kind: FdResultCapture, Encoding: h.format, Path: h.tempFile.Name()}
	}
	return FdResult{
		Kind:      FdResultCapture,
		Encoding:  h.format,
		Data:      encodeCapture(h.buf, h.format),
		Truncated: h.truncated,
	}
}

func (h *captureHandler) GetData(start int, stop *int) ([]byte, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tempFile != nil {
		end := h.tempSize
		if stop != nil && int64(*stop) < end {
			end = int64(*stop)
		}
		if int64(start) > end {
			start = int(end)
		}
		f, err := os.Open(h.tempFile.Name())
		if err != nil {
			return nil, false, err
		}
		defer f.Close()
		slice := make([]byte, end-int64(start))
		if _, err := f.ReadAt(slice, int64(start)); err != nil {
			return nil, false, err
		}
		return slice, utf8.Valid(slice), nil
	}
	end := len(h.buf)
	if stop != nil && *stop < end {
		end = *stop
	}
	if start > end {
		start = end
	}
	slice := h.buf[start:end]
	return slice, utf8.Valid(slice), nil
}

func (h *captureHandler) Close() {
	// writeEnd is already closed by ParentSetup; readEnd and tempFile are
	// closed by drain on EOF. Nothing to do if ParentSetup was never called
	// (e.g. launch aborted before fork).
}

func encodeCapture(data []byte, format spec.CaptureFormat) string {
	if format == spec.CaptureBase64 {
		return base64.StdEncoding.EncodeToString(data)
	}
	return string(data)
}

//------------------------------------------------------------------------------
// dup

type dupHandler struct {
	targetFd  int
	dupFromFd int
}

func (h *dupHandler) ChildPlan() (ChildFdPlan, *os.File) {
	return ChildFdPlan{TargetFd: h.targetFd, ExtraFileIndex: -1, DupFromTargetFd: h.dupFromFd}, nil
}
func (h *dupHandler) ParentSetup() error   { return nil }
func (h *dupHandler) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}
func (h *dupHandler) GetResult() FdResult { return FdResult{Kind: FdResultNone} }
func (h *dupHandler) GetData(int, *int) ([]byte, bool, error) {
	return nil, false, errors.Wrap(ErrNoFd, "fd is a dup, not captured directly")
}
func (h *dupHandler) Close() {}
