package procs

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/alexhsamuel/procstar/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dupFile returns an independent descriptor for the same open file as f.
func dupFile(t *testing.T, f *os.File) *os.File {
	t.Helper()
	fd, err := syscall.Dup(int(f.Fd()))
	require.NoError(t, err)
	return os.NewFile(uintptr(fd), f.Name())
}

func TestNullHandlerResult(t *testing.T) {
	h, err := NewFdHandler(0, spec.FdSpec{Kind: spec.FdNull, Null: spec.NullRead})
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, FdResult{Kind: FdResultNone}, h.GetResult())
	_, _, err = h.GetData(0, nil)
	assert.ErrorIs(t, err, ErrNoFd)
}

func TestFileHandlerWritesAndReportsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	h, err := NewFdHandler(1, spec.FdSpec{Kind: spec.FdFile, Path: path, Flags: "write,create,truncate"})
	require.NoError(t, err)
	defer h.Close()

	plan, file := h.ChildPlan()
	require.NotNil(t, file)
	assert.Equal(t, 1, plan.TargetFd)
	assert.Equal(t, -1, plan.ExtraFileIndex)

	_, err = file.WriteString("hello")
	require.NoError(t, err)

	res := h.GetResult()
	assert.Equal(t, FdResultFile, res.Kind)
	assert.Equal(t, path, res.Path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFileHandlerRejectsUnknownFlag(t *testing.T) {
	_, err := NewFdHandler(1, spec.FdSpec{Kind: spec.FdFile, Path: "/tmp/whatever", Flags: "bogus"})
	assert.Error(t, err)
}

func TestCaptureHandlerDrainsAndEncodesText(t *testing.T) {
	h, err := NewFdHandler(1, spec.FdSpec{Kind: spec.FdCapture, CaptureMode: spec.CaptureMemory, CaptureFormat: spec.CaptureText})
	require.NoError(t, err)
	defer h.Close()

	// Stand in for the child's inherited copy of the write end: ParentSetup
	// closes the parent's own copy.
	_, writeEnd := h.ChildPlan()
	require.NotNil(t, writeEnd)
	childEnd := dupFile(t, writeEnd)

	require.NoError(t, h.ParentSetup())

	_, err = childEnd.WriteString("hi\n")
	require.NoError(t, err)
	require.NoError(t, childEnd.Close())

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("capture handler did not finish draining")
	}

	res := h.GetResult()
	assert.Equal(t, FdResultCapture, res.Kind)
	assert.Equal(t, "hi\n", res.Data)
	assert.False(t, res.Truncated)

	data, valid, err := h.GetData(0, nil)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, "hi\n", string(data))
}

func TestCaptureHandlerTruncatesAtCap(t *testing.T) {
	h := &captureHandler{cap: 4, done: make(chan struct{})}
	h.readEnd, h.writeEnd, _ = os.Pipe()
	go h.drain()

	_, err := h.writeEnd.WriteString("abcdefgh")
	require.NoError(t, err)
	require.NoError(t, h.writeEnd.Close())

	<-h.Done()
	res := h.GetResult()
	assert.True(t, res.Truncated)
	assert.Equal(t, "abcd", res.Data)
}

func TestCaptureHandlerTempfileModeSpillsToDisk(t *testing.T) {
	h, err := NewFdHandler(1, spec.FdSpec{Kind: spec.FdCapture, CaptureMode: spec.CaptureTempfile, CaptureFormat: spec.CaptureText})
	require.NoError(t, err)
	defer h.Close()
	_, writeEnd := h.ChildPlan()
	childEnd := dupFile(t, writeEnd)
	require.NoError(t, h.ParentSetup())

	_, err = childEnd.WriteString("spilled")
	require.NoError(t, err)
	require.NoError(t, childEnd.Close())

	<-h.Done()
	res := h.GetResult()
	assert.Equal(t, FdResultCapture, res.Kind)
	assert.NotEmpty(t, res.Path)
	assert.False(t, res.Truncated)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "spilled", string(data))

	got, _, err := h.GetData(0, nil)
	require.NoError(t, err)
	assert.Equal(t, "spilled", string(got))
}

func TestDupHandlerChildPlan(t *testing.T) {
	h, err := NewFdHandler(2, spec.FdSpec{Kind: spec.FdDup, DupFrom: "stdout"})
	require.NoError(t, err)
	plan, file := h.ChildPlan()
	assert.Nil(t, file)
	assert.Equal(t, 2, plan.TargetFd)
	assert.Equal(t, 1, plan.DupFromTargetFd)
	assert.Equal(t, -1, plan.ExtraFileIndex)
}

func TestParseFileFlags(t *testing.T) {
	flags, err := parseFileFlags("write,create,truncate")
	require.NoError(t, err)
	assert.Equal(t, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, flags)

	_, err = parseFileFlags("not-a-flag")
	assert.Error(t, err)

	flags, err = parseFileFlags("")
	require.NoError(t, err)
	assert.Equal(t, os.O_RDONLY, flags)
}
