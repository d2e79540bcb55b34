package procs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexhsamuel/procstar/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitTerminated(t *testing.T, reg *Registry, id string) *Record {
	t.Helper()
	sub := reg.Subscribe()
	defer sub.Close()

	rec, ok := reg.Get(id)
	require.True(t, ok)
	if rec.State() != StateRunning {
		return rec
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		n, ok := sub.Recv(ctx)
		require.True(t, ok)
		if n.ProcId == id && n.Kind == NotificationNotRunning {
			return rec
		}
	}
}

func TestLaunchRunsProcessAndCapturesStdout(t *testing.T) {
	reg := NewRegistry()
	l := NewLauncher(reg, "")
	ps := &spec.ProcSpec{
		Argv: []string{"/bin/echo", "hi"},
		Fds: map[string]spec.FdSpec{
			"stdout": {Kind: spec.FdCapture, CaptureMode: spec.CaptureMemory, CaptureFormat: spec.CaptureText},
		},
	}
	_, err := l.Launch(context.Background(), "a", ps)
	require.NoError(t, err)

	rec := waitTerminated(t, reg, "a")
	wi, ok := rec.WaitInfo()
	require.True(t, ok)
	assert.False(t, wi.Signaled)
	assert.Equal(t, 0, wi.ExitCode)

	res := ToResult(rec)
	require.Contains(t, res.Fds, "stdout")
	assert.Equal(t, "hi\n", res.Fds["stdout"].Data)
}

func TestLaunchRedirectsStdoutToFile(t *testing.T) {
	reg := NewRegistry()
	l := NewLauncher(reg, "")

	path := filepath.Join(t.TempDir(), "out.txt")
	ps := &spec.ProcSpec{
		Argv: []string{"/bin/echo", "to-file"},
		Fds: map[string]spec.FdSpec{
			"stdout": {Kind: spec.FdFile, Path: path, Flags: "write,create,truncate"},
		},
	}
	_, err := l.Launch(context.Background(), "b", ps)
	require.NoError(t, err)

	waitTerminated(t, reg, "b")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "to-file\n", string(data))
}

func TestLaunchNonzeroExitCode(t *testing.T) {
	reg := NewRegistry()
	l := NewLauncher(reg, "")

	ps := &spec.ProcSpec{Argv: []string{"/bin/sh", "-c", "exit 7"}}
	_, err := l.Launch(context.Background(), "c", ps)
	require.NoError(t, err)

	rec := waitTerminated(t, reg, "c")
	wi, ok := rec.WaitInfo()
	require.True(t, ok)
	assert.False(t, wi.Signaled)
	assert.Equal(t, 7, wi.ExitCode)
}

func TestLaunchRestrictedExeRejectsOtherExecutables(t *testing.T) {
	reg := NewRegistry()
	l := NewLauncher(reg, "/bin/true")

	ps := &spec.ProcSpec{Argv: []string{"/bin/echo", "nope"}}
	_, err := l.Launch(context.Background(), "d", ps)
	require.NoError(t, err)

	rec := waitTerminated(t, reg, "d")
	assert.Equal(t, StateTerminated, rec.State())
	require.NotEmpty(t, rec.Errors())
	assert.Contains(t, rec.Errors()[0], "restricted executable")
}

func TestLaunchBatchAbortsOnDuplicateId(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Insert("x", NewRecord("x", 1, time.Now(), time.Now(), nil)))
	rec, _ := reg.Get("x")
	rec.Finalize(WaitInfo{Pid: 1}, nil, time.Now())

	l := NewLauncher(reg, "")
	err := l.LaunchBatch(context.Background(), spec.ProcsSpec{
		"x": {Argv: []string{"/bin/true"}},
	})
	assert.ErrorIs(t, err, spec.ErrDuplicateProcId)
}
