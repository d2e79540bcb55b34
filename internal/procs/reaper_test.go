package procs

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/alexhsamuel/procstar/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaperSamplesProcStatWhileRunning(t *testing.T) {
	reg := NewRegistry()
	l := NewLauncher(reg, "")

	ps := &spec.ProcSpec{Argv: []string{"/bin/sleep", "0.3"}}
	_, err := l.Launch(context.Background(), "s", ps)
	require.NoError(t, err)

	watcher := NewSignalWatcher(syscall.SIGCHLD)
	defer watcher.Stop()
	reaper := NewReaper(reg, watcher)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.Run(ctx)

	rec, ok := reg.Get("s")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return rec.ProcStat() != nil
	}, 2*time.Second, 10*time.Millisecond)

	waitTerminated(t, reg, "s")
	stat := rec.ProcStat()
	if stat != nil {
		assert.Equal(t, rec.Pid, stat.Pid)
	}
}

func TestWaitInfoFromProcessStateNilIsZeroValue(t *testing.T) {
	assert.Equal(t, WaitInfo{}, waitInfoFromProcessState(nil))
}
