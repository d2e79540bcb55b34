package procs

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalWatcherWakesReceiverOnSignal(t *testing.T) {
	w := NewSignalWatcher(syscall.SIGUSR1)
	defer w.Stop()

	recv := w.Subscribe()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, recv.Wait(ctx))
}

func TestSignalReceiverWaitRespectsContext(t *testing.T) {
	w := NewSignalWatcher(syscall.SIGUSR2)
	defer w.Stop()

	recv := w.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, recv.Wait(ctx))
}

func TestSignalWatcherCoalescesConcurrentSignalsIntoOneWakeup(t *testing.T) {
	w := NewSignalWatcher(syscall.SIGUSR1)
	defer w.Stop()

	recv := w.Subscribe()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, recv.Wait(ctx))
}
