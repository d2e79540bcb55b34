package procs

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/sirupsen/logrus"
)

var sigwatchLog = logrus.WithField("component", "sigwatch")

// SignalWatcher subscribes to OS signal delivery for a fixed set of signals
// and broadcasts each delivery to any number of cooperative receivers.
//
// Delivery is "at-least-once edge, never lost, coalescing": every signal
// closes the current generation channel and opens a new one, so any
// receiver blocked in Wait wakes up, and any receiver that was busy and
// missed several edges still observes exactly one wakeup on its next Wait
// call. This sidesteps the "lagging receiver" failure mode a bounded
// broadcast channel would have, at the cost of receivers needing to
// re-check state rather than count edges — which is exactly what the
// Reaper Task's wait loop already does.
type SignalWatcher struct {
	sigCh chan os.Signal
	stop  chan struct{}

	mu  sync.Mutex
	gen chan struct{}
}

// NewSignalWatcher creates and starts a watcher for the given signals.
func NewSignalWatcher(signals ...os.Signal) *SignalWatcher {
	w := &SignalWatcher{
		sigCh: make(chan os.Signal, 16),
		stop:  make(chan struct{}),
		gen:   make(chan struct{}),
	}
	signal.Notify(w.sigCh, signals...)
	go w.run()
	return w
}

func (w *SignalWatcher) run() {
	for {
		select {
		case s := <-w.sigCh:
			sigwatchLog.Debugf("signal received: %s", s)
			w.mu.Lock()
			close(w.gen)
			w.gen = make(chan struct{})
			w.mu.Unlock()
		case <-w.stop:
			return
		}
	}
}

// Stop unregisters the OS signal handler and shuts down the watcher
// goroutine. Existing receivers' in-flight Wait calls are left blocked
// until their context is canceled; Stop is intended for process shutdown.
func (w *SignalWatcher) Stop() {
	signal.Stop(w.sigCh)
	close(w.stop)
}

// Subscribe returns a new cooperative receiver for this watcher's signals.
func (w *SignalWatcher) Subscribe() *SignalReceiver {
	w.mu.Lock()
	defer w.mu.Unlock()
	return &SignalReceiver{watcher: w, gen: w.gen}
}

// SignalReceiver is one cooperative awaiter of a SignalWatcher's edges.
type SignalReceiver struct {
	watcher *SignalWatcher
	gen     chan struct{} // generation this receiver has not yet seen close
}

// Wait blocks until the next signal edge (or one that happened concurrently
// with a prior Wait call that this receiver hadn't yet observed), or until
// ctx is done.
func (r *SignalReceiver) Wait(ctx context.Context) error {
	select {
	case <-r.gen:
		r.watcher.mu.Lock()
		r.gen = r.watcher.gen
		r.watcher.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
