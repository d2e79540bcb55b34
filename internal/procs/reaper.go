package procs

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var reaperLog = logrus.WithField("component", "reaper")

// Reaper keeps each running Record's procStat reasonably fresh by
// re-sampling /proc/<pid>/stat every time SIGCHLD fires, since a pid's
// /proc entry vanishes the instant the kernel reaps it. The actual reap and
// state transition for a given process happens in its own finalize
// goroutine, spawned by Launcher.Launch; this task only samples.
type Reaper struct {
	registry *Registry
	recv     *SignalReceiver
}

// NewReaper builds a Reaper that wakes on watcher's signal (SIGCHLD).
func NewReaper(registry *Registry, watcher *SignalWatcher) *Reaper {
	return &Reaper{registry: registry, recv: watcher.Subscribe()}
}

// Run samples every Running record on each signal edge until ctx is done.
func (rp *Reaper) Run(ctx context.Context) {
	for {
		for _, id := range rp.registry.Ids() {
			rec, ok := rp.registry.Get(id)
			if !ok || rec.State() != StateRunning {
				continue
			}
			if stat, err := LoadProcStat(rec.Pid); err == nil {
				rec.SetLastProcStat(stat)
			}
		}
		if err := rp.recv.Wait(ctx); err != nil {
			return
		}
	}
}

// finalize waits for one proc's error pipe to drain, its capturing fd
// handlers to finish draining, and the process itself to be reaped, then
// commits the termination tuple to the Record and publishes NotRunning.
// These three waits run concurrently since none blocks on the others
// completing first.
func (l *Launcher) finalize(id string, rec *Record, cmd *exec.Cmd, errPipe *ErrorPipe, handlers []FdHandlerEntry) {
	var errLines []string
	var waitState *os.ProcessState
	var waitErr error

	var g errgroup.Group
	g.Go(func() error {
		errLines = errPipe.Drain()
		return nil
	})
	g.Go(func() error {
		for _, entry := range handlers {
			<-entry.Handler.Done()
		}
		return nil
	})
	g.Go(func() error {
		waitState, waitErr = cmd.Process.Wait()
		return nil
	})
	_ = g.Wait()

	if len(errLines) > 0 {
		rec.AppendErrors(errLines...)
	}
	if waitErr != nil {
		reaperLog.WithField("proc_id", id).Errorf("wait failed: %s", waitErr)
		rec.AppendErrors("wait4: " + waitErr.Error())
	}

	stopTime := time.Now()
	wi := waitInfoFromProcessState(waitState)
	rec.Finalize(wi, rec.ProcStat(), stopTime)

	for _, entry := range handlers {
		entry.Handler.Close()
	}

	l.Registry.publishNotRunning(id)
}

// waitInfoFromProcessState converts the stdlib's *os.ProcessState, as
// returned by os.Process.Wait (itself backed by wait4 on unix), into the
// WaitInfo termination tuple.
func waitInfoFromProcessState(ps *os.ProcessState) WaitInfo {
	if ps == nil {
		return WaitInfo{}
	}
	wi := WaitInfo{Pid: ps.Pid()}

	ws, _ := ps.Sys().(syscall.WaitStatus)
	if ws.Signaled() {
		wi.Signaled = true
		wi.Signal = int(ws.Signal())
		wi.CoreDump = ws.CoreDump()
	} else {
		wi.ExitCode = ws.ExitStatus()
	}

	if ru, ok := ps.SysUsage().(*syscall.Rusage); ok && ru != nil {
		wi.Rusage = Rusage{
			UserTime:   time.Duration(ru.Utime.Sec)*time.Second + time.Duration(ru.Utime.Usec)*time.Microsecond,
			SystemTime: time.Duration(ru.Stime.Sec)*time.Second + time.Duration(ru.Stime.Usec)*time.Microsecond,
			MaxRss:     int64(ru.Maxrss),
		}
	}
	return wi
}
