package procs

import (
	"sync"
	"time"
)

// State is the derived lifecycle state of a Proc Record: always a
// deterministic function of (errors, waitInfo).
type State int

const (
	StateRunning State = iota
	StateTerminated
	StateError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// WaitInfo is the termination tuple captured by waitpid/wait4.
type WaitInfo struct {
	Pid      int
	ExitCode int  // valid iff !Signaled
	Signal   int  // valid iff Signaled
	Signaled bool
	CoreDump bool
	Rusage   Rusage
}

// Rusage mirrors the subset of struct rusage the result projection reports.
type Rusage struct {
	UserTime   time.Duration
	SystemTime time.Duration
	MaxRss     int64
}

// Record is the per-process bookkeeping for one launched proc. It is
// owned by the Registry; a Reaper Task mutates it only through the fields
// it owns by convention (errors, the termination tuple), taking mu for the
// duration of each access — original_source/src/procs.rs's single-executor-
// thread model is approximated here with a mutex since Go schedules
// goroutines across OS threads by default.
type Record struct {
	mu sync.Mutex

	ProcId       string
	Pid          int
	StartTime    time.Time
	StartInstant time.Time

	FdHandlers []FdHandlerEntry

	errors []string

	waitInfo *WaitInfo
	procStat *ProcStat
	stopTime *time.Time
	elapsed  *time.Duration
}

// FdHandlerEntry pairs an fd number with the handler that owns it, in
// ascending fd order.
type FdHandlerEntry struct {
	FdNum   int
	Handler FdHandler
}

// NewRecord constructs a freshly-started Proc Record. Called by the
// Launcher immediately after fork, before insertion into the Registry.
func NewRecord(procId string, pid int, startTime, startInstant time.Time, handlers []FdHandlerEntry) *Record {
	return &Record{
		ProcId:       procId,
		Pid:          pid,
		StartTime:    startTime,
		StartInstant: startInstant,
		FdHandlers:   handlers,
	}
}

// AppendErrors appends diagnostic strings (e.g. drained from the Error
// Pipe) to the record's error list. Safe to call concurrently with reads.
func (r *Record) AppendErrors(msgs ...string) {
	if len(msgs) == 0 {
		return
	}
	r.mu.Lock()
	r.errors = append(r.errors, msgs...)
	r.mu.Unlock()
}

// Finalize records the termination tuple. May be called exactly once; a
// second call panics, since it would violate the monotonic-transition
// invariant a Proc Record must hold.
func (r *Record) Finalize(wi WaitInfo, stat *ProcStat, stopTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waitInfo != nil {
		panic("procs: Record.Finalize called twice for " + r.ProcId)
	}
	wiCopy := wi
	r.waitInfo = &wiCopy
	if stat != nil {
		r.procStat = stat
	}
	r.stopTime = &stopTime
	elapsed := stopTime.Sub(r.StartInstant)
	r.elapsed = &elapsed
}

// SetLastProcStat records an opportunistic /proc/<pid>/stat sample taken
// while the record is still Running. It is a no-op once the record is
// finalized, since /proc/<pid> disappears the instant the kernel reaps the
// process and the Finalize-time stat (if any) is authoritative from then on.
func (r *Record) SetLastProcStat(stat *ProcStat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waitInfo == nil {
		r.procStat = stat
	}
}

// State returns the current derived state.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateLocked()
}

func (r *Record) stateLocked() State {
	switch {
	case r.waitInfo != nil:
		return StateTerminated
	case len(r.errors) > 0:
		return StateError
	default:
		return StateRunning
	}
}

// Errors returns a snapshot of the accumulated diagnostics.
func (r *Record) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.errors))
	copy(out, r.errors)
	return out
}

// WaitInfo returns the termination tuple, if the record has been finalized.
func (r *Record) WaitInfo() (WaitInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waitInfo == nil {
		return WaitInfo{}, false
	}
	return *r.waitInfo, true
}

// ProcStat returns the most recent /proc/<pid>/stat sample taken while the
// process was still running (see SetLastProcStat), if any.
func (r *Record) ProcStat() *ProcStat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procStat
}

// StopTime returns the termination wall-clock time, if finalized.
func (r *Record) StopTime() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopTime == nil {
		return time.Time{}, false
	}
	return *r.stopTime, true
}

// Elapsed returns the recorded elapsed duration if finalized, else the
// elapsed time computed live against now.
func (r *Record) Elapsed(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.elapsed != nil {
		return *r.elapsed
	}
	return now.Sub(r.StartInstant)
}
