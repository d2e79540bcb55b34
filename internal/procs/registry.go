package procs

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/alexhsamuel/procstar/internal/spec"
)

var registryLog = logrus.WithField("component", "registry")

// notificationBufferSize bounds each subscriber's channel. Saturation is a
// loud failure: a subscriber too slow to drain its channel gets a panic
// rather than silently missing notifications.
const notificationBufferSize = 1024

// NotificationKind discriminates the registry's publish/subscribe bus.
type NotificationKind int

const (
	NotificationStart NotificationKind = iota
	NotificationNotRunning
	NotificationDelete
)

func (k NotificationKind) String() string {
	switch k {
	case NotificationStart:
		return "start"
	case NotificationNotRunning:
		return "not-running"
	case NotificationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Notification is one edge on the registry's bus: Start(id) < NotRunning(id)
// < Delete(id), totally ordered per id.
type Notification struct {
	Kind   NotificationKind
	ProcId string
}

// NotificationSub is a registered receiver on the registry's bus.
type NotificationSub struct {
	ch     chan Notification
	cancel func()
}

// Recv blocks for the next notification, or returns ok=false once the
// registry closes the bus (never, in normal operation) or ctx is done.
func (s *NotificationSub) Recv(ctx context.Context) (Notification, bool) {
	select {
	case n, ok := <-s.ch:
		return n, ok
	case <-ctx.Done():
		return Notification{}, false
	}
}

// Close unregisters the subscription.
func (s *NotificationSub) Close() { s.cancel() }

// Registry holds the live ProcId -> Record map, the notification bus, and
// the shutdown latch.
type Registry struct {
	mu    sync.Mutex
	procs map[string]*Record

	subsMu  sync.Mutex
	subs    map[int]chan Notification
	nextSub int

	shutdownOnIdle bool

	shutdownMu     sync.Mutex
	shutdownCh     chan struct{}
	shutdownClosed bool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		procs:      make(map[string]*Record),
		subs:       make(map[int]chan Notification),
		shutdownCh: make(chan struct{}),
	}
}

// Insert registers a new, just-started record. Pre: id absent. Post:
// present; publishes Start(id).
func (reg *Registry) Insert(id string, rec *Record) error {
	reg.mu.Lock()
	if _, exists := reg.procs[id]; exists {
		reg.mu.Unlock()
		// Launcher.LaunchBatch pre-flights duplicate ids across the whole
		// batch before forking anything; Launcher.Launch called directly,
		// or two batches racing, can still reach this.
		return errors.Wrapf(spec.ErrDuplicateProcId, "%q", id)
	}
	reg.procs[id] = rec
	reg.mu.Unlock()

	reg.notify(Notification{Kind: NotificationStart, ProcId: id})
	return nil
}

// Get returns the record for id, if present.
func (reg *Registry) Get(id string) (*Record, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rec, ok := reg.procs[id]
	return rec, ok
}

// Len returns the number of records currently held.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.procs)
}

// Ids returns a sorted snapshot of all proc ids currently held.
func (reg *Registry) Ids() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ids := make([]string, 0, len(reg.procs))
	for id := range reg.procs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FirstRunning returns the first (in sorted ProcId order, for deterministic
// tests) record still in StateRunning, if any.
func (reg *Registry) FirstRunning() (string, *Record, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ids := make([]string, 0, len(reg.procs))
	for id := range reg.procs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rec := reg.procs[id]
		if rec.State() == StateRunning {
			return id, rec, true
		}
	}
	return "", nil, false
}

// RemoveIfNotRunning removes and returns the record for id if it is not
// Running. Fails with ErrProcRunning if Running, ErrNoProcId if absent.
func (reg *Registry) RemoveIfNotRunning(id string) (*Record, error) {
	reg.mu.Lock()
	rec, ok := reg.procs[id]
	if !ok {
		reg.mu.Unlock()
		return nil, errors.Wrapf(ErrNoProcId, "%q", id)
	}
	if rec.State() == StateRunning {
		reg.mu.Unlock()
		return nil, errors.Wrapf(ErrProcRunning, "%q", id)
	}
	delete(reg.procs, id)
	idle := reg.shutdownOnIdle && len(reg.procs) == 0
	reg.mu.Unlock()

	reg.notify(Notification{Kind: NotificationDelete, ProcId: id})
	if idle {
		reg.SetShutdown()
	}
	return rec, nil
}

// Pop removes an arbitrary (lowest ProcId) record regardless of state,
// following the same notification/shutdown rules as RemoveIfNotRunning.
func (reg *Registry) Pop() (string, *Record, bool) {
	reg.mu.Lock()
	if len(reg.procs) == 0 {
		reg.mu.Unlock()
		return "", nil, false
	}
	ids := make([]string, 0, len(reg.procs))
	for id := range reg.procs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	id := ids[0]
	rec := reg.procs[id]
	delete(reg.procs, id)
	idle := reg.shutdownOnIdle && len(reg.procs) == 0
	reg.mu.Unlock()

	reg.notify(Notification{Kind: NotificationDelete, ProcId: id})
	if idle {
		reg.SetShutdown()
	}
	return id, rec, true
}

// SendSignalAll sends signum to every Running record's process, best
// effort. Only the last error is reported, matching
// original_source/src/main.rs's signal-all loop rather than aggregating
// every failure.
func (reg *Registry) SendSignalAll(signum int, kill func(pid, signum int) error) error {
	reg.mu.Lock()
	recs := make([]*Record, 0, len(reg.procs))
	for _, rec := range reg.procs {
		recs = append(recs, rec)
	}
	reg.mu.Unlock()

	var lastErr error
	for _, rec := range recs {
		if rec.State() != StateRunning {
			continue
		}
		if err := kill(rec.Pid, signum); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// SendSignal sends signum to a single record's process. Fails with
// ErrNoProcId if id is absent. If the record isn't Running, kill is still
// attempted; the kernel reports ESRCH if the pid is already gone.
func (reg *Registry) SendSignal(id string, signum int, kill func(pid, signum int) error) error {
	reg.mu.Lock()
	rec, ok := reg.procs[id]
	reg.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrNoProcId, "%q", id)
	}
	return kill(rec.Pid, signum)
}

// Subscribe registers a new notification receiver. A subscriber only sees
// notifications published after Subscribe returns; it must call Ids()
// afterward to reconcile a consistent snapshot.
func (reg *Registry) Subscribe() *NotificationSub {
	reg.subsMu.Lock()
	id := reg.nextSub
	reg.nextSub++
	ch := make(chan Notification, notificationBufferSize)
	reg.subs[id] = ch
	reg.subsMu.Unlock()

	sub := &NotificationSub{ch: ch}
	sub.cancel = func() {
		reg.subsMu.Lock()
		delete(reg.subs, id)
		reg.subsMu.Unlock()
	}
	return sub
}

func (reg *Registry) notify(n Notification) {
	reg.subsMu.Lock()
	defer reg.subsMu.Unlock()
	for id, ch := range reg.subs {
		select {
		case ch <- n:
		default:
			registryLog.Panicf("notification subscriber %d lagging on %s(%s)", id, n.Kind, n.ProcId)
		}
	}
}

// publishNotRunning is called by the Reaper Task once a record's state
// leaves Running (terminated or errored).
func (reg *Registry) publishNotRunning(id string) {
	reg.notify(Notification{Kind: NotificationNotRunning, ProcId: id})
}

// ToResult snapshots all records without removing them.
func (reg *Registry) ToResult() map[string]*Record {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make(map[string]*Record, len(reg.procs))
	for id, rec := range reg.procs {
		out[id] = rec
	}
	return out
}

// CollectResults atomically swaps out all records, publishes one Delete per
// previously-present id, and latches shutdown if shutdownOnIdle is set.
func (reg *Registry) CollectResults() map[string]*Record {
	reg.mu.Lock()
	out := reg.procs
	reg.procs = make(map[string]*Record)
	idle := reg.shutdownOnIdle
	reg.mu.Unlock()

	ids := make([]string, 0, len(out))
	for id := range out {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		reg.notify(Notification{Kind: NotificationDelete, ProcId: id})
	}
	if idle {
		reg.SetShutdown()
	}
	return out
}

// WaitRunning blocks until no Running record exists. It subscribes before
// taking its first snapshot, so it strictly never misses a transition
// published after that point.
func (reg *Registry) WaitRunning(ctx context.Context) error {
	sub := reg.Subscribe()
	defer sub.Close()

	for {
		id, _, ok := reg.FirstRunning()
		if !ok {
			return nil
		}
		if err := waitForProcEdge(ctx, sub, id, NotificationNotRunning, NotificationDelete); err != nil {
			return err
		}
	}
}

// WaitIdle blocks until the registry is empty.
func (reg *Registry) WaitIdle(ctx context.Context) error {
	sub := reg.Subscribe()
	defer sub.Close()

	for {
		ids := reg.Ids()
		if len(ids) == 0 {
			return nil
		}
		if err := waitForProcEdge(ctx, sub, ids[0], NotificationDelete); err != nil {
			return err
		}
	}
}

func waitForProcEdge(ctx context.Context, sub *NotificationSub, id string, kinds ...NotificationKind) error {
	for {
		n, ok := sub.Recv(ctx)
		if !ok {
			return ctx.Err()
		}
		if n.ProcId != id {
			continue
		}
		for _, k := range kinds {
			if n.Kind == k {
				return nil
			}
		}
	}
}

// SetShutdown latches the shutdown watch; idempotent.
func (reg *Registry) SetShutdown() {
	reg.shutdownMu.Lock()
	defer reg.shutdownMu.Unlock()
	if !reg.shutdownClosed {
		reg.shutdownClosed = true
		close(reg.shutdownCh)
	}
}

// WaitForShutdown blocks until SetShutdown has been called, or ctx is done.
func (reg *Registry) WaitForShutdown(ctx context.Context) error {
	select {
	case <-reg.shutdownCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetShutdownOnIdle requests shutdown once the registry next becomes empty.
func (reg *Registry) SetShutdownOnIdle() {
	reg.mu.Lock()
	empty := len(reg.procs) == 0
	reg.shutdownOnIdle = true
	reg.mu.Unlock()
	if empty {
		reg.SetShutdown()
	}
}
