package procs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/alexhsamuel/procstar/internal/spec"
)

var launcherLog = logrus.WithField("component", "launcher")

// Launcher turns ProcSpecs into running processes. It realizes the
// fork+exec step as a self-reexec of its own binary into the child
// trampoline (internal/procs/child.go), since Go's os/exec has no hook for
// arbitrary code between fork and exec.
type Launcher struct {
	Registry *Registry

	// RestrictedExe, if non-empty, is the only executable path the child
	// trampoline will agree to exec. The check happens in the child itself,
	// not here, to avoid a TOCTOU gap between this preflight and the
	// eventual execve.
	RestrictedExe string
}

// NewLauncher constructs a Launcher bound to registry.
func NewLauncher(registry *Registry, restrictedExe string) *Launcher {
	return &Launcher{Registry: registry, RestrictedExe: restrictedExe}
}

// LaunchBatch launches every proc in specs, in sorted ProcId order for
// deterministic behavior. Duplicate ids and fd specs are checked for the
// whole batch before anything is launched. A failure to launch one of them
// aborts the rest of the batch and returns that error; procs launched
// before it remain registered and running.
func (l *Launcher) LaunchBatch(ctx context.Context, specs spec.ProcsSpec) error {
	ids := make([]string, 0, len(specs))
	for id := range specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, exists := l.Registry.Get(id); exists {
			return errors.Wrapf(spec.ErrDuplicateProcId, "%q", id)
		}
	}
	for _, id := range ids {
		if err := spec.ValidateFds(specs[id].Fds); err != nil {
			return errors.Wrapf(err, "proc %q", id)
		}
	}

	for _, id := range ids {
		if _, err := l.Launch(ctx, id, specs[id]); err != nil {
			return errors.Wrapf(err, "launching %q", id)
		}
	}
	return nil
}

// StartProcs is LaunchBatch under the name the HTTP and CLI adapters use.
func (l *Launcher) StartProcs(ctx context.Context, specs spec.ProcsSpec) error {
	return l.LaunchBatch(ctx, specs)
}

// Launch starts a single proc and registers it. On success the returned
// Record is already visible in the Registry and a finalize goroutine is
// running to reap it and publish NotRunning on exit.
func (l *Launcher) Launch(ctx context.Context, id string, ps *spec.ProcSpec) (*Record, error) {
	if err := ps.Validate(); err != nil {
		return nil, errors.Wrapf(err, "proc %q", id)
	}

	fdSpecs, err := resolveFdSpecs(ps.Fds)
	if err != nil {
		return nil, errors.Wrapf(err, "proc %q", id)
	}

	errPipe, err := NewErrorPipe()
	if err != nil {
		return nil, errors.Wrapf(err, "proc %q", id)
	}

	handlers, err := buildFdHandlers(fdSpecs)
	if err != nil {
		errPipe.readEnd.Close()
		errPipe.writeEnd.Close()
		return nil, errors.Wrapf(err, "proc %q", id)
	}

	extraFiles := []*os.File{errPipe.WriteEnd()}
	plans := make([]ChildFdPlan, 0, len(handlers))
	for _, entry := range handlers {
		plan, file := entry.Handler.ChildPlan()
		if file != nil {
			plan.ExtraFileIndex = len(extraFiles)
			extraFiles = append(extraFiles, file)
		}
		plans = append(plans, plan)
	}

	env := BuildEnv(os.Environ(), ps.Env)

	plan := childPlan{
		Exe:              ps.ResolveExe(),
		Argv:             ps.Argv,
		Env:              env,
		RestrictedExe:    l.RestrictedExe,
		HasRestrictedExe: l.RestrictedExe != "",
		Fds:              plans,
		ErrorFdIndex:     0,
	}
	encoded, err := encodeChildPlan(plan)
	if err != nil {
		closeAllHandlers(handlers)
		return nil, errors.Wrapf(err, "proc %q: encoding child plan", id)
	}

	cmd := exec.Command(selfExePath(), ChildTrampolineArg)
	cmd.Env = []string{childPlanEnvVar + "=" + encoded}
	cmd.ExtraFiles = extraFiles

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		closeAllHandlers(handlers)
		errPipe.readEnd.Close()
		errPipe.writeEnd.Close()
		return nil, errors.Wrapf(err, "proc %q: starting trampoline", id)
	}
	startInstant := startTime

	if err := errPipe.CloseParentWriteEnd(); err != nil {
		launcherLog.WithField("proc_id", id).Warnf("closing parent error pipe write end: %s", err)
	}
	var fdErrs []string
	for _, entry := range handlers {
		if err := entry.Handler.ParentSetup(); err != nil {
			fdErrs = append(fdErrs, fmt.Sprintf("fd %d parent setup: %s", entry.FdNum, err))
		}
		entry.Handler.Close()
	}

	rec := NewRecord(id, cmd.Process.Pid, startTime, startInstant, handlers)
	rec.AppendErrors(fdErrs...)
	if err := l.Registry.Insert(id, rec); err != nil {
		return nil, err
	}

	go l.finalize(id, rec, cmd, errPipe, handlers)

	return rec, nil
}

// resolveFdSpecs parses fd-name keys into fd numbers and fills in the
// default inherit behavior for stdin/stdout/stderr when the caller leaves
// them unconfigured.
func resolveFdSpecs(fds map[string]spec.FdSpec) (map[int]spec.FdSpec, error) {
	out := make(map[int]spec.FdSpec, len(fds)+3)
	for name, fs := range fds {
		n, err := spec.ParseFdName(name)
		if err != nil {
			return nil, err
		}
		out[n] = fs
	}
	for _, n := range []int{0, 1, 2} {
		if _, ok := out[n]; !ok {
			out[n] = spec.FdSpec{Kind: spec.FdInherit}
		}
	}
	return out, nil
}

// buildFdHandlers constructs an FdHandler for every fd, in ascending fd
// number order. On error it closes any handlers already built before
// returning.
func buildFdHandlers(fdSpecs map[int]spec.FdSpec) ([]FdHandlerEntry, error) {
	nums := make([]int, 0, len(fdSpecs))
	for n := range fdSpecs {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	entries := make([]FdHandlerEntry, 0, len(nums))
	for _, n := range nums {
		h, err := NewFdHandler(n, fdSpecs[n])
		if err != nil {
			closeAllHandlers(entries)
			return nil, errors.Wrapf(err, "fd %d", n)
		}
		entries = append(entries, FdHandlerEntry{FdNum: n, Handler: h})
	}
	return entries, nil
}

func closeAllHandlers(entries []FdHandlerEntry) {
	for _, entry := range entries {
		entry.Handler.Close()
	}
}

// selfExePath returns the path to this running binary, for the trampoline
// re-exec. /proc/self/exe is preferred when available since it remains
// correct even if the original argv[0]/PATH lookup would no longer resolve
// (the same technique docker/runc use for their own reexec).
func selfExePath() string {
	if p, err := os.Readlink("/proc/self/exe"); err == nil {
		return p
	}
	if p, err := os.Executable(); err == nil {
		return p
	}
	return os.Args[0]
}
