package procs

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ChildTrampolineArg, when present as os.Args[1], tells the procstar binary
// to run as the post-fork child trampoline rather than as the supervisor.
// See DESIGN.md "Fork/exec realization" for why this self-reexec shape is
// the idiomatic Go equivalent of the Rust source's raw fork()+execve().
const ChildTrampolineArg = "__procstar_child__"

// childPlanEnvVar carries the base64-JSON childPlan to the trampoline
// process. It is the trampoline's own environment, distinct from the env
// ultimately passed to the final execve.
const childPlanEnvVar = "_PROCSTAR_CHILD_PLAN"

// childPlan is everything the trampoline needs to finish setting up and
// exec the target process. It is assembled by the Launcher in the
// supervisor process and handed to the trampoline across a fork+exec of
// procstar's own binary.
type childPlan struct {
	Exe              string
	Argv             []string
	Env              map[string]string
	RestrictedExe    string
	HasRestrictedExe bool
	Fds              []ChildFdPlan
	ErrorFdIndex     int
}

func encodeChildPlan(p childPlan) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeChildPlan(s string) (childPlan, error) {
	var p childPlan
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return p, err
	}
	err = json.Unmarshal(data, &p)
	return p, err
}

// IsChildTrampolineInvocation reports whether the process was invoked to
// run as the child trampoline (os.Args[1] == ChildTrampolineArg).
func IsChildTrampolineInvocation(args []string) bool {
	return len(args) > 1 && args[1] == ChildTrampolineArg
}

// RunChildTrampoline executes the post-fork, pre-exec setup and never
// returns: it always terminates the process, either by successfully
// execve-ing the target (which replaces this image) or by _exit(63) after
// reporting a diagnostic. If its own plan cannot be decoded it exits 64
// without writing a diagnostic.
//
// Every step here is restricted to syscalls plus data already decoded into
// plain Go values before this function runs — no logging framework, no
// further allocation-heavy work beyond what's needed to format a
// diagnostic string, matching original_source/src/procs.rs's pre-exec
// discipline.
func RunChildTrampoline() {
	plan, err := decodeChildPlan(os.Getenv(childPlanEnvVar))
	if err != nil {
		os.Exit(64) // couldn't even decode our own plan; distinct from 63
	}

	errFd := 3 + plan.ErrorFdIndex
	// Arrange for the error pipe to close automatically on a successful
	// exec below, so the parent observes EOF exactly when we do.
	_ = unix.CloseOnExec(errFd)

	write := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...) + "\n"
		_, _ = unix.Write(errFd, []byte(msg))
	}

	okToExec := true

	if plan.HasRestrictedExe && plan.Exe != plan.RestrictedExe {
		write("restricted executable: %s", plan.RestrictedExe)
		okToExec = false
	}

	if !setupChildFds(plan.Fds, write) {
		okToExec = false
	}

	if err := unix.Setsid(); err != nil {
		write("setsid failed: %s", err)
		okToExec = false
	}

	if okToExec {
		err := unix.Exec(plan.Exe, plan.Argv, EnvSlice(plan.Env))
		// unix.Exec only returns on failure.
		write("execve failed: %s: %s", plan.Exe, err)
	}

	os.Exit(63)
}

// setupChildFds performs the dup2 plan for every target fd: direct
// ExtraFile sources first, then Dup-from-sibling entries in dependency
// order (checked acyclic by spec.ValidateFds when launched through
// Launcher.LaunchBatch; any dup whose source is never placed is reported).
// Errors are reported via write but do not stop processing remaining fds,
// so that all setup errors are visible.
func setupChildFds(fds []ChildFdPlan, write func(string, ...interface{})) bool {
	const extraFileBase = 3
	ok := true
	placed := make(map[int]bool, len(fds))

	var dups []ChildFdPlan
	for _, fp := range fds {
		if fp.ExtraFileIndex >= 0 {
			src := extraFileBase + fp.ExtraFileIndex
			if err := unix.Dup2(src, fp.TargetFd); err != nil {
				write("failed to set up fd %d: %s", fp.TargetFd, err)
				ok = false
				continue
			}
			placed[fp.TargetFd] = true
		} else {
			dups = append(dups, fp)
		}
	}

	for progress := true; progress && len(dups) > 0; {
		progress = false
		remaining := dups[:0]
		for _, fp := range dups {
			if placed[fp.DupFromTargetFd] {
				if err := unix.Dup2(fp.DupFromTargetFd, fp.TargetFd); err != nil {
					write("failed to set up fd %d: %s", fp.TargetFd, err)
					ok = false
				} else {
					placed[fp.TargetFd] = true
				}
				progress = true
			} else {
				remaining = append(remaining, fp)
			}
		}
		dups = remaining
	}
	for _, fp := range dups {
		write("failed to set up fd %d: dup source fd %d was never placed", fp.TargetFd, fp.DupFromTargetFd)
		ok = false
	}

	// Close the now-redundant ExtraFile source descriptors, unless one of
	// them is itself in use as a target fd number.
	targets := make(map[int]bool, len(fds))
	for _, fp := range fds {
		targets[fp.TargetFd] = true
	}
	for _, fp := range fds {
		if fp.ExtraFileIndex < 0 {
			continue
		}
		src := extraFileBase + fp.ExtraFileIndex
		if !targets[src] {
			_ = unix.Close(src)
		}
	}

	return ok
}
