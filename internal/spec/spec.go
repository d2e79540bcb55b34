// Package spec decodes the JSON process specifications that drive the
// launcher: which executables to run, how their environment is built, and
// how their file descriptors are wired up.
package spec

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ProcId is the caller-supplied name for one supervised process. It must be
// non-empty and unique within a registry.
type ProcId = string

// ProcsSpec is the top-level input document: a map from proc id to its spec.
type ProcsSpec map[ProcId]*ProcSpec

// ProcSpec describes one process to launch.
type ProcSpec struct {
	// Argv is the argument vector passed to execve. Argv[0] is also used
	// as the executable path when Exe is empty.
	Argv []string `json:"argv"`
	// Exe overrides the executable path; defaults to Argv[0].
	Exe string `json:"exe,omitempty"`
	// Env controls how the child's environment is assembled.
	Env EnvSpec `json:"env,omitempty"`
	// Fds maps fd name ("stdin", "stdout", "stderr", or a numeric string)
	// to how that fd should be set up in the child.
	Fds map[string]FdSpec `json:"fds,omitempty"`
}

// Validate checks the invariants that don't require registry state: a
// non-empty argv and a non-empty exe.
func (s *ProcSpec) Validate() error {
	if len(s.Argv) == 0 {
		return errors.Wrap(ErrMalformedSpec, "argv must not be empty")
	}
	if s.ResolveExe() == "" {
		return errors.Wrap(ErrMalformedSpec, "exe must not be empty")
	}
	return nil
}

// ResolveExe returns the executable path to exec: Exe if set, else Argv[0].
func (s *ProcSpec) ResolveExe() string {
	if s.Exe != "" {
		return s.Exe
	}
	if len(s.Argv) > 0 {
		return s.Argv[0]
	}
	return ""
}

// Load parses a ProcsSpec document from JSON bytes.
func Load(data []byte) (ProcsSpec, error) {
	var procs ProcsSpec
	if err := json.Unmarshal(data, &procs); err != nil {
		return nil, errors.Wrap(err, "invalid procs spec JSON")
	}
	for id, s := range procs {
		if id == "" {
			return nil, errors.Wrap(ErrMalformedSpec, "proc id must not be empty")
		}
		if s == nil {
			return nil, errors.Wrapf(ErrMalformedSpec, "proc %q has no spec", id)
		}
		if err := s.Validate(); err != nil {
			return nil, errors.Wrapf(err, "proc %q", id)
		}
	}
	return procs, nil
}
