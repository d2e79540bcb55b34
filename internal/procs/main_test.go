package procs

import (
	"os"
	"testing"
)

// TestMain lets this package's test binary double as the child trampoline,
// the same way the real procstar binary does in cmd/procstar/main.go. The
// Launcher re-execs its own running binary (selfExePath), so under `go test`
// that's this test binary; intercepting here is what makes Launcher/Reaper testable without
// a separate compiled helper.
func TestMain(m *testing.M) {
	if IsChildTrampolineInvocation(os.Args) {
		RunChildTrampoline()
		return
	}
	os.Exit(m.Run())
}
