// Command procstar launches and supervises child processes, either as a
// one-shot batch (print results, exit) or as a long-running agent driven
// over HTTP and/or a WebSocket uplink.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/alexhsamuel/procstar/internal/exitcode"
	"github.com/alexhsamuel/procstar/internal/procs"
)

func main() {
	if procs.IsChildTrampolineInvocation(os.Args) {
		procs.RunChildTrampoline()
		return
	}

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logrus.WithError(err).Error("procstar exiting")
		os.Exit(exitcode.Software)
	}
}
