package procs

import "errors"

// API misuse sentinel errors. Registry and Fd Handler operations return
// these wrapped with context; callers may errors.Is against them.
var (
	ErrNoProcId    = errors.New("no such proc id")
	ErrProcRunning = errors.New("proc is running")
	ErrNoFd        = errors.New("fd not configured")
)
