package spec

import "errors"

// Sentinel errors, returned verbatim (wrapped with context via
// github.com/pkg/errors) to callers.
var (
	ErrDuplicateProcId = errors.New("duplicate proc id")
	ErrInvalidFdName   = errors.New("invalid fd name")
	ErrFdDupCycle      = errors.New("fd dup cycle")
	ErrUnknownFdRef    = errors.New("unknown fd reference")
	ErrMalformedSpec   = errors.New("malformed spec")
)
