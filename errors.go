package fiberloop

import (
	"errors"
)

// Standard errors.
var (
	// ErrNoRoutine is returned by the package-level I/O wrappers when called
	// outside a running routine.
	ErrNoRoutine = errors.New("fiberloop: not running inside a routine")

	// ErrNoRuntime is returned by the package-level wrappers before any
	// runtime has been created.
	ErrNoRuntime = errors.New("fiberloop: no default runtime")
)
