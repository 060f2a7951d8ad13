package task

import "errors"

var (
	// ErrInvalid indicates a bad slot index or argument.
	ErrInvalid = errors.New("invalid argument")
	// ErrNotActive indicates the task is stopped.
	ErrNotActive = errors.New("not active")
	// ErrBusy indicates the event queue is full. Retry after a Dispatch.
	ErrBusy = errors.New("busy")
	// ErrNoMemory indicates the event queue can't be allocated.
	ErrNoMemory = errors.New("no memory")
	// ErrIO is returned by slots added without a callback.
	ErrIO = errors.New("io error")
)
