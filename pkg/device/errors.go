package device

import "errors"

var (
	// ErrNotSupported indicates the device lacks the capability or mode.
	ErrNotSupported = errors.New("not supported")
	// ErrInvalid indicates invalid arguments.
	ErrInvalid = errors.New("invalid argument")
	// ErrNotActive indicates the device is not open.
	ErrNotActive = errors.New("device not open")
	// ErrIO indicates the driver failed.
	ErrIO = errors.New("io error")
	// ErrBusy indicates the device is still in use.
	ErrBusy = errors.New("device busy")
)
