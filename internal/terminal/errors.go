package terminal

import "errors"

var (
	// ErrCapacity is returned when a new service would exceed Limits.MaxServices.
	ErrCapacity = errors.New("terminal service limit reached")

	// ErrServiceNotFound is returned for operations on an unknown service id.
	ErrServiceNotFound = errors.New("terminal service not found")

	// ErrSessionStopped is returned when writing to a session that has been torn down.
	ErrSessionStopped = errors.New("terminal session stopped")

	// ErrNoSpawner is returned when a registry has no way to start shells.
	ErrNoSpawner = errors.New("no shell spawner configured")
)
