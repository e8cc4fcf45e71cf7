package terminal

import (
	"context"
	"io"
)

// UserContext names the account a shell must run as. A nil *UserContext means
// the host's own identity.
type UserContext struct {
	Username string
}

// SpawnRequest describes the shell to start inside a new pseudo-terminal.
type SpawnRequest struct {
	TerminalID int32
	Command    string
	Args       []string
	Env        []string
	Dir        string
	Rows       uint16
	Cols       uint16
	User       *UserContext
}

// Child is the process half of a spawned terminal: enough to kill it and to
// find out, without blocking, whether it has exited.
type Child interface {
	Pid() int
	Kill() error
	// TryWait reports the exit code once the process has exited. It never blocks.
	TryWait() (exitCode int, exited bool, err error)
}

// Process is a live shell bound to a pseudo-terminal. Read and Write operate
// on the terminal master; Close releases the terminal handle without touching
// the child.
type Process interface {
	Child
	io.ReadWriteCloser
	Resize(rows, cols uint16) error
}

// Spawner starts shells. Implementations decide how the pseudo-terminal is
// created and which identity the shell runs under.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (Process, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(ctx context.Context, req SpawnRequest) (Process, error)

func (f SpawnerFunc) Spawn(ctx context.Context, req SpawnRequest) (Process, error) {
	return f(ctx, req)
}
