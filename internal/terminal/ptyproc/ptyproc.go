// Package ptyproc starts shells inside native pseudo-terminals: creack/pty on
// unix and ConPTY on windows.
package ptyproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/antonkrylov/termhost/internal/terminal"
)

// Spawner implements terminal.Spawner with a local pseudo-terminal.
type Spawner struct {
	// Env is appended to the host environment of every shell.
	Env    []string
	Logger *slog.Logger
}

// New returns a Spawner that logs to logger.
func New(logger *slog.Logger) *Spawner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Spawner{Logger: logger}
}

// Spawn starts req.Command attached to a new pseudo-terminal of the requested size.
func (s *Spawner) Spawn(ctx context.Context, req terminal.SpawnRequest) (terminal.Process, error) {
	if req.Command == "" {
		return nil, errors.New("command is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, cols := req.Rows, req.Cols
	if rows == 0 {
		rows = 30
	}
	if cols == 0 {
		cols = 120
	}
	env := append(os.Environ(), s.Env...)
	env = append(env, req.Env...)

	p, err := startProcess(req, env, rows, cols)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Debug("pty started", "pid", p.Pid(), "command", req.Command, "rows", rows, "cols", cols)
	}
	return p, nil
}

type terminalFile interface {
	io.ReadWriteCloser
	resize(rows, cols uint16) error
}

// process joins a pseudo-terminal and the os.Process running on it.
type process struct {
	term terminalFile
	proc *os.Process

	done     chan struct{}
	exitCode int
	waitErr  error

	closeOnce sync.Once
	closeErr  error
}

func newProcess(term terminalFile, proc *os.Process) *process {
	p := &process{term: term, proc: proc, done: make(chan struct{})}
	go p.wait()
	return p
}

func (p *process) wait() {
	defer close(p.done)
	state, err := p.proc.Wait()
	if err != nil {
		p.waitErr = err
		p.exitCode = -1
		return
	}
	p.exitCode = state.ExitCode()
}

func (p *process) Pid() int { return p.proc.Pid }

func (p *process) Read(b []byte) (int, error)  { return p.term.Read(b) }
func (p *process) Write(b []byte) (int, error) { return p.term.Write(b) }

func (p *process) Close() error {
	p.closeOnce.Do(func() { p.closeErr = p.term.Close() })
	return p.closeErr
}

func (p *process) Resize(rows, cols uint16) error {
	return p.term.resize(rows, cols)
}

func (p *process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", p.proc.Pid, err)
	}
	return nil
}

func (p *process) TryWait() (int, bool, error) {
	select {
	case <-p.done:
		return p.exitCode, true, p.waitErr
	default:
		return 0, false, nil
	}
}
