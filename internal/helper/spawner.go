package helper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antonkrylov/termhost/internal/terminal"
)

// UserPlaceholder in Spawner.Wrapper is replaced with the requested user name.
const UserPlaceholder = "{user}"

// Spawner implements terminal.Spawner by launching a helper binary that owns
// the pseudo-terminal. When a user is requested, Wrapper (for example
// "sudo -n -u {user}") is prepended so the helper runs under that identity.
type Spawner struct {
	// Command is the helper binary.
	Command string
	Wrapper []string
	// SocketDir holds the per-terminal sockets. It defaults to os.TempDir().
	SocketDir     string
	AcceptTimeout time.Duration
	Logger        *slog.Logger
}

func (s *Spawner) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s.Logger
}

// Spawn starts the helper and waits for it to connect both sockets.
func (s *Spawner) Spawn(ctx context.Context, req terminal.SpawnRequest) (terminal.Process, error) {
	if s.Command == "" {
		return nil, errors.New("helper command is required")
	}
	timeout := s.AcceptTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dir, err := os.MkdirTemp(s.SocketDir, "termhost-")
	if err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	defer os.RemoveAll(dir)

	id := uuid.NewString()
	inPath := filepath.Join(dir, id+"-in.sock")
	outPath := filepath.Join(dir, id+"-out.sock")
	inLn, err := net.Listen("unix", inPath)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", inPath, err)
	}
	defer inLn.Close()
	outLn, err := net.Listen("unix", outPath)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", outPath, err)
	}
	defer outLn.Close()

	var username string
	if req.User != nil {
		username = req.User.Username
	}
	if username != "" {
		if err := grantSockets(username, dir, inPath, outPath); err != nil {
			s.logger().Warn("hand sockets to user", "user", username, "err", err)
		}
	}

	args := []string{
		"-input", inPath,
		"-output", outPath,
		"-rows", strconv.Itoa(int(req.Rows)),
		"-cols", strconv.Itoa(int(req.Cols)),
		"-terminal", strconv.Itoa(int(req.TerminalID)),
	}
	name := s.Command
	if username != "" && len(s.Wrapper) > 0 {
		wrapped := make([]string, 0, len(s.Wrapper)+len(args)+1)
		for _, w := range s.Wrapper {
			wrapped = append(wrapped, strings.ReplaceAll(w, UserPlaceholder, username))
		}
		wrapped = append(wrapped, s.Command)
		name, args = wrapped[0], append(wrapped[1:], args...)
	}
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), req.Env...)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start helper: %w", err)
	}

	p := &bridgeProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait()

	acceptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	inConn, err := accept(acceptCtx, inLn, p.done)
	if err == nil {
		var outConn net.Conn
		outConn, err = accept(acceptCtx, outLn, p.done)
		if err == nil {
			p.in = inConn
			p.out = outConn
			p.frames = NewFrameWriter(inConn)
			s.logger().Debug("helper connected", "terminal", req.TerminalID, "pid", p.Pid())
			if req.Rows > 0 && req.Cols > 0 {
				_ = p.Resize(req.Rows, req.Cols)
			}
			return p, nil
		}
		_ = inConn.Close()
	}
	_ = p.Kill()
	return nil, fmt.Errorf("helper did not connect: %w", err)
}

func accept(ctx context.Context, ln net.Listener, exited <-chan struct{}) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		ch <- result{c, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-exited:
		_ = ln.Close()
		return nil, errors.New("helper exited before connecting")
	case <-ctx.Done():
		_ = ln.Close()
		return nil, ctx.Err()
	}
}

func grantSockets(username string, paths ...string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range paths {
		errs = append(errs, os.Chown(p, uid, gid))
	}
	return errors.Join(errs...)
}

// bridgeProcess is a terminal.Process backed by a helper connection.
type bridgeProcess struct {
	cmd    *exec.Cmd
	in     net.Conn
	out    net.Conn
	frames *FrameWriter

	done     chan struct{}
	exitCode int
	waitErr  error

	closeOnce sync.Once
}

func (p *bridgeProcess) wait() {
	defer close(p.done)
	err := p.cmd.Wait()
	p.exitCode = p.cmd.ProcessState.ExitCode()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
}

func (p *bridgeProcess) Pid() int { return p.cmd.Process.Pid }

func (p *bridgeProcess) Read(b []byte) (int, error) { return p.out.Read(b) }

func (p *bridgeProcess) Write(b []byte) (int, error) { return p.frames.Write(b) }

func (p *bridgeProcess) Resize(rows, cols uint16) error { return p.frames.Resize(rows, cols) }

func (p *bridgeProcess) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = errors.Join(p.in.Close(), p.out.Close())
	})
	return err
}

func (p *bridgeProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *bridgeProcess) TryWait() (int, bool, error) {
	select {
	case <-p.done:
		return p.exitCode, true, p.waitErr
	default:
		return 0, false, nil
	}
}
