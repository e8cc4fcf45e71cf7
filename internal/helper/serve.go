package helper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antonkrylov/termhost/internal/terminal"
)

const exitGrace = 500 * time.Millisecond

// ServeConfig describes one helper run.
type ServeConfig struct {
	InputPath  string
	OutputPath string
	TerminalID int32
	Rows       uint16
	Cols       uint16

	Spawner terminal.Spawner
	Logger  *slog.Logger
	// ExitPoll is how often the shell is checked for exit.
	ExitPoll time.Duration
}

// Serve connects to the host's sockets, starts the shell and pumps data
// until the shell exits or the host goes away. It returns the shell's exit
// code.
func Serve(ctx context.Context, cfg ServeConfig) (int, error) {
	if cfg.Spawner == nil {
		return 1, terminal.ErrNoSpawner
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.ExitPoll <= 0 {
		cfg.ExitPoll = 50 * time.Millisecond
	}
	logger := cfg.Logger.With("terminal", cfg.TerminalID)

	var d net.Dialer
	in, err := d.DialContext(ctx, "unix", cfg.InputPath)
	if err != nil {
		return 1, fmt.Errorf("connect input socket: %w", err)
	}
	defer in.Close()
	out, err := d.DialContext(ctx, "unix", cfg.OutputPath)
	if err != nil {
		return 1, fmt.Errorf("connect output socket: %w", err)
	}
	defer out.Close()

	command, args, env := terminal.DefaultShell()
	proc, err := cfg.Spawner.Spawn(ctx, terminal.SpawnRequest{
		TerminalID: cfg.TerminalID,
		Command:    command,
		Args:       args,
		Env:        env,
		Rows:       cfg.Rows,
		Cols:       cfg.Cols,
	})
	if err != nil {
		return 1, err
	}
	defer proc.Close()
	logger.Info("helper shell started", "pid", proc.Pid(), "shell", command)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	outDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return pumpInput(in, proc, logger)
	})
	g.Go(func() error {
		defer close(outDone)
		if _, err := io.Copy(out, proc); err != nil && !isClosed(err) {
			logger.Debug("helper output ended", "err", err)
		}
		return nil
	})

	code := 0
	ticker := time.NewTicker(cfg.ExitPoll)
	defer ticker.Stop()
wait:
	for {
		c, exited, werr := proc.TryWait()
		if werr != nil || exited {
			code = c
			break
		}
		select {
		case <-gctx.Done():
			_ = proc.Kill()
			break wait
		case <-ticker.C:
		}
	}
	logger.Info("helper shell exited", "exit_code", code)

	// Let the last output through before the terminal goes away.
	select {
	case <-outDone:
	case <-time.After(exitGrace):
	}
	_ = proc.Close()
	<-outDone
	_ = out.Close()
	_ = in.Close()
	if err := g.Wait(); err != nil {
		return code, err
	}
	return code, nil
}

func pumpInput(r io.Reader, proc terminal.Process, logger *slog.Logger) error {
	fr := NewFrameReader(r)
	for {
		typ, payload, err := fr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || isClosed(err) {
				return nil
			}
			return fmt.Errorf("read input frame: %w", err)
		}
		switch typ {
		case MsgData:
			if _, err := proc.Write(payload); err != nil {
				if isClosed(err) {
					return nil
				}
				return fmt.Errorf("write terminal: %w", err)
			}
		case MsgResize:
			rows, cols, err := DecodeResize(payload)
			if err != nil {
				logger.Warn("bad resize frame", "err", err)
				continue
			}
			if err := proc.Resize(rows, cols); err != nil {
				logger.Warn("resize terminal", "rows", rows, "cols", cols, "err", err)
			}
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed)
}
