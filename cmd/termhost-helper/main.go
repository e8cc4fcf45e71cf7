package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/antonkrylov/termhost/internal/helper"
	"github.com/antonkrylov/termhost/internal/terminal/ptyproc"
)

// termhost-helper owns one pseudo-terminal on behalf of termhostd, usually
// under another user's identity. It is not meant to be run by hand.
func main() {
	var input, output string
	var terminalID, rows, cols uint
	var verbose bool

	flag.StringVar(&input, "input", "", "unix socket carrying framed input from termhostd")
	flag.StringVar(&output, "output", "", "unix socket receiving raw terminal output")
	flag.UintVar(&terminalID, "terminal", 0, "terminal id, used for logging")
	flag.UintVar(&rows, "rows", 30, "initial rows")
	flag.UintVar(&cols, "cols", 120, "initial columns")
	flag.BoolVar(&verbose, "verbose", false, "log to stderr at debug level")
	flag.Parse()

	if input == "" || output == "" {
		fmt.Fprintln(os.Stderr, "termhost-helper: -input and -output are required")
		os.Exit(2)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	code, err := helper.Serve(ctx, helper.ServeConfig{
		InputPath:  input,
		OutputPath: output,
		TerminalID: int32(terminalID),
		Rows:       uint16(rows),
		Cols:       uint16(cols),
		Spawner:    ptyproc.New(logger),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("helper failed", "err", err)
	}
	cancel()
	os.Exit(code)
}
