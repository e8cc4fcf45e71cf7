package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/antonkrylov/termhost/internal/client"
	"github.com/antonkrylov/termhost/internal/terminal"
)

// detachKey is Ctrl-].
const detachKey = 0x1d

type attachFlags struct {
	serviceID  string
	persistent bool
	terminalID int32
}

func newAttachCmd(root *rootOptions) *cobra.Command {
	opts := &attachFlags{}
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Open or re-attach to a terminal (Ctrl-] detaches)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var persistent *bool
			if cmd.Flags().Changed("persistent") {
				persistent = &opts.persistent
			}
			serviceID := opts.serviceID
			if serviceID == "" {
				serviceID = root.conn.ServiceID
			}
			return runAttach(cmd.Context(), root, client.AttachOptions{ServiceID: serviceID, Persistent: persistent}, opts.terminalID)
		},
	}
	cmd.Flags().StringVar(&opts.serviceID, "service", "", "service id to bind (default: context serviceId, else a new service)")
	cmd.Flags().BoolVar(&opts.persistent, "persistent", false, "keep terminals alive after this client disconnects")
	cmd.Flags().Int32Var(&opts.terminalID, "terminal", 1, "terminal id within the service")
	return cmd
}

func runAttach(parent context.Context, root *rootOptions, opts client.AttachOptions, terminalID int32) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt)
	defer cancel()

	conn, err := root.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	sess, err := client.Attach(ctx, conn, opts)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	fmt.Fprintf(os.Stderr, "attached to %s (persistent=%t)\n", sess.ServiceID(), sess.Persistent())

	cols, rows := termSize()
	if err := sess.Open(terminalID, uint16(rows), uint16(cols)); err != nil {
		return err
	}

	restore, err := makeStdinRaw()
	if err != nil {
		return err
	}
	defer restore()

	detached := make(chan struct{})
	go func() {
		defer close(detached)
		buf := make([]byte, 32*1024)
		for {
			n, rerr := os.Stdin.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				if i := bytes.IndexByte(chunk, detachKey); i >= 0 {
					if i > 0 {
						_ = sess.Write(terminalID, append([]byte(nil), chunk[:i]...))
					}
					_ = sess.CloseSend()
					return
				}
				if err := sess.Write(terminalID, append([]byte(nil), chunk...)); err != nil {
					return
				}
			}
			if rerr != nil {
				_ = sess.CloseSend()
				return
			}
		}
	}()

	stopResize := watchResize(func() {
		cols, rows := termSize()
		_ = sess.Resize(terminalID, uint16(rows), uint16(cols))
	})
	defer stopResize()

	for {
		resp, err := sess.Recv()
		if err != nil {
			select {
			case <-detached:
				fmt.Fprintf(os.Stderr, "\r\ndetached from %s\r\n", sess.ServiceID())
				return nil
			default:
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch r := resp.(type) {
		case terminal.OpenedResponse:
			if !r.Success {
				return errors.New(r.Message)
			}
			fmt.Fprintf(os.Stderr, "%s (terminal %d, pid %d)\r\n", r.Message, r.TerminalID, r.Pid)
			if len(r.PersistentSessions) > 0 {
				fmt.Fprintf(os.Stderr, "other live terminals: %v\r\n", r.PersistentSessions)
			}
		case terminal.DataResponse:
			if r.TerminalID != terminalID {
				continue
			}
			data, err := r.Payload()
			if err != nil {
				return fmt.Errorf("decode output: %w", err)
			}
			if _, err := os.Stdout.Write(data); err != nil {
				return err
			}
		case terminal.ClosedResponse:
			if r.TerminalID != terminalID {
				continue
			}
			fmt.Fprintf(os.Stderr, "\r\nterminal %d exited (code %d)\r\n", r.TerminalID, r.ExitCode)
			return nil
		case terminal.ErrorResponse:
			fmt.Fprintf(os.Stderr, "\r\nerror: %s\r\n", r.Message)
		}
	}
}

func makeStdinRaw() (func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, oldState) }, nil
}

func termSize() (cols, rows int) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 120, 30
	}
	c, r, err := term.GetSize(fd)
	if err != nil || c <= 0 || r <= 0 {
		return 120, 30
	}
	return c, r
}
