//go:build !windows

package ptyproc

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antonkrylov/termhost/internal/terminal"
)

const teardownDeadline = 5 * time.Second

// openIdleShell opens terminal 1 of serviceID on a real /bin/sh, resizes it and
// leaves it idle at its prompt.
func openIdleShell(t *testing.T, reg *terminal.Registry, serviceID string, persistent bool) (*terminal.Proxy, int) {
	t.Helper()
	_, err := reg.GetOrCreate(serviceID, persistent, false)
	require.NoError(t, err)
	p := terminal.NewProxy(reg, serviceID, &persistent, nil)
	resp, err := p.HandleAction(context.Background(), terminal.OpenAction{TerminalID: 1, Rows: 24, Cols: 80})
	require.NoError(t, err)
	opened, ok := resp.(terminal.OpenedResponse)
	require.Truef(t, ok, "expected OpenedResponse, got %#v", resp)
	require.True(t, opened.Success, opened.Message)

	_, err = p.HandleAction(context.Background(), terminal.ResizeAction{TerminalID: 1, Rows: 40, Cols: 132})
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)
	_ = p.DrainOutputs()
	pid := reg.Get(serviceID).Session(1).Pid()
	require.Positive(t, pid)
	return p, pid
}

func newShellRegistry(t *testing.T) *terminal.Registry {
	t.Helper()
	if testing.Short() {
		t.Skip("spawns a real shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	t.Setenv("SHELL", "/bin/sh")
	reg := terminal.NewRegistry(terminal.Options{Spawner: New(nil)})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownDeadline)
		defer cancel()
		_ = reg.Close(ctx)
	})
	return reg
}

// within fails the test when fn has not returned after teardownDeadline.
func within(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(teardownDeadline):
		t.Fatalf("%s did not return within %s", what, teardownDeadline)
	}
}

func processGone(pid int) func() bool {
	return func() bool {
		proc, err := os.FindProcess(pid)
		if err != nil {
			return true
		}
		// Signal 0 fails once the child has been reaped.
		return proc.Signal(syscall.Signal(0)) != nil
	}
}

func TestIdleShellStopsOnDisconnect(t *testing.T) {
	reg := newShellRegistry(t)
	p, pid := openIdleShell(t, reg, "svc-disconnect", false)

	within(t, "OnDisconnect", p.OnDisconnect)
	require.Nil(t, reg.Get("svc-disconnect"))
	require.Eventually(t, func() bool {
		reg.Reaper().Reap()
		return processGone(pid)()
	}, teardownDeadline, 20*time.Millisecond)
}

func TestIdleShellStopsOnRemove(t *testing.T) {
	reg := newShellRegistry(t)
	_, pid := openIdleShell(t, reg, "svc-remove", true)

	var removed bool
	within(t, "Remove", func() { removed = reg.Remove("svc-remove") })
	require.True(t, removed)
	require.Eventually(t, func() bool {
		reg.Reaper().Reap()
		return processGone(pid)()
	}, teardownDeadline, 20*time.Millisecond)
}

func TestIdleShellStopsOnRegistryClose(t *testing.T) {
	reg := newShellRegistry(t)
	_, pid := openIdleShell(t, reg, "svc-close", true)

	ctx, cancel := context.WithTimeout(context.Background(), teardownDeadline)
	defer cancel()
	var err error
	within(t, "Close", func() { err = reg.Close(ctx) })
	require.NoError(t, err)
	require.True(t, processGone(pid)())
	require.Zero(t, reg.SessionCount(true))
}
