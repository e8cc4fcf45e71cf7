//go:build !windows

package ptyproc

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/antonkrylov/termhost/internal/terminal"
)

type unixPTY struct {
	f *os.File
}

func (p *unixPTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *unixPTY) Close() error                { return p.f.Close() }

func (p *unixPTY) resize(rows, cols uint16) error {
	return setWinsize(p.f, rows, cols)
}

// setWinsize issues TIOCSWINSZ through the raw conn. Calling f.Fd() would put
// the master back into blocking mode, after which Close no longer wakes a
// pending Read.
func setWinsize(f *os.File, rows, cols uint16) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var ioErr error
	if err := rc.Control(func(fd uintptr) {
		ioErr = unix.IoctlSetWinsize(int(fd), unix.TIOCSWINSZ, &unix.Winsize{Row: rows, Col: cols})
	}); err != nil {
		return err
	}
	return ioErr
}

func startProcess(req terminal.SpawnRequest, env []string, rows, cols uint16) (*process, error) {
	build := func() (*exec.Cmd, error) {
		cmd := exec.Command(req.Command, req.Args...)
		cmd.Env = env
		cmd.Dir = req.Dir
		if req.User != nil && req.User.Username != "" {
			cred, home, err := lookupCredential(req.User.Username)
			if err != nil {
				return nil, err
			}
			cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
			cmd.Env = append(cmd.Env, "HOME="+home, "USER="+req.User.Username, "LOGNAME="+req.User.Username)
			if cmd.Dir == "" {
				cmd.Dir = home
			}
		}
		return cmd, nil
	}

	cmd, err := build()
	if err != nil {
		return nil, err
	}
	ptyFile, err := startPTY(cmd, rows, cols, true)
	if err != nil && strings.Contains(err.Error(), "Setctty set but Ctty not valid") {
		// Some platforms reject Setctty; a pty without a controlling
		// terminal is still enough for interactive I/O.
		if cmd, err = build(); err != nil {
			return nil, err
		}
		ptyFile, err = startPTY(cmd, rows, cols, false)
	}
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}
	return newProcess(&unixPTY{f: ptyFile}, cmd.Process), nil
}

func startPTY(cmd *exec.Cmd, rows, cols uint16, setCTTY bool) (*os.File, error) {
	ptyFile, ttyFile, err := pty.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = ttyFile.Close() }()

	_ = setWinsize(ptyFile, rows, cols)

	cmd.Stdin = ttyFile
	cmd.Stdout = ttyFile
	cmd.Stderr = ttyFile

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = setCTTY
	if setCTTY {
		// Ctty is a descriptor number in the child, where the tty is stdin.
		cmd.SysProcAttr.Ctty = 0
	}

	if err := cmd.Start(); err != nil {
		_ = ptyFile.Close()
		return nil, err
	}
	return ptyFile, nil
}

func lookupCredential(name string) (*syscall.Credential, string, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, "", fmt.Errorf("lookup user %s: %w", name, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, "", fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, "", fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}
	cred := &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}
	if ids, err := u.GroupIds(); err == nil {
		for _, g := range ids {
			if n, err := strconv.ParseUint(g, 10, 32); err == nil {
				cred.Groups = append(cred.Groups, uint32(n))
			}
		}
	}
	return cred, u.HomeDir, nil
}
