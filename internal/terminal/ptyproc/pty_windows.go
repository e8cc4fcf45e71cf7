//go:build windows

package ptyproc

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/UserExistsError/conpty"

	"github.com/antonkrylov/termhost/internal/terminal"
)

type windowsPTY struct {
	cpty *conpty.ConPty
}

func (p *windowsPTY) Read(b []byte) (int, error)  { return p.cpty.Read(b) }
func (p *windowsPTY) Write(b []byte) (int, error) { return p.cpty.Write(b) }
func (p *windowsPTY) Close() error                { return p.cpty.Close() }

func (p *windowsPTY) resize(rows, cols uint16) error {
	return p.cpty.Resize(int(cols), int(rows))
}

func startProcess(req terminal.SpawnRequest, env []string, rows, cols uint16) (*process, error) {
	if req.User != nil && req.User.Username != "" {
		return nil, errors.New("running a shell as another user needs the helper spawner on windows")
	}
	args := append([]string{req.Command}, req.Args...)
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		quoted = append(quoted, syscall.EscapeArg(a))
	}

	opts := []conpty.ConPtyOption{
		conpty.ConPtyDimensions(int(cols), int(rows)),
		conpty.ConPtyEnv(env),
	}
	if req.Dir != "" {
		opts = append(opts, conpty.ConPtyWorkDir(req.Dir))
	}
	cpty, err := conpty.Start(strings.Join(quoted, " "), opts...)
	if err != nil {
		return nil, fmt.Errorf("start conpty: %w", err)
	}
	proc, err := os.FindProcess(int(cpty.Pid()))
	if err != nil {
		_ = cpty.Close()
		return nil, fmt.Errorf("find conpty process %d: %w", cpty.Pid(), err)
	}
	return newProcess(&windowsPTY{cpty: cpty}, proc), nil
}
