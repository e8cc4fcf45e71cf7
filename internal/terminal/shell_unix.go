//go:build !windows

package terminal

import (
	"os"
	"runtime"
)

var shellCandidates = []string{"/bin/bash", "/bin/zsh", "/bin/sh"}

// DefaultShell returns the command, arguments and extra environment for the
// platform's interactive shell.
func DefaultShell() (string, []string, []string) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
		for _, candidate := range shellCandidates {
			if _, err := os.Stat(candidate); err == nil {
				shell = candidate
				break
			}
		}
	}
	if runtime.GOOS != "darwin" {
		return shell, nil, nil
	}
	// Login shell so brew paths from the user's profile are present.
	term := "xterm"
	if _, err := os.Stat("/usr/share/terminfo/78/xterm-256color"); err == nil {
		term = "xterm-256color"
	}
	return shell, []string{"-l"}, []string{"TERM=" + term}
}
