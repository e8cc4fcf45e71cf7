//go:build windows

package terminal

import (
	"os"
	"os/exec"
)

var shellCandidates = []string{
	"pwsh.exe",
	`C:\Program Files\PowerShell\7\pwsh.exe`,
	"powershell.exe",
}

// DefaultShell returns the command, arguments and extra environment for the
// platform's interactive shell.
func DefaultShell() (string, []string, []string) {
	for _, candidate := range shellCandidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, []string{"-NoLogo"}, nil
		}
	}
	if comspec := os.Getenv("COMSPEC"); comspec != "" {
		return comspec, nil, nil
	}
	return "cmd.exe", nil, nil
}
