//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

func watchResize(fn func()) (stop func()) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGWINCH)
	go func() {
		for range sigCh {
			fn()
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(sigCh)
	}
}
