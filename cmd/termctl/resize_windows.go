//go:build windows

package main

// Windows consoles have no SIGWINCH; the size set at open is kept.
func watchResize(func()) (stop func()) {
	return func() {}
}
