//go:build !windows

package cmdutil

import "syscall"

func init() {
	// SIGTERM is the standard graceful-shutdown signal on Linux/macOS. It is
	// not wired to the Windows job-object model, so it is only registered
	// here.
	ShutdownSignals = append(ShutdownSignals, syscall.SIGTERM)
}
