// Package cmdutil holds the shutdown-signal wiring shared by all three
// service binaries (spec.md §0 ambient stack: "every service reuses this
// exact shutdown shape").
//
// Grounded verbatim in spirit on the teacher's cmd/server/signals.go /
// signals_unix.go build-tagged SIGTERM wiring, lifted out of cmd/server so
// all three binaries (registry, nameservice, dataservice) share one copy
// instead of three.
package cmdutil

import "os"

// ShutdownSignals lists the OS signals that trigger graceful shutdown.
// os.Interrupt (SIGINT / Ctrl-C) is the portable baseline available on every
// OS; SIGTERM is appended by signals_unix.go on non-Windows platforms.
var ShutdownSignals = []os.Signal{os.Interrupt}
