//go:build !windows

package lifecycle

import (
	"os"
	"syscall"
)

// SIGUSR2 is the restart signal sent by file-watching supervisors.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGUSR2}
