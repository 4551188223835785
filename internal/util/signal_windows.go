//go:build windows

package util

import (
	"os"
)

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal is a no-op on Windows, which cannot deliver SIGINT to a
// child process. Callers fall back to closing stdin and the exec WaitDelay.
func GracefulSignal(p *os.Process) error {
	return nil
}
