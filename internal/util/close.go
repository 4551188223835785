package util

import (
	"io"
	"log/slog"
)

// SafeCloseFunc returns a function that closes c and logs any failure.
func SafeCloseFunc(c io.Closer, name string) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close", "resource", name, "error", err)
		}
	}
}
