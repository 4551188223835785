package util

import (
	"fmt"
	"strings"
)

// maxErrorLineLength is the maximum length for extracted error messages.
const maxErrorLineLength = 200

// trailerLines are closing lines capture tools print after the real cause.
var trailerLines = []string{
	"Conversion failed!",
	"Exiting normally, received signal 2.",
}

// WrapError wraps an error with a descriptive operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// ExtractLastError returns the last stderr line that explains a failure,
// skipping generic trailers so "Device or resource busy" wins over
// "Conversion failed!".
func ExtractLastError(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || isTrailer(line) {
			continue
		}
		if len(line) > maxErrorLineLength {
			return line[:maxErrorLineLength] + "..."
		}
		return line
	}
	return ""
}

func isTrailer(line string) bool {
	for _, t := range trailerLines {
		if strings.HasPrefix(line, t) {
			return true
		}
	}
	return false
}
