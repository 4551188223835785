package util

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// IsConfigured reports whether all provided values are non-empty.
func IsConfigured(values ...string) bool {
	for _, v := range values {
		if v == "" {
			return false
		}
	}
	return true
}

// ValidatePath validates a file path for security.
func ValidatePath(field, path string) error {
	if path == "" {
		return fmt.Errorf("%s: is required", field)
	}

	// Reject path traversal attempts before cleaning
	// This catches both explicit "../" and encoded variants
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s: path cannot contain '..'", field)
	}

	// Clean the path to normalize it
	cleaned := filepath.Clean(path)

	// After cleaning, verify no traversal components remain
	// (filepath.Clean converts "a/../b" to "b", but we already rejected "..")
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("%s: invalid path", field)
	}

	return nil
}

// CheckPathWritable creates dir if needed and verifies a clip can be
// spooled there.
func CheckPathWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapError("create directory", err)
	}

	f, err := os.CreateTemp(dir, ".voicedesk-write-test-*")
	if err != nil {
		return WrapError("create test file", err)
	}
	name := f.Name()
	defer func() {
		if err := os.Remove(name); err != nil {
			slog.Warn("failed to remove write test file", "path", name, "error", err)
		}
	}()

	// One second of 48 kHz mono PCM, the size of a spool write.
	if _, err := f.Write(make([]byte, 96000)); err != nil {
		_ = f.Close() //nolint:errcheck // Write error takes precedence
		return WrapError("write test file", err)
	}
	return WrapError("close test file", f.Close())
}
