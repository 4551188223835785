package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLastErrorSkipsTrailers(t *testing.T) {
	stderr := "Input #0, alsa, from 'hw:1,0':\n" +
		"[alsa @ 0x1] cannot open audio device hw:1,0 (Device or resource busy)\n" +
		"Conversion failed!\n\n"

	assert.Equal(t, "[alsa @ 0x1] cannot open audio device hw:1,0 (Device or resource busy)", ExtractLastError(stderr))
	assert.Empty(t, ExtractLastError("Conversion failed!\n"))
	assert.Empty(t, ExtractLastError(""))
}

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second)

	got := []time.Duration{b.Next(), b.Next(), b.Next(), b.Next()}

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}, got)
}

func TestGenerateBrandCSS(t *testing.T) {
	css := GenerateBrandCSS("#E6007E", "#336699")

	assert.Contains(t, css, "--brand:#E6007E")
	assert.Contains(t, css, "--brand-ring:rgba(230,0,126,0.35)")
	assert.Contains(t, css, "--brand:#336699")
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "00:00", FormatClock(0))
	assert.Equal(t, "01:05", FormatClock(65))
}

func TestCheckPathWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")

	require.NoError(t, CheckPathWritable(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "test file is removed")
}

func TestValidatePathRejectsTraversal(t *testing.T) {
	assert.Error(t, ValidatePath("temp_dir", "../spool"))
	assert.NoError(t, ValidatePath("temp_dir", "/var/spool/voicedesk"))
}
