package audio

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateLevelsEmpty(t *testing.T) {
	levels := CalculateLevels(&LevelData{})
	assert.Equal(t, MinDB, levels.RMS)
	assert.Equal(t, MinDB, levels.Peak)
}

func TestCalculateLevelsFullScale(t *testing.T) {
	var data LevelData
	ProcessSamples(pcm16([]float64{1, -1, 1, -1}), 1, &data)

	levels := CalculateLevels(&data)
	assert.InDelta(t, 0, levels.RMS, 0.01)
	assert.InDelta(t, 0, levels.Peak, 0.01)
	assert.Equal(t, 4, levels.Clipped)
}

func TestProcessSamplesCountsEveryChannel(t *testing.T) {
	var data LevelData
	ProcessSamples(make([]byte, 8), 2, &data)
	assert.Equal(t, 4, data.SampleCount)

	data.Reset()
	assert.Zero(t, data.SampleCount)
}

func TestLevelMeterUpdatesEvery100ms(t *testing.T) {
	now := time.Unix(0, 0)
	format := Format{SampleRate: 1000, Channels: 1}
	meter := NewLevelMeter(format, func() time.Time { return now })

	half := make([]float64, 50)
	for i := range half {
		half[i] = 0.5
	}
	meter.Write(pcm16(half))
	assert.Equal(t, MinDB, meter.Levels().RMS, "no reading before 100ms of audio")

	meter.Write(pcm16(half))
	levels := meter.Levels()
	assert.InDelta(t, -6.02, levels.RMS, 0.1)
	assert.InDelta(t, -6.02, levels.Peak, 0.1)
}

func TestPeakHolderHoldsThenDecays(t *testing.T) {
	p := NewPeakHolder()
	start := time.Unix(0, 0)

	assert.Equal(t, -3.0, p.Update(-3, start))
	assert.Equal(t, -3.0, p.Update(-20, start.Add(time.Second)))
	assert.Equal(t, -20.0, p.Update(-20, start.Add(2*time.Second)))

	p.Reset()
	assert.Equal(t, -50.0, p.Update(-50, start))
}

func TestParseDeviceOutputSections(t *testing.T) {
	output := `[AVFoundation indev @ 0x1] AVFoundation video devices:
[AVFoundation indev @ 0x1] [0] FaceTime HD Camera
[AVFoundation indev @ 0x1] AVFoundation audio devices:
[AVFoundation indev @ 0x1] [0] MacBook Pro Microphone
[AVFoundation indev @ 0x1] [1] USB Audio CODEC`

	cfg := &DeviceListConfig{
		AudioStartMarker: "AVFoundation audio devices:",
		AudioStopMarker:  "AVFoundation video devices:",
		DevicePattern:    regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`),
		ParseDevice: func(m []string) *Device {
			return &Device{ID: ":" + m[1], Name: m[2]}
		},
	}

	devices := parseDeviceOutput(output, cfg)
	require.Len(t, devices, 2)
	assert.Equal(t, Device{ID: ":0", Name: "MacBook Pro Microphone"}, devices[0])
	assert.Equal(t, Device{ID: ":1", Name: "USB Audio CODEC"}, devices[1])
}

func TestParseDeviceOutputFallback(t *testing.T) {
	fallback := []Device{{ID: "default", Name: "System default"}}
	cfg := &DeviceListConfig{
		DevicePattern:   regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`),
		ParseDevice:     func(m []string) *Device { return &Device{ID: m[2], Name: m[3]} },
		FallbackDevices: fallback,
	}

	assert.Equal(t, fallback, parseDeviceOutput("arecord: no soundcards found", cfg))
}
