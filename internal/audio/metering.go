// Package audio captures voice input and analyses it for metering and voice activity.
package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
	// ClipThreshold is slightly below max to catch near-clips.
	ClipThreshold int16 = 32760
	// levelWindow is how much audio one meter reading covers.
	levelWindow = 100 * time.Millisecond
)

// LevelData holds raw sample accumulator data for level calculation.
type LevelData struct {
	SumSquares  float64
	Peak        float64
	ClipCount   int
	SampleCount int
}

// ProcessSamples accumulates level data from S16LE PCM, mixing all channels together.
func ProcessSamples(buf []byte, channels int, data *LevelData) {
	frame := channels * BytesPerSample
	for i := 0; i+frame <= len(buf); i += frame {
		for ch := range channels {
			sample := int16(binary.LittleEndian.Uint16(buf[i+ch*BytesPerSample:]))
			v := float64(sample)

			data.SumSquares += v * v
			if abs := math.Abs(v); abs > data.Peak {
				data.Peak = abs
			}
			if sample >= ClipThreshold || sample <= -ClipThreshold {
				data.ClipCount++
			}
			data.SampleCount++
		}
	}
}

// Levels contains calculated audio levels in dB.
type Levels struct {
	RMS     float64
	Peak    float64
	Clipped int
}

// CalculateLevels computes RMS and peak levels from accumulated sample data.
func CalculateLevels(data *LevelData) Levels {
	if data.SampleCount == 0 {
		return Levels{RMS: MinDB, Peak: MinDB}
	}

	rms := math.Sqrt(data.SumSquares / float64(data.SampleCount))

	// Convert to dB (reference: MaxSampleValue for 16-bit audio)
	rmsDB := 20 * math.Log10(rms/MaxSampleValue)
	peakDB := 20 * math.Log10(data.Peak/MaxSampleValue)

	return Levels{
		RMS:     max(rmsDB, MinDB),
		Peak:    max(peakDB, MinDB),
		Clipped: data.ClipCount,
	}
}

// Reset resets accumulators for the next measurement period.
func (d *LevelData) Reset() {
	*d = LevelData{}
}

// LevelMeter turns a PCM stream into periodic meter readings with peak hold.
// It is safe for concurrent use.
type LevelMeter struct {
	mu        sync.Mutex
	format    Format
	data      LevelData
	perUpdate int
	holder    *PeakHolder
	current   MeterLevels
	now       func() time.Time
}

// NewLevelMeter returns a meter producing one reading per 100ms of audio.
func NewLevelMeter(format Format, now func() time.Time) *LevelMeter {
	return &LevelMeter{
		format:    format,
		perUpdate: int(float64(format.SampleRate*format.Channels) * levelWindow.Seconds()),
		holder:    NewPeakHolder(),
		current:   MeterLevels{RMS: MinDB, Peak: MinDB},
		now:       now,
	}
}

// Write feeds PCM into the meter.
func (m *LevelMeter) Write(pcm []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ProcessSamples(pcm, m.format.Channels, &m.data)
	if m.data.SampleCount < m.perUpdate {
		return
	}

	levels := CalculateLevels(&m.data)
	m.current = MeterLevels{
		RMS:     levels.RMS,
		Peak:    m.holder.Update(levels.Peak, m.now()),
		Clipped: levels.Clipped,
	}
	m.data.Reset()
}

// Levels returns the latest reading.
func (m *LevelMeter) Levels() MeterLevels {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
