// Package vad decides whether someone is speaking from a smoothed frequency spectrum.
package vad

import (
	"time"

	"github.com/oszuidwest/zwfm-voicedesk/internal/schedule"
)

// Hysteresis thresholds on mean byte energy (0..255).
const (
	EnterThreshold = 15.0
	StayThreshold  = 12.0
)

// FrameInterval is the sampling cadence, one sample per display frame.
const FrameInterval = time.Second / 60

// Ring widths in pixels for the record button's activity ring.
const (
	baseRingWidth    = 4.0
	ringEnergyDivide = 25.0
)

// Signal is one voice-activity reading.
type Signal struct {
	Energy float64 `json:"energy"`
	Active bool    `json:"active"`
}

// RingWidth returns the activity ring width in pixels for s.
func (s Signal) RingWidth() float64 {
	if !s.Active {
		return baseRingWidth
	}
	return baseRingWidth + s.Energy/ringEnergyDivide
}

// Detector applies enter/stay hysteresis to energy readings.
// The zero value starts inactive. It is not safe for concurrent use.
type Detector struct {
	active bool
}

// Update folds one energy reading into the detector and returns the signal.
func (d *Detector) Update(energy float64) Signal {
	threshold := EnterThreshold
	if d.active {
		threshold = StayThreshold
	}
	d.active = energy > threshold
	return Signal{Energy: energy, Active: d.active}
}

// Energy returns the arithmetic mean of byte magnitudes.
func Energy(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins))
}

// FrequencySource provides byte-scaled spectra.
type FrequencySource interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte)
}

// Start samples src once per frame and hands each signal to publish until
// the returned task is cancelled.
func Start(clock schedule.Clock, src FrequencySource, publish func(Signal)) *schedule.Task {
	var det Detector
	bins := make([]byte, src.FrequencyBinCount())
	return schedule.Every(clock, "vad", FrameInterval, func() {
		src.ByteFrequencyData(bins)
		publish(det.Update(Energy(bins)))
	})
}
