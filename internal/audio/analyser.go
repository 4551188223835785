package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Analyser defaults match a browser AnalyserNode.
const (
	DefaultFFTSize     = 256
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// Analyser is a frequency-domain tap on a PCM stream. It keeps the most
// recent FFTSize samples and, on request, produces smoothed per-bin
// magnitudes scaled to bytes, the same way a browser AnalyserNode does:
// Blackman window, |X[k]|/N, exponential smoothing, dB range mapped to 0..255.
// It is safe for concurrent use.
type Analyser struct {
	mu sync.Mutex

	channels  int
	fftSize   int
	smoothing float64
	minDB     float64
	maxDB     float64

	fft      *fourier.FFT
	window   []float64
	ring     []float64
	pos      int
	frame    []float64
	coeffs   []complex128
	smoothed []float64
}

// NewAnalyser creates an analyser over the given channel count.
// fftSize must be a power of two no smaller than 32.
func NewAnalyser(fftSize, channels int) (*Analyser, error) {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size %d is not a power of two >= 32", fftSize)
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	return &Analyser{
		channels:  channels,
		fftSize:   fftSize,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
		fft:       fourier.NewFFT(fftSize),
		window:    blackman(fftSize),
		ring:      make([]float64, fftSize),
		frame:     make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		smoothed:  make([]float64, fftSize/2),
	}, nil
}

// blackman returns the Blackman window with alpha 0.16.
func blackman(n int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

// FrequencyBinCount returns the number of bins, half the FFT size.
func (a *Analyser) FrequencyBinCount() int {
	return a.fftSize / 2
}

// Write feeds S16LE PCM into the analyser. Channels are averaged to mono.
func (a *Analyser) Write(pcm []byte) {
	frameBytes := a.channels * BytesPerSample

	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i+frameBytes <= len(pcm); i += frameBytes {
		var sum float64
		for ch := range a.channels {
			sum += float64(int16(binary.LittleEndian.Uint16(pcm[i+ch*BytesPerSample:])))
		}
		a.ring[a.pos] = sum / float64(a.channels) / MaxSampleValue
		a.pos = (a.pos + 1) % a.fftSize
	}
}

// ByteFrequencyData writes the current byte-scaled spectrum into dst,
// up to FrequencyBinCount entries. Each call advances the smoothing state.
func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Oldest sample first.
	for i := range a.frame {
		a.frame[i] = a.ring[(a.pos+i)%a.fftSize] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	scale := 255 / (a.maxDB - a.minDB)
	n := float64(a.fftSize)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) / n
		s := a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if math.IsNaN(s) || math.IsInf(s, 0) {
			s = 0
		}
		a.smoothed[k] = s

		if k >= len(dst) {
			continue
		}
		db := 20 * math.Log10(s)
		v := math.Floor(scale * (db - a.minDB))
		switch {
		case math.IsNaN(v) || v < 0:
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = byte(v)
		}
	}
}
