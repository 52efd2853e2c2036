package engine

import (
	"math"
	"sync"

	"github.com/gopxl/beep/v2"
)

// analyserWindow is the number of mono samples kept for spectrum snapshots.
const analyserWindow = 2048

// analyser is a pass-through tap that keeps a ring of recent samples and
// computes per-band magnitudes on demand, so reading the spectrum never
// touches the playback path.
type analyser struct {
	src        beep.Streamer
	sampleRate float64

	mu     sync.Mutex
	ring   [analyserWindow]float64
	pos    int
	filled bool
}

func newAnalyser(src beep.Streamer, sampleRate float64) *analyser {
	return &analyser{src: src, sampleRate: sampleRate}
}

func (a *analyser) Stream(samples [][2]float64) (int, bool) {
	n, ok := a.src.Stream(samples)
	a.mu.Lock()
	for i := 0; i < n; i++ {
		a.ring[a.pos] = (samples[i][0] + samples[i][1]) / 2
		a.pos++
		if a.pos == analyserWindow {
			a.pos = 0
			a.filled = true
		}
	}
	a.mu.Unlock()
	return n, ok
}

func (a *analyser) Err() error { return a.src.Err() }

// Spectrum returns the magnitude of the signal at each equalizer center
// frequency, computed with the Goertzel algorithm over the most recent
// window. Magnitudes are normalized so a full-scale sine at a band center
// reads close to 1.
func (a *analyser) Spectrum() [NumBands]float64 {
	a.mu.Lock()
	var window [analyserWindow]float64
	n := a.pos
	if a.filled {
		n = analyserWindow
		copy(window[:], a.ring[a.pos:])
		copy(window[analyserWindow-a.pos:], a.ring[:a.pos])
	} else {
		copy(window[:], a.ring[:a.pos])
	}
	a.mu.Unlock()

	var out [NumBands]float64
	if n == 0 {
		return out
	}
	for i, freq := range BandFrequencies {
		out[i] = goertzel(window[:n], freq, a.sampleRate)
	}
	return out
}

func goertzel(samples []float64, freq, sampleRate float64) float64 {
	w := 2 * math.Pi * freq / sampleRate
	coeff := 2 * math.Cos(w)
	var s1, s2 float64
	for _, x := range samples {
		s0 := x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return 2 * math.Sqrt(power) / float64(len(samples))
}
