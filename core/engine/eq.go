package engine

import (
	"fmt"
	"math"

	"github.com/gopxl/beep/v2"
)

// NumBands is the number of equalizer bands.
const NumBands = 10

// BandFrequencies are the fixed ISO center frequencies of the equalizer, Hz.
var BandFrequencies = [NumBands]float64{32, 63, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

const (
	// MinGainDB and MaxGainDB bound every band gain.
	MinGainDB = -12.0
	MaxGainDB = 12.0

	bandQ = 1.0
)

// equalizer is a chain of ten peaking filters wrapped around a source
// streamer. Gains are mutated under speaker.Lock by the engine, so Stream
// never observes a half-updated filter.
type equalizer struct {
	src        beep.Streamer
	sampleRate float64
	bands      [NumBands]*biquad
}

func newEqualizer(src beep.Streamer, sampleRate float64) *equalizer {
	eq := &equalizer{src: src, sampleRate: sampleRate}
	for i := range eq.bands {
		eq.bands[i] = &biquad{freq: BandFrequencies[i]}
	}
	return eq
}

// SetGain updates one band. A zero gain bypasses the band entirely so a flat
// equalizer is bit-transparent.
func (e *equalizer) SetGain(band int, gainDB float64) error {
	if band < 0 || band >= NumBands {
		return fmt.Errorf("equalizer band %d out of range", band)
	}
	if gainDB < MinGainDB {
		gainDB = MinGainDB
	}
	if gainDB > MaxGainDB {
		gainDB = MaxGainDB
	}
	e.bands[band].setGain(gainDB, e.sampleRate)
	return nil
}

// Gain returns the gain of one band in dB.
func (e *equalizer) Gain(band int) float64 {
	if band < 0 || band >= NumBands {
		return 0
	}
	return e.bands[band].gainDB
}

// Gains returns all band gains in dB.
func (e *equalizer) Gains() [NumBands]float64 {
	var out [NumBands]float64
	for i, b := range e.bands {
		out[i] = b.gainDB
	}
	return out
}

func (e *equalizer) Stream(samples [][2]float64) (int, bool) {
	n, ok := e.src.Stream(samples)
	for _, b := range e.bands {
		if b.enabled {
			b.process(samples[:n])
		}
	}
	return n, ok
}

func (e *equalizer) Err() error { return e.src.Err() }

// biquad is one peaking-EQ second-order section (RBJ audio EQ cookbook),
// with independent filter state per stereo channel.
type biquad struct {
	enabled            bool
	gainDB             float64
	freq               float64
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     [2]float64
}

func (f *biquad) setGain(gainDB, sampleRate float64) {
	f.gainDB = gainDB
	if gainDB == 0 {
		f.enabled = false
		f.x1, f.x2, f.y1, f.y2 = [2]float64{}, [2]float64{}, [2]float64{}, [2]float64{}
		return
	}

	amp := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * f.freq / sampleRate
	alpha := math.Sin(w0) / (2 * bandQ)
	cosW0 := math.Cos(w0)

	b0 := 1 + alpha*amp
	b1 := -2 * cosW0
	b2 := 1 - alpha*amp
	a0 := 1 + alpha/amp
	a1 := -2 * cosW0
	a2 := 1 - alpha/amp

	f.b0 = b0 / a0
	f.b1 = b1 / a0
	f.b2 = b2 / a0
	f.a1 = a1 / a0
	f.a2 = a2 / a0
	f.enabled = true
}

func (f *biquad) process(samples [][2]float64) {
	for i := range samples {
		for ch := 0; ch < 2; ch++ {
			x := samples[i][ch]
			y := f.b0*x + f.b1*f.x1[ch] + f.b2*f.x2[ch] - f.a1*f.y1[ch] - f.a2*f.y2[ch]
			f.x2[ch] = f.x1[ch]
			f.x1[ch] = x
			f.y2[ch] = f.y1[ch]
			f.y1[ch] = y
			samples[i][ch] = y
		}
	}
}
