package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"

	"resona/logger"
)

var (
	// ErrUnavailable means the platform has no usable audio output. It is
	// permanent for the process; transport calls become no-ops.
	ErrUnavailable = errors.New("audio output unavailable")
	// ErrBlocked means playback may not start until a user gesture arrives.
	ErrBlocked = errors.New("playback blocked until user gesture")
)

// Config tunes the engine.
type Config struct {
	SampleRate int // output sample rate, default 44100
	// BufferMillis is the speaker buffer length.
	BufferMillis int
	// RequireGesture keeps the engine muted-blocked until Unlock is called
	// from a user-initiated flow, mirroring platform autoplay policies.
	RequireGesture bool
}

// Engine owns the single hardware playback resource and its fixed processing
// chain: source -> band filters -> analyser -> output gain. It knows nothing
// about queues or tracks. One instance per process, built at startup and
// injected into the controller.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	initialized bool
	unavailable bool
	unlocked    bool

	sampleRate beep.SampleRate
	mixer      *beep.Mixer
	eq         *equalizer
	analyser   *analyser
	master     *effects.Gain

	ctrl    *beep.Ctrl
	stream  beep.StreamSeekCloser
	format  beep.Format
	drained atomic.Bool
	playing bool
	volume  float64
}

// New creates an engine; the processing graph is built lazily by Init.
func New(cfg Config) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.BufferMillis <= 0 {
		cfg.BufferMillis = 100
	}
	return &Engine{cfg: cfg, sampleRate: beep.SampleRate(cfg.SampleRate), volume: 1}
}

// Init lazily builds the processing chain and opens the speaker. It is
// idempotent: a second call on a built engine is a no-op. If the platform
// denies audio output the engine reports ErrUnavailable once and every
// later transport call is inert.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}
	if e.unavailable {
		return ErrUnavailable
	}

	e.mixer = &beep.Mixer{}
	e.eq = newEqualizer(e.mixer, float64(e.sampleRate))
	e.analyser = newAnalyser(e.eq, float64(e.sampleRate))
	e.master = &effects.Gain{Streamer: e.analyser, Gain: PerceptualGain(e.volume) - 1}

	buffer := e.sampleRate.N(time.Duration(e.cfg.BufferMillis) * time.Millisecond)
	if err := speaker.Init(e.sampleRate, buffer); err != nil {
		e.unavailable = true
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	speaker.Play(e.master)

	e.unlocked = !e.cfg.RequireGesture
	e.initialized = true
	logger.Info("audio engine initialized",
		logger.Int("sampleRate", int(e.sampleRate)),
		logger.Int("bufferMillis", e.cfg.BufferMillis))
	return nil
}

// Ready reports whether the engine can accept transport calls.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized && !e.unavailable
}

// Unlock records that a user gesture happened, lifting the autoplay block.
func (e *Engine) Unlock() {
	e.mu.Lock()
	e.unlocked = true
	e.mu.Unlock()
}

// SetSource replaces the currently loaded source. The previous source is
// closed. Playback does not start automatically.
func (e *Engine) SetSource(src *Source) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.unavailable {
		src.Close()
		return
	}

	speaker.Lock()
	if e.stream != nil {
		e.stream.Close()
	}
	e.mixer.Clear()

	e.stream = src.Streamer
	e.format = src.Format
	e.drained.Store(false)
	e.playing = false
	e.attachLocked()
	speaker.Unlock()
}

// attachLocked rebuilds the ctrl+sequence mixer entry for the current
// stream. Caller holds e.mu and the speaker lock.
func (e *Engine) attachLocked() {
	var s beep.Streamer = e.stream
	if e.format.SampleRate != e.sampleRate {
		s = beep.Resample(4, e.format.SampleRate, e.sampleRate, s)
	}
	e.ctrl = &beep.Ctrl{Streamer: s, Paused: true}
	e.mixer.Add(beep.Seq(e.ctrl, beep.Callback(func() {
		e.drained.Store(true)
	})))
}

// Play resumes or starts playback. Before Init it is inert. While the
// gesture lock is held it fails with ErrBlocked and is not retried here.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.unavailable || e.ctrl == nil {
		return nil
	}
	if !e.unlocked {
		return ErrBlocked
	}
	speaker.Lock()
	e.ctrl.Paused = false
	speaker.Unlock()
	e.playing = true
	return nil
}

// Pause pauses playback; redundant calls are fine.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.unavailable || e.ctrl == nil {
		return
	}
	speaker.Lock()
	e.ctrl.Paused = true
	speaker.Unlock()
	e.playing = false
}

// Stop pauses and releases the current source.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.unavailable {
		return
	}
	speaker.Lock()
	if e.stream != nil {
		e.stream.Close()
		e.stream = nil
	}
	e.mixer.Clear()
	e.ctrl = nil
	speaker.Unlock()
	e.playing = false
	e.drained.Store(false)
}

// Replay rewinds the current source to the beginning and re-arms it. Used
// for repeat-one after the stream has drained.
func (e *Engine) Replay() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.unavailable || e.stream == nil {
		return nil
	}
	speaker.Lock()
	defer speaker.Unlock()
	if err := e.stream.Seek(0); err != nil {
		return fmt.Errorf("rewind: %w", err)
	}
	e.mixer.Clear()
	e.drained.Store(false)
	e.playing = false
	e.attachLocked()
	return nil
}

// Seek jumps to a position in seconds, clamped to [0, duration]. Seeking a
// source with unknown duration is a no-op.
func (e *Engine) Seek(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.unavailable || e.stream == nil {
		return
	}
	total := e.stream.Len()
	if total <= 0 {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	if limit := e.format.SampleRate.D(total).Seconds(); seconds > limit {
		seconds = limit
	}
	speaker.Lock()
	defer speaker.Unlock()
	target := e.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	if target >= total {
		target = total - 1
	}
	if err := e.stream.Seek(target); err != nil {
		logger.Warn("seek failed", logger.Float64("seconds", seconds), logger.ErrorField(err))
	}
}

// CurrentTime returns the playback position of the current source, seconds.
func (e *Engine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.unavailable || e.stream == nil {
		return 0
	}
	speaker.Lock()
	pos := e.stream.Position()
	speaker.Unlock()
	return e.format.SampleRate.D(pos).Seconds()
}

// Duration returns the total length of the current source in seconds. The
// second return is false while the duration is unknown.
func (e *Engine) Duration() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.unavailable || e.stream == nil {
		return 0, false
	}
	total := e.stream.Len()
	if total <= 0 {
		return 0, false
	}
	return e.format.SampleRate.D(total).Seconds(), true
}

// Ended reports whether the current source has played to completion.
func (e *Engine) Ended() bool { return e.drained.Load() }

// Playing reports whether the transport is un-paused.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// SetVolume sets the output volume from a UI-linear value in [0,1]. The
// value maps through a cubic curve so the slider feels perceptually linear.
func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.volume = v
	if !e.initialized || e.unavailable {
		return
	}
	speaker.Lock()
	e.master.Gain = PerceptualGain(v) - 1
	speaker.Unlock()
}

// Volume returns the UI-linear volume.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// PerceptualGain maps a UI-linear volume in [0,1] to the linear gain applied
// to the output.
func PerceptualGain(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v * v * v
}

// SetBandGain live-updates one equalizer band, dB in [-12, +12]. Takes
// effect on the flowing signal without rebuilding the graph. Inert before
// Init.
func (e *Engine) SetBandGain(band int, gainDB float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.unavailable {
		return nil
	}
	speaker.Lock()
	defer speaker.Unlock()
	return e.eq.SetGain(band, gainDB)
}

// BandGains returns the gains of all equalizer bands, dB.
func (e *Engine) BandGains() [NumBands]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.unavailable {
		return [NumBands]float64{}
	}
	speaker.Lock()
	defer speaker.Unlock()
	return e.eq.Gains()
}

// Spectrum returns a magnitude snapshot at the ten band frequencies.
func (e *Engine) Spectrum() [NumBands]float64 {
	e.mu.Lock()
	a := e.analyser
	e.mu.Unlock()
	if a == nil {
		return [NumBands]float64{}
	}
	return a.Spectrum()
}

// Close shuts the speaker down. Only called at process exit; the graph is
// never torn down mid-session.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.unavailable {
		return
	}
	speaker.Lock()
	if e.stream != nil {
		e.stream.Close()
		e.stream = nil
	}
	e.mixer.Clear()
	speaker.Unlock()
	speaker.Close()
	e.initialized = false
}
