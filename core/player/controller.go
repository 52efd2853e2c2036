package player

import (
	"context"
	"errors"
	"time"

	"resona/core/engine"
	"resona/core/queue"
	"resona/logger"
	"resona/model"
	"resona/resolver"
)

// State is the controller's coarse phase. Blocked and PermissionDenied both
// need an explicit user action to leave.
type State string

const (
	StateIdle             State = "idle"
	StateLoading          State = "loading"
	StateReady            State = "ready"
	StateBlocked          State = "blocked"
	StatePermissionDenied State = "permission_denied"
)

// resumeTailSeconds keeps a resume position from landing inside the final
// stretch of a track, which would immediately re-trigger end-of-track.
const resumeTailSeconds = 10.0

const defaultTick = 100 * time.Millisecond

// Engine is the transport surface the controller drives. *engine.Engine
// implements it; tests substitute a fake.
type Engine interface {
	Init() error
	Unlock()
	SetSource(*engine.Source)
	Play() error
	Pause()
	Stop()
	Replay() error
	Seek(seconds float64)
	CurrentTime() float64
	Duration() (float64, bool)
	Ended() bool
	SetVolume(float64)
	SetBandGain(band int, gainDB float64) error
}

// Resolver resolves a track to a playable source.
type Resolver interface {
	Resolve(ctx context.Context, tr model.Track) (*engine.Source, error)
}

// Sessions persists playback sessions and resume progress.
type Sessions interface {
	Save(model.PlaybackSession)
	Flush()
	Load(ctx context.Context) *model.PlaybackSession
	SaveProgress(ctx context.Context, trackID string, seconds float64) error
	ConsumeProgress(ctx context.Context, trackID string) (float64, bool)
}

// Catalog resolves persisted track ids back to tracks for session restore.
type Catalog interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.Track, error)
}

// History records successful loads. Optional.
type History interface {
	Record(trackID, title string) error
}

// Notifier receives now-playing pushes for the platform media integration.
// Optional; a nil notifier degrades silently.
type Notifier interface {
	Publish(NowPlaying)
}

// NowPlaying is the published snapshot of playback state.
type NowPlaying struct {
	State       State            `json:"state"`
	Track       *model.Track     `json:"track,omitempty"`
	Index       int              `json:"index"`
	Position    float64          `json:"position"`
	Duration    float64          `json:"duration"`
	Playing     bool             `json:"playing"`
	Shuffled    bool             `json:"shuffled"`
	RepeatMode  model.RepeatMode `json:"repeatMode"`
	QueueTitle  string           `json:"queueTitle"`
	QueueLength int              `json:"queueLength"`
}

// Controller is the orchestrator tying queue, engine, resolver and session
// store together. All mutable state is owned by a single event-loop
// goroutine; public operations post closures into that loop, which gives the
// single-writer discipline the design requires. Asynchronous source
// resolutions carry a monotonically increasing token and results whose token
// is no longer current are discarded, so at most the latest load ever
// touches the engine.
type Controller struct {
	queue    *queue.Queue
	engine   Engine
	resolver Resolver
	sessions Sessions
	catalog  Catalog
	history  History
	notifier Notifier

	tick time.Duration
	cmds chan func()
	done chan struct{}

	// Everything below is loop-owned.
	state             State
	wantPlaying       bool
	token             uint64
	position          float64
	blockedTrack      *model.Track // set while in StatePermissionDenied
	unavailableLogged bool
}

// Option configures a controller.
type Option func(*Controller)

// WithCatalog wires the catalog used for session restore.
func WithCatalog(c Catalog) Option { return func(ctl *Controller) { ctl.catalog = c } }

// WithHistory wires play-history recording.
func WithHistory(h History) Option { return func(ctl *Controller) { ctl.history = h } }

// WithNotifier wires the media-integration push target.
func WithNotifier(n Notifier) Option { return func(ctl *Controller) { ctl.notifier = n } }

// WithTickInterval overrides the time-sync poll cadence.
func WithTickInterval(d time.Duration) Option { return func(ctl *Controller) { ctl.tick = d } }

// New builds a controller. Call Start to begin processing.
func New(eng Engine, res Resolver, sessions Sessions, opts ...Option) *Controller {
	c := &Controller{
		queue:    queue.New(),
		engine:   eng,
		resolver: res,
		sessions: sessions,
		tick:     defaultTick,
		cmds:     make(chan func(), 64),
		done:     make(chan struct{}),
		state:    StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start launches the event loop and the time-sync ticker.
func (c *Controller) Start() {
	go c.run()
}

func (c *Controller) run() {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.cmds:
			fn()
		case <-ticker.C:
			c.onTick()
		}
	}
}

// Close saves progress and the final session snapshot, stops the engine and
// shuts the loop down.
func (c *Controller) Close() {
	c.do(func() {
		if tr, ok := c.queue.Current(); ok && c.position > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.sessions.SaveProgress(ctx, tr.ID, c.position); err != nil {
				logger.Warn("failed to save progress on shutdown", logger.ErrorField(err))
			}
			cancel()
		}
		c.sessions.Save(c.queue.Snapshot(c.position))
		c.engine.Stop()
	})
	c.sessions.Flush()
	close(c.done)
}

// do posts fn to the loop and waits for it to run.
func (c *Controller) do(fn func()) {
	ran := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(ran) }:
	case <-c.done:
		return
	}
	select {
	case <-ran:
	case <-c.done:
	}
}

// post queues fn without waiting. Used by resolution goroutines.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

// Snapshot returns the latest published playback state.
func (c *Controller) Snapshot() NowPlaying {
	var np NowPlaying
	c.do(func() { np = c.nowPlaying() })
	return np
}

// ---- public operations (user-initiated unless noted) ----

// ReplaceQueue swaps the whole queue, optionally starting playback at
// startIndex.
func (c *Controller) ReplaceQueue(tracks []model.Track, title string, startIndex int, autoplay bool) {
	c.do(func() {
		c.engine.Unlock()
		c.queue.Replace(tracks, title)
		c.queue.SetIndex(startIndex)
		c.wantPlaying = autoplay && c.queue.Index() >= 0
		c.markDirty()
		c.loadCurrent()
	})
}

// SetIndex jumps to a queue position and loads it.
func (c *Controller) SetIndex(i int) {
	c.do(func() {
		c.engine.Unlock()
		before := c.queue.Index()
		c.queue.SetIndex(i)
		if c.queue.Index() == before {
			return
		}
		c.markDirty()
		c.loadCurrent()
	})
}

// Play starts or resumes playback. This is the user gesture that lifts an
// autoplay block.
func (c *Controller) Play() {
	c.do(func() {
		c.engine.Unlock()
		switch c.state {
		case StateIdle:
			if c.queue.Len() == 0 {
				return
			}
			if c.queue.Index() < 0 {
				c.queue.SetIndex(0)
			}
			c.wantPlaying = true
			c.loadCurrent()
		case StateLoading:
			c.wantPlaying = true
		case StateReady, StateBlocked:
			c.wantPlaying = true
			c.state = StateReady
			c.startPlayback()
			c.publish()
		case StatePermissionDenied:
			// Needs Reauthorize; play alone cannot help.
		}
	})
}

// Pause pauses playback and records the interruption position.
func (c *Controller) Pause() {
	c.do(func() {
		c.wantPlaying = false
		c.engine.Pause()
		if tr, ok := c.queue.Current(); ok && c.position > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.sessions.SaveProgress(ctx, tr.ID, c.position); err != nil {
				logger.Warn("failed to save progress", logger.ErrorField(err))
			}
		}
		c.markDirty()
		c.publish()
	})
}

// Next skips forward.
func (c *Controller) Next() { c.skip(1) }

// Previous skips backward.
func (c *Controller) Previous() { c.skip(-1) }

func (c *Controller) skip(direction int) {
	c.do(func() {
		c.engine.Unlock()
		_, res := c.queue.Advance(direction)
		switch res {
		case queue.Advanced, queue.Wrapped:
			c.markDirty()
			c.loadCurrent()
		case queue.EndOfQueue:
			c.wantPlaying = false
			c.engine.Pause()
			c.publish()
		}
	})
}

// Seek jumps within the current track.
func (c *Controller) Seek(seconds float64) {
	c.do(func() {
		c.engine.Seek(seconds)
		c.position = c.engine.CurrentTime()
		c.publish()
	})
}

// SetVolume forwards to the engine.
func (c *Controller) SetVolume(v float64) {
	c.do(func() { c.engine.SetVolume(v) })
}

// SetBandGain forwards one equalizer band update to the engine.
func (c *Controller) SetBandGain(band int, gainDB float64) error {
	var err error
	c.do(func() { err = c.engine.SetBandGain(band, gainDB) })
	return err
}

// SetRepeatMode changes the repeat mode.
func (c *Controller) SetRepeatMode(m model.RepeatMode) {
	c.do(func() {
		c.queue.SetRepeatMode(m)
		c.markDirty()
		c.publish()
	})
}

// ToggleShuffle flips shuffle on or off.
func (c *Controller) ToggleShuffle() {
	c.do(func() {
		c.queue.ToggleShuffle()
		c.markDirty()
		c.publish()
	})
}

// InsertNext queues tracks right after the current one.
func (c *Controller) InsertNext(tracks []model.Track) {
	c.do(func() {
		c.queue.InsertNext(tracks)
		c.markDirty()
		c.publish()
	})
}

// InsertEnd appends tracks to the queue.
func (c *Controller) InsertEnd(tracks []model.Track) {
	c.do(func() {
		c.queue.InsertEnd(tracks)
		c.markDirty()
		c.publish()
	})
}

// Remove deletes a track from the queue. Removing the current track stops
// playback of it and advances to the track now occupying its slot, if any.
func (c *Controller) Remove(trackID string) {
	c.do(func() {
		removedIdx := -1
		for i, t := range c.queue.Tracks() {
			if t.ID == trackID {
				removedIdx = i
				break
			}
		}
		if removedCurrent := c.queue.Remove(trackID); removedCurrent {
			if c.queue.Len() == 0 {
				c.stopAll()
			} else {
				if removedIdx >= c.queue.Len() {
					removedIdx = c.queue.Len() - 1
				}
				c.queue.SetIndex(removedIdx)
				c.loadCurrent()
			}
		} else {
			c.publish()
		}
		c.markDirty()
	})
}

// Reorder moves a queue entry.
func (c *Controller) Reorder(from, to int) {
	c.do(func() {
		c.queue.Reorder(from, to)
		c.markDirty()
		c.publish()
	})
}

// Reauthorize retries the current track after the user re-granted access to
// its source handle. Only meaningful in StatePermissionDenied.
func (c *Controller) Reauthorize() {
	c.do(func() {
		if c.state != StatePermissionDenied {
			return
		}
		c.engine.Unlock()
		c.blockedTrack = nil
		c.loadCurrent()
	})
}

// OnTrackUpdated applies an external metadata edit. A matching queue entry
// is updated in place in both orderings; the current track is only reloaded
// when its locator changed, otherwise the edit is metadata-only and playback
// is untouched.
func (c *Controller) OnTrackUpdated(tr model.Track) {
	c.do(func() {
		cur, hasCur := c.queue.Current()

		updated := c.queue.UpdateByLocator(tr)
		if !updated {
			updated = c.queue.UpdateByID(tr)
		}
		if !updated {
			return
		}
		c.markDirty()

		if hasCur && cur.ID == tr.ID && !cur.Locator.Equal(tr.Locator) {
			// Same identity, new source: a reload is warranted.
			logger.Info("current track source changed, reloading", logger.String("track", tr.ID))
			c.loadCurrent()
			return
		}
		// Metadata-only: refresh displayed info, do not interrupt playback.
		c.publish()
	})
}

// Restore rebuilds the queue from the persisted session without starting
// playback. Ids missing from the catalog are dropped and the index clamped.
func (c *Controller) Restore(ctx context.Context) {
	if c.catalog == nil {
		return
	}
	sess := c.sessions.Load(ctx)
	if sess == nil || len(sess.OrderedTrackIDs) == 0 {
		return
	}
	tracks, err := c.catalog.GetByIDs(ctx, sess.OrderedTrackIDs)
	if err != nil {
		logger.Warn("session restore failed", logger.ErrorField(err))
		return
	}
	if len(tracks) == 0 {
		return
	}

	idx := restoredIndex(sess, tracks)
	c.do(func() {
		c.queue.Restore(tracks, sess.QueueTitle, idx, sess.Shuffled, sess.RepeatMode)
		c.wantPlaying = false
		if idx >= 0 {
			c.loadCurrent()
		} else {
			c.publish()
		}
	})
}

// restoredIndex recomputes the current index after unresolved ids were
// dropped: the previously-current id is located in the filtered list, and if
// it vanished the stored index is clamped.
func restoredIndex(sess *model.PlaybackSession, tracks []model.Track) int {
	var targetID string
	if sess.CurrentIndex >= 0 && sess.CurrentIndex < len(sess.OrderedTrackIDs) {
		targetID = sess.OrderedTrackIDs[sess.CurrentIndex]
	}
	if targetID == "" {
		return -1
	}
	for i, t := range tracks {
		if t.ID == targetID {
			return i
		}
	}
	idx := sess.CurrentIndex
	if idx >= len(tracks) {
		idx = len(tracks) - 1
	}
	if idx < 0 {
		idx = -1
	}
	return idx
}

// ---- loop internals ----

// loadCurrent kicks off an async resolution for the current track under a
// fresh token. Loop context only.
func (c *Controller) loadCurrent() {
	if err := c.engine.Init(); err != nil {
		if errors.Is(err, engine.ErrUnavailable) && !c.unavailableLogged {
			logger.Error("audio output unavailable, transport disabled", logger.ErrorField(err))
			c.unavailableLogged = true
		}
	}

	tr, ok := c.queue.Current()
	if !ok {
		c.stopAll()
		return
	}

	c.token++
	tok := c.token
	c.state = StateLoading
	c.position = 0
	c.publish()

	go func(track model.Track) {
		src, err := c.resolver.Resolve(context.Background(), track)
		c.post(func() { c.onResolved(tok, track, src, err) })
	}(tr)
}

// onResolved applies a finished resolution, unless a newer request has
// superseded it. This is the single mutation point the token rule protects.
func (c *Controller) onResolved(tok uint64, tr model.Track, src *engine.Source, err error) {
	if tok != c.token {
		// Stale result: release the handle, touch nothing.
		if src != nil {
			src.Close()
		}
		logger.Debug("discarded stale load result",
			logger.String("track", tr.ID),
			logger.Int64("token", int64(tok)),
			logger.Int64("latest", int64(c.token)))
		return
	}

	if err != nil {
		c.onResolveError(tr, err)
		return
	}

	c.engine.SetSource(src)
	c.state = StateReady
	c.position = 0

	// Resume a recorded interruption, but never into the final stretch.
	if dur, known := c.engine.Duration(); known {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if secs, ok := c.sessions.ConsumeProgress(ctx, tr.ID); ok && secs > 0 && secs < dur-resumeTailSeconds {
			c.engine.Seek(secs)
			c.position = secs
		}
		cancel()
	}

	if c.history != nil {
		go func() {
			if err := c.history.Record(tr.ID, tr.Title); err != nil {
				logger.Debug("failed to record play history", logger.ErrorField(err))
			}
		}()
	}

	if c.wantPlaying {
		c.startPlayback()
	}
	c.publish()
}

func (c *Controller) onResolveError(tr model.Track, err error) {
	switch {
	case errors.Is(err, resolver.ErrPermissionDenied):
		// Access revoked: park and wait for user re-authorization. No
		// automatic skipping.
		logger.Warn("source permission denied, waiting for re-authorization",
			logger.String("track", tr.ID), logger.ErrorField(err))
		c.state = StatePermissionDenied
		blocked := tr
		c.blockedTrack = &blocked
		c.wantPlaying = false
		c.engine.Pause()
	default:
		// Missing or undecodable: non-fatal, treat as end-of-track so the
		// queue keeps moving. Repeat-one is ignored here on purpose: looping
		// a broken track would wedge the player.
		logger.Warn("track source unreadable, skipping",
			logger.String("track", tr.ID), logger.ErrorField(err))
		if _, res := c.queue.Advance(1); res == queue.Advanced || res == queue.Wrapped {
			c.loadCurrent()
			return
		}
		c.wantPlaying = false
		c.state = StateIdle
	}
	c.publish()
}

func (c *Controller) startPlayback() {
	err := c.engine.Play()
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrBlocked):
		logger.Info("playback blocked by gesture policy, waiting for user play")
		c.state = StateBlocked
		c.wantPlaying = false
	case errors.Is(err, engine.ErrUnavailable):
		if !c.unavailableLogged {
			logger.Error("audio output unavailable, transport disabled", logger.ErrorField(err))
			c.unavailableLogged = true
		}
	default:
		logger.Warn("play failed", logger.ErrorField(err))
	}
}

// onTick is the time-sync poll: it refreshes the shared position and is the
// only place end-of-track is detected. It runs on a fixed cadence regardless
// of load state and tolerates a mid-swap engine.
func (c *Controller) onTick() {
	if c.state != StateReady {
		return
	}
	c.position = c.engine.CurrentTime()
	if c.wantPlaying && c.engine.Ended() {
		c.onTrackEnded()
		return
	}
	c.publish()
}

func (c *Controller) onTrackEnded() {
	if c.queue.RepeatMode() == model.RepeatOne {
		if err := c.engine.Replay(); err != nil {
			logger.Warn("repeat-one replay failed", logger.ErrorField(err))
		}
		c.position = 0
		c.startPlayback()
		c.publish()
		return
	}

	_, res := c.queue.Advance(1)
	switch res {
	case queue.Advanced, queue.Wrapped:
		c.markDirty()
		c.loadCurrent()
	case queue.EndOfQueue:
		// Stop where we are; the index stays on the last track.
		c.wantPlaying = false
		c.engine.Pause()
		c.publish()
	}
}

func (c *Controller) stopAll() {
	c.engine.Stop()
	c.state = StateIdle
	c.wantPlaying = false
	c.position = 0
	c.publish()
}

// markDirty schedules a session snapshot; the store coalesces writes.
func (c *Controller) markDirty() {
	c.sessions.Save(c.queue.Snapshot(c.position))
}

func (c *Controller) nowPlaying() NowPlaying {
	np := NowPlaying{
		State:       c.state,
		Index:       c.queue.Index(),
		Position:    c.position,
		Playing:     c.wantPlaying && c.state == StateReady,
		Shuffled:    c.queue.Shuffled(),
		RepeatMode:  c.queue.RepeatMode(),
		QueueTitle:  c.queue.Title(),
		QueueLength: c.queue.Len(),
	}
	if tr, ok := c.queue.Current(); ok {
		np.Track = &tr
	} else if c.blockedTrack != nil {
		np.Track = c.blockedTrack
	}
	if dur, ok := c.engine.Duration(); ok {
		np.Duration = dur
	} else if np.Track != nil {
		np.Duration = np.Track.Duration
	}
	return np
}

// publish pushes the current snapshot to the notifier, if any.
func (c *Controller) publish() {
	if c.notifier == nil {
		return
	}
	c.notifier.Publish(c.nowPlaying())
}

// Queue returns a copy of the active ordering for display.
func (c *Controller) Queue() []model.Track {
	var out []model.Track
	c.do(func() { out = c.queue.Tracks() })
	return out
}
