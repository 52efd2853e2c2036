package player

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"

	"resona/core/engine"
	"resona/model"
	"resona/resolver"
)

// ---- fakes ----

type fakeStreamer struct {
	mu     sync.Mutex
	length int
	pos    int
	closed bool
}

func (s *fakeStreamer) Stream(samples [][2]float64) (int, bool) { return len(samples), true }
func (s *fakeStreamer) Err() error                              { return nil }

func (s *fakeStreamer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

func (s *fakeStreamer) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *fakeStreamer) Seek(p int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = p
	return nil
}

func (s *fakeStreamer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStreamer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

const fakeRate = beep.SampleRate(44100)

func newSource(durationSeconds float64) *engine.Source {
	return &engine.Source{
		Streamer: &fakeStreamer{length: int(durationSeconds * float64(fakeRate))},
		Format:   beep.Format{SampleRate: fakeRate, NumChannels: 2, Precision: 2},
	}
}

// fakeEngine records transport calls. playErr, when set, is returned by the
// next Play call.
type fakeEngine struct {
	mu       sync.Mutex
	inited   bool
	unlocked bool
	playErr  error
	playing  bool
	pos      float64
	dur      float64
	ended    bool
	replays  int
	sources  []*engine.Source
	cur      *engine.Source
}

func (e *fakeEngine) Init() error { e.mu.Lock(); defer e.mu.Unlock(); e.inited = true; return nil }
func (e *fakeEngine) Unlock()     { e.mu.Lock(); defer e.mu.Unlock(); e.unlocked = true }

func (e *fakeEngine) SetSource(s *engine.Source) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources = append(e.sources, s)
	e.cur = s
	e.ended = false
	e.playing = false
	e.pos = 0
	e.dur = 0
	if s != nil && s.Streamer != nil {
		e.dur = float64(s.Streamer.Len()) / float64(fakeRate)
	}
}

func (e *fakeEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playErr != nil {
		return e.playErr
	}
	e.playing = true
	return nil
}

func (e *fakeEngine) Pause() { e.mu.Lock(); defer e.mu.Unlock(); e.playing = false }
func (e *fakeEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur != nil {
		e.cur.Close()
		e.cur = nil
	}
	e.playing = false
}

func (e *fakeEngine) Replay() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replays++
	e.ended = false
	e.pos = 0
	return nil
}

func (e *fakeEngine) Seek(s float64)    { e.mu.Lock(); defer e.mu.Unlock(); e.pos = s }
func (e *fakeEngine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

func (e *fakeEngine) Duration() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dur, e.dur > 0
}

func (e *fakeEngine) Ended() bool { e.mu.Lock(); defer e.mu.Unlock(); return e.ended }

func (e *fakeEngine) SetVolume(float64)             {}
func (e *fakeEngine) SetBandGain(int, float64) error { return nil }

func (e *fakeEngine) setEnded(v bool) { e.mu.Lock(); e.ended = v; e.mu.Unlock() }
func (e *fakeEngine) setPlayErr(err error) { e.mu.Lock(); e.playErr = err; e.mu.Unlock() }

func (e *fakeEngine) sourceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sources)
}

func (e *fakeEngine) lastSource() *engine.Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sources) == 0 {
		return nil
	}
	return e.sources[len(e.sources)-1]
}

func (e *fakeEngine) position() float64 { e.mu.Lock(); defer e.mu.Unlock(); return e.pos }

// fakeSessions is an in-memory Sessions.
type fakeSessions struct {
	mu       sync.Mutex
	saved    *model.PlaybackSession
	progress *model.ProgressEntry
}

func (s *fakeSessions) Save(sess model.PlaybackSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = &sess
}

func (s *fakeSessions) Flush() {}

func (s *fakeSessions) Load(context.Context) *model.PlaybackSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

func (s *fakeSessions) SaveProgress(_ context.Context, trackID string, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = &model.ProgressEntry{TrackID: trackID, PositionSeconds: seconds}
	return nil
}

func (s *fakeSessions) ConsumeProgress(_ context.Context, trackID string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil || s.progress.TrackID != trackID {
		return 0, false
	}
	secs := s.progress.PositionSeconds
	s.progress = nil
	return secs, true
}

func (s *fakeSessions) progressEntry() *model.ProgressEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

type resolveResult struct {
	src *engine.Source
	err error
}

type resolveReq struct {
	track model.Track
	reply chan resolveResult
}

// fakeResolver resolves instantly by default; with manual=true every call
// parks until the test answers it, which lets tests control completion order.
type fakeResolver struct {
	mu        sync.Mutex
	manual    bool
	reqs      chan resolveReq
	errs      map[string]error
	durations map[string]float64
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		reqs:      make(chan resolveReq, 16),
		errs:      map[string]error{},
		durations: map[string]float64{},
	}
}

func (r *fakeResolver) Resolve(_ context.Context, tr model.Track) (*engine.Source, error) {
	r.mu.Lock()
	manual := r.manual
	err := r.errs[tr.ID]
	dur, ok := r.durations[tr.ID]
	r.mu.Unlock()
	if manual {
		req := resolveReq{track: tr, reply: make(chan resolveResult)}
		r.reqs <- req
		res := <-req.reply
		return res.src, res.err
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		dur = 180
	}
	return newSource(dur), nil
}

func (r *fakeResolver) setErr(trackID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.errs, trackID)
	} else {
		r.errs[trackID] = err
	}
}

type fakeCatalog struct {
	tracks map[string]model.Track
}

func (c *fakeCatalog) GetByIDs(_ context.Context, ids []string) ([]model.Track, error) {
	var out []model.Track
	for _, id := range ids {
		if tr, ok := c.tracks[id]; ok {
			out = append(out, tr)
		}
	}
	return out, nil
}

// ---- helpers ----

func testTracks(ids ...string) []model.Track {
	out := make([]model.Track, len(ids))
	for i, id := range ids {
		out[i] = model.Track{
			ID:      id,
			Title:   "title " + id,
			Locator: model.SourceLocator{Kind: model.LocatorPath, Value: "/music/" + id + ".mp3"},
		}
	}
	return out
}

func newController(t *testing.T, eng Engine, res Resolver, sess Sessions, opts ...Option) *Controller {
	t.Helper()
	opts = append(opts, WithTickInterval(5*time.Millisecond))
	c := New(eng, res, sess, opts...)
	c.Start()
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ---- tests ----

func TestStaleLoadResultsDiscarded(t *testing.T) {
	eng := &fakeEngine{}
	res := newFakeResolver()
	res.manual = true
	c := newController(t, eng, res, &fakeSessions{})

	c.ReplaceQueue(testTracks("a", "b", "c"), "q", 0, false)
	c.SetIndex(1)
	c.SetIndex(2)

	// Three loads in flight, tokens t1 < t2 < t3.
	reqs := map[string]resolveReq{}
	for i := 0; i < 3; i++ {
		select {
		case req := <-res.reqs:
			reqs[req.track.ID] = req
		case <-time.After(2 * time.Second):
			t.Fatalf("resolver saw only %d requests", i)
		}
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, ok := reqs[id]; !ok {
			t.Fatalf("no resolve request for track %s", id)
		}
	}

	srcA, srcB, srcC := newSource(100), newSource(100), newSource(100)
	// Resolve out of order: t3 first, then t1, then t2.
	reqs["c"].reply <- resolveResult{src: srcC}
	waitFor(t, "latest source applied", func() bool { return eng.sourceCount() == 1 })
	reqs["a"].reply <- resolveResult{src: srcA}
	reqs["b"].reply <- resolveResult{src: srcB}

	waitFor(t, "stale sources released", func() bool {
		return srcA.Streamer.(*fakeStreamer).isClosed() && srcB.Streamer.(*fakeStreamer).isClosed()
	})

	// Only the result for t3 ever touched the engine.
	if n := eng.sourceCount(); n != 1 {
		t.Fatalf("engine received %d sources, want 1", n)
	}
	if eng.lastSource() != srcC {
		t.Error("engine holds a source other than the latest request's")
	}
	if srcC.Streamer.(*fakeStreamer).isClosed() {
		t.Error("winning source was closed")
	}
	if got := c.Snapshot(); got.Track == nil || got.Track.ID != "c" || got.State != StateReady {
		t.Errorf("snapshot = %+v, want ready on track c", got)
	}
}

func TestResumeConsumesStoredProgress(t *testing.T) {
	eng := &fakeEngine{}
	res := newFakeResolver()
	res.durations["a"] = 120
	sess := &fakeSessions{}
	sess.SaveProgress(context.Background(), "a", 50)

	c := newController(t, eng, res, sess)
	c.ReplaceQueue(testTracks("a"), "q", 0, true)

	waitFor(t, "resume seek", func() bool { return eng.position() == 50 })
	if sess.progressEntry() != nil {
		t.Error("progress entry not consumed after resume")
	}
	if got := c.Snapshot(); !got.Playing {
		t.Errorf("snapshot = %+v, want playing", got)
	}
}

func TestResumeSkipsFinalStretch(t *testing.T) {
	// A stored position inside the last 10 seconds would immediately fire
	// end-of-track; playback must start at zero instead.
	eng := &fakeEngine{}
	res := newFakeResolver()
	res.durations["a"] = 120
	sess := &fakeSessions{}
	sess.SaveProgress(context.Background(), "a", 115)

	c := newController(t, eng, res, sess)
	c.ReplaceQueue(testTracks("a"), "q", 0, true)

	waitFor(t, "track ready", func() bool { return c.Snapshot().State == StateReady })
	if pos := eng.position(); pos != 0 {
		t.Errorf("resumed to %v inside the final stretch, want 0", pos)
	}
}

func TestEndOfTrackRepeatOff(t *testing.T) {
	// [a,b,c] at index 2, repeat off, end-of-track -> index stays 2 and
	// playback stops.
	eng := &fakeEngine{}
	c := newController(t, eng, newFakeResolver(), &fakeSessions{})
	c.ReplaceQueue(testTracks("a", "b", "c"), "q", 2, true)
	waitFor(t, "playing", func() bool { return c.Snapshot().Playing })

	eng.setEnded(true)
	waitFor(t, "stopped at end of queue", func() bool {
		np := c.Snapshot()
		return !np.Playing && np.Index == 2
	})
}

func TestEndOfTrackRepeatAllWraps(t *testing.T) {
	// Repeat all, end-of-track at the last index -> wraps to 0 and keeps
	// playing.
	eng := &fakeEngine{}
	c := newController(t, eng, newFakeResolver(), &fakeSessions{})
	c.ReplaceQueue(testTracks("a", "b", "c"), "q", 2, true)
	c.SetRepeatMode(model.RepeatAll)
	waitFor(t, "playing", func() bool { return c.Snapshot().Playing })

	eng.setEnded(true)
	waitFor(t, "wrapped to first track", func() bool {
		np := c.Snapshot()
		return np.Playing && np.Index == 0 && np.Track != nil && np.Track.ID == "a"
	})
}

func TestEndOfTrackRepeatOneReplays(t *testing.T) {
	eng := &fakeEngine{}
	c := newController(t, eng, newFakeResolver(), &fakeSessions{})
	c.ReplaceQueue(testTracks("a", "b"), "q", 0, true)
	c.SetRepeatMode(model.RepeatOne)
	waitFor(t, "playing", func() bool { return c.Snapshot().Playing })

	before := eng.sourceCount()
	eng.setEnded(true)
	waitFor(t, "replay", func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return eng.replays >= 1
	})
	np := c.Snapshot()
	if np.Index != 0 {
		t.Errorf("repeat-one changed index to %d", np.Index)
	}
	if eng.sourceCount() != before {
		t.Error("repeat-one reloaded the source instead of replaying it")
	}
}

func TestPermissionDeniedParksWithoutSkipping(t *testing.T) {
	eng := &fakeEngine{}
	res := newFakeResolver()
	res.setErr("a", fmt.Errorf("handle h1: %w", resolver.ErrPermissionDenied))
	c := newController(t, eng, res, &fakeSessions{})

	c.ReplaceQueue(testTracks("a", "b"), "q", 0, true)
	waitFor(t, "permission denied state", func() bool {
		return c.Snapshot().State == StatePermissionDenied
	})

	np := c.Snapshot()
	if np.Index != 0 {
		t.Errorf("controller advanced past the blocked track: index %d", np.Index)
	}
	if np.Track == nil || np.Track.ID != "a" {
		t.Error("blocked track not surfaced for re-authorization")
	}

	// User re-grants access; Reauthorize retries the same track.
	res.setErr("a", nil)
	c.Reauthorize()
	waitFor(t, "recovered", func() bool {
		np := c.Snapshot()
		return np.State == StateReady && np.Track != nil && np.Track.ID == "a"
	})
}

func TestUnreadableSourceSkipsAsEndOfTrack(t *testing.T) {
	eng := &fakeEngine{}
	res := newFakeResolver()
	res.setErr("a", fmt.Errorf("decode: %w", resolver.ErrUnreadable))
	c := newController(t, eng, res, &fakeSessions{})

	c.ReplaceQueue(testTracks("a", "b"), "q", 0, true)
	waitFor(t, "skipped to next track", func() bool {
		np := c.Snapshot()
		return np.State == StateReady && np.Index == 1 && np.Playing
	})
}

func TestAutoplayBlockedFallsBackToPaused(t *testing.T) {
	eng := &fakeEngine{}
	eng.setPlayErr(engine.ErrBlocked)
	c := newController(t, eng, newFakeResolver(), &fakeSessions{})

	c.ReplaceQueue(testTracks("a"), "q", 0, true)
	waitFor(t, "blocked state", func() bool { return c.Snapshot().State == StateBlocked })
	if c.Snapshot().Playing {
		t.Error("playing while blocked")
	}

	// The explicit user play succeeds once the engine accepts it.
	eng.setPlayErr(nil)
	c.Play()
	waitFor(t, "playing after user play", func() bool {
		np := c.Snapshot()
		return np.State == StateReady && np.Playing
	})
}

func TestMetadataOnlyUpdateDoesNotReload(t *testing.T) {
	eng := &fakeEngine{}
	c := newController(t, eng, newFakeResolver(), &fakeSessions{})
	tracks := testTracks("a", "b")
	c.ReplaceQueue(tracks, "q", 0, true)
	waitFor(t, "playing", func() bool { return c.Snapshot().Playing })
	before := eng.sourceCount()

	edited := tracks[0]
	edited.Title = "remastered"
	edited.Genre = "idm"
	c.OnTrackUpdated(edited)

	np := c.Snapshot()
	if np.Track == nil || np.Track.Title != "remastered" {
		t.Errorf("displayed metadata not refreshed: %+v", np.Track)
	}
	if eng.sourceCount() != before {
		t.Error("metadata-only edit reloaded the source")
	}
	if !np.Playing {
		t.Error("metadata-only edit interrupted playback")
	}
}

func TestLocatorChangeReloads(t *testing.T) {
	eng := &fakeEngine{}
	c := newController(t, eng, newFakeResolver(), &fakeSessions{})
	tracks := testTracks("a")
	c.ReplaceQueue(tracks, "q", 0, true)
	waitFor(t, "playing", func() bool { return c.Snapshot().Playing })
	before := eng.sourceCount()

	moved := tracks[0]
	moved.Locator = model.SourceLocator{Kind: model.LocatorPath, Value: "/music/moved/a.mp3"}
	c.OnTrackUpdated(moved)

	waitFor(t, "reload", func() bool { return eng.sourceCount() == before+1 })
}

func TestRestoreDropsMissingIDsAndClampsIndex(t *testing.T) {
	all := testTracks("a", "b", "c", "d")
	cat := &fakeCatalog{tracks: map[string]model.Track{}}
	for _, tr := range all {
		if tr.ID == "c" {
			continue // c vanished from the catalog
		}
		cat.tracks[tr.ID] = tr
	}
	sess := &fakeSessions{}
	sess.Save(model.PlaybackSession{
		OrderedTrackIDs: []string{"a", "b", "c", "d"},
		CurrentIndex:    3, // d
		RepeatMode:      model.RepeatAll,
		Shuffled:        false,
		QueueTitle:      "restored",
	})

	eng := &fakeEngine{}
	c := newController(t, eng, newFakeResolver(), sess, WithCatalog(cat))
	c.Restore(context.Background())

	waitFor(t, "restored queue ready", func() bool { return c.Snapshot().State == StateReady })
	np := c.Snapshot()
	if np.QueueLength != 3 {
		t.Errorf("queue length = %d, want 3 after dropping c", np.QueueLength)
	}
	if np.Track == nil || np.Track.ID != "d" {
		t.Errorf("current after restore = %+v, want d", np.Track)
	}
	if np.Index != 2 {
		t.Errorf("index = %d, want 2 (d's position post-filter)", np.Index)
	}
	if np.Playing {
		t.Error("restore must not auto-start playback")
	}
	if np.RepeatMode != model.RepeatAll {
		t.Errorf("repeat mode = %v", np.RepeatMode)
	}
}

func TestRestoredIndexRecompute(t *testing.T) {
	mk := func(ids ...string) []model.Track { return testTracks(ids...) }
	cases := []struct {
		name   string
		stored []string
		index  int
		kept   []model.Track
		want   int
	}{
		{"current survives shifted", []string{"a", "b", "c"}, 2, mk("a", "c"), 1},
		{"current dropped clamps", []string{"a", "b", "c"}, 1, mk("a", "c"), 1},
		{"current dropped at end clamps", []string{"a", "b"}, 1, mk("a"), 0},
		{"no current", []string{"a", "b"}, -1, mk("a", "b"), -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := &model.PlaybackSession{OrderedTrackIDs: tc.stored, CurrentIndex: tc.index}
			if got := restoredIndex(sess, tc.kept); got != tc.want {
				t.Errorf("restoredIndex = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPauseRecordsInterruptionProgress(t *testing.T) {
	eng := &fakeEngine{}
	sess := &fakeSessions{}
	c := newController(t, eng, newFakeResolver(), sess)
	c.ReplaceQueue(testTracks("a"), "q", 0, true)
	waitFor(t, "playing", func() bool { return c.Snapshot().Playing })

	eng.Seek(33) // pretend 33s have played
	waitFor(t, "tick picked up position", func() bool { return c.Snapshot().Position == 33 })

	c.Pause()
	entry := sess.progressEntry()
	if entry == nil || entry.TrackID != "a" || entry.PositionSeconds != 33 {
		t.Errorf("progress entry = %+v, want track a at 33s", entry)
	}
}

func TestRemoveCurrentAdvancesIntoSlot(t *testing.T) {
	eng := &fakeEngine{}
	c := newController(t, eng, newFakeResolver(), &fakeSessions{})
	c.ReplaceQueue(testTracks("a", "b", "c"), "q", 1, true)
	waitFor(t, "playing b", func() bool {
		np := c.Snapshot()
		return np.Playing && np.Track != nil && np.Track.ID == "b"
	})

	c.Remove("b")
	waitFor(t, "slot successor loaded", func() bool {
		np := c.Snapshot()
		return np.State == StateReady && np.Track != nil && np.Track.ID == "c" && np.Index == 1
	})
}

func TestSkipPastEndStops(t *testing.T) {
	eng := &fakeEngine{}
	c := newController(t, eng, newFakeResolver(), &fakeSessions{})
	c.ReplaceQueue(testTracks("a", "b"), "q", 1, true)
	waitFor(t, "playing", func() bool { return c.Snapshot().Playing })

	c.Next()
	np := c.Snapshot()
	if np.Playing || np.Index != 1 {
		t.Errorf("skip past end: playing=%v index=%d, want stopped at 1", np.Playing, np.Index)
	}
}

func TestSessionSnapshotWrittenOnSettledChanges(t *testing.T) {
	eng := &fakeEngine{}
	sess := &fakeSessions{}
	c := newController(t, eng, newFakeResolver(), sess)
	c.ReplaceQueue(testTracks("a", "b", "c"), "q", 0, false)
	c.SetRepeatMode(model.RepeatAll)
	c.ToggleShuffle()

	waitFor(t, "session snapshot", func() bool {
		s := sess.Load(context.Background())
		return s != nil && s.Shuffled && s.RepeatMode == model.RepeatAll && len(s.OrderedTrackIDs) == 3
	})
}
