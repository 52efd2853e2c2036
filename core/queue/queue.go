package queue

import (
	"math/rand"
	"time"

	"resona/model"
)

// AdvanceResult tells the caller what Advance did at a queue boundary.
type AdvanceResult int

const (
	// Advanced means the index moved within bounds.
	Advanced AdvanceResult = iota
	// Wrapped means the index wrapped around because repeat-all is on.
	Wrapped
	// EndOfQueue means the index would leave the queue and repeat-all is off.
	EndOfQueue
)

// Queue holds two orderings of the same multiset of tracks: the active order
// (what plays next, possibly shuffled) and the canonical insertion order used
// to restore the un-shuffled sequence. Every structural mutation is applied
// to both. Queue does no I/O and is not safe for concurrent use; the playback
// controller is its single writer.
type Queue struct {
	title     string
	active    []model.Track
	canonical []model.Track
	current   int // index into active, -1 when nothing is current
	shuffled  bool
	repeat    model.RepeatMode
	rng       *rand.Rand
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		current: -1,
		repeat:  model.RepeatOff,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Replace swaps the whole queue contents, discarding any prior shuffle
// state. The current index is cleared; the caller decides where to start.
func (q *Queue) Replace(tracks []model.Track, title string) {
	q.active = append([]model.Track(nil), tracks...)
	q.canonical = append([]model.Track(nil), tracks...)
	q.title = title
	q.shuffled = false
	q.current = -1
}

// Restore rebuilds the queue from a persisted session. Both orderings are
// initialized to the stored order; the shuffle flag and repeat mode are
// carried over as-is.
func (q *Queue) Restore(tracks []model.Track, title string, index int, shuffled bool, repeat model.RepeatMode) {
	q.Replace(tracks, title)
	q.shuffled = shuffled
	if repeat != "" {
		q.repeat = repeat
	}
	q.SetIndex(index)
}

// SetIndex sets the current position. Out-of-range values clear the index
// rather than failing.
func (q *Queue) SetIndex(i int) {
	if i < 0 || i >= len(q.active) {
		q.current = -1
		return
	}
	q.current = i
}

// Index returns the current position in the active order, -1 if none.
func (q *Queue) Index() int { return q.current }

// Len returns the number of tracks in the queue.
func (q *Queue) Len() int { return len(q.active) }

// Title returns the display title of the queue.
func (q *Queue) Title() string { return q.title }

// Shuffled reports whether the active order is a shuffle of the canonical one.
func (q *Queue) Shuffled() bool { return q.shuffled }

// RepeatMode returns the current repeat mode.
func (q *Queue) RepeatMode() model.RepeatMode { return q.repeat }

// SetRepeatMode sets the repeat mode.
func (q *Queue) SetRepeatMode(m model.RepeatMode) { q.repeat = m }

// Current returns a copy of the current track, if any.
func (q *Queue) Current() (model.Track, bool) {
	if q.current < 0 || q.current >= len(q.active) {
		return model.Track{}, false
	}
	return q.active[q.current], true
}

// Tracks returns a copy of the active ordering.
func (q *Queue) Tracks() []model.Track {
	return append([]model.Track(nil), q.active...)
}

// Canonical returns a copy of the canonical ordering.
func (q *Queue) Canonical() []model.Track {
	return append([]model.Track(nil), q.canonical...)
}

// Reorder moves one element of the active order from one position to
// another and keeps the current index pointing at the same track. When not
// shuffled the canonical order follows the move, making un-shuffled
// reordering persistent; a shuffled order is transient and leaves the
// canonical order untouched.
func (q *Queue) Reorder(from, to int) {
	n := len(q.active)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		return
	}

	moved := q.active[from]
	q.active = append(q.active[:from], q.active[from+1:]...)
	rest := append([]model.Track(nil), q.active[to:]...)
	q.active = append(q.active[:to], moved)
	q.active = append(q.active, rest...)

	switch cur := q.current; {
	case cur < 0:
	case from == cur:
		q.current = to
	case from < cur && to >= cur:
		q.current--
	case from > cur && to <= cur:
		q.current++
	}

	if !q.shuffled {
		q.canonical = append([]model.Track(nil), q.active...)
	}
}

// InsertNext splices tracks into the active order immediately after the
// current track. With no current track it behaves as Replace.
func (q *Queue) InsertNext(tracks []model.Track) {
	if len(tracks) == 0 {
		return
	}
	if q.current < 0 {
		q.Replace(tracks, q.title)
		return
	}
	q.active = splice(q.active, q.current+1, tracks)
	q.spliceCanonicalAfterCurrent(tracks)
}

// InsertEnd appends tracks to both orderings. With no current track it
// behaves as Replace.
func (q *Queue) InsertEnd(tracks []model.Track) {
	if len(tracks) == 0 {
		return
	}
	if q.current < 0 {
		q.Replace(tracks, q.title)
		return
	}
	q.active = append(q.active, tracks...)
	q.canonical = append(q.canonical, tracks...)
}

// spliceCanonicalAfterCurrent mirrors an insert-next into the canonical
// order, anchored at the current track's canonical position. If the current
// track is no longer present in the canonical order the tracks are appended.
func (q *Queue) spliceCanonicalAfterCurrent(tracks []model.Track) {
	anchor := -1
	if q.current >= 0 && q.current < len(q.active) {
		// The active order already contains the insert; the current track is
		// still at q.current because splicing happened after it.
		anchor = indexOfID(q.canonical, q.active[q.current].ID)
	}
	if anchor < 0 {
		q.canonical = append(q.canonical, tracks...)
		return
	}
	q.canonical = splice(q.canonical, anchor+1, tracks)
}

// Remove deletes the track with the given id from both orderings. If the
// removed track was current, the index is cleared and the caller decides
// whether to stop or advance; removedCurrent reports that case. Otherwise
// the index is recomputed to keep pointing at the same track.
func (q *Queue) Remove(id string) (removedCurrent bool) {
	idx := indexOfID(q.active, id)
	if idx < 0 {
		return false
	}

	var currentID string
	if q.current >= 0 {
		currentID = q.active[q.current].ID
	}

	q.active = append(q.active[:idx], q.active[idx+1:]...)
	if c := indexOfID(q.canonical, id); c >= 0 {
		q.canonical = append(q.canonical[:c], q.canonical[c+1:]...)
	}

	if idx == q.current {
		q.current = -1
		return true
	}
	if q.current >= 0 {
		q.current = indexOfID(q.active, currentID)
	}
	return false
}

// ToggleShuffle switches between the canonical order and a fresh random
// permutation. Turning shuffle on keeps the current track first; turning it
// off relocates the current track within the canonical order.
func (q *Queue) ToggleShuffle() {
	if !q.shuffled {
		cur, hasCur := q.Current()
		rest := make([]model.Track, 0, len(q.active))
		for i, t := range q.active {
			if hasCur && i == q.current {
				continue
			}
			rest = append(rest, t)
		}
		// Fisher-Yates over everything except the current track.
		for i := len(rest) - 1; i > 0; i-- {
			j := q.rng.Intn(i + 1)
			rest[i], rest[j] = rest[j], rest[i]
		}
		if hasCur {
			q.active = append([]model.Track{cur}, rest...)
			q.current = 0
		} else {
			q.active = rest
		}
		q.shuffled = true
		return
	}

	var currentID string
	if q.current >= 0 {
		currentID = q.active[q.current].ID
	}
	q.active = append([]model.Track(nil), q.canonical...)
	q.shuffled = false
	if currentID != "" {
		if i := indexOfID(q.active, currentID); i >= 0 {
			q.current = i
		} else {
			q.current = 0
		}
	}
}

// Advance moves the current index by direction (+1 or -1). At a boundary it
// wraps only under repeat-all; otherwise it reports EndOfQueue and leaves
// the index where it was.
func (q *Queue) Advance(direction int) (int, AdvanceResult) {
	if len(q.active) == 0 || q.current < 0 {
		return q.current, EndOfQueue
	}
	next := q.current + direction
	if next >= 0 && next < len(q.active) {
		q.current = next
		return q.current, Advanced
	}
	if q.repeat == model.RepeatAll {
		if direction > 0 {
			q.current = 0
		} else {
			q.current = len(q.active) - 1
		}
		return q.current, Wrapped
	}
	return q.current, EndOfQueue
}

// UpdateByLocator replaces every entry whose locator matches, in both
// orderings, keeping queue positions. Used for tag edits: the identity may
// change but the queue entry stays put.
func (q *Queue) UpdateByLocator(tr model.Track) bool {
	return q.update(tr, func(t model.Track) bool { return t.Locator.Equal(tr.Locator) })
}

// UpdateByID replaces every entry with the same id, in both orderings.
func (q *Queue) UpdateByID(tr model.Track) bool {
	return q.update(tr, func(t model.Track) bool { return t.ID == tr.ID })
}

func (q *Queue) update(tr model.Track, match func(model.Track) bool) bool {
	updated := false
	for i := range q.active {
		if match(q.active[i]) {
			q.active[i] = tr
			updated = true
		}
	}
	for i := range q.canonical {
		if match(q.canonical[i]) {
			q.canonical[i] = tr
			updated = true
		}
	}
	return updated
}

// Snapshot captures the queue as a persistable session record.
func (q *Queue) Snapshot(positionSeconds float64) model.PlaybackSession {
	ids := make([]string, len(q.active))
	for i, t := range q.active {
		ids[i] = t.ID
	}
	return model.PlaybackSession{
		OrderedTrackIDs:    ids,
		CurrentIndex:       q.current,
		CurrentTimeSeconds: positionSeconds,
		RepeatMode:         q.repeat,
		Shuffled:           q.shuffled,
		QueueTitle:         q.title,
	}
}

func splice(s []model.Track, at int, in []model.Track) []model.Track {
	if at < 0 {
		at = 0
	}
	if at > len(s) {
		at = len(s)
	}
	out := make([]model.Track, 0, len(s)+len(in))
	out = append(out, s[:at]...)
	out = append(out, in...)
	out = append(out, s[at:]...)
	return out
}

func indexOfID(s []model.Track, id string) int {
	for i, t := range s {
		if t.ID == id {
			return i
		}
	}
	return -1
}
