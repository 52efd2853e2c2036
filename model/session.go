package model

// RepeatMode controls what happens when the queue runs past either end.
type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatAll RepeatMode = "all"
	RepeatOne RepeatMode = "one"
)

// PlaybackSession is the persisted snapshot of "what was playing". It is
// written debounced after every settled state change and read once at
// startup. The layout is versionless: missing fields default safely.
type PlaybackSession struct {
	OrderedTrackIDs    []string   `json:"orderedTrackIds"`
	CurrentIndex       int        `json:"currentIndex"`
	CurrentTimeSeconds float64    `json:"currentTimeSeconds"`
	RepeatMode         RepeatMode `json:"repeatMode"`
	Shuffled           bool       `json:"shuffled"`
	QueueTitle         string     `json:"queueTitle"`
}

// ProgressEntry records the position of the most recent interruption for a
// single track. It is consumed (deleted) once used to resume, so a later
// natural restart of the same track starts from zero.
type ProgressEntry struct {
	TrackID         string  `json:"trackId"`
	PositionSeconds float64 `json:"positionSeconds"`
	UpdatedAt       int64   `json:"updatedAt"`
}
