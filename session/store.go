package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"resona/logger"
	"resona/model"
)

const (
	// sessionKey holds the single "current session" record.
	sessionKey = "player:session"
	// progressKey holds the single "last interrupted progress" record.
	progressKey = "player:progress"

	opTimeout = 5 * time.Second
)

// Store persists the playback session and the resume-progress entry in
// Redis. Values are JSON, versionless: unknown or missing fields default
// safely on read. Saves are coalesced so callers never block on Redis.
type Store struct {
	client *redis.Client
	delay  time.Duration

	mu      sync.Mutex
	pending *model.PlaybackSession
	timer   *time.Timer
}

// NewStore wraps a connected Redis client. Saves settle after roughly one
// second.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client, delay: time.Second}
}

// NewStoreWithDelay is NewStore with a custom debounce window.
func NewStoreWithDelay(client *redis.Client, delay time.Duration) *Store {
	return &Store{client: client, delay: delay}
}

// Save schedules a session write. Writes are coalesced over the debounce
// window; the last snapshot wins. Never blocks on Redis.
func (s *Store) Save(sess model.PlaybackSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &sess
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.flush)
	}
}

func (s *Store) flush() {
	s.mu.Lock()
	sess := s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()
	if sess == nil {
		return
	}
	s.write(*sess)
}

// Flush writes any pending snapshot immediately. Called on shutdown.
func (s *Store) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	sess := s.pending
	s.pending = nil
	s.mu.Unlock()
	if sess != nil {
		s.write(*sess)
	}
}

func (s *Store) write(sess model.PlaybackSession) {
	data, err := json.Marshal(sess)
	if err != nil {
		logger.Warn("failed to marshal playback session", logger.ErrorField(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.client.Set(ctx, sessionKey, data, 0).Err(); err != nil {
		logger.Warn("failed to persist playback session", logger.ErrorField(err))
	}
}

// Load reads the persisted session. Absent or malformed data yields nil,
// never an error: session restore is best-effort.
func (s *Store) Load(ctx context.Context) *model.PlaybackSession {
	data, err := s.client.Get(ctx, sessionKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("failed to read playback session", logger.ErrorField(err))
		}
		return nil
	}
	sess := &model.PlaybackSession{CurrentIndex: -1}
	if err := json.Unmarshal(data, sess); err != nil {
		logger.Warn("discarding malformed playback session", logger.ErrorField(err))
		return nil
	}
	return sess
}

// SaveProgress records where a track was interrupted. Only the most recent
// interruption is retained.
func (s *Store) SaveProgress(ctx context.Context, trackID string, seconds float64) error {
	entry := model.ProgressEntry{
		TrackID:         trackID,
		PositionSeconds: seconds,
		UpdatedAt:       time.Now().Unix(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, progressKey, data, 0).Err()
}

// ConsumeProgress returns the stored resume position for the track and
// deletes it, so a later natural restart of the same track begins at zero.
// A stored entry for a different track is left in place.
func (s *Store) ConsumeProgress(ctx context.Context, trackID string) (float64, bool) {
	data, err := s.client.Get(ctx, progressKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("failed to read progress entry", logger.ErrorField(err))
		}
		return 0, false
	}
	var entry model.ProgressEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.client.Del(ctx, progressKey)
		return 0, false
	}
	if entry.TrackID != trackID {
		return 0, false
	}
	if err := s.client.Del(ctx, progressKey).Err(); err != nil {
		logger.Warn("failed to consume progress entry", logger.ErrorField(err))
	}
	return entry.PositionSeconds, true
}
