package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"resona/db"
	"resona/model"
)

// TrackRepository defines the catalog lookup operations.
type TrackRepository interface {
	Upsert(ctx context.Context, track *model.Track) error
	GetByID(ctx context.Context, id string) (*model.Track, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.Track, error)
	All(ctx context.Context) ([]model.Track, error)
	Delete(ctx context.Context, id string) error
}

// mysqlTrackRepository implements TrackRepository for MySQL.
type mysqlTrackRepository struct {
	DB *sql.DB
}

// NewMySQLTrackRepository creates a new instance of mysqlTrackRepository.
func NewMySQLTrackRepository() TrackRepository {
	return &mysqlTrackRepository{DB: db.DB}
}

const trackColumns = `id, title, artist, album, duration, year, genre, locator_kind, locator_value, cover_key, lyrics, created_at, updated_at`

// Upsert inserts a track or refreshes an existing row. The id is stable
// across metadata edits of non-identity fields, so re-scans update in place.
func (r *mysqlTrackRepository) Upsert(ctx context.Context, track *model.Track) error {
	lyrics, err := marshalLyrics(track.Lyrics)
	if err != nil {
		return fmt.Errorf("failed to encode lyrics for track %s: %w", track.ID, err)
	}

	query := `INSERT INTO tracks (` + trackColumns + `)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE
	             title = VALUES(title), artist = VALUES(artist), album = VALUES(album),
	             duration = VALUES(duration), year = VALUES(year), genre = VALUES(genre),
	             locator_kind = VALUES(locator_kind), locator_value = VALUES(locator_value),
	             cover_key = VALUES(cover_key), lyrics = VALUES(lyrics), updated_at = VALUES(updated_at)`
	stmt, err := r.DB.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for Upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	_, err = stmt.ExecContext(ctx, track.ID, track.Title, track.Artist, track.Album,
		track.Duration, track.Year, track.Genre,
		string(track.Locator.Kind), track.Locator.Value, track.CoverKey, lyrics, now, now)
	if err != nil {
		return fmt.Errorf("failed to execute Upsert for track %s: %w", track.ID, err)
	}
	return nil
}

// GetByID retrieves a track by its ID. A missing id yields (nil, nil).
func (r *mysqlTrackRepository) GetByID(ctx context.Context, id string) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ?`
	row := r.DB.QueryRowContext(ctx, query, id)

	track, err := scanTrack(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Track not found
		}
		return nil, fmt.Errorf("failed to scan track by ID %s: %w", id, err)
	}
	return track, nil
}

// GetByIDs resolves a list of ids, preserving the input order. Ids with no
// catalog row are silently dropped; callers treat absence as "vanished".
func (r *mysqlTrackRepository) GetByIDs(ctx context.Context, ids []string) ([]model.Track, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id IN (` + placeholders + `)`

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks by ids: %w", err)
	}
	defer rows.Close()

	found := make(map[string]model.Track, len(ids))
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track in GetByIDs: %w", err)
		}
		found[track.ID] = *track
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in GetByIDs: %w", err)
	}

	tracks := make([]model.Track, 0, len(found))
	for _, id := range ids {
		if track, ok := found[id]; ok {
			tracks = append(tracks, track)
		}
	}
	return tracks, nil
}

// All retrieves every track in the catalog, newest first.
func (r *mysqlTrackRepository) All(ctx context.Context) ([]model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks ORDER BY artist, album, title`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query all tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]model.Track, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track in All: %w", err)
		}
		tracks = append(tracks, *track)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in All: %w", err)
	}
	return tracks, nil
}

// Delete removes a track row.
func (r *mysqlTrackRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete track %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (*model.Track, error) {
	track := &model.Track{}
	var kind string
	var lyrics sql.NullString
	var createdAt, updatedAt time.Time
	err := row.Scan(&track.ID, &track.Title, &track.Artist, &track.Album,
		&track.Duration, &track.Year, &track.Genre,
		&kind, &track.Locator.Value, &track.CoverKey, &lyrics, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	track.Locator.Kind = model.LocatorKind(kind)
	if lyrics.Valid && lyrics.String != "" {
		if err := json.Unmarshal([]byte(lyrics.String), &track.Lyrics); err != nil {
			return nil, fmt.Errorf("corrupt lyrics for track %s: %w", track.ID, err)
		}
	}
	return track, nil
}

func marshalLyrics(lines []model.LyricLine) (string, error) {
	if len(lines) == 0 {
		return "", nil
	}
	b, err := json.Marshal(lines)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
