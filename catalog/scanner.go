package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"

	"resona/logger"
	"resona/model"
)

// CoverStore receives embedded cover art extracted during a scan. Optional.
type CoverStore interface {
	UploadCover(ctx context.Context, key string, data []byte, contentType string) error
}

// Scanner walks the library directory and feeds the catalog.
type Scanner struct {
	repo   TrackRepository
	covers CoverStore // nil disables cover extraction
	root   string
}

// NewScanner builds a scanner rooted at dir.
func NewScanner(repo TrackRepository, covers CoverStore, dir string) *Scanner {
	return &Scanner{repo: repo, covers: covers, root: dir}
}

var audioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".flac": true,
	".ogg":  true,
}

// IsAudioFile reports whether path has a playable audio extension.
func IsAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// ScanAll walks the whole library and upserts every audio file found.
// Unreadable files are logged and skipped; the walk keeps going.
func (s *Scanner) ScanAll(ctx context.Context) (int, error) {
	count := 0
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("library walk error", logger.String("path", path), logger.ErrorField(err))
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsAudioFile(path) {
			return nil
		}
		if _, err := s.ScanFile(ctx, path); err != nil {
			logger.Warn("failed to scan file", logger.String("path", path), logger.ErrorField(err))
			return nil
		}
		count++
		return ctx.Err()
	})
	if err != nil {
		return count, fmt.Errorf("library walk failed: %w", err)
	}
	logger.Info("library scan complete", logger.Int("tracks", count), logger.String("root", s.root))
	return count, nil
}

// ScanFile reads one audio file's tags, derives its identity, and upserts it.
func (s *Scanner) ScanFile(ctx context.Context, path string) (*model.Track, error) {
	track, pic, err := s.buildTrack(path)
	if err != nil {
		return nil, err
	}

	if pic != nil && s.covers != nil {
		key := "covers/" + track.ID + coverExt(pic.MIMEType)
		if err := s.covers.UploadCover(ctx, key, pic.Data, pic.MIMEType); err != nil {
			logger.Warn("failed to store cover art", logger.String("track", track.ID), logger.ErrorField(err))
		} else {
			track.CoverKey = key
		}
	}

	if err := s.repo.Upsert(ctx, track); err != nil {
		return nil, err
	}
	return track, nil
}

// buildTrack constructs the track record without touching the catalog.
func (s *Scanner) buildTrack(path string) (*model.Track, *tag.Picture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	track := &model.Track{
		Locator: model.SourceLocator{Kind: model.LocatorPath, Value: path},
	}

	var pic *tag.Picture
	meta, err := tag.ReadFrom(f)
	if err == nil {
		track.Title = strings.TrimSpace(meta.Title())
		track.Artist = strings.TrimSpace(meta.Artist())
		track.Album = strings.TrimSpace(meta.Album())
		track.Year = meta.Year()
		track.Genre = strings.TrimSpace(meta.Genre())
		pic = meta.Picture()
	}
	if track.Title == "" {
		track.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	track.ID = model.TrackID(track.Artist, track.Album, track.Title)

	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		if dur, err := computeMP3Duration(path); err == nil && dur > 0 {
			track.Duration = dur
		}
	}

	if lines := sidecarLyrics(path); len(lines) > 0 {
		track.Lyrics = lines
	}

	return track, pic, nil
}

// computeMP3Duration walks the MP3 frames and sums their durations. Reliable
// for VBR files where the bitrate estimate would lie.
func computeMP3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total float64

	for {
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration().Seconds()
	}

	return total, nil
}

// sidecarLyrics loads time-coded lyrics from a .lrc file next to the track.
func sidecarLyrics(audioPath string) []model.LyricLine {
	lrcPath := strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".lrc"
	f, err := os.Open(lrcPath)
	if err != nil {
		return nil
	}
	defer f.Close()
	lines, err := ParseLRC(f)
	if err != nil {
		logger.Warn("failed to parse lyrics", logger.String("path", lrcPath), logger.ErrorField(err))
		return nil
	}
	return lines
}

func coverExt(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	default:
		return ".jpg"
	}
}
