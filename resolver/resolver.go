package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	"resona/core/engine"
	"resona/logger"
	"resona/model"
)

var (
	// ErrNotFound means the locator points at nothing.
	ErrNotFound = errors.New("track source not found")
	// ErrPermissionDenied means the source needs a permission grant that is
	// not currently held. Recovery requires a user-initiated re-grant.
	ErrPermissionDenied = errors.New("track source permission denied")
	// ErrUnreadable means the bytes exist but cannot be decoded.
	ErrUnreadable = errors.New("track source unreadable")
)

// ObjectFetcher provides bytes for blob locators. *storage.MinioStore
// implements it.
type ObjectFetcher interface {
	FetchObject(ctx context.Context, key string) (io.ReadCloser, error)
}

// Resolver turns a track's source locator into a decoded engine source.
type Resolver struct {
	blobs  ObjectFetcher
	grants *Grants
}

// New builds a resolver. blobs may be nil if blob storage is not configured;
// blob locators then resolve to ErrNotFound.
func New(blobs ObjectFetcher, grants *Grants) *Resolver {
	if grants == nil {
		grants = NewGrants()
	}
	return &Resolver{blobs: blobs, grants: grants}
}

// Grants exposes the handle permission registry.
func (r *Resolver) Grants() *Grants { return r.grants }

// Resolve opens and decodes the track's source. Exactly one resolution path
// per locator kind.
func (r *Resolver) Resolve(ctx context.Context, tr model.Track) (*engine.Source, error) {
	switch tr.Locator.Kind {
	case model.LocatorPath:
		return r.openPath(tr.Locator.Value)
	case model.LocatorHandle:
		path, authorized, ok := r.grants.lookup(tr.Locator.Value)
		if !ok {
			return nil, fmt.Errorf("handle %s: %w", tr.Locator.Value, ErrNotFound)
		}
		if !authorized {
			return nil, fmt.Errorf("handle %s: %w", tr.Locator.Value, ErrPermissionDenied)
		}
		return r.openPath(path)
	case model.LocatorBlob:
		return r.openBlob(ctx, tr.Locator.Value)
	default:
		return nil, fmt.Errorf("locator kind %q: %w", tr.Locator.Kind, ErrUnreadable)
	}
}

func (r *Resolver) openPath(path string) (*engine.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		case os.IsPermission(err):
			return nil, fmt.Errorf("%s: %w", path, ErrPermissionDenied)
		default:
			return nil, fmt.Errorf("%s: %v: %w", path, err, ErrUnreadable)
		}
	}
	return decode(f, filepath.Ext(path))
}

func (r *Resolver) openBlob(ctx context.Context, key string) (*engine.Source, error) {
	if r.blobs == nil {
		return nil, fmt.Errorf("blob storage not configured: %w", ErrNotFound)
	}
	rc, err := r.blobs.FetchObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	// Buffer the object so the decoder can seek.
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("blob %s: %v: %w", key, err, ErrUnreadable)
	}
	logger.Debug("buffered blob source", logger.String("key", key), logger.Int("bytes", len(data)))
	return decode(nopCloser{bytes.NewReader(data)}, filepath.Ext(key))
}

// decode picks a decoder by extension. The reader is closed on failure.
func decode(rc io.ReadCloser, ext string) (*engine.Source, error) {
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	switch strings.ToLower(ext) {
	case ".mp3":
		streamer, format, err = mp3.Decode(rc)
	case ".wav":
		streamer, format, err = wav.Decode(rc)
	case ".flac":
		streamer, format, err = flac.Decode(rc)
	case ".ogg", ".oga":
		streamer, format, err = vorbis.Decode(rc)
	default:
		rc.Close()
		return nil, fmt.Errorf("unsupported format %q: %w", ext, ErrUnreadable)
	}
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("decode %s: %v: %w", ext, err, ErrUnreadable)
	}
	return &engine.Source{Streamer: streamer, Format: format}, nil
}

// nopCloser adapts a bytes.Reader to the decoders' io.ReadCloser input.
type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
