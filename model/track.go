package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// LocatorKind discriminates the three ways a track's bytes can be reached.
type LocatorKind string

const (
	// LocatorPath is an absolute path on the local filesystem.
	LocatorPath LocatorKind = "path"
	// LocatorBlob is an object key in blob storage.
	LocatorBlob LocatorKind = "blob"
	// LocatorHandle is a platform file handle that needs a permission grant.
	LocatorHandle LocatorKind = "handle"
)

// SourceLocator is a closed union: exactly one kind, the value interpreted
// per kind by the resolver.
type SourceLocator struct {
	Kind  LocatorKind `json:"kind"`
	Value string      `json:"value"`
}

// Equal reports whether two locators reference the same source.
func (l SourceLocator) Equal(o SourceLocator) bool {
	return l.Kind == o.Kind && l.Value == o.Value
}

// LyricLine is one time-coded lyric line.
type LyricLine struct {
	AtSeconds float64 `json:"at"`
	Text      string  `json:"text"`
}

// Track represents one playable item in the library.
type Track struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Artist   string        `json:"artist"`
	Album    string        `json:"album"`
	Duration float64       `json:"duration"` // seconds
	Year     int           `json:"year,omitempty"`
	Genre    string        `json:"genre,omitempty"`
	Locator  SourceLocator `json:"locator"`
	CoverKey string        `json:"coverKey,omitempty"` // object key of the cover art, if any
	Lyrics   []LyricLine   `json:"lyrics,omitempty"`
}

// TrackID derives the stable identifier for a track from its normalized
// artist, album and title. Edits that leave these three fields unchanged
// keep the same identity.
func TrackID(artist, album, title string) string {
	h := sha256.New()
	h.Write([]byte(normalize(artist)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(album)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(title)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// normalize lowercases and collapses runs of whitespace so cosmetic tag
// differences do not change identity.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
