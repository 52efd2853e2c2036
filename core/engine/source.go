package engine

import "github.com/gopxl/beep/v2"

// Source is a decoded, seekable audio stream ready to be handed to the
// engine. The resolver builds one per successful resolution; stale sources
// that lose the token race must still be closed by their receiver.
type Source struct {
	Streamer beep.StreamSeekCloser
	Format   beep.Format
}

// Close releases the underlying decoder and its reader.
func (s *Source) Close() error {
	if s == nil || s.Streamer == nil {
		return nil
	}
	return s.Streamer.Close()
}
