// Package track provides the Track domain entity and the persisted playback position.
package track

import (
	"math"
	"strconv"
	"time"
)

// Track represents an audio file added to the playlist.
// Tracks are immutable once added; the audio payload itself lives in the
// audioFiles collection under the same Key.
type Track struct {
	Key         string    `json:"key"`              // Playlist index as a decimal string
	ID          string    `json:"id"`               // Random UUID, stable across reorderings
	DisplayName string    `json:"displayName"`      // Original file name
	Title       string    `json:"title,omitempty"`  // Title tag (optional)
	Artist      string    `json:"artist,omitempty"` // Artist tag (optional)
	MIMEType    string    `json:"mimeType"`         // Sniffed from the payload
	Size        int64     `json:"size"`             // Payload size in bytes
	AddedAt     time.Time `json:"addedAt"`
}

// KeyForIndex returns the storage key for the track at the given playlist index.
func KeyForIndex(index int) string {
	return strconv.Itoa(index)
}

// Index parses the track key back into a playlist index.
// Returns -1 if the key is not a non-negative integer.
func (t *Track) Index() int {
	i, err := strconv.Atoi(t.Key)
	if err != nil || i < 0 {
		return -1
	}
	return i
}

// Label returns the text shown as "now playing".
func (t *Track) Label() string {
	switch {
	case t.Title != "" && t.Artist != "":
		return t.Artist + " - " + t.Title
	case t.Title != "":
		return t.Title
	default:
		return t.DisplayName
	}
}

// PlaybackState is the persisted record of the last track and position.
type PlaybackState struct {
	TrackIndex      int     `json:"trackIndex"`
	PositionSeconds float64 `json:"position"`
}

// Normalize returns a state that is valid for a playlist of length n.
// Any out-of-range index or unusable position falls back to {0, 0}.
func (s PlaybackState) Normalize(n int) PlaybackState {
	if n <= 0 || s.TrackIndex < 0 || s.TrackIndex >= n {
		return PlaybackState{}
	}
	if math.IsNaN(s.PositionSeconds) || math.IsInf(s.PositionSeconds, 0) || s.PositionSeconds < 0 {
		return PlaybackState{}
	}
	return s
}
