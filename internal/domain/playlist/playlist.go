// Package playlist provides the Playlist domain entity and its index arithmetic.
package playlist

import (
	"sort"

	"github.com/samber/lo"

	"github.com/osa030/tapedeck/internal/domain/track"
)

// Playlist is the ordered sequence of added tracks.
type Playlist struct {
	Tracks []track.Track
}

// New builds a playlist ordered by numeric track key.
// Keys are compared as integers so that "10" sorts after "9".
func New(tracks []track.Track) Playlist {
	sorted := make([]track.Track, len(tracks))
	copy(sorted, tracks)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Index(), sorted[j].Index()
		if a != b {
			return a < b
		}
		return sorted[i].Key < sorted[j].Key
	})
	return Playlist{Tracks: sorted}
}

// Len returns the number of tracks.
func (p Playlist) Len() int {
	return len(p.Tracks)
}

// Valid reports whether i addresses a track.
func (p Playlist) Valid(i int) bool {
	return i >= 0 && i < len(p.Tracks)
}

// At returns the track at index i.
func (p Playlist) At(i int) (track.Track, bool) {
	if !p.Valid(i) {
		return track.Track{}, false
	}
	return p.Tracks[i], true
}

// NextIndex returns the index after i, wrapping past the last track to 0.
func (p Playlist) NextIndex(i int) int {
	if len(p.Tracks) == 0 {
		return 0
	}
	if i < 0 || i >= len(p.Tracks)-1 {
		return 0
	}
	return i + 1
}

// PrevIndex returns the index before i, wrapping before the first track to the last one.
func (p Playlist) PrevIndex(i int) int {
	if len(p.Tracks) == 0 {
		return 0
	}
	if i <= 0 || i > len(p.Tracks) {
		return len(p.Tracks) - 1
	}
	return i - 1
}

// NextKey returns the key the next added track will receive.
func (p Playlist) NextKey() string {
	return track.KeyForIndex(len(p.Tracks))
}

// IndexOf returns the position of the track with the given key, or -1.
func (p Playlist) IndexOf(key string) int {
	_, i, ok := lo.FindIndexOf(p.Tracks, func(t track.Track) bool {
		return t.Key == key
	})
	if !ok {
		return -1
	}
	return i
}

// Labels returns the display label of every track in order.
func (p Playlist) Labels() []string {
	return lo.Map(p.Tracks, func(t track.Track, _ int) string {
		return t.Label()
	})
}

// TotalSize returns the combined payload size of all tracks.
func (p Playlist) TotalSize() int64 {
	return lo.SumBy(p.Tracks, func(t track.Track) int64 {
		return t.Size
	})
}
