// Package playback provides the playback controller over the persisted playlist.
package playback

import "github.com/osa030/tapedeck/internal/domain/track"

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // Nothing bound (empty playlist or failed load)
	StateLoading              // Fetching and binding a track
	StatePlaying              // Track is playing
	StatePaused               // Track is bound and paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the controller.
type Status struct {
	State    State
	Index    int          // Current track index; meaningless when Length is 0
	Track    *track.Track // Current track, nil when the playlist is empty
	Position float64      // Seconds
	Duration float64      // Seconds, 0 until a track is bound
	Length   int          // Number of tracks in the playlist
}
