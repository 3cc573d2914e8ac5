package playback

// EventType represents a playback event type.
type EventType int

const (
	EventTrackChanged    EventType = iota // A track was bound
	EventStateChanged                     // Play/pause state changed
	EventPosition                         // Position advanced or jumped
	EventPlaylistChanged                  // A track was appended
	EventError                            // An operation failed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackChanged:
		return "track_changed"
	case EventStateChanged:
		return "state_changed"
	case EventPosition:
		return "position"
	case EventPlaylistChanged:
		return "playlist_changed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type   EventType
	Status Status
	Err    error // Set for EventError
}
