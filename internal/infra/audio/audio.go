// Package audio provides the media-playback primitive driven by the playback controller.
//
// A player binds one source at a time. Every Load returns a new source
// number and events carry the number of the source that produced them, so
// consumers can discard events of a source that has since been replaced.
package audio

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Errors
var (
	ErrNoSource          = errors.New("no source loaded")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrClosed            = errors.New("player closed")
)

// EventType identifies a player event.
type EventType int

const (
	EventStarted EventType = iota
	EventPaused
	EventPosition
	EventEnded
)

// String returns a string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventPaused:
		return "paused"
	case EventPosition:
		return "position"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is emitted by a player.
type Event struct {
	Type     EventType
	Source   uint64  // Source number returned by the Load that bound the source
	Position float64 // Seconds from the start of the source
}

// Player is a single-source playback primitive.
type Player interface {
	// Load decodes data and binds it paused at position 0.
	Load(ctx context.Context, data []byte) (uint64, error)
	Play() error
	Pause() error
	Seek(seconds float64) error
	Position() float64
	Duration() float64
	Events() <-chan Event
	Close() error
}

// Config represents audio output configuration.
type Config struct {
	TickInterval time.Duration // Interval of position events while playing
	SampleRate   int           // Speaker sample rate
	Buffer       time.Duration // Speaker buffer size
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		TickInterval: 250 * time.Millisecond,
		SampleRate:   44100,
		Buffer:       100 * time.Millisecond,
	}
}

const eventBuffer = 64

// New returns a speaker-backed player, or a silent one when mute is set or
// the build has no audio device support.
func New(cfg Config, mute bool) (Player, error) {
	if mute || !DeviceAvailable {
		return NewNull(cfg), nil
	}
	return newDevice(cfg)
}

func clamp(seconds, duration float64) float64 {
	if seconds < 0 || seconds != seconds {
		return 0
	}
	if seconds > duration {
		return duration
	}
	return seconds
}

// emitter owns a player's event channel.
type emitter struct {
	events chan Event
	done   chan struct{}
}

func newEmitter() emitter {
	return emitter{
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// emit drops the event when the consumer is behind.
func (e emitter) emit(source uint64, ev Event) {
	ev.Source = source
	select {
	case e.events <- ev:
	default:
	}
}

// deliver sends an event that must not be dropped, waiting in the
// background if the channel is full until the player closes.
func (e emitter) deliver(source uint64, ev Event) {
	ev.Source = source
	select {
	case e.events <- ev:
		return
	default:
	}
	go func() {
		select {
		case e.events <- ev:
		case <-e.done:
		}
	}()
}
