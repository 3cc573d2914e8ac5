package audio

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// NullPlayer plays nothing but keeps a virtual clock, so position and
// end-of-track events behave as they would on a speaker.
type NullPlayer struct {
	mu sync.Mutex
	emitter

	tick   time.Duration
	now    func() time.Time
	closed bool

	source    uint64
	loaded    bool
	duration  float64
	offset    float64   // Position when the clock last stopped or jumped
	startedAt time.Time // Zero unless playing
}

var _ Player = (*NullPlayer)(nil)

// NewNull creates a silent player.
func NewNull(cfg Config) *NullPlayer {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	p := &NullPlayer{
		emitter: newEmitter(),
		tick:    cfg.TickInterval,
		now:     time.Now,
	}
	go p.clock()
	return p
}

// Load binds data after checking that it decodes.
func (p *NullPlayer) Load(ctx context.Context, data []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	duration, err := probeDuration(data)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}

	p.source++
	p.loaded = true
	p.duration = duration
	p.offset = 0
	p.startedAt = time.Time{}
	p.drainLocked()
	return p.source, nil
}

// Play starts the virtual clock.
func (p *NullPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	if !p.startedAt.IsZero() {
		return nil
	}
	if p.offset >= p.duration {
		p.offset = 0
	}
	p.startedAt = p.now()
	p.emit(p.source, Event{Type: EventStarted, Position: p.offset})
	return nil
}

// Pause stops the virtual clock.
func (p *NullPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	if p.startedAt.IsZero() {
		return nil
	}
	p.offset = p.positionLocked()
	p.startedAt = time.Time{}
	p.emit(p.source, Event{Type: EventPaused, Position: p.offset})
	return nil
}

// Seek moves the clock, clamped to the source length.
func (p *NullPlayer) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	p.offset = clamp(seconds, p.duration)
	if !p.startedAt.IsZero() {
		p.startedAt = p.now()
	}
	return nil
}

// Position returns the current clock position in seconds.
func (p *NullPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

// Duration returns the length of the bound source in seconds.
func (p *NullPlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// Events returns the event channel.
func (p *NullPlayer) Events() <-chan Event {
	return p.events
}

// Close stops the clock.
func (p *NullPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	return nil
}

func (p *NullPlayer) clock() {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.advance()
		}
	}
}

func (p *NullPlayer) advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.loaded || p.startedAt.IsZero() {
		return
	}
	pos := p.positionLocked()
	if pos < p.duration {
		p.emit(p.source, Event{Type: EventPosition, Position: pos})
		return
	}
	p.offset = p.duration
	p.startedAt = time.Time{}
	p.deliver(p.source, Event{Type: EventEnded, Position: p.duration})
}

func (p *NullPlayer) positionLocked() float64 {
	if p.startedAt.IsZero() {
		return p.offset
	}
	return clamp(p.offset+p.now().Sub(p.startedAt).Seconds(), p.duration)
}

func (p *NullPlayer) checkLocked() error {
	if p.closed {
		return ErrClosed
	}
	if !p.loaded {
		return errors.WithStack(ErrNoSource)
	}
	return nil
}

// drainLocked discards queued events of earlier sources.
func (p *NullPlayer) drainLocked() {
	for {
		select {
		case <-p.events:
		default:
			return
		}
	}
}
