//go:build (linux && cgo) || windows || darwin

package audio

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// DeviceAvailable indicates whether speaker output is supported in this build.
const DeviceAvailable = true

var (
	speakerOnce sync.Once
	speakerErr  error
)

// BeepPlayer plays through the system speaker using beep.
type BeepPlayer struct {
	mu sync.Mutex
	emitter

	rate   beep.SampleRate
	tick   time.Duration
	closed bool

	source   uint64
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	queued   bool // ctrl is in the speaker mixer
}

var _ Player = (*BeepPlayer)(nil)

// NewBeep initializes the speaker on first use and returns a player.
func NewBeep(cfg Config) (*BeepPlayer, error) {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}

	rate := beep.SampleRate(cfg.SampleRate)
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(rate, rate.N(cfg.Buffer))
	})
	if speakerErr != nil {
		return nil, errors.Wrap(speakerErr, "failed to initialize speaker")
	}

	p := &BeepPlayer{
		emitter: newEmitter(),
		rate:    rate,
		tick:    cfg.TickInterval,
	}
	go p.clock()
	return p, nil
}

func newDevice(cfg Config) (Player, error) {
	return NewBeep(cfg)
}

// Load decodes data and binds it paused at position 0.
func (p *BeepPlayer) Load(ctx context.Context, data []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	streamer, format, err := decode(data)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		streamer.Close()
		return 0, ErrClosed
	}

	p.stopLocked()
	p.source++
	p.streamer = streamer
	p.format = format
	p.ctrl = &beep.Ctrl{Streamer: beep.Resample(4, format.SampleRate, p.rate, streamer), Paused: true}
	p.queueLocked()
	return p.source, nil
}

// queueLocked hands the current source to the speaker with an end callback
// bound to the source number.
func (p *BeepPlayer) queueLocked() {
	source := p.source
	p.queued = true
	speaker.Play(beep.Seq(p.ctrl, beep.Callback(func() {
		// Runs on the speaker goroutine; take the player lock elsewhere.
		go p.finished(source)
	})))
}

func (p *BeepPlayer) finished(source uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || source != p.source {
		return
	}
	p.queued = false
	p.deliver(p.source, Event{Type: EventEnded, Position: p.durationLocked()})
}

// Play resumes the bound source, requeueing it from the start if it already ended.
func (p *BeepPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}

	if !p.queued {
		speaker.Lock()
		err := p.streamer.Seek(0)
		speaker.Unlock()
		if err != nil {
			return errors.Wrap(err, "failed to rewind")
		}
		p.ctrl.Paused = true
		p.queueLocked()
	}

	speaker.Lock()
	wasPaused := p.ctrl.Paused
	p.ctrl.Paused = false
	speaker.Unlock()

	if wasPaused {
		p.emit(p.source, Event{Type: EventStarted, Position: p.positionLocked()})
	}
	return nil
}

// Pause pauses the bound source.
func (p *BeepPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}

	speaker.Lock()
	wasPaused := p.ctrl.Paused
	p.ctrl.Paused = true
	speaker.Unlock()

	if !wasPaused {
		p.emit(p.source, Event{Type: EventPaused, Position: p.positionLocked()})
	}
	return nil
}

// Seek moves the bound source, clamped to its length.
func (p *BeepPlayer) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}

	speaker.Lock()
	defer speaker.Unlock()

	n := p.format.SampleRate.N(time.Duration(clamp(seconds, p.durationLocked()) * float64(time.Second)))
	if last := p.streamer.Len() - 1; n > last {
		n = max(last, 0)
	}
	if err := p.streamer.Seek(n); err != nil {
		return errors.Wrap(err, "failed to seek")
	}
	return nil
}

// Position returns the current position in seconds.
func (p *BeepPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

// Duration returns the length of the bound source in seconds.
func (p *BeepPlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.durationLocked()
}

// Events returns the event channel.
func (p *BeepPlayer) Events() <-chan Event {
	return p.events
}

// Close stops playback and releases the bound source.
func (p *BeepPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.stopLocked()
	close(p.done)
	return nil
}

func (p *BeepPlayer) clock() {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.ctrl != nil && p.queued && !p.isPausedLocked() {
				p.emit(p.source, Event{Type: EventPosition, Position: p.positionLocked()})
			}
			p.mu.Unlock()
		}
	}
}

// stopLocked drops the bound source from the speaker.
func (p *BeepPlayer) stopLocked() {
	if p.streamer == nil {
		return
	}
	speaker.Clear()
	p.streamer.Close()
	p.streamer = nil
	p.ctrl = nil
	p.queued = false
}

func (p *BeepPlayer) isPausedLocked() bool {
	speaker.Lock()
	defer speaker.Unlock()
	return p.ctrl.Paused
}

func (p *BeepPlayer) positionLocked() float64 {
	if p.streamer == nil {
		return 0
	}
	speaker.Lock()
	pos := p.streamer.Position()
	speaker.Unlock()
	return p.format.SampleRate.D(pos).Seconds()
}

func (p *BeepPlayer) durationLocked() float64 {
	if p.streamer == nil {
		return 0
	}
	return p.format.SampleRate.D(p.streamer.Len()).Seconds()
}

func (p *BeepPlayer) checkLocked() error {
	if p.closed {
		return ErrClosed
	}
	if p.streamer == nil {
		return errors.WithStack(ErrNoSource)
	}
	return nil
}
