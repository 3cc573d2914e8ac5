package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/domain/playlist"
	"github.com/osa030/tapedeck/internal/domain/track"
	"github.com/osa030/tapedeck/internal/infra/audio"
	"github.com/osa030/tapedeck/internal/infra/metrics"
)

// Errors
var (
	ErrPlaylistEmpty   = errors.New("playlist is empty")
	ErrIndexOutOfRange = errors.New("track index out of range")
	ErrNoTrack         = errors.New("no track loaded")
)

// Player is the media-playback primitive driven by the controller.
type Player interface {
	Load(ctx context.Context, data []byte) (uint64, error)
	Play() error
	Pause() error
	Seek(seconds float64) error
	Position() float64
	Duration() float64
	Events() <-chan audio.Event
}

// Library is the persisted playlist the controller reconciles with.
type Library interface {
	Playlist(ctx context.Context) (playlist.Playlist, error)
	Blob(ctx context.Context, key string) ([]byte, error)
	State(ctx context.Context) (track.PlaybackState, bool, error)
	SaveState(ctx context.Context, st track.PlaybackState) error
	Append(ctx context.Context, name string, data []byte) (track.Track, error)
}

// Config holds controller configuration.
type Config struct {
	StartPaused  bool          // Restore the saved track without playing it
	SaveInterval time.Duration // Minimum delay between position saves while playing
}

// picker chooses the target index of a switch from the current playlist and index.
type picker func(pl playlist.Playlist, current int) (int, error)

// Controller owns the current track index and play intent, keeps the
// persisted playback state in sync and drives the player.
type Controller struct {
	mu sync.Mutex

	player  Player
	library Library
	config  Config

	playlist playlist.Playlist
	index    int     // Current track index
	playing  bool    // Play intent
	state    State   // Observed state
	position float64 // Last known position of the bound track

	generation  uint64 // Incremented on every switch; fetches of older generations are discarded
	boundIndex  int    // Index of the track bound to the player, -1 if none
	boundSource uint64 // Player source of the bound track, 0 if none
	lastSave    time.Time
	saveSeq     uint64 // Sequence of the latest state snapshot

	saveMu   sync.Mutex // Serializes state writes; held without mu
	savedSeq uint64     // Sequence of the latest written snapshot, guarded by saveMu

	eventCh chan Event
	now     func() time.Time
}

// NewController creates a new playback controller.
func NewController(player Player, library Library, config Config) *Controller {
	return &Controller{
		player:     player,
		library:    library,
		config:     config,
		state:      StateIdle,
		boundIndex: -1,
		eventCh:    make(chan Event, 64),
		now:        time.Now,
	}
}

// Events returns the event channel.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Start loads the playlist and restores the saved track and position.
// A missing or unusable saved state starts from the first track at 0.
// The persisted playlist is not modified.
func (c *Controller) Start(ctx context.Context) error {
	pl, err := c.library.Playlist(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load playlist")
	}

	st, ok, err := c.library.State(ctx)
	if err != nil {
		zlog.Warn().Err(err).Msg("playback: failed to read saved state, starting from the first track")
		ok = false
	}
	if !ok {
		st = track.PlaybackState{}
	}
	st = st.Normalize(pl.Len())

	c.mu.Lock()
	c.playlist = pl
	c.index = st.TrackIndex
	c.position = st.PositionSeconds
	if pl.Len() == 0 {
		c.state = StateIdle
		c.sendEventLocked(EventStateChanged, nil)
		c.mu.Unlock()
		zlog.Info().Msg("playback: playlist is empty")
		return nil
	}
	c.mu.Unlock()

	zlog.Info().Msgf("playback: restoring: index=%d, position=%.1fs, tracks=%d", st.TrackIndex, st.PositionSeconds, pl.Len())
	if err := c.switchTo(ctx, exactly(st.TrackIndex), !c.config.StartPaused, st.PositionSeconds, false); err != nil {
		// Already reported; stay idle at the restored index so other tracks remain playable.
		zlog.Warn().Msgf("playback: restored track is not playable: index=%d", st.TrackIndex)
	}
	return nil
}

// AddTrack appends a track and switches playback to it.
func (c *Controller) AddTrack(ctx context.Context, name string, data []byte) (track.Track, error) {
	t, err := c.library.Append(ctx, name, data)
	if err != nil {
		return track.Track{}, c.report(errors.Wrapf(err, "failed to add %s", name))
	}

	pl, err := c.library.Playlist(ctx)
	if err != nil {
		return t, c.report(errors.Wrap(err, "failed to reload playlist"))
	}

	c.mu.Lock()
	c.playlist = pl
	c.sendEventLocked(EventPlaylistChanged, nil)
	c.mu.Unlock()

	return t, c.switchTo(ctx, func(pl playlist.Playlist, _ int) (int, error) {
		if i := pl.IndexOf(t.Key); i >= 0 {
			return i, nil
		}
		return 0, errors.Wrapf(ErrIndexOutOfRange, "added track %s not in playlist", t.Key)
	}, true, 0, true)
}

// Next switches to the following track, wrapping to the first.
func (c *Controller) Next(ctx context.Context) error {
	return c.switchTo(ctx, func(pl playlist.Playlist, current int) (int, error) {
		if pl.Len() == 0 {
			return 0, ErrPlaylistEmpty
		}
		return pl.NextIndex(current), nil
	}, true, 0, true)
}

// Previous switches to the preceding track, wrapping to the last.
func (c *Controller) Previous(ctx context.Context) error {
	return c.switchTo(ctx, func(pl playlist.Playlist, current int) (int, error) {
		if pl.Len() == 0 {
			return 0, ErrPlaylistEmpty
		}
		return pl.PrevIndex(current), nil
	}, true, 0, true)
}

// Select switches to the track at index and plays it from the start.
func (c *Controller) Select(ctx context.Context, index int) error {
	return c.switchTo(ctx, exactly(index), true, 0, true)
}

// TogglePlay inverts the play intent.
func (c *Controller) TogglePlay(ctx context.Context) error {
	c.mu.Lock()
	play := !c.playing
	c.mu.Unlock()
	return c.SetPlaying(ctx, play)
}

// SetPlaying plays or pauses the current track. The current position is
// kept; if no track is bound the current index is bound first.
func (c *Controller) SetPlaying(ctx context.Context, play bool) error {
	c.mu.Lock()
	if c.playlist.Len() == 0 {
		c.mu.Unlock()
		return ErrPlaylistEmpty
	}
	if c.state == StateLoading {
		// The pending switch applies the intent once bound.
		c.playing = play
		c.mu.Unlock()
		return nil
	}
	if c.boundSource == 0 || c.boundIndex != c.index {
		index, position := c.index, c.position
		c.mu.Unlock()
		return c.switchTo(ctx, exactly(index), play, position, true)
	}

	c.playing = play
	if !play {
		c.position = c.player.Position()
	}
	if err := c.applyIntentLocked(); err != nil {
		err = c.failLocked(err)
		c.mu.Unlock()
		return err
	}
	save := c.snapshotLocked()
	zlog.Info().Msgf("playback: %s: index=%d, position=%.1fs", c.state, c.index, c.position)
	c.sendEventLocked(EventStateChanged, nil)
	c.mu.Unlock()

	_ = c.persist(ctx, save)
	return nil
}

// Seek moves within the current track and persists the new position.
func (c *Controller) Seek(ctx context.Context, seconds float64) error {
	c.mu.Lock()
	if c.boundSource == 0 || c.state == StateLoading {
		c.mu.Unlock()
		return ErrNoTrack
	}
	if err := c.player.Seek(seconds); err != nil {
		err = c.reportLocked(errors.Wrap(err, "failed to seek"))
		c.mu.Unlock()
		return err
	}
	c.position = c.player.Position()
	save := c.snapshotLocked()
	c.sendEventLocked(EventPosition, nil)
	c.mu.Unlock()

	_ = c.persist(ctx, save)
	return nil
}

// Run consumes player events until ctx is done or the player closes its
// event channel.
func (c *Controller) Run(ctx context.Context) error {
	events := c.player.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.handlePlayerEvent(ctx, ev)
		}
	}
}

// Shutdown pauses playback and persists the current position.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.boundSource == 0 || c.state == StateLoading {
		c.mu.Unlock()
		return nil
	}
	c.position = c.player.Position()
	if c.state == StatePlaying {
		if err := c.player.Pause(); err != nil {
			zlog.Warn().Err(err).Msg("playback: failed to pause on shutdown")
		}
	}
	zlog.Info().Msgf("playback: saving on shutdown: index=%d, position=%.1fs", c.boundIndex, c.position)
	save := c.snapshotLocked()
	c.mu.Unlock()

	return c.persist(ctx, save)
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Playlist returns the cached playlist.
func (c *Controller) Playlist() playlist.Playlist {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playlist
}

func exactly(index int) picker {
	return func(pl playlist.Playlist, _ int) (int, error) {
		if !pl.Valid(index) {
			return 0, errors.Wrapf(ErrIndexOutOfRange, "index %d of %d", index, pl.Len())
		}
		return index, nil
	}
}

// switchTo fetches the picked track and binds it to the player.
// The fetch runs without the lock; if another switch starts meanwhile, this
// one is discarded.
func (c *Controller) switchTo(ctx context.Context, pick picker, play bool, position float64, persist bool) error {
	c.mu.Lock()
	index, err := pick(c.playlist, c.index)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	tr, _ := c.playlist.At(index)

	c.generation++
	gen := c.generation
	c.index = index
	c.playing = play
	c.position = position
	c.state = StateLoading
	c.sendEventLocked(EventStateChanged, nil)
	c.mu.Unlock()

	data, err := c.library.Blob(ctx, tr.Key)

	c.mu.Lock()
	save, err := c.bindLocked(ctx, gen, index, tr, data, err, persist)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	_ = c.persist(ctx, save)
	return nil
}

// bindLocked loads a fetched track into the player unless a later switch
// has started. The returned snapshot is empty unless persist is set.
func (c *Controller) bindLocked(ctx context.Context, gen uint64, index int, tr track.Track, data []byte, err error, persist bool) (saveRequest, error) {
	var save saveRequest
	if gen != c.generation {
		metrics.StaleFetchesTotal.Inc()
		zlog.Debug().Msgf("playback: discarding superseded fetch: key=%s", tr.Key)
		return save, nil
	}
	if err != nil {
		return save, c.failLocked(errors.Wrapf(err, "failed to fetch track %s", tr.Key))
	}

	source, err := c.player.Load(ctx, data)
	if err != nil {
		return save, c.failLocked(errors.Wrapf(err, "failed to load track %s (%s)", tr.Key, tr.DisplayName))
	}
	c.boundIndex = index
	c.boundSource = source
	metrics.TrackChangesTotal.Inc()

	if c.position > 0 {
		if err := c.player.Seek(c.position); err != nil {
			zlog.Warn().Err(err).Msgf("playback: failed to restore position %.1fs", c.position)
		}
		c.position = c.player.Position()
	}
	if err := c.applyIntentLocked(); err != nil {
		return save, c.failLocked(err)
	}
	if persist {
		save = c.snapshotLocked()
	}

	zlog.Info().Msgf("playback: track bound: index=%d, key=%s, label=%s, state=%s", index, tr.Key, tr.Label(), c.state)
	c.sendEventLocked(EventTrackChanged, nil)
	return save, nil
}

// applyIntentLocked makes the player follow the play intent.
func (c *Controller) applyIntentLocked() error {
	if c.playing {
		if err := c.player.Play(); err != nil {
			return errors.Wrap(err, "failed to play")
		}
		c.state = StatePlaying
		return nil
	}
	if err := c.player.Pause(); err != nil {
		return errors.Wrap(err, "failed to pause")
	}
	c.state = StatePaused
	return nil
}

func (c *Controller) handlePlayerEvent(ctx context.Context, ev audio.Event) {
	c.mu.Lock()
	if ev.Source == 0 || ev.Source != c.boundSource {
		c.mu.Unlock()
		return
	}

	var save saveRequest
	switch ev.Type {
	case audio.EventPosition:
		if c.state != StatePlaying {
			break
		}
		c.position = ev.Position
		if c.now().Sub(c.lastSave) >= c.config.SaveInterval {
			save = c.snapshotLocked()
		}
		c.sendEventLocked(EventPosition, nil)

	case audio.EventStarted:
		if c.state == StateLoading || c.state == StatePlaying {
			break
		}
		c.state = StatePlaying
		c.playing = true
		c.sendEventLocked(EventStateChanged, nil)

	case audio.EventPaused:
		if c.state == StateLoading || c.state == StatePaused {
			break
		}
		c.state = StatePaused
		c.playing = false
		c.position = ev.Position
		c.sendEventLocked(EventStateChanged, nil)

	case audio.EventEnded:
		c.boundSource = 0
		c.position = ev.Position
		if c.state == StateLoading {
			// A switch is already under way.
			break
		}
		index := c.index
		c.mu.Unlock()

		zlog.Debug().Msgf("playback: track ended: index=%d", index)
		// Errors are reported by the switch itself.
		_ = c.Next(ctx)
		return
	}
	c.mu.Unlock()

	_ = c.persist(ctx, save)
}

// saveRequest is a playback state snapshot waiting to be written.
type saveRequest struct {
	state track.PlaybackState
	seq   uint64 // Zero when there is nothing to save
}

// snapshotLocked captures the bound index and position for persist.
func (c *Controller) snapshotLocked() saveRequest {
	if c.boundIndex < 0 {
		return saveRequest{}
	}
	c.saveSeq++
	c.lastSave = c.now()
	return saveRequest{
		state: track.PlaybackState{TrackIndex: c.boundIndex, PositionSeconds: c.position},
		seq:   c.saveSeq,
	}
}

// persist writes a snapshot taken by snapshotLocked. It must be called
// without mu held. A snapshot older than one already written is skipped.
// Failures are reported but never stop playback.
func (c *Controller) persist(ctx context.Context, save saveRequest) error {
	if save.seq == 0 {
		return nil
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if save.seq <= c.savedSeq {
		return nil
	}

	err := c.library.SaveState(ctx, save.state)
	metrics.PositionSavesTotal.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		return c.report(errors.Wrap(err, "failed to save playback state"))
	}
	c.savedSeq = save.seq
	return nil
}

// failLocked unbinds the player after a failed switch and reports err.
func (c *Controller) failLocked(err error) error {
	if c.boundSource != 0 {
		_ = c.player.Pause()
	}
	c.boundSource = 0
	c.boundIndex = -1
	c.playing = false
	c.state = StateIdle
	return c.reportLocked(err)
}

func (c *Controller) report(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reportLocked(err)
}

func (c *Controller) reportLocked(err error) error {
	zlog.Error().Err(err).Msg("playback: operation failed")
	c.sendEventLocked(EventError, err)
	return err
}

func (c *Controller) statusLocked() Status {
	s := Status{
		State:    c.state,
		Index:    c.index,
		Position: c.position,
		Length:   c.playlist.Len(),
	}
	if t, ok := c.playlist.At(c.index); ok {
		s.Track = &t
	}
	if c.boundSource != 0 && c.boundIndex == c.index && c.state != StateLoading {
		s.Position = c.player.Position()
		s.Duration = c.player.Duration()
	}
	return s
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (c *Controller) sendEventLocked(typ EventType, err error) {
	select {
	case c.eventCh <- Event{Type: typ, Status: c.statusLocked(), Err: err}:
	default:
		// Channel full, drop event
	}
}
