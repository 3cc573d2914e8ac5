package playback

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tapedeck/internal/app/library"
	"github.com/osa030/tapedeck/internal/domain/track"
	"github.com/osa030/tapedeck/internal/infra/audio"
	"github.com/osa030/tapedeck/internal/infra/metrics"
	"github.com/osa030/tapedeck/internal/infra/store"
)

// fakePlayer records what the controller asks of it.
type fakePlayer struct {
	mu       sync.Mutex
	source   uint64
	loaded   []string
	playing  bool
	position float64
	loadErr  error
	events   chan audio.Event
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{events: make(chan audio.Event, 16)}
}

func (p *fakePlayer) Load(ctx context.Context, data []byte) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return 0, p.loadErr
	}
	p.source++
	p.loaded = append(p.loaded, string(data))
	p.playing = false
	p.position = 0
	return p.source, nil
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	return nil
}

func (p *fakePlayer) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = seconds
	return nil
}

func (p *fakePlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *fakePlayer) Duration() float64 { return 180 }

func (p *fakePlayer) Events() <-chan audio.Event { return p.events }

func (p *fakePlayer) snapshot() (uint64, []string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source, append([]string(nil), p.loaded...), p.playing
}

// gatedLibrary blocks Blob for gated keys until the gate is closed.
type gatedLibrary struct {
	*library.Library
	gates   map[string]chan struct{}
	waiting chan string
}

func (g *gatedLibrary) Blob(ctx context.Context, key string) ([]byte, error) {
	if gate, ok := g.gates[key]; ok {
		g.waiting <- key
		<-gate
	}
	return g.Library.Blob(ctx, key)
}

type fixture struct {
	ctl    *Controller
	player *fakePlayer
	lib    *library.Library
	store  *store.Memory
	clock  time.Time
}

// newFixture seeds n tracks whose payloads are "track-<i>".
func newFixture(t *testing.T, n int, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	lib := library.New(s)
	for i := 0; i < n; i++ {
		_, err := lib.Append(ctx, fmt.Sprintf("%d.mp3", i), []byte(fmt.Sprintf("track-%d", i)))
		require.NoError(t, err)
	}
	f := &fixture{player: newFakePlayer(), lib: lib, store: s, clock: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	f.ctl = NewController(f.player, lib, cfg)
	f.ctl.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) savedState(t *testing.T) track.PlaybackState {
	t.Helper()
	st, ok, err := f.lib.State(context.Background())
	require.NoError(t, err)
	require.True(t, ok, "playback state should be saved")
	return st
}

func (f *fixture) seedState(t *testing.T, raw string) {
	t.Helper()
	require.NoError(t, f.store.Put(context.Background(), store.Settings, library.StateKey, []byte(raw)))
}

func (f *fixture) lastLoaded(t *testing.T) string {
	t.Helper()
	_, loaded, _ := f.player.snapshot()
	require.NotEmpty(t, loaded)
	return loaded[len(loaded)-1]
}

func TestController_EmptyPlaylist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, Config{})

	require.NoError(t, f.ctl.Start(ctx))
	assert.Equal(t, StateIdle, f.ctl.Status().State)
	assert.Nil(t, f.ctl.Status().Track)

	assert.True(t, errors.Is(f.ctl.Next(ctx), ErrPlaylistEmpty))
	assert.True(t, errors.Is(f.ctl.Previous(ctx), ErrPlaylistEmpty))
	assert.True(t, errors.Is(f.ctl.SetPlaying(ctx, true), ErrPlaylistEmpty))
	assert.True(t, errors.Is(f.ctl.Select(ctx, 0), ErrIndexOutOfRange))
	assert.True(t, errors.Is(f.ctl.Seek(ctx, 3), ErrNoTrack))

	_, loaded, _ := f.player.snapshot()
	assert.Empty(t, loaded)
	_, ok, err := f.lib.State(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestController_AddTrack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, Config{StartPaused: true})
	require.NoError(t, f.ctl.Start(ctx))

	before := f.ctl.Status().Length
	added, err := f.ctl.AddTrack(ctx, "new.mp3", []byte("fresh"))
	require.NoError(t, err)

	assert.Equal(t, track.KeyForIndex(before), added.Key)
	st := f.ctl.Status()
	assert.Equal(t, before+1, st.Length)
	assert.Equal(t, before, st.Index)
	assert.Equal(t, StatePlaying, st.State)
	assert.Equal(t, "fresh", f.lastLoaded(t))
	assert.Equal(t, track.PlaybackState{TrackIndex: before}, f.savedState(t))

	_, err = f.ctl.AddTrack(ctx, "empty.mp3", nil)
	assert.True(t, errors.Is(err, library.ErrEmptyBlob))
	assert.Equal(t, before+1, f.ctl.Status().Length)
}

func TestController_WrapAround(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, Config{})
	require.NoError(t, f.ctl.Start(ctx))

	const n = 3
	for i := 0; i < n; i++ {
		_, err := f.ctl.AddTrack(ctx, fmt.Sprintf("%d.mp3", i), []byte(fmt.Sprintf("track-%d", i)))
		require.NoError(t, err)
	}
	require.Equal(t, n-1, f.ctl.Status().Index)

	require.NoError(t, f.ctl.Next(ctx))
	assert.Equal(t, 0, f.ctl.Status().Index)
	assert.Equal(t, "track-0", f.lastLoaded(t))

	require.NoError(t, f.ctl.Previous(ctx))
	assert.Equal(t, n-1, f.ctl.Status().Index)
	assert.Equal(t, track.PlaybackState{TrackIndex: n - 1}, f.savedState(t))
}

func TestController_TwoTracks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, Config{})
	require.NoError(t, f.ctl.Start(ctx))
	require.Equal(t, 0, f.ctl.Status().Index)

	require.NoError(t, f.ctl.Next(ctx))
	assert.Equal(t, 1, f.ctl.Status().Index)
	assert.Equal(t, "track-1", f.lastLoaded(t))

	require.NoError(t, f.ctl.Next(ctx))
	assert.Equal(t, 0, f.ctl.Status().Index)
	assert.Equal(t, "track-0", f.lastLoaded(t))
	assert.Equal(t, StatePlaying, f.ctl.Status().State)
}

func TestController_Select(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, Config{StartPaused: true})
	require.NoError(t, f.ctl.Start(ctx))

	require.NoError(t, f.ctl.Select(ctx, 2))
	assert.Equal(t, 2, f.ctl.Status().Index)
	assert.Equal(t, StatePlaying, f.ctl.Status().State)

	for _, bad := range []int{-1, 3, 100} {
		err := f.ctl.Select(ctx, bad)
		assert.True(t, errors.Is(err, ErrIndexOutOfRange), "index %d", bad)
	}
	assert.Equal(t, 2, f.ctl.Status().Index)
}

func TestController_EndedEqualsOneNext(t *testing.T) {
	ctx := context.Background()

	viaNext := newFixture(t, 3, Config{})
	require.NoError(t, viaNext.ctl.Start(ctx))
	require.NoError(t, viaNext.ctl.Next(ctx))

	viaEnd := newFixture(t, 3, Config{})
	require.NoError(t, viaEnd.ctl.Start(ctx))
	source, _, _ := viaEnd.player.snapshot()
	ended := audio.Event{Type: audio.EventEnded, Source: source, Position: 180}
	viaEnd.ctl.handlePlayerEvent(ctx, ended)
	// A repeated end of the same source is ignored.
	viaEnd.ctl.handlePlayerEvent(ctx, ended)

	assert.Equal(t, viaNext.ctl.Status().Index, viaEnd.ctl.Status().Index)
	assert.Equal(t, viaNext.savedState(t), viaEnd.savedState(t))
	assert.Equal(t, viaNext.lastLoaded(t), viaEnd.lastLoaded(t))
	_, loaded, _ := viaEnd.player.snapshot()
	assert.Len(t, loaded, 2)
}

func TestController_RestoresSavedState(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		saved       string
		startPaused bool
		wantIndex   int
		wantPos     float64
		wantState   State
	}{
		{name: "saved track and position", saved: `{"trackIndex":2,"position":42.5}`, wantIndex: 2, wantPos: 42.5, wantState: StatePlaying},
		{name: "start paused", saved: `{"trackIndex":1,"position":3}`, startPaused: true, wantIndex: 1, wantPos: 3, wantState: StatePaused},
		{name: "absent", wantState: StatePlaying},
		{name: "index out of range", saved: `{"trackIndex":9,"position":10}`, wantState: StatePlaying},
		{name: "negative position", saved: `{"trackIndex":1,"position":-4}`, wantState: StatePlaying},
		{name: "malformed", saved: `{"oops"`, wantState: StatePlaying},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 3, Config{StartPaused: tt.startPaused})
			if tt.saved != "" {
				f.seedState(t, tt.saved)
			}
			before, err := f.store.GetAll(ctx, store.Playlist)
			require.NoError(t, err)

			require.NoError(t, f.ctl.Start(ctx))

			st := f.ctl.Status()
			assert.Equal(t, tt.wantIndex, st.Index)
			assert.Equal(t, tt.wantPos, st.Position)
			assert.Equal(t, tt.wantState, st.State)
			assert.Equal(t, fmt.Sprintf("track-%d", tt.wantIndex), f.lastLoaded(t))

			after, err := f.store.GetAll(ctx, store.Playlist)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestController_PositionEventsPersistValidIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, Config{SaveInterval: time.Second})
	require.NoError(t, f.ctl.Start(ctx))
	require.NoError(t, f.ctl.Select(ctx, 1))
	source, _, _ := f.player.snapshot()

	f.clock = f.clock.Add(2 * time.Second)
	f.ctl.handlePlayerEvent(ctx, audio.Event{Type: audio.EventPosition, Source: source, Position: 12})
	assert.Equal(t, track.PlaybackState{TrackIndex: 1, PositionSeconds: 12}, f.savedState(t))

	// Within the save interval the position is tracked but not written.
	f.clock = f.clock.Add(100 * time.Millisecond)
	f.ctl.handlePlayerEvent(ctx, audio.Event{Type: audio.EventPosition, Source: source, Position: 12.25})
	assert.Equal(t, track.PlaybackState{TrackIndex: 1, PositionSeconds: 12}, f.savedState(t))

	f.clock = f.clock.Add(time.Second)
	f.ctl.handlePlayerEvent(ctx, audio.Event{Type: audio.EventPosition, Source: source, Position: 13.5})
	saved := f.savedState(t)
	assert.Equal(t, track.PlaybackState{TrackIndex: 1, PositionSeconds: 13.5}, saved)
	assert.True(t, saved.TrackIndex >= 0 && saved.TrackIndex < f.ctl.Status().Length)
}

func TestController_IgnoresEventsOfReplacedSource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, Config{})
	require.NoError(t, f.ctl.Start(ctx))
	oldSource, _, _ := f.player.snapshot()
	require.NoError(t, f.ctl.Next(ctx))

	f.clock = f.clock.Add(time.Hour)
	f.ctl.handlePlayerEvent(ctx, audio.Event{Type: audio.EventPosition, Source: oldSource, Position: 99})
	f.ctl.handlePlayerEvent(ctx, audio.Event{Type: audio.EventEnded, Source: oldSource})

	assert.Equal(t, 1, f.ctl.Status().Index)
	assert.Equal(t, track.PlaybackState{TrackIndex: 1}, f.savedState(t))
}

func TestController_StaleFetchNeverBinds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, Config{})
	gated := &gatedLibrary{
		Library: f.lib,
		gates:   map[string]chan struct{}{"1": make(chan struct{})},
		waiting: make(chan string, 1),
	}
	ctl := NewController(f.player, gated, Config{})
	require.NoError(t, ctl.Start(ctx))
	staleBefore := testutil.ToFloat64(metrics.StaleFetchesTotal)

	done := make(chan error, 1)
	go func() { done <- ctl.Select(ctx, 1) }()
	require.Equal(t, "1", <-gated.waiting)

	require.NoError(t, ctl.Select(ctx, 2))
	close(gated.gates["1"])
	require.NoError(t, <-done)

	_, loaded, _ := f.player.snapshot()
	assert.Equal(t, []string{"track-0", "track-2"}, loaded)
	assert.Equal(t, 2, ctl.Status().Index)
	assert.Equal(t, StatePlaying, ctl.Status().State)
	assert.Equal(t, staleBefore+1, testutil.ToFloat64(metrics.StaleFetchesTotal))
}

func TestController_TogglePreservesPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, Config{})
	f.seedState(t, `{"trackIndex":1,"position":20}`)
	require.NoError(t, f.ctl.Start(ctx))

	require.NoError(t, f.player.Seek(25))
	require.NoError(t, f.ctl.TogglePlay(ctx))
	assert.Equal(t, StatePaused, f.ctl.Status().State)
	assert.Equal(t, track.PlaybackState{TrackIndex: 1, PositionSeconds: 25}, f.savedState(t))

	require.NoError(t, f.ctl.TogglePlay(ctx))
	_, loaded, playing := f.player.snapshot()
	assert.True(t, playing)
	assert.Len(t, loaded, 1, "resume must not reload the track")
	assert.Equal(t, 25.0, f.ctl.Status().Position)
}

func TestController_Seek(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, Config{})
	require.NoError(t, f.ctl.Start(ctx))

	require.NoError(t, f.ctl.Seek(ctx, 61))
	assert.Equal(t, 61.0, f.ctl.Status().Position)
	assert.Equal(t, track.PlaybackState{TrackIndex: 0, PositionSeconds: 61}, f.savedState(t))
}

func TestController_LoadFailureIsSurfaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, Config{})
	require.NoError(t, f.ctl.Start(ctx))
	for len(f.ctl.Events()) > 0 {
		<-f.ctl.Events()
	}

	f.player.mu.Lock()
	f.player.loadErr = audio.ErrUnsupportedFormat
	f.player.mu.Unlock()

	err := f.ctl.Next(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, audio.ErrUnsupportedFormat))
	assert.Equal(t, StateIdle, f.ctl.Status().State)

	var sawError bool
	for len(f.ctl.Events()) > 0 {
		if ev := <-f.ctl.Events(); ev.Type == EventError {
			sawError = true
			assert.True(t, errors.Is(ev.Err, audio.ErrUnsupportedFormat))
		}
	}
	assert.True(t, sawError)

	// Playing again rebinds the current index once the player recovers.
	f.player.mu.Lock()
	f.player.loadErr = nil
	f.player.mu.Unlock()
	require.NoError(t, f.ctl.SetPlaying(ctx, true))
	assert.Equal(t, StatePlaying, f.ctl.Status().State)
	assert.Equal(t, "track-1", f.lastLoaded(t))
}

func TestController_ShutdownSavesPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, Config{})
	require.NoError(t, f.ctl.Start(ctx))
	require.NoError(t, f.player.Seek(33))

	require.NoError(t, f.ctl.Shutdown(ctx))
	assert.Equal(t, track.PlaybackState{TrackIndex: 0, PositionSeconds: 33}, f.savedState(t))
	_, _, playing := f.player.snapshot()
	assert.False(t, playing)
}

func TestController_RunHandlesEnded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, 2, Config{})
	require.NoError(t, f.ctl.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- f.ctl.Run(ctx) }()

	source, _, _ := f.player.snapshot()
	f.player.events <- audio.Event{Type: audio.EventEnded, Source: source}

	assert.Eventually(t, func() bool {
		return f.ctl.Status().Index == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestController_StartSurvivesUnplayableTrack(t *testing.T) {
	tests := []struct {
		name      string
		state     string
		wantIndex int
	}{
		{name: "no saved state", wantIndex: 0},
		{name: "restored index", state: `{"trackIndex":1,"position":12}`, wantIndex: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := store.NewMemory()
			lib := library.New(s)
			if tt.wantIndex == 1 {
				_, err := lib.Append(ctx, "first.wav", []byte("placeholder"))
				require.NoError(t, err)
			}
			_, err := lib.Append(ctx, "notes.mp3", []byte("not really audio"))
			require.NoError(t, err)
			if tt.state != "" {
				require.NoError(t, s.Put(ctx, store.Settings, library.StateKey, []byte(tt.state)))
			}

			player := audio.NewNull(audio.Config{TickInterval: time.Hour})
			defer player.Close()
			ctl := NewController(player, lib, Config{})

			require.NoError(t, ctl.Start(ctx))
			st := ctl.Status()
			assert.Equal(t, StateIdle, st.State)
			assert.Equal(t, tt.wantIndex, st.Index)

			var sawError bool
			for len(ctl.Events()) > 0 {
				if ev := <-ctl.Events(); ev.Type == EventError {
					sawError = true
					assert.True(t, errors.Is(ev.Err, audio.ErrUnsupportedFormat))
				}
			}
			assert.True(t, sawError)
		})
	}
}

func TestController_StartKeepsOtherTracksPlayable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, Config{})

	f.player.mu.Lock()
	f.player.loadErr = audio.ErrUnsupportedFormat
	f.player.mu.Unlock()

	require.NoError(t, f.ctl.Start(ctx))
	assert.Equal(t, StateIdle, f.ctl.Status().State)

	f.player.mu.Lock()
	f.player.loadErr = nil
	f.player.mu.Unlock()

	require.NoError(t, f.ctl.Next(ctx))
	assert.Equal(t, StatePlaying, f.ctl.Status().State)
	assert.Equal(t, "track-1", f.lastLoaded(t))
}

// blockingSaves holds SaveState until release is closed.
type blockingSaves struct {
	*library.Library
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSaves) SaveState(ctx context.Context, st track.PlaybackState) error {
	b.entered <- struct{}{}
	<-b.release
	return b.Library.SaveState(ctx, st)
}

func TestController_SaveDoesNotHoldLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, Config{})
	require.NoError(t, f.ctl.Start(ctx))

	lib := &blockingSaves{Library: f.lib, entered: make(chan struct{}, 1), release: make(chan struct{})}
	f.ctl.library = lib

	done := make(chan error, 1)
	go func() { done <- f.ctl.Seek(ctx, 42) }()

	select {
	case <-lib.entered:
	case <-time.After(time.Second):
		t.Fatal("save was not attempted")
	}

	status := make(chan Status, 1)
	go func() { status <- f.ctl.Status() }()
	select {
	case st := <-status:
		assert.Equal(t, 42.0, st.Position)
	case <-time.After(time.Second):
		t.Fatal("Status blocked while the state was being saved")
	}

	close(lib.release)
	require.NoError(t, <-done)
	assert.Equal(t, track.PlaybackState{TrackIndex: 0, PositionSeconds: 42}, f.savedState(t))
}

func TestController_OlderSnapshotNeverOverwritesNewer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, Config{})
	require.NoError(t, f.ctl.Start(ctx))

	f.ctl.mu.Lock()
	f.ctl.position = 10
	older := f.ctl.snapshotLocked()
	f.ctl.position = 20
	newer := f.ctl.snapshotLocked()
	f.ctl.mu.Unlock()

	require.NoError(t, f.ctl.persist(ctx, newer))
	require.NoError(t, f.ctl.persist(ctx, older))
	assert.Equal(t, track.PlaybackState{TrackIndex: 0, PositionSeconds: 20}, f.savedState(t))
}
