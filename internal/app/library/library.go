// Package library provides typed access to the persisted playlist.
//
// Track metadata and the playback state are stored as JSON; audio payloads
// are stored as raw bytes under the same key as their metadata.
package library

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dhowden/tag"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/domain/playlist"
	"github.com/osa030/tapedeck/internal/domain/track"
	"github.com/osa030/tapedeck/internal/infra/store"
)

// StateKey is the settings key of the persisted playback state.
const StateKey = "lastPlayingAudio"

// Errors
var (
	ErrEmptyBlob = errors.New("audio data is empty")
)

// Library is a repository of tracks over a Store.
type Library struct {
	store store.Store

	mu  sync.Mutex // Serializes Append
	now func() time.Time
}

// New creates a library backed by s.
func New(s store.Store) *Library {
	return &Library{store: s, now: time.Now}
}

// Playlist loads all track metadata ordered by key.
// Records that cannot be decoded are skipped.
func (l *Library) Playlist(ctx context.Context) (playlist.Playlist, error) {
	entries, err := l.store.GetAll(ctx, store.Playlist)
	if err != nil {
		return playlist.Playlist{}, errors.Wrap(err, "failed to load playlist")
	}

	tracks := make([]track.Track, 0, len(entries))
	for _, e := range entries {
		var t track.Track
		if err := json.Unmarshal(e.Value, &t); err != nil {
			zlog.Warn().Err(err).Msgf("library: skipping malformed playlist entry: key=%s", e.Key)
			continue
		}
		t.Key = e.Key
		tracks = append(tracks, t)
	}
	return playlist.New(tracks), nil
}

// Blob returns the audio payload stored under key.
func (l *Library) Blob(ctx context.Context, key string) ([]byte, error) {
	data, err := l.store.Get(ctx, store.AudioFiles, key)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load audio %s", key)
	}
	return data, nil
}

// State returns the persisted playback state.
// ok is false when no state was saved or the saved record is malformed.
func (l *Library) State(ctx context.Context) (st track.PlaybackState, ok bool, err error) {
	data, err := l.store.Get(ctx, store.Settings, StateKey)
	if store.IsNotFound(err) {
		return track.PlaybackState{}, false, nil
	}
	if err != nil {
		return track.PlaybackState{}, false, errors.Wrap(err, "failed to load playback state")
	}

	var raw struct {
		TrackIndex *int     `json:"trackIndex"`
		Position   *float64 `json:"position"`
	}
	if err := json.Unmarshal(data, &raw); err != nil || raw.TrackIndex == nil {
		zlog.Warn().Err(err).Msgf("library: ignoring malformed playback state: %q", string(data))
		return track.PlaybackState{}, false, nil
	}

	st.TrackIndex = *raw.TrackIndex
	if raw.Position != nil {
		st.PositionSeconds = *raw.Position
	}
	return st, true, nil
}

// SaveState persists the playback state.
func (l *Library) SaveState(ctx context.Context, st track.PlaybackState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "failed to encode playback state")
	}
	if err := l.store.Put(ctx, store.Settings, StateKey, data); err != nil {
		return errors.Wrap(err, "failed to save playback state")
	}
	return nil
}

// Append stores a new track at the end of the playlist.
// The key is the number of persisted tracks. The payload is written before
// the metadata, so a listed track always has its audio.
func (l *Library) Append(ctx context.Context, name string, data []byte) (track.Track, error) {
	if len(data) == 0 {
		return track.Track{}, errors.Wrapf(ErrEmptyBlob, "%s", name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.store.GetAll(ctx, store.Playlist)
	if err != nil {
		return track.Track{}, errors.Wrap(err, "failed to count playlist")
	}

	t := track.Track{
		Key:         track.KeyForIndex(len(entries)),
		ID:          uuid.NewString(),
		DisplayName: name,
		MIMEType:    mimetype.Detect(data).String(),
		Size:        int64(len(data)),
		AddedAt:     l.now().UTC(),
	}
	if md, err := tag.ReadFrom(bytes.NewReader(data)); err == nil {
		t.Title = md.Title()
		t.Artist = md.Artist()
	}

	if err := l.store.Put(ctx, store.AudioFiles, t.Key, data); err != nil {
		return track.Track{}, errors.Wrapf(err, "failed to store audio for %s", name)
	}

	meta, err := json.Marshal(t)
	if err != nil {
		return track.Track{}, errors.Wrap(err, "failed to encode track")
	}
	if err := l.store.Put(ctx, store.Playlist, t.Key, meta); err != nil {
		return track.Track{}, errors.Wrapf(err, "failed to store metadata for %s", name)
	}

	zlog.Info().Msgf("library: added track: key=%s, name=%s, type=%s, size=%d", t.Key, t.DisplayName, t.MIMEType, t.Size)
	return t, nil
}
