// Package importer adds audio files dropped into an inbox directory to the playlist.
package importer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/osa030/tapedeck/internal/domain/track"
	"github.com/osa030/tapedeck/internal/infra/audio"
	"github.com/osa030/tapedeck/internal/infra/metrics"
)

// ImportedDir is the inbox subdirectory imported files are moved to when kept.
const ImportedDir = "imported"

// Adder appends a track to the playlist.
type Adder interface {
	AddTrack(ctx context.Context, name string, data []byte) (track.Track, error)
}

// Config holds importer configuration.
type Config struct {
	Dir       string        // Inbox directory
	KeepFiles bool          // Move imported files to ImportedDir instead of deleting them
	Settle    time.Duration // Quiet period after the last write before a file is imported
}

// Importer watches the inbox directory.
type Importer struct {
	config  Config
	adder   Adder
	pending map[string]time.Time // path -> last write
	now     func() time.Time
}

// New creates an importer.
func New(config Config, adder Adder) *Importer {
	return &Importer{
		config:  config,
		adder:   adder,
		pending: make(map[string]time.Time),
		now:     time.Now,
	}
}

// IsSupported reports whether path has an extension the player can decode.
func IsSupported(path string) bool {
	return lo.Contains(audio.SupportedExtensions, strings.ToLower(filepath.Ext(path)))
}

// Run imports the files already in the inbox, then imports new files as
// they settle until ctx is done.
func (i *Importer) Run(ctx context.Context) error {
	if err := os.MkdirAll(i.config.Dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create inbox %s", i.config.Dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(i.config.Dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", i.config.Dir)
	}
	zlog.Info().Msgf("importer: watching inbox: dir=%s", i.config.Dir)

	if _, err := i.ImportExisting(ctx); err != nil {
		zlog.Warn().Err(err).Msg("importer: failed to import existing files")
	}

	interval := i.config.Settle / 2
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !IsSupported(event.Name) {
				continue
			}
			i.pending[event.Name] = i.now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			zlog.Warn().Err(err).Msg("importer: watcher error")

		case <-ticker.C:
			i.flush(ctx)
		}
	}
}

// ImportExisting imports every supported file currently in the inbox, in name order.
func (i *Importer) ImportExisting(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(i.config.Dir)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read inbox %s", i.config.Dir)
	}

	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), e.Type().IsRegular() && IsSupported(e.Name())
	})
	sort.Strings(names)

	count := 0
	for _, name := range names {
		if err := i.importFile(ctx, filepath.Join(i.config.Dir, name)); err != nil {
			zlog.Error().Err(err).Msgf("importer: failed to import %s", name)
			continue
		}
		count++
	}
	return count, nil
}

// flush imports pending files that have not changed for the settle period.
func (i *Importer) flush(ctx context.Context) {
	now := i.now()
	ready := lo.Filter(lo.Keys(i.pending), func(path string, _ int) bool {
		return now.Sub(i.pending[path]) >= i.config.Settle
	})
	sort.Strings(ready)

	for _, path := range ready {
		delete(i.pending, path)
		if err := i.importFile(ctx, path); err != nil {
			zlog.Error().Err(err).Msgf("importer: failed to import %s", filepath.Base(path))
		}
	}
}

func (i *Importer) importFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read file")
	}

	name := filepath.Base(path)
	t, err := i.adder.AddTrack(ctx, name, data)
	if err != nil && t.Key == "" {
		return err
	}
	if err != nil {
		// Stored but not playable; keep it out of the inbox so it is not added twice.
		zlog.Warn().Err(err).Msgf("importer: added but failed to play: name=%s", name)
	}
	metrics.TracksImportedTotal.WithLabelValues("inbox").Inc()
	zlog.Info().Msgf("importer: imported: name=%s, key=%s", name, t.Key)

	if !i.config.KeepFiles {
		return errors.Wrap(os.Remove(path), "failed to remove imported file")
	}
	dest := filepath.Join(i.config.Dir, ImportedDir)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return errors.Wrap(err, "failed to create imported directory")
	}
	return errors.Wrap(os.Rename(path, filepath.Join(dest, name)), "failed to move imported file")
}
