package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/app/library"
	"github.com/osa030/tapedeck/internal/domain/playlist"
	"github.com/osa030/tapedeck/internal/domain/track"
	"github.com/osa030/tapedeck/internal/infra/audio"
	"github.com/osa030/tapedeck/internal/infra/config"
	"github.com/osa030/tapedeck/internal/infra/metrics"
	"github.com/osa030/tapedeck/internal/infra/store"
)

func openLibrary(ctx context.Context, cfg *config.Config) (*library.Library, func(), error) {
	st, err := store.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return library.New(st), func() { _ = st.Close() }, nil
}

// add appends files without touching the playback state.
func add(ctx context.Context, cfg *config.Config, files []string) error {
	lib, closeFn, err := openLibrary(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	failed := 0
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			zlog.Error().Err(err).Msgf("Failed to read %s", path)
			failed++
			continue
		}
		if mime := audio.DetectMIME(data); !audio.Supported(mime) {
			zlog.Error().Msgf("Skipping %s: unsupported type %s", path, mime)
			failed++
			continue
		}
		t, err := lib.Append(ctx, filepath.Base(path), data)
		if err != nil {
			zlog.Error().Err(err).Msgf("Failed to add %s", path)
			failed++
			continue
		}
		metrics.TracksImportedTotal.WithLabelValues("cli").Inc()
		fmt.Printf("added %s: %s\n", t.Key, t.Label())
	}
	if failed > 0 {
		return errors.Newf("%d of %d files were not added", failed, len(files))
	}
	return nil
}

func list(ctx context.Context, cfg *config.Config) error {
	lib, closeFn, err := openLibrary(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	pl, err := lib.Playlist(ctx)
	if err != nil {
		return err
	}
	st, ok, err := lib.State(ctx)
	if err != nil {
		return err
	}
	if !ok {
		st = track.PlaybackState{}
	}
	renderList(os.Stdout, pl, st.Normalize(pl.Len()))
	return nil
}

func renderList(w io.Writer, pl playlist.Playlist, st track.PlaybackState) {
	if pl.Len() == 0 {
		fmt.Fprintln(w, "Playlist is empty. Add files with: tapedeck add FILE...")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"", "Key", "Name", "Type", "Size", "Added"})
	for i, tr := range pl.Tracks {
		marker := ""
		if i == st.TrackIndex {
			marker = text.FgGreen.Sprint("▶")
		}
		t.AppendRow(table.Row{marker, tr.Key, tr.Label(), tr.MIMEType, formatSize(tr.Size), tr.AddedAt.Local().Format("2006-01-02 15:04")})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d tracks", pl.Len()), "", formatSize(pl.TotalSize()), ""})
	t.Render()
}

func status(ctx context.Context, cfg *config.Config) error {
	lib, closeFn, err := openLibrary(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	pl, err := lib.Playlist(ctx)
	if err != nil {
		return err
	}
	st, ok, err := lib.State(ctx)
	if err != nil {
		return err
	}
	renderStatus(os.Stdout, pl, st, ok)
	return nil
}

func renderStatus(w io.Writer, pl playlist.Playlist, st track.PlaybackState, saved bool) {
	fmt.Fprintf(w, "Tracks: %d\n", pl.Len())
	if pl.Len() == 0 {
		fmt.Fprintln(w, "Nothing to play")
		return
	}
	if !saved {
		fmt.Fprintln(w, "No saved position; playback starts at the first track")
	}
	normalized := st.Normalize(pl.Len())
	if saved && normalized != st {
		fmt.Fprintf(w, "Saved position %d @ %.1fs is not usable; playback starts at the first track\n", st.TrackIndex, st.PositionSeconds)
	}
	tr, _ := pl.At(normalized.TrackIndex)
	fmt.Fprintf(w, "Track: %d/%d %s\n", normalized.TrackIndex+1, pl.Len(), tr.Label())
	fmt.Fprintf(w, "Position: %s\n", formatPosition(normalized.PositionSeconds))
}

func formatPosition(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func formatSize(n int64) string {
	return humanize.IBytes(uint64(max(n, 0)))
}
