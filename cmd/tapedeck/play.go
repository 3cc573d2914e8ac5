package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/app/importer"
	"github.com/osa030/tapedeck/internal/app/library"
	"github.com/osa030/tapedeck/internal/app/notification"
	"github.com/osa030/tapedeck/internal/app/playback"
	"github.com/osa030/tapedeck/internal/infra/audio"
	"github.com/osa030/tapedeck/internal/infra/config"
	"github.com/osa030/tapedeck/internal/infra/logger"
	"github.com/osa030/tapedeck/internal/infra/metrics"
	"github.com/osa030/tapedeck/internal/infra/store"
	"github.com/osa030/tapedeck/internal/ui"
)

// play runs the controller and the terminal UI until the user quits or a
// shutdown signal arrives.
func play(ctx context.Context, cfg *config.Config, logCfg logger.Config) error {
	// The UI owns the terminal; send logs to a file.
	if logCfg.Output != "file" {
		logCfg.Output = "file"
		logCfg.File = cfg.LogFile()
		closer, err := logger.Init(logCfg)
		if err != nil {
			return errors.Wrap(err, "failed to redirect logs")
		}
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	player, err := audio.New(audio.Config{
		TickInterval: time.Duration(cfg.Audio.TickMs) * time.Millisecond,
		SampleRate:   cfg.Audio.SampleRate,
		Buffer:       time.Duration(cfg.Audio.BufferMs) * time.Millisecond,
	}, cfg.Audio.Mute || *playMute)
	if err != nil {
		return errors.Wrap(err, "failed to open audio output")
	}
	defer player.Close()

	ctl := playback.NewController(player, library.New(st), playback.Config{
		StartPaused:  cfg.Playback.StartPaused || *playPaused,
		SaveInterval: cfg.SaveInterval(),
	})

	notifier := notification.NewManager[playback.Event]()
	defer notifier.Close()
	view := notification.NewChannelStream[playback.Event](64)
	notifier.Subscribe(view)
	notifier.Subscribe(logStream{})
	go notifier.Forward(ctx, ctl.Events())

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				zlog.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	if err := ctl.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start playback")
	}
	go func() {
		_ = ctl.Run(ctx)
	}()

	if dir := cfg.InboxDir(); dir != "" {
		imp := importer.New(importer.Config{
			Dir:       dir,
			KeepFiles: cfg.Library.KeepInboxFiles,
			Settle:    time.Duration(cfg.Library.SettleMs) * time.Millisecond,
		}, ctl)
		go func() {
			if err := imp.Run(ctx); err != nil {
				zlog.Error().Err(err).Msg("inbox importer stopped")
			}
		}()
	}

	uiErr := ui.Run(ctx, ctl, view.C())
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctl.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("failed to save playback state on shutdown")
	}
	return uiErr
}

// logStream records controller notifications in the log.
type logStream struct{}

func (logStream) Send(env notification.Envelope[playback.Event]) error {
	ev := env.Payload
	switch ev.Type {
	case playback.EventPosition:
		return nil
	case playback.EventError:
		zlog.Debug().Err(ev.Err).Msgf("notify: seq=%d, type=%s", env.SequenceNo, ev.Type)
	default:
		zlog.Debug().Msgf("notify: seq=%d, type=%s, state=%s, index=%d", env.SequenceNo, ev.Type, ev.Status.State, ev.Status.Index)
	}
	return nil
}
