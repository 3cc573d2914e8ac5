package store

import (
	"context"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tapedeck/internal/infra/config"
)

// Default sqlite file name inside the data directory.
const defaultSQLiteFile = "tapedeck.db"

// NewFromConfig opens the configured backend, wraps it with metrics and,
// when a blob backend is configured, routes the audioFiles collection to it.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	primary, err := openBackend(ctx, cfg.Store.Type, cfg.Store.Settings, cfg.DataDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s store", cfg.Store.Type)
	}
	zlog.Info().Msgf("store: opened primary backend: type=%s", cfg.Store.Type)
	primaryStore := Store(Instrument(primary, cfg.Store.Type))

	if cfg.Store.Blobs.Type == "" {
		return primaryStore, nil
	}

	blobs, err := openBackend(ctx, cfg.Store.Blobs.Type, cfg.Store.Blobs.Settings, cfg.DataDir)
	if err != nil {
		_ = primaryStore.Close()
		return nil, errors.Wrapf(err, "failed to open %s blob store", cfg.Store.Blobs.Type)
	}
	zlog.Info().Msgf("store: routing %s to %s", AudioFiles, cfg.Store.Blobs.Type)

	return NewRouted(primaryStore, map[Collection]Store{
		AudioFiles: Instrument(blobs, cfg.Store.Blobs.Type),
	})
}

func openBackend(ctx context.Context, typ string, settings map[string]any, dataDir string) (Store, error) {
	switch typ {
	case "memory":
		return NewMemory(), nil

	case "sqlite":
		var sc SQLiteConfig
		if err := decodeSettings(settings, &sc); err != nil {
			return nil, err
		}
		if sc.Path == "" {
			sc.Path = filepath.Join(dataDir, defaultSQLiteFile)
		}
		return NewSQLite(ctx, sc)

	case "redis":
		var rc RedisConfig
		if err := decodeSettings(settings, &rc); err != nil {
			return nil, err
		}
		return NewRedis(ctx, rc)

	case "minio":
		var mc MinIOConfig
		if err := decodeSettings(settings, &mc); err != nil {
			return nil, err
		}
		return NewMinIO(ctx, mc)

	default:
		return nil, errors.Newf("unsupported store type: %s", typ)
	}
}

func decodeSettings(settings map[string]any, out any) error {
	if len(settings) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create settings decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "invalid store settings")
	}
	return nil
}
