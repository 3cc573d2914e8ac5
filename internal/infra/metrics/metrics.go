// Package metrics defines the prometheus collectors and the optional /metrics endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
)

// Store metrics
var (
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapedeck_store_operations_total",
			Help: "Total number of key-value store operations",
		},
		[]string{"backend", "operation", "collection", "status"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tapedeck_store_operation_duration_seconds",
			Help:    "Key-value store operation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"backend", "operation"},
	)
)

// Playback metrics
var (
	TrackChangesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tapedeck_track_changes_total",
			Help: "Total number of source rebinds on the playback primitive",
		},
	)

	StaleFetchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tapedeck_stale_fetches_total",
			Help: "Blob fetches discarded because a newer track switch superseded them",
		},
	)

	PositionSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapedeck_position_saves_total",
			Help: "Persisted playback position writes",
		},
		[]string{"status"},
	)

	TracksImportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapedeck_tracks_imported_total",
			Help: "Tracks added to the playlist",
		},
		[]string{"source"},
	)
)

// Status returns the label value for an operation outcome.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Serve exposes the default registry on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("metrics: serving on %s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrap(err, "metrics server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shutdown metrics server")
	}
	return nil
}
