package store

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tapedeck/internal/infra/metrics"
)

func TestInstrument_CountsOperations(t *testing.T) {
	ctx := context.Background()
	s := Instrument(NewMemory(), "instrument-test")

	put := metrics.StoreOperationsTotal.WithLabelValues("instrument-test", "put", "playlist", "success")
	miss := metrics.StoreOperationsTotal.WithLabelValues("instrument-test", "get", "playlist", "not_found")
	hit := metrics.StoreOperationsTotal.WithLabelValues("instrument-test", "get", "playlist", "success")
	beforePut, beforeMiss, beforeHit := testutil.ToFloat64(put), testutil.ToFloat64(miss), testutil.ToFloat64(hit)

	_, err := s.Get(ctx, Playlist, "0")
	require.Error(t, err)
	require.NoError(t, s.Put(ctx, Playlist, "0", []byte("x")))
	_, err = s.Get(ctx, Playlist, "0")
	require.NoError(t, err)

	assert.Equal(t, beforePut+1, testutil.ToFloat64(put))
	assert.Equal(t, beforeMiss+1, testutil.ToFloat64(miss))
	assert.Equal(t, beforeHit+1, testutil.ToFloat64(hit))
}
