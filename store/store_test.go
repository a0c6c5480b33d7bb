package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/udprelay/metric"
)

func TestWithMetrics(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "relay_config.json"), nil)
	require.NoError(t, err)

	assert.Same(t, Store(fs), WithMetrics(fs, BackendFile, nil), "nil metrics leaves the store unwrapped")

	core := metric.NewMetrics()
	s := WithMetrics(fs, BackendFile, core)

	_, err = s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Save(context.Background(), testTable(t)))
	_, err = s.Load(context.Background())
	require.NoError(t, err)
	assert.Error(t, s.Save(context.Background(), nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(core.StoreOperations.WithLabelValues(BackendFile, "load", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.StoreOperations.WithLabelValues(BackendFile, "save", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.StoreOperations.WithLabelValues(BackendFile, "save", "error")))
}
