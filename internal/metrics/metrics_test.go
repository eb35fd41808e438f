package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFetch(t *testing.T) {
	m := New()
	m.ObserveFetch("ok", 20*time.Millisecond, 1024)
	m.ObserveFetch("transient", time.Second, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchAttempts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchAttempts.WithLabelValues("transient")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.FetchedBytes))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.CacheHits.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.CacheHits))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheHits))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.TilesTotal.WithLabelValues(OutcomeFetched).Add(3)

	path := filepath.Join(t.TempDir(), "tiler.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `tiler_pipeline_tiles_total{outcome="fetched"} 3`))
}
