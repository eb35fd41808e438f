package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/paulmach/orb/maptile"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsy96/satellite-downloader/internal/metrics"
)

func openTestCache(t *testing.T, root string, opts ...Option) *Cache {
	t.Helper()
	c, err := Open(root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGet(t *testing.T) {
	c := openTestCache(t, t.TempDir())
	tl := maptile.New(13198, 6759, 14)

	_, ok := c.Get("esri", tl)
	assert.False(t, ok)

	require.NoError(t, c.Put("esri", tl, []byte("tile-bytes")))
	data, ok := c.Get("esri", tl)
	require.True(t, ok)
	assert.Equal(t, []byte("tile-bytes"), data)

	assert.FileExists(t, filepath.Join(c.Root(), "esri", "14", "13198", "6759.tile"))

	// keyed by source as well as coordinate
	_, ok = c.Get("other", tl)
	assert.False(t, ok)
}

func TestPutIdempotentAndLastWriterWins(t *testing.T) {
	c := openTestCache(t, t.TempDir())
	tl := maptile.New(1, 2, 3)

	require.NoError(t, c.Put("s", tl, []byte("a")))
	require.NoError(t, c.Put("s", tl, []byte("a")))
	st, err := c.Stats("s")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Tiles)

	require.NoError(t, c.Put("s", tl, []byte("bb")))
	data, ok := c.Get("s", tl)
	require.True(t, ok)
	assert.Equal(t, []byte("bb"), data)

	st, err = c.Stats("s")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Tiles)
	assert.Equal(t, int64(2), st.Bytes)
}

func TestCorruptEntryIsMiss(t *testing.T) {
	m := metrics.New()
	c := openTestCache(t, t.TempDir(), WithMetrics(m))
	tl := maptile.New(5, 6, 7)

	require.NoError(t, c.Put("s", tl, []byte("payload")))
	require.NoError(t, os.WriteFile(c.Path("s", tl), []byte("pay"), 0o644))

	_, ok := c.Get("s", tl)
	assert.False(t, ok)
	assert.False(t, c.Has("s", tl))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheCorrupt))

	require.NoError(t, os.WriteFile(c.Path("s", tl), nil, 0o644))
	_, ok = c.Get("s", tl)
	assert.False(t, ok)

	// a fresh put repairs the entry
	require.NoError(t, c.Put("s", tl, []byte("payload")))
	_, ok = c.Get("s", tl)
	assert.True(t, ok)
}

func TestUnindexedFileIsServed(t *testing.T) {
	c := openTestCache(t, t.TempDir())
	tl := maptile.New(0, 0, 1)

	path := c.Path("s", tl)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("legacy"), 0o644))

	data, ok := c.Get("s", tl)
	require.True(t, ok)
	assert.Equal(t, []byte("legacy"), data)
}

func TestInvalidate(t *testing.T) {
	c := openTestCache(t, t.TempDir())
	tl := maptile.New(3, 3, 3)
	require.NoError(t, c.Put("s", tl, []byte("x")))
	require.NoError(t, c.Invalidate("s", tl))
	assert.False(t, c.Has("s", tl))
	assert.NoError(t, c.Invalidate("s", tl))
}

func TestPersistsAcrossReopen(t *testing.T) {
	root := t.TempDir()
	tl := maptile.New(9, 9, 9)

	c, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, c.Put("s", tl, []byte("kept")))
	require.NoError(t, c.Close())

	c = openTestCache(t, root)
	data, ok := c.Get("s", tl)
	require.True(t, ok)
	assert.Equal(t, []byte("kept"), data)
}

func TestConcurrentAccess(t *testing.T) {
	c := openTestCache(t, t.TempDir())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				tl := maptile.New(uint32(i), uint32(i%4), 10)
				assert.NoError(t, c.Put("s", tl, []byte(fmt.Sprintf("tile-%d", i))))
				_, _ = c.Get("s", tl)
			}
		}(w)
	}
	wg.Wait()

	st, err := c.Stats("s")
	require.NoError(t, err)
	assert.Equal(t, int64(20), st.Tiles)
	for i := 0; i < 20; i++ {
		data, ok := c.Get("s", maptile.New(uint32(i), uint32(i%4), 10))
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("tile-%d", i), string(data))
	}
}

func TestStatsAndClear(t *testing.T) {
	c := openTestCache(t, t.TempDir())
	require.NoError(t, c.Put("a", maptile.New(0, 0, 1), []byte("12")))
	require.NoError(t, c.Put("a", maptile.New(1, 0, 1), []byte("345")))
	require.NoError(t, c.Put("a", maptile.New(0, 0, 2), []byte("6")))
	require.NoError(t, c.Put("b", maptile.New(0, 0, 1), []byte("7")))

	st, err := c.Stats("a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Tiles)
	assert.Equal(t, int64(6), st.Bytes)
	assert.Equal(t, int64(2), st.Zooms[1])
	assert.Equal(t, int64(1), st.Zooms[2])

	all, err := c.Stats("")
	require.NoError(t, err)
	assert.Equal(t, int64(4), all.Tiles)

	require.NoError(t, c.Clear("a"))
	assert.False(t, c.Has("a", maptile.New(0, 0, 1)))
	assert.True(t, c.Has("b", maptile.New(0, 0, 1)))

	require.NoError(t, c.Clear(""))
	assert.False(t, c.Has("b", maptile.New(0, 0, 1)))
	all, err = c.Stats("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), all.Tiles)

	// the cache stays usable after a full clear
	require.NoError(t, c.Put("b", maptile.New(0, 0, 1), []byte("again")))
	assert.True(t, c.Has("b", maptile.New(0, 0, 1)))
}

func TestSanitizeSource(t *testing.T) {
	assert.Equal(t, "default", SanitizeSource(""))
	assert.Equal(t, "esri%2Fworld", SanitizeSource("esri/world"))
	assert.Equal(t, "%2E.", SanitizeSource(".."))
	assert.Equal(t, "a%25b", SanitizeSource("a%b"))
	assert.Equal(t, "google-sat.v2", SanitizeSource("google-sat.v2"))
}

func TestSourcesDoNotShareNamespace(t *testing.T) {
	assert.NotEqual(t, SanitizeSource("a/b"), SanitizeSource("a_b"))

	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	tl := maptile.New(1, 1, 2)
	require.NoError(t, c.Put("a/b", tl, []byte("slash")))
	require.NoError(t, c.Put("a_b", tl, []byte("underscore")))

	got, ok := c.Get("a/b", tl)
	require.True(t, ok)
	assert.Equal(t, []byte("slash"), got)
	got, ok = c.Get("a_b", tl)
	require.True(t, ok)
	assert.Equal(t, []byte("underscore"), got)

	require.NoError(t, c.Clear("a/b"))
	assert.False(t, c.Has("a/b", tl))
	assert.True(t, c.Has("a_b", tl))

	st, err := c.Stats("a_b")
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Tiles)
}
