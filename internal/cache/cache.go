// Package cache is the persistent tile store that makes downloads resumable.
//
// Tile bytes live on disk under <root>/<source>/<z>/<x>/<y>.tile. A sqlite
// index next to them records size and md5 of every entry so a truncated or
// foreign file is detected and treated as a miss.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"

	"github.com/jsy96/satellite-downloader/internal/metrics"
)

// ErrCacheRead marks an entry that exists but cannot be trusted.
var ErrCacheRead = errors.New("cache read error")

const tileExt = ".tile"

// Cache is safe for concurrent use. Open one per invocation and Close it.
type Cache struct {
	root    string
	index   *index
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	// writes to the same key are serialized so file and index agree
	locks [64]sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for corrupt entry warnings.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cache) { c.log = l }
}

// WithMetrics records hits and misses on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Open creates root if needed and opens its index.
func Open(root string, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	c := &Cache{root: root, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}

	idx, err := openIndex(filepath.Join(root, indexFile))
	if err != nil {
		return nil, err
	}
	c.index = idx
	return c, nil
}

// Close releases the index.
func (c *Cache) Close() error {
	return c.index.close()
}

// Root is the storage directory.
func (c *Cache) Root() string { return c.root }

// Path returns where the bytes of a tile are stored.
func (c *Cache) Path(source string, t maptile.Tile) string {
	return filepath.Join(c.root, SanitizeSource(source),
		strconv.Itoa(int(t.Z)), strconv.Itoa(int(t.X)), strconv.Itoa(int(t.Y))+tileExt)
}

// Get returns the cached bytes of a tile. Unreadable, empty or checksum
// mismatched entries are logged and reported as a miss.
func (c *Cache) Get(source string, t maptile.Tile) ([]byte, bool) {
	data, err := c.read(source, t)
	switch {
	case err == nil:
		c.metrics.CacheHits.Inc()
		return data, true
	case errors.Is(err, fs.ErrNotExist):
		c.metrics.CacheMisses.Inc()
	default:
		c.metrics.CacheCorrupt.Inc()
		c.metrics.CacheMisses.Inc()
		c.log.WithField("tile", fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)).Warnf("cache entry ignored: %s", err)
	}
	return nil, false
}

func (c *Cache) read(source string, t maptile.Tile) ([]byte, error) {
	data, err := os.ReadFile(c.Path(source, t))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheRead, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty entry", ErrCacheRead)
	}

	e, ok, err := c.index.get(SanitizeSource(source), t)
	if err != nil {
		// the file alone is still usable
		c.log.Debugf("cache index lookup failed: %s", err)
		return data, nil
	}
	if ok && (e.size != int64(len(data)) || e.sum != checksum(data)) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCacheRead)
	}
	return data, nil
}

// Has reports whether a readable entry exists, without counting a hit.
func (c *Cache) Has(source string, t maptile.Tile) bool {
	_, err := c.read(source, t)
	return err == nil
}

// Put stores data for a tile. Storing the bytes already present is a no-op;
// different bytes replace the entry atomically.
func (c *Cache) Put(source string, t maptile.Tile, data []byte) error {
	if len(data) == 0 {
		return errors.New("refusing to cache empty tile")
	}
	src := SanitizeSource(source)
	path := c.Path(source, t)
	sum := checksum(data)

	mu := c.lock(src, t)
	mu.Lock()
	defer mu.Unlock()

	if e, ok, err := c.index.get(src, t); err == nil && ok && e.sum == sum {
		if fi, err := os.Stat(path); err == nil && fi.Size() == int64(len(data)) {
			return nil
		}
	}

	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("cache put %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}
	if err := c.index.put(src, t, int64(len(data)), sum); err != nil {
		return fmt.Errorf("cache index %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}
	return nil
}

// Invalidate drops an entry whose bytes turned out to be unusable.
func (c *Cache) Invalidate(source string, t maptile.Tile) error {
	src := SanitizeSource(source)
	mu := c.lock(src, t)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(c.Path(source, t)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return c.index.remove(src, t)
}

// Stats summarizes the indexed entries of source, or of every source when
// source is empty.
func (c *Cache) Stats(source string) (Stats, error) {
	if source != "" {
		source = SanitizeSource(source)
	}
	st, err := c.index.stats(source)
	if err != nil {
		return Stats{}, err
	}
	st.Root = c.root
	return st, nil
}

// Clear removes the entries of source, or everything when source is empty.
func (c *Cache) Clear(source string) error {
	if source != "" {
		src := SanitizeSource(source)
		if err := os.RemoveAll(filepath.Join(c.root, src)); err != nil {
			return err
		}
		return c.index.clear(src)
	}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), indexFile) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			return err
		}
	}
	return c.index.clear("")
}

func (c *Cache) lock(source string, t maptile.Tile) *sync.Mutex {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%d/%d/%d", source, t.Z, t.X, t.Y)
	return &c.locks[h.Sum32()%uint32(len(c.locks))]
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// SanitizeSource maps a source id onto a safe directory name. Bytes outside
// [A-Za-z0-9_.-] and a leading '.' are percent-escaped, so distinct ids never
// share a namespace. The empty id is an alias of "default".
func SanitizeSource(source string) string {
	if source == "" {
		return "default"
	}
	var sb strings.Builder
	for i := 0; i < len(source); i++ {
		ch := source[i]
		ok := ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '-' || ch == '_' || ch == '.'
		if !ok || (i == 0 && ch == '.') {
			fmt.Fprintf(&sb, "%%%02X", ch)
			continue
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}
