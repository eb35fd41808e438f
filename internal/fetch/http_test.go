package fetch

import (
	"context"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher(t *testing.T) {
	payload := encodePNG(t, 256, color.White)
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		switch r.URL.Path {
		case "/3/1/2.png":
			w.Write(payload)
		case "/3/1/3.png":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/3/1/4.png":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f, err := New(srv.URL+"/{z}/{x}/{y}.png", SourceOptions{UserAgent: "tiler-test"})
	require.NoError(t, err)
	ctx := context.Background()

	data, err := f.Fetch(ctx, "s", maptile.New(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "tiler-test", gotUA)

	_, err = f.Fetch(ctx, "s", maptile.New(1, 3, 3))
	assert.Equal(t, ClassTransient, Classify(err))

	_, err = f.Fetch(ctx, "s", maptile.New(1, 4, 3))
	assert.Equal(t, ClassPermanent, Classify(err))

	_, err = f.Fetch(ctx, "s", maptile.New(9, 9, 3))
	assert.Equal(t, ClassPermanent, Classify(err))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestHTTPFetcherThroughPipeline(t *testing.T) {
	payload := encodePNG(t, 256, color.Gray{Y: 200})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	f, err := New(srv.URL+"/{z}/{x}/{y}", SourceOptions{})
	require.NoError(t, err)
	store := newMemStore()
	res := collect(NewPipeline(f, store, fastConfig()).Run(context.Background(), grid(2, 2)))

	require.Len(t, res, 4)
	for _, r := range res {
		assert.Equal(t, Succeeded, r.State)
		assert.Equal(t, []byte{200, 200, 200}, r.Image.Pix[:3])
	}
	assert.Len(t, store.data, 4)
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "2", "1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2", "1", "0.png"), []byte("png"), 0o644))

	f, err := New("file://"+dir+"/{z}/{x}/{y}.png", SourceOptions{})
	require.NoError(t, err)

	data, err := f.Fetch(context.Background(), "s", maptile.New(1, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	_, err = f.Fetch(context.Background(), "s", maptile.New(1, 1, 2))
	assert.Equal(t, ClassPermanent, Classify(err))
}
