package fetch

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/paulmach/orb/maptile"
)

// FileFetcher reads tiles from a local z/x/y tree.
type FileFetcher struct {
	Template string
}

// Fetch implements Fetcher.
func (f *FileFetcher) Fetch(ctx context.Context, source string, t maptile.Tile) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(TileURL(f.Template, t))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Permanent(err)
	}
	return data, err
}
