package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/paulmach/orb/maptile"
)

// DefaultUserAgent is sent when none is configured.
const DefaultUserAgent = "satellite-downloader/1.0"

// HTTPFetcher requests tiles from a templated URL.
type HTTPFetcher struct {
	Client    *http.Client
	Template  string
	UserAgent string
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, source string, t maptile.Tile) ([]byte, error) {
	url := TileURL(f.Template, t)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Permanent(err)
	}
	ua := f.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(body) == 0 {
		return nil, Permanent(fmt.Errorf("%s: empty body", url))
	}
	return body, nil
}
