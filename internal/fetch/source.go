package fetch

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/maptile"
)

// TileURL expands {z}, {x}, {y} and the TMS row {-y} in template.
func TileURL(template string, t maptile.Tile) string {
	flipped := (uint32(1) << uint32(t.Z)) - 1 - t.Y
	r := strings.NewReplacer(
		"{x}", strconv.Itoa(int(t.X)),
		"{-y}", strconv.Itoa(int(flipped)),
		"{y}", strconv.Itoa(int(t.Y)),
		"{z}", strconv.Itoa(int(t.Z)),
	)
	return r.Replace(template)
}

// SourceOptions configures the fetcher built by New.
type SourceOptions struct {
	UserAgent   string
	HTTPTimeout time.Duration
	HTTPClient  *http.Client

	S3Region   string
	S3Endpoint string
	// S3AccessKey and S3SecretKey replace the default credential chain when
	// both are set.
	S3AccessKey string
	S3SecretKey string
}

// New picks a fetcher for the scheme of template: http(s), file or s3.
func New(template string, opts SourceOptions) (Fetcher, error) {
	if template == "" {
		return nil, fmt.Errorf("empty tile url template")
	}
	u, err := url.Parse(strings.NewReplacer("{", "", "}", "").Replace(template))
	if err != nil {
		return nil, fmt.Errorf("parse tile url %q: %w", template, err)
	}

	switch u.Scheme {
	case "http", "https":
		client := opts.HTTPClient
		if client == nil {
			timeout := opts.HTTPTimeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			client = &http.Client{Timeout: timeout}
		}
		return &HTTPFetcher{Client: client, Template: template, UserAgent: opts.UserAgent}, nil
	case "file":
		return &FileFetcher{Template: strings.TrimPrefix(template, "file://")}, nil
	case "s3":
		return NewS3Fetcher(template, opts)
	}
	return nil, fmt.Errorf("unsupported tile url scheme %q", u.Scheme)
}
