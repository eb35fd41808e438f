package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/jsy96/satellite-downloader/internal/geotiff"
	"github.com/jsy96/satellite-downloader/internal/mosaic"
	"github.com/jsy96/satellite-downloader/internal/tile"
)

// Report summarises a finished or failed run.
type Report struct {
	ID        string
	Source    string
	Range     tile.Range
	Transform mosaic.Affine
	Output    geotiff.Info
	CacheDir  string
	Strips    bool

	Total   int
	Fetched int
	Cached  int
	Missing []mosaic.Failure
	Elapsed time.Duration
}

// Succeeded is the number of tiles backed by real imagery.
func (r *Report) Succeeded() int { return r.Total - len(r.Missing) }

func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d tiles succeeded (fetched %d, cached %d, missing %d)",
		r.Succeeded(), r.Total, r.Fetched, r.Cached, len(r.Missing))
	if r.Output.Path != "" {
		kind := "GeoTIFF"
		if r.Output.BigTIFF {
			kind = "BigTIFF"
		}
		fmt.Fprintf(&sb, ", wrote %s %dx%d %s (%s, %d bytes)",
			kind, r.Output.Width, r.Output.Height, r.Output.Path, r.Output.Compression, r.Output.Size)
	}
	if r.Elapsed > 0 {
		fmt.Fprintf(&sb, " in %s", r.Elapsed.Round(time.Millisecond))
	}
	return sb.String()
}

// PlanInfo is the dry-run answer for a request.
type PlanInfo struct {
	Range      tile.Range
	Bound      orb.Bound
	Resolution float64
	Width      int
	Height     int

	Cached  int64
	Pending int64

	EstimatedBytes int64
	BigTIFF        bool
}

func (p *PlanInfo) String() string {
	big := ""
	if p.BigTIFF {
		big = ", BigTIFF"
	}
	return fmt.Sprintf("zoom %d, %d tiles (%d cached, %d to fetch), %dx%d px at %.10f deg/px, bounds [%.6f %.6f %.6f %.6f], ~%d MiB%s",
		p.Range.Zoom, p.Range.Count(), p.Cached, p.Pending, p.Width, p.Height, p.Resolution,
		p.Bound.Min[0], p.Bound.Min[1], p.Bound.Max[0], p.Bound.Max[1],
		p.EstimatedBytes>>20, big)
}
