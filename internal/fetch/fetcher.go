// Package fetch pulls tiles from a source with bounded concurrency, retry
// and pacing, going through the tile cache first.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/paulmach/orb/maptile"
)

// ErrFetchFailed marks a tile that could not be obtained.
var ErrFetchFailed = errors.New("fetch failed")

// Fetcher retrieves the raw bytes of one tile.
type Fetcher interface {
	Fetch(ctx context.Context, source string, t maptile.Tile) ([]byte, error)
}

// FetchFunc adapts an ordinary function to the Fetcher interface.
type FetchFunc func(ctx context.Context, source string, t maptile.Tile) ([]byte, error)

// Fetch calls f.
func (f FetchFunc) Fetch(ctx context.Context, source string, t maptile.Tile) ([]byte, error) {
	return f(ctx, source, t)
}

// StatusError carries a non-200 HTTP status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.URL, e.Code)
}

// PermanentError wraps an error that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as definitive so the pipeline does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Class is the retry classification of a fetch error.
type Class int

const (
	ClassOK Class = iota
	ClassTransient
	ClassPermanent
	ClassCanceled
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassCanceled:
		return "canceled"
	}
	return "unknown"
}

// Classify decides whether err is worth another attempt. Unknown errors are
// transient; the retry bound keeps that safe.
func Classify(err error) Class {
	if err == nil {
		return ClassOK
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		return ClassPermanent
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusRequestTimeout, se.Code == http.StatusTooEarly, se.Code == http.StatusTooManyRequests:
			return ClassTransient
		case se.Code >= 500:
			return ClassTransient
		default:
			return ClassPermanent
		}
	}

	// timeouts and connection resets land here too
	return ClassTransient
}
