package tile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// ErrInvalidBounds is returned when a bbox or extent string cannot be parsed.
var ErrInvalidBounds = errors.New("invalid bounds")

// ParseBBox parses "min_lon,min_lat,max_lon,max_lat".
func ParseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("%w: %q: expected min_lon,min_lat,max_lon,max_lat", ErrInvalidBounds, s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("%w: %q: %v", ErrInvalidBounds, s, err)
		}
		v[i] = f
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

// ParseExtent parses the hemisphere notation "E110-E110.1,N30-N30.1".
// W and S prefixes give negative values; the prefix on the second value of
// each pair is optional.
func ParseExtent(s string) (orb.Bound, error) {
	parts := strings.Split(strings.ToUpper(s), ",")
	if len(parts) != 2 {
		return orb.Bound{}, fmt.Errorf("%w: %q: expected E<min>-E<max>,N<min>-N<max>", ErrInvalidBounds, s)
	}

	minLon, maxLon, err := parseHemispherePair(parts[0], 'E', 'W')
	if err != nil {
		return orb.Bound{}, fmt.Errorf("%w: %q: longitude: %v", ErrInvalidBounds, s, err)
	}
	minLat, maxLat, err := parseHemispherePair(parts[1], 'N', 'S')
	if err != nil {
		return orb.Bound{}, fmt.Errorf("%w: %q: latitude: %v", ErrInvalidBounds, s, err)
	}
	if minLon > maxLon || minLat > maxLat {
		return orb.Bound{}, fmt.Errorf("%w: %q: minimum exceeds maximum", ErrInvalidBounds, s)
	}
	return orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}, nil
}

func parseHemispherePair(s string, pos, neg byte) (float64, float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != pos && s[0] != neg) {
		return 0, 0, fmt.Errorf("must start with %c or %c", pos, neg)
	}
	hemi := s[0]
	values := strings.Split(s[1:], "-")
	if len(values) != 2 {
		return 0, 0, errors.New("need two values")
	}

	var out [2]float64
	for i, v := range values {
		v = strings.TrimSpace(v)
		h := hemi
		if v != "" && (v[0] == pos || v[0] == neg) {
			h, v = v[0], v[1:]
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, 0, err
		}
		if h == neg {
			f = -f
		}
		out[i] = f
	}
	return out[0], out[1], nil
}
