package task

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LoadCollection reads every geometry of a GeoJSON file. A FeatureCollection,
// a single Feature or a bare geometry are accepted.
func LoadCollection(path string) (orb.Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read file: %w", err)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("unable to unmarshal geojson: %w", err)
	}

	var collection orb.Collection
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("unable to unmarshal feature collection: %w", err)
		}
		for _, f := range fc.Features {
			if f.Geometry != nil {
				collection = append(collection, f.Geometry)
			}
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("unable to unmarshal feature: %w", err)
		}
		if f.Geometry != nil {
			collection = append(collection, f.Geometry)
		}
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("unable to unmarshal geometry: %w", err)
		}
		if g.Geometry() != nil {
			collection = append(collection, g.Geometry())
		}
	}
	if len(collection) == 0 {
		return nil, fmt.Errorf("%s: no geometries", path)
	}
	return collection, nil
}

// CollectionBound is the union of the bounds of c.
func CollectionBound(c orb.Collection) orb.Bound {
	if len(c) == 0 {
		return orb.Bound{}
	}
	bound := c[0].Bound()
	for _, g := range c[1:] {
		bound = bound.Union(g.Bound())
	}
	return bound
}
