package gtfs

import "tracker.onebusaway.org/internal/blocks"

// RegionBounds is the box around every stop in the static feed.
type RegionBounds struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	LatSpan float64 `json:"latSpan"`
	LonSpan float64 `json:"lonSpan"`
}

// ComputeRegionBounds calculates the geographic boundaries of the feed from
// its stops. Returns nil if there are none.
func ComputeRegionBounds(stops []*blocks.StopEntry) *RegionBounds {
	if len(stops) == 0 {
		return nil
	}

	minLat, maxLat := stops[0].Lat, stops[0].Lat
	minLon, maxLon := stops[0].Lon, stops[0].Lon
	for _, s := range stops[1:] {
		minLat = min(minLat, s.Lat)
		maxLat = max(maxLat, s.Lat)
		minLon = min(minLon, s.Lon)
		maxLon = max(maxLon, s.Lon)
	}

	return &RegionBounds{
		Lat:     (minLat + maxLat) / 2,
		Lon:     (minLon + maxLon) / 2,
		LatSpan: maxLat - minLat,
		LonSpan: maxLon - minLon,
	}
}
