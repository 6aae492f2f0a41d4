package blocks

import (
	"math"

	"github.com/tidwall/rtree"

	"tracker.onebusaway.org/internal/utils"
)

// DefaultStopSearchRadius is how far from a stop, in meters, a vehicle can be
// and still count as at or near it.
const DefaultStopSearchRadius = 200.0

// StopIndex finds stop times near a point.
type StopIndex struct {
	tree rtree.RTreeG[*StopTimeEntry]
}

func NewStopIndex(stopTimes []*StopTimeEntry) *StopIndex {
	idx := &StopIndex{}
	for _, st := range stopTimes {
		p := [2]float64{st.Stop.Lon, st.Stop.Lat}
		idx.tree.Insert(p, p, st)
	}
	return idx
}

// Nearest returns the stop time whose stop is closest to point within radius
// meters. A block can visit the same stop more than once; ties go to the
// visit scheduled nearest to scheduleHint.
func (idx *StopIndex) Nearest(point utils.CoordinatePoint, radius float64, scheduleHint int) (*StopTimeEntry, bool) {
	bounds := utils.CalculateBounds(point.Lat, point.Lon, radius)
	minPt := [2]float64{bounds.MinLon, bounds.MinLat}
	maxPt := [2]float64{bounds.MaxLon, bounds.MaxLat}

	var (
		best         *StopTimeEntry
		bestDistance = math.Inf(1)
	)
	idx.tree.Search(minPt, maxPt, func(_, _ [2]float64, st *StopTimeEntry) bool {
		d := utils.PointDistance(point, st.Stop.Point())
		if d > radius {
			return true
		}
		switch {
		case d < bestDistance:
			best, bestDistance = st, d
		case d == bestDistance && absInt(st.ArrivalTime-scheduleHint) < absInt(best.ArrivalTime-scheduleHint):
			best = st
		}
		return true
	})
	return best, best != nil
}

func (idx *StopIndex) Len() int {
	return idx.tree.Len()
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
