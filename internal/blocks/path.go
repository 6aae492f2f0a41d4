package blocks

import "github.com/twpayne/go-polyline"

// EncodedPath returns the Google polyline of the configuration's stops in
// visiting order. Consecutive visits to the same stop are collapsed.
func (c *BlockConfiguration) EncodedPath() string {
	coords := make([][]float64, 0, len(c.StopTimes))
	var last *StopEntry
	for _, st := range c.StopTimes {
		if st.Stop == last {
			continue
		}
		coords = append(coords, []float64{st.Stop.Lat, st.Stop.Lon})
		last = st.Stop
	}
	return string(polyline.EncodeCoords(coords))
}
