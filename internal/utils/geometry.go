package utils

import "math"

const (
	// RadiusOfEarthInMeters is RADIUS_OF_EARTH_IN_KM * 1000
	RadiusOfEarthInMeters = 6371010.0
)

// CoordinatePoint is a WGS84 latitude/longitude pair.
type CoordinatePoint struct {
	Lat float64
	Lon float64
}

// CoordinateBounds represents a bounding box with min/max latitude and longitude
type CoordinateBounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Distance returns the distance in meters between two points. Points closer
// than ~0.2 degrees use the equirectangular approximation; anything further
// uses the spherical law of cosines in its atan2 form.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	dLonRad := toRadians(lon2 - lon1)

	if math.Abs(lat2-lat1) < 0.2 && math.Abs(lon2-lon1) < 0.2 {
		x := dLonRad * math.Cos((lat1Rad+lat2Rad)/2)
		y := lat2Rad - lat1Rad
		return RadiusOfEarthInMeters * math.Hypot(x, y)
	}

	sinLat1, cosLat1 := math.Sincos(lat1Rad)
	sinLat2, cosLat2 := math.Sincos(lat2Rad)
	sinDLon, cosDLon := math.Sincos(dLonRad)

	y := math.Hypot(cosLat2*sinDLon, cosLat1*sinLat2-sinLat1*cosLat2*cosDLon)
	x := sinLat1*sinLat2 + cosLat1*cosLat2*cosDLon

	return RadiusOfEarthInMeters * math.Atan2(y, x)
}

// PointDistance is Distance for two CoordinatePoints.
func PointDistance(a, b CoordinatePoint) float64 {
	return Distance(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Interpolate returns the point at ratio along the straight line from a to b.
// ratio is clamped to [0, 1].
func Interpolate(a, b CoordinatePoint, ratio float64) CoordinatePoint {
	if ratio <= 0 {
		return a
	}
	if ratio >= 1 {
		return b
	}
	return CoordinatePoint{
		Lat: a.Lat + (b.Lat-a.Lat)*ratio,
		Lon: a.Lon + (b.Lon-a.Lon)*ratio,
	}
}

// CalculateBounds returns the box extending distance meters around lat/lon.
func CalculateBounds(lat, lon, distance float64) CoordinateBounds {
	latRadians := toRadians(lat)
	lonRadians := toRadians(lon)

	latOffset := distance / RadiusOfEarthInMeters
	lonOffset := distance / (math.Cos(latRadians) * RadiusOfEarthInMeters)

	return CoordinateBounds{
		MinLat: toDegrees(latRadians - latOffset),
		MaxLat: toDegrees(latRadians + latOffset),
		MinLon: toDegrees(lonRadians - lonOffset),
		MaxLon: toDegrees(lonRadians + lonOffset),
	}
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }
