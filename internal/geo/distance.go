package geo

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"

	"gtfs-routeserver/internal/gtfs"
)

// EarthRadiusMiles is the equatorial radius used for all distances.
const EarthRadiusMiles = 3963.19059

const metersPerMile = 1609.344

// GreatCircleMiles returns the great-circle distance between two points in
// statute miles, using the atan2 form of the spherical law of cosines.
func GreatCircleMiles(a, b orb.Point) float64 {
	lat1, lon1 := toRad(a.Lat()), toRad(a.Lon())
	lat2, lon2 := toRad(b.Lat()), toRad(b.Lon())
	dLon := lon2 - lon1

	x := math.Cos(lat2) * math.Sin(dLon)
	y := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	num := math.Sqrt(x*x + y*y)
	den := math.Sin(lat1)*math.Sin(lat2) + math.Cos(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return EarthRadiusMiles * math.Atan2(num, den)
}

// StopPoint returns the stop location as an orb point.
func StopPoint(s gtfs.Stop) orb.Point {
	return orb.Point{s.StopLon, s.StopLat}
}

// WalkSeconds converts a distance to a walking-time estimate.
func WalkSeconds(miles, secondsPerMile, factor float64) float64 {
	return miles * secondsPerMile * factor
}

// CandidateTransfers returns every ordered pair of distinct stops at most
// maxMiles apart. It compares all pairs and is meant for offline use.
func CandidateTransfers(stops map[string]gtfs.Stop, maxMiles float64) []gtfs.Transfer {
	ids := sortedIDs(stops)
	var out []gtfs.Transfer
	for _, from := range ids {
		fp := StopPoint(stops[from])
		for _, to := range ids {
			if from == to {
				continue
			}
			if GreatCircleMiles(fp, StopPoint(stops[to])) <= maxMiles {
				out = append(out, gtfs.Transfer{FromStopID: from, ToStopID: to, TransferType: "0"})
			}
		}
	}
	return out
}

type StopDistance struct {
	StopID      string  `json:"stop_id"`
	Name        string  `json:"name"`
	Miles       float64 `json:"miles"`
	WalkSeconds float64 `json:"walk_seconds"`
}

// NearbyWalkMPH is the walking speed assumed by NearbyStops.
const NearbyWalkMPH = 3.0

// NearbyStops returns the stops strictly closer than maxMiles to p, nearest first.
func NearbyStops(p orb.Point, stops map[string]gtfs.Stop, maxMiles float64) []StopDistance {
	if maxMiles <= 0 {
		return nil
	}
	bound := orbgeo.NewBoundAroundPoint(p, maxMiles*metersPerMile*1.01)
	var out []StopDistance
	for _, s := range stops {
		sp := StopPoint(s)
		if !bound.Contains(sp) {
			continue
		}
		d := GreatCircleMiles(p, sp)
		if d >= maxMiles {
			continue
		}
		out = append(out, StopDistance{
			StopID:      s.StopID,
			Name:        s.StopName,
			Miles:       d,
			WalkSeconds: d * 3600 / NearbyWalkMPH,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Miles != out[j].Miles {
			return out[i].Miles < out[j].Miles
		}
		return out[i].StopID < out[j].StopID
	})
	return out
}

func sortedIDs(stops map[string]gtfs.Stop) []string {
	ids := make([]string, 0, len(stops))
	for id := range stops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
