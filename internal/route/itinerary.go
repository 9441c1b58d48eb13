package route

import (
	"fmt"
	"math"

	"gtfs-routeserver/internal/graph"
)

// Stage is one step of an itinerary: where a route is boarded, changed to or
// left, and the scheduled time of that event.
type Stage struct {
	Route    string `json:"route"`
	StopID   string `json:"stop_id"`
	StopName string `json:"stop_name,omitempty"`
	Time     string `json:"time"`
}

type Itinerary struct {
	Board         Stage    `json:"board"`
	Transfers     []Stage  `json:"transfers"`
	Alight        Stage    `json:"alight"`
	TravelSeconds int      `json:"travel_seconds"`
	TravelMinutes float64  `json:"travel_minutes"`
	Path          []string `json:"path"`
}

// Lines renders the itinerary as human-readable narration.
func (it *Itinerary) Lines() []string {
	lines := make([]string, 0, len(it.Transfers)+3)
	lines = append(lines, fmt.Sprintf("Start by taking route %s from %s at %s", it.Board.Route, stopLabel(it.Board), it.Board.Time))
	for _, t := range it.Transfers {
		lines = append(lines, fmt.Sprintf("Transfer at %s to route %s at %s", stopLabel(t), t.Route, t.Time))
	}
	lines = append(lines,
		fmt.Sprintf("End at destination %s on route %s at %s", stopLabel(it.Alight), it.Alight.Route, it.Alight.Time),
		fmt.Sprintf("Travel time: %.1f mins", it.TravelMinutes),
	)
	return lines
}

func stopLabel(s Stage) string {
	if s.StopName == "" || s.StopName == s.StopID {
		return s.StopID
	}
	return fmt.Sprintf("%s (%s)", s.StopName, s.StopID)
}

// narrate walks the path once. Only inner nodes are inspected for route
// changes; the boarding and alighting nodes are reported on their own.
func (s *Service) narrate(path []graph.NodeKey) (*Itinerary, error) {
	first, last := path[0], path[len(path)-1]
	secs, err := s.elapsed(first, last)
	if err != nil {
		return nil, err
	}

	it := &Itinerary{
		Board:         s.stage(first, s.net.TripStopDetail[first].DepartureTime),
		Transfers:     []Stage{},
		Alight:        s.stage(last, s.net.TripStopDetail[last].ArrivalTime),
		TravelSeconds: secs,
		TravelMinutes: math.Round(float64(secs)/60*100) / 100,
		Path:          make([]string, len(path)),
	}
	for i, k := range path {
		it.Path[i] = k.String()
	}

	current := it.Board.Route
	for _, k := range path[1:max(1, len(path)-1)] {
		r := s.net.Route(k.TripID)
		if r == current {
			continue
		}
		it.Transfers = append(it.Transfers, s.stage(k, s.net.TripStopDetail[k].DepartureTime))
		current = r
	}
	return it, nil
}

func (s *Service) stage(k graph.NodeKey, clock string) Stage {
	return Stage{
		Route:    s.net.Route(k.TripID),
		StopID:   k.StopID,
		StopName: s.net.StopInfo[k.StopID].StopName,
		Time:     clock,
	}
}
