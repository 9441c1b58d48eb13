package api

import (
	"fmt"
	"net/http"
	"strconv"

	"gtfs-routeserver/internal/geo"
	"gtfs-routeserver/internal/graph"
	"gtfs-routeserver/internal/route"
)

const defaultNearbyMiles = 0.25

type travelTimeBody struct {
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	Seconds     int     `json:"seconds"`
	Minutes     float64 `json:"minutes"`
}

type itineraryBody struct {
	*route.Itinerary
	Lines []string `json:"lines"`
}

type nearbyBody struct {
	Stops []geo.StopDistance `json:"stops"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	n := s.svc.Network()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"nodes":       n.Stats.Nodes,
		"edges":       n.Stats.Edges(),
		"valid_trips": len(n.ValidTrips),
	})
}

func (s *Server) travelTime(w http.ResponseWriter, r *http.Request) {
	o, d, err := nodeKeys(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	secs, err := s.svc.TravelTime(r.Context(), o, d)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, travelTimeBody{
		Origin:      o.String(),
		Destination: d.String(),
		Seconds:     secs,
		Minutes:     float64(secs) / 60,
	})
}

func (s *Server) itinerary(w http.ResponseWriter, r *http.Request) {
	o, d, err := nodeKeys(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	it, err := s.svc.Itinerary(r.Context(), o, d)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itineraryBody{Itinerary: it, Lines: it.Lines()})
}

func (s *Server) nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	if err1 != nil || err2 != nil {
		s.writeError(w, fmt.Errorf("%w: lat and lon are required", route.ErrBadRequest))
		return
	}
	miles := defaultNearbyMiles
	if v := q.Get("max_miles"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: invalid max_miles %q", route.ErrBadRequest, v))
			return
		}
		miles = m
	}
	stops, err := s.svc.NearbyStops(r.Context(), lat, lon, miles)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if stops == nil {
		stops = []geo.StopDistance{}
	}
	writeJSON(w, http.StatusOK, nearbyBody{Stops: stops})
}

func (s *Server) shutdown(w http.ResponseWriter, _ *http.Request) {
	if s.stopper.Stop() {
		s.logger.Info("shutdown requested over http")
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func nodeKeys(r *http.Request) (graph.NodeKey, graph.NodeKey, error) {
	q := r.URL.Query()
	origin, dest := q.Get("origin"), q.Get("destination")
	if origin == "" || dest == "" {
		return graph.NodeKey{}, graph.NodeKey{}, fmt.Errorf("%w: origin and destination are required", route.ErrBadRequest)
	}
	o, err := graph.ParseNodeKey(origin)
	if err != nil {
		return graph.NodeKey{}, graph.NodeKey{}, err
	}
	d, err := graph.ParseNodeKey(dest)
	if err != nil {
		return graph.NodeKey{}, graph.NodeKey{}, err
	}
	return o, d, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := route.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case route.CodeUnknownNode:
		status = http.StatusNotFound
	case route.CodeNoPath, route.CodeBadTime:
		status = http.StatusUnprocessableEntity
	case route.CodeBadRequest:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("query failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}
