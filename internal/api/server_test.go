package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-routeserver/internal/calendar"
	"gtfs-routeserver/internal/graph"
	"gtfs-routeserver/internal/gtfs"
	"gtfs-routeserver/internal/route"
)

func newTestServer(t *testing.T) (*Server, *route.Stopper) {
	t.Helper()
	feed := gtfs.NewFeed()
	feed.Stops = map[string]gtfs.Stop{
		"A": {StopID: "A", StopName: "Alpha", StopLat: 0, StopLon: 0},
		"B": {StopID: "B", StopName: "Beta", StopLat: 0, StopLon: 1},
		"C": {StopID: "C", StopName: "Gamma", StopLat: 0, StopLon: 2},
		"X": {StopID: "X", StopName: "Xray", StopLat: 5, StopLon: 5},
		"Y": {StopID: "Y", StopName: "Yankee", StopLat: 5, StopLon: 6},
	}
	feed.Trips = map[string]gtfs.Trip{
		"T1": {TripID: "T1", RouteID: "R1", ServiceID: "WK"},
		"T2": {TripID: "T2", RouteID: "R2", ServiceID: "WK"},
		"T3": {TripID: "T3", RouteID: "R3", ServiceID: "WK"},
	}
	feed.StopTimes = []gtfs.StopTime{
		{TripID: "T1", StopID: "A", ArrivalTime: "08:00:00", DepartureTime: "08:00:00", StopSequence: 1},
		{TripID: "T1", StopID: "B", ArrivalTime: "08:10:00", DepartureTime: "08:10:00", StopSequence: 2},
		{TripID: "T2", StopID: "B", ArrivalTime: "08:15:00", DepartureTime: "08:15:00", StopSequence: 1},
		{TripID: "T2", StopID: "C", ArrivalTime: "08:30:00", DepartureTime: "08:30:00", StopSequence: 2},
		{TripID: "T3", StopID: "X", ArrivalTime: "09:00:00", DepartureTime: "09:00:00", StopSequence: 1},
		{TripID: "T3", StopID: "Y", ArrivalTime: "09:40:00", DepartureTime: "09:40:00", StopSequence: 2},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n, err := graph.Build(context.Background(), feed, calendar.ServiceSet{"WK": {}}, graph.Options{TransferPenalty: 300}, logger)
	require.NoError(t, err)
	stopper := route.NewStopper()
	return New(route.NewService(n, logger, nil), stopper, logger), stopper
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestTravelTime(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodGet, "/api/travel-time?origin=T1%5EA&destination=T2%5EC")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode[travelTimeBody](t, rec)
	assert.Equal(t, 1800, body.Seconds)
	assert.Equal(t, 30.0, body.Minutes)
	assert.Equal(t, "T2^C", body.Destination)
}

func TestItinerary(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodGet, "/api/itinerary?origin=T1%5EA&destination=T2%5EC")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[itineraryBody](t, rec)
	require.NotNil(t, body.Itinerary)
	assert.Equal(t, "R1", body.Board.Route)
	require.Len(t, body.Transfers, 1)
	assert.Equal(t, route.Stage{Route: "R2", StopID: "B", StopName: "Beta", Time: "08:15:00"}, body.Transfers[0])
	assert.Equal(t, "08:30:00", body.Alight.Time)
	assert.Len(t, body.Lines, 4)
}

func TestQueryErrors(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantCode   string
	}{
		{"unknown destination", "/api/travel-time?origin=T1%5EA&destination=T2%5EZ", http.StatusNotFound, route.CodeUnknownNode},
		{"malformed key", "/api/itinerary?origin=T1A&destination=T2%5EC", http.StatusNotFound, route.CodeUnknownNode},
		{"disjoint islands", "/api/travel-time?origin=T1%5EA&destination=T3%5EY", http.StatusUnprocessableEntity, route.CodeNoPath},
		{"missing destination", "/api/travel-time?origin=T1%5EA", http.StatusBadRequest, route.CodeBadRequest},
		{"nearby without coordinates", "/api/stops/nearby?lat=abc", http.StatusBadRequest, route.CodeBadRequest},
		{"nearby bad radius", "/api/stops/nearby?lat=0&lon=0&max_miles=-1", http.StatusBadRequest, route.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decode[errorBody](t, rec).Code)
		})
	}
}

func TestValidQueryAfterUnknownNode(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/travel-time?origin=T1%5EA&destination=NOPE%5EC")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/travel-time?origin=T1%5EA&destination=T2%5EC")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1800, decode[travelTimeBody](t, rec).Seconds)
}

func TestNearby(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodGet, "/api/stops/nearby?lat=0.001&lon=0&max_miles=1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[nearbyBody](t, rec)
	require.Len(t, body.Stops, 1)
	assert.Equal(t, "A", body.Stops[0].StopID)

	rec = do(t, s.Handler(), http.MethodGet, "/api/stops/nearby?lat=40&lon=40")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stops":[]}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 6.0, body["nodes"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestShutdown(t *testing.T) {
	s, stopper := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/shutdown")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, stopper.Stopped())

	rec = do(t, h, http.MethodPost, "/api/shutdown")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, stopper.Stopped())

	rec = do(t, h, http.MethodGet, "/api/travel-time?origin=T1%5EA&destination=T2%5EC")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, route.CodeShuttingDown, decode[errorBody](t, rec).Code)
}
