// Package route answers travel-time and itinerary queries against a built
// network. A Service holds no mutable state of its own and is safe to call
// from any number of goroutines.
package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gtfs-routeserver/internal/geo"
	"gtfs-routeserver/internal/graph"
	"gtfs-routeserver/internal/gtfs"
)

const (
	OpTravelTime = "traveltime"
	OpItinerary  = "itinerary"
	OpNearby     = "nearby"
)

// Result codes reported to callers and used as metric labels.
const (
	CodeOK          = "ok"
	CodeUnknownNode = "unknown_node"
	CodeNoPath      = "no_path"
	CodeBadTime     = "bad_time"
	CodeBadRequest  = "bad_request"
	CodeInternal    = "internal"

	// CodeShuttingDown is reported for requests that arrive after Stop.
	CodeShuttingDown = "shutting_down"
)

// ErrBadRequest marks malformed query input.
var ErrBadRequest = errors.New("bad request")

// ErrorCode maps a query error to its result code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, graph.ErrUnknownNode):
		return CodeUnknownNode
	case errors.Is(err, graph.ErrNoPath):
		return CodeNoPath
	case errors.Is(err, gtfs.ErrBadTime):
		return CodeBadTime
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	}
	return CodeInternal
}

type Metrics interface {
	QueryObserve(op, result string, d time.Duration)
}

type Service struct {
	net     *graph.Network
	logger  *slog.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// NewService wraps a built network. m may be nil.
func NewService(n *graph.Network, logger *slog.Logger, m Metrics) *Service {
	return &Service{
		net:     n,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("gtfs-routeserver/route"),
	}
}

func (s *Service) Network() *graph.Network { return s.net }

// TravelTime returns the seconds between the scheduled departure at origin
// and the scheduled arrival at dest along the least-weight path.
func (s *Service) TravelTime(ctx context.Context, origin, dest graph.NodeKey) (int, error) {
	span, done := s.begin(ctx, OpTravelTime, origin, dest)
	path, err := s.path(origin, dest)
	if err != nil {
		done(err)
		return 0, err
	}
	secs, err := s.elapsed(path[0], path[len(path)-1])
	if err == nil {
		span.SetAttributes(attribute.Int("route.seconds", secs))
	}
	done(err)
	return secs, err
}

// Itinerary describes the least-weight path from origin to dest as a
// boarding, the route changes along the way and the final alighting.
func (s *Service) Itinerary(ctx context.Context, origin, dest graph.NodeKey) (*Itinerary, error) {
	span, done := s.begin(ctx, OpItinerary, origin, dest)
	path, err := s.path(origin, dest)
	if err != nil {
		done(err)
		return nil, err
	}
	it, err := s.narrate(path)
	if err == nil {
		span.SetAttributes(attribute.Int("route.transfers", len(it.Transfers)))
	}
	done(err)
	return it, err
}

// NearbyStops lists stops within maxMiles of the given position.
func (s *Service) NearbyStops(ctx context.Context, lat, lon, maxMiles float64) ([]geo.StopDistance, error) {
	_, span := s.tracer.Start(ctx, "route."+OpNearby)
	defer span.End()
	start := time.Now()

	var (
		out []geo.StopDistance
		err error
	)
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 || maxMiles <= 0 {
		err = fmt.Errorf("%w: lat=%v lon=%v max_miles=%v", ErrBadRequest, lat, lon, maxMiles)
	} else {
		out = geo.NearbyStops(orb.Point{lon, lat}, s.net.StopInfo, maxMiles)
		span.SetAttributes(attribute.Int("route.stops", len(out)))
	}
	s.observe(OpNearby, err, time.Since(start))
	return out, err
}

func (s *Service) begin(ctx context.Context, op string, origin, dest graph.NodeKey) (trace.Span, func(error)) {
	_, span := s.tracer.Start(ctx, "route."+op, trace.WithAttributes(
		attribute.String("route.origin", origin.String()),
		attribute.String("route.destination", dest.String()),
	))
	start := time.Now()
	return span, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, ErrorCode(err))
			s.logger.Debug("query failed", "op", op, "origin", origin.String(), "destination", dest.String(), "error", err)
		}
		s.observe(op, err, time.Since(start))
		span.End()
	}
}

func (s *Service) observe(op string, err error, d time.Duration) {
	if s.metrics != nil {
		s.metrics.QueryObserve(op, ErrorCode(err), d)
	}
}

func (s *Service) path(origin, dest graph.NodeKey) ([]graph.NodeKey, error) {
	path, _, err := s.net.ShortestPath(origin, dest)
	return path, err
}

func (s *Service) elapsed(first, last graph.NodeKey) (int, error) {
	start, err := gtfs.ParseClock(s.net.TripStopDetail[first].DepartureTime)
	if err != nil {
		return 0, fmt.Errorf("origin departure %s: %w", first, err)
	}
	end, err := gtfs.ParseClock(s.net.TripStopDetail[last].ArrivalTime)
	if err != nil {
		return 0, fmt.Errorf("destination arrival %s: %w", last, err)
	}
	return end - start, nil
}
