// Package rpc serves route queries as NATS request/reply.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"gtfs-routeserver/internal/geo"
	"gtfs-routeserver/internal/graph"
	"gtfs-routeserver/internal/route"
)

const queueGroup = "routeserver"

const (
	SubjectTravelTime = "traveltime"
	SubjectItinerary  = "itinerary"
	SubjectNearby     = "nearby"
	SubjectShutdown   = "shutdown"
)

type ConnMetrics interface {
	NATSSetConnected(connected bool)
}

// Connect dials NATS and keeps m informed of the connection state. m may be nil.
func Connect(url string, logger *slog.Logger, m ConnMetrics) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("gtfs-routeserver"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return nc, nil
}

type QueryRequest struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
}

type NearbyRequest struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	MaxMiles float64 `json:"max_miles"`
}

type TravelTimeReply struct {
	Seconds int `json:"seconds"`
}

type NearbyReply struct {
	Stops []geo.StopDistance `json:"stops"`
}

type ErrorReply struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type AckReply struct {
	Status string `json:"status"`
}

type Server struct {
	nc      *nats.Conn
	svc     *route.Service
	stopper *route.Stopper
	prefix  string
	logger  *slog.Logger

	subs []*nats.Subscription

	// mu orders admission against Close so no request joins wg after Wait.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

func NewServer(nc *nats.Conn, svc *route.Service, stopper *route.Stopper, prefix string, logger *slog.Logger) *Server {
	return &Server{nc: nc, svc: svc, stopper: stopper, prefix: subjectPrefix(prefix), logger: logger}
}

// Subject returns the full subject of an operation.
func (s *Server) Subject(op string) string { return s.prefix + "." + op }

// Start queue-subscribes to every operation subject.
func (s *Server) Start() error {
	for _, op := range []string{SubjectTravelTime, SubjectItinerary, SubjectNearby, SubjectShutdown} {
		sub, err := s.nc.QueueSubscribe(s.Subject(op), queueGroup, s.serve)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", s.Subject(op), err)
		}
		s.subs = append(s.subs, sub)
	}
	s.logger.Info("nats request handlers ready", "prefix", s.prefix)
	return nil
}

func (s *Server) serve(msg *nats.Msg) {
	if !s.admit() {
		s.respond(msg, encode(ErrorReply{Error: "server is shutting down", Code: route.CodeShuttingDown}))
		return
	}
	defer s.wg.Done()
	s.respond(msg, s.Handle(context.Background(), msg.Subject, msg.Data))
}

// admit registers an in-flight request unless the server is stopping.
// Callers that get true must call wg.Done.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.stopper.Stopped() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) respond(msg *nats.Msg, reply []byte) {
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		s.logger.Warn("nats respond failed", "subject", msg.Subject, "error", err)
	}
}

// Handle answers one request and returns the JSON reply.
func (s *Server) Handle(ctx context.Context, subject string, data []byte) []byte {
	op := strings.TrimPrefix(subject, s.prefix+".")
	switch op {
	case SubjectTravelTime:
		o, d, err := decodeQuery(data)
		if err != nil {
			return errorReply(err)
		}
		secs, err := s.svc.TravelTime(ctx, o, d)
		if err != nil {
			return errorReply(err)
		}
		return encode(TravelTimeReply{Seconds: secs})
	case SubjectItinerary:
		o, d, err := decodeQuery(data)
		if err != nil {
			return errorReply(err)
		}
		it, err := s.svc.Itinerary(ctx, o, d)
		if err != nil {
			return errorReply(err)
		}
		return encode(it)
	case SubjectNearby:
		var req NearbyRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return errorReply(fmt.Errorf("%w: %v", route.ErrBadRequest, err))
		}
		stops, err := s.svc.NearbyStops(ctx, req.Lat, req.Lon, req.MaxMiles)
		if err != nil {
			return errorReply(err)
		}
		return encode(NearbyReply{Stops: stops})
	case SubjectShutdown:
		if s.stopper.Stop() {
			s.logger.Info("shutdown requested over nats")
		}
		return encode(AckReply{Status: "stopping"})
	}
	return errorReply(fmt.Errorf("%w: unknown subject %q", route.ErrBadRequest, subject))
}

// Close stops taking requests and waits for in-flight ones to finish.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.unsubscribe()
	s.wg.Wait()
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.logger.Warn("nats drain failed", "error", err)
		}
	}
}

func (s *Server) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func decodeQuery(data []byte) (graph.NodeKey, graph.NodeKey, error) {
	var req QueryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return graph.NodeKey{}, graph.NodeKey{}, fmt.Errorf("%w: %v", route.ErrBadRequest, err)
	}
	o, err := graph.ParseNodeKey(req.Origin)
	if err != nil {
		return graph.NodeKey{}, graph.NodeKey{}, err
	}
	d, err := graph.ParseNodeKey(req.Destination)
	if err != nil {
		return graph.NodeKey{}, graph.NodeKey{}, err
	}
	return o, d, nil
}

func errorReply(err error) []byte {
	return encode(ErrorReply{Error: err.Error(), Code: route.ErrorCode(err)})
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(ErrorReply{Error: err.Error(), Code: route.CodeInternal})
	}
	return b
}

// subjectPrefix cleans each dot-separated token of p.
func subjectPrefix(p string) string {
	parts := strings.Split(strings.Trim(strings.TrimSpace(p), "."), ".")
	for i, t := range parts {
		parts[i] = subjectToken(t)
	}
	return strings.Join(parts, ".")
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
