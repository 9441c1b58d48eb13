package graph

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/graph/simple"

	"gtfs-routeserver/internal/calendar"
	"gtfs-routeserver/internal/geo"
	"gtfs-routeserver/internal/gtfs"
)

const (
	DefaultTransferLimit      = 4800
	DefaultMinConnection      = 60
	DefaultWalkSecondsPerMile = 1200
	DefaultWalkFactor         = 1.25
	DefaultMaxRowErrorLogs    = 10
)

// Options controls edge weighting. Zero values select the defaults.
type Options struct {
	// TransferPenalty is added to every transfer edge, in seconds.
	TransferPenalty int
	// TransferLimit discards transfers whose connection time is not below it.
	TransferLimit int
	// MinConnection is the floor applied to every connection time.
	MinConnection      int
	WalkSecondsPerMile float64
	WalkFactor         float64
	MaxRowErrorLogs    int
}

func (o Options) withDefaults() Options {
	if o.TransferLimit <= 0 {
		o.TransferLimit = DefaultTransferLimit
	}
	if o.MinConnection <= 0 {
		o.MinConnection = DefaultMinConnection
	}
	if o.WalkSecondsPerMile <= 0 {
		o.WalkSecondsPerMile = DefaultWalkSecondsPerMile
	}
	if o.WalkFactor <= 0 {
		o.WalkFactor = DefaultWalkFactor
	}
	if o.MaxRowErrorLogs <= 0 {
		o.MaxRowErrorLogs = DefaultMaxRowErrorLogs
	}
	return o
}

// Build constructs the time-expanded network for the trips running under
// services. stop_times must be ordered by trip and stop_sequence; rows are
// taken in feed order and never re-sorted.
//
// Row-level failures are logged (bounded) and skipped. Build itself only
// fails if ctx is cancelled.
func Build(ctx context.Context, feed *gtfs.Feed, services calendar.ServiceSet, opts Options, logger *slog.Logger) (*Network, error) {
	ctx, span := otel.Tracer("gtfs-routeserver/graph").Start(ctx, "graph.Build")
	defer span.End()

	opts = opts.withDefaults()
	start := time.Now()
	b := &builder{
		opts:   opts,
		logger: logger,
		net: &Network{
			ValidServices:  services,
			ValidTrips:     make(map[string]string),
			StopTrips:      make(map[string][]Visit),
			TripStopDetail: make(map[NodeKey]StopDetail),
			StopInfo:       feed.Stops,
			ids:            make(map[NodeKey]int64),
			edgeAt:         make(map[[2]int64]int),
			graph:          simple.NewWeightedDirectedGraph(0, math.Inf(1)),
		},
	}

	b.filterTrips(feed.Trips)
	retained := b.collectVisits(feed.StopTimes)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.rideEdges(retained)
	b.stationTransfers()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if feed.HasTransfers {
		b.walkTransfers(feed.Transfers)
	} else {
		logger.Info("no transfers table, skipping walk transfers")
	}

	n := b.net
	n.Stats.Nodes = n.NodeCount()
	span.SetAttributes(
		attribute.Int("graph.nodes", n.Stats.Nodes),
		attribute.Int("graph.edges", n.Stats.Edges()),
		attribute.Int("graph.valid_trips", len(n.ValidTrips)),
	)
	logger.Info("search graph built",
		"services", len(services),
		"valid_trips", len(n.ValidTrips),
		"nodes", n.Stats.Nodes,
		"ride_edges", n.Stats.RideEdges,
		"station_transfers", n.Stats.StationTransfers,
		"walk_transfers", n.Stats.WalkTransfers,
		"time_errors", n.Stats.TimeErrors,
		"ride_errors", n.Stats.RideErrors,
		"elapsed", time.Since(start),
	)
	return n, nil
}

type builder struct {
	opts   Options
	logger *slog.Logger
	net    *Network
	logged map[string]int
}

// rowError logs the first MaxRowErrorLogs failures of each stage.
func (b *builder) rowError(stage string, msg string, args ...any) {
	if b.logged == nil {
		b.logged = make(map[string]int)
	}
	if b.logged[stage] >= b.opts.MaxRowErrorLogs {
		return
	}
	b.logged[stage]++
	b.logger.Warn(msg, append([]any{"stage", stage}, args...)...)
}

func (b *builder) filterTrips(trips map[string]gtfs.Trip) {
	for id, t := range trips {
		if b.net.ValidServices.Has(t.ServiceID) {
			b.net.ValidTrips[id] = t.RouteID
		}
	}
}

// collectVisits creates a node for every stop_time of a valid trip and
// buckets the visits by stop. Rows whose times do not parse keep their node
// but are left out of the transfer buckets.
func (b *builder) collectVisits(rows []gtfs.StopTime) []gtfs.StopTime {
	n := b.net
	var retained []gtfs.StopTime
	for _, st := range rows {
		if _, ok := n.ValidTrips[st.TripID]; !ok {
			continue
		}
		retained = append(retained, st)
		key := NodeKey{TripID: st.TripID, StopID: st.StopID}
		n.node(key)
		n.TripStopDetail[key] = StopDetail{StopID: st.StopID, ArrivalTime: st.ArrivalTime, DepartureTime: st.DepartureTime}

		arr, err := gtfs.ParseClock(st.ArrivalTime)
		if err == nil {
			var dep int
			dep, err = gtfs.ParseClock(st.DepartureTime)
			if err == nil {
				n.StopTrips[st.StopID] = append(n.StopTrips[st.StopID], Visit{TripID: st.TripID, Arrival: arr, Departure: dep})
				continue
			}
		}
		n.Stats.TimeErrors++
		b.rowError("visits", "failed to convert stop time", "trip_id", st.TripID, "stop_id", st.StopID, "error", err)
	}
	return retained
}

// rideEdges links consecutive rows of the same trip.
func (b *builder) rideEdges(rows []gtfs.StopTime) {
	for i := 0; i+1 < len(rows); i++ {
		cur, next := rows[i], rows[i+1]
		if cur.TripID != next.TripID {
			continue
		}
		dep, err := gtfs.ParseClock(cur.DepartureTime)
		if err != nil {
			b.net.Stats.RideErrors++
			b.rowError("ride", "failed to convert departure", "trip_id", cur.TripID, "stop_id", cur.StopID, "error", err)
			continue
		}
		arr, err := gtfs.ParseClock(next.ArrivalTime)
		if err != nil {
			b.net.Stats.RideErrors++
			b.rowError("ride", "failed to convert arrival", "trip_id", next.TripID, "stop_id", next.StopID, "error", err)
			continue
		}
		w := arr - dep
		if w < 0 {
			b.net.Stats.RideErrors++
			b.rowError("ride", "negative ride time", "trip_id", cur.TripID, "from", cur.StopID, "to", next.StopID, "seconds", w)
			continue
		}
		e := Edge{
			From:   NodeKey{TripID: cur.TripID, StopID: cur.StopID},
			To:     NodeKey{TripID: next.TripID, StopID: next.StopID},
			Weight: w,
			Kind:   RideEdge,
		}
		b.net.addEdge(e)
	}
}

// connection applies the transfer policy to an alighting visit o and a
// boarding visit d. The guards run in a fixed order:
//
//  1. o must arrive (plus any walk) strictly before d departs;
//  2. the two trips must be on different routes;
//  3. the connection time, floored at MinConnection, must be below TransferLimit.
//
// It returns the edge weight including the transfer penalty.
func (b *builder) connection(o, d Visit, walk float64) (int, bool) {
	if float64(o.Arrival)+walk >= float64(d.Departure) {
		return 0, false
	}
	if b.net.ValidTrips[o.TripID] == b.net.ValidTrips[d.TripID] {
		return 0, false
	}
	conn := max(b.opts.MinConnection, d.Departure-o.Arrival)
	if conn >= b.opts.TransferLimit {
		return 0, false
	}
	return conn + b.opts.TransferPenalty, true
}

func (b *builder) stationTransfers() {
	for _, stop := range sortedKeys(b.net.StopTrips) {
		visits := b.net.StopTrips[stop]
		for _, o := range visits {
			for _, d := range visits {
				w, ok := b.connection(o, d, 0)
				if !ok {
					continue
				}
				e := Edge{
					From:   NodeKey{TripID: o.TripID, StopID: stop},
					To:     NodeKey{TripID: d.TripID, StopID: stop},
					Weight: w,
					Kind:   StationTransferEdge,
				}
				b.net.addEdge(e)
			}
		}
	}
}

func (b *builder) walkTransfers(transfers []gtfs.Transfer) {
	n := b.net
	for _, t := range transfers {
		from, okFrom := n.StopTrips[t.FromStopID]
		to, okTo := n.StopTrips[t.ToStopID]
		if !okFrom || !okTo {
			continue
		}
		fs, okFrom := n.StopInfo[t.FromStopID]
		ts, okTo := n.StopInfo[t.ToStopID]
		if !okFrom || !okTo {
			n.Stats.UnknownStopWalks++
			b.rowError("walk", "transfer references stop without coordinates", "from", t.FromStopID, "to", t.ToStopID)
			continue
		}
		miles := geo.GreatCircleMiles(geo.StopPoint(fs), geo.StopPoint(ts))
		walk := geo.WalkSeconds(miles, b.opts.WalkSecondsPerMile, b.opts.WalkFactor)

		for _, o := range from {
			for _, d := range to {
				w, ok := b.connection(o, d, walk)
				if !ok {
					continue
				}
				e := Edge{
					From:   NodeKey{TripID: o.TripID, StopID: t.FromStopID},
					To:     NodeKey{TripID: d.TripID, StopID: t.ToStopID},
					Weight: w,
					Kind:   WalkTransferEdge,
				}
				n.addEdge(e)
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
