package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gtfs-routeserver/internal/graph"
)

type Collector struct {
	reg *prometheus.Registry

	Queries       *prometheus.CounterVec   // op, result
	QueryDuration *prometheus.HistogramVec // op

	GraphNodes    prometheus.Gauge
	GraphEdges    *prometheus.GaugeVec // kind: ride|station_transfer|walk_transfer
	ValidTrips    prometheus.Gauge
	BuildDuration prometheus.Gauge       // seconds
	RowErrors     *prometheus.CounterVec // stage: visits|ride|walk

	NATSConnected   prometheus.Gauge
	TransferPenalty prometheus.Gauge // seconds
}

func NewCollector(transferPenalty int) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routeserver_queries_total",
			Help: "Total route queries by operation and result.",
		}, []string{"op", "result"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routeserver_query_duration_seconds",
			Help:    "Duration of route queries including the path search.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}, []string{"op"}),
		GraphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routeserver_graph_nodes",
			Help: "Number of nodes in the search graph.",
		}),
		GraphEdges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "routeserver_graph_edges",
			Help: "Number of edges in the search graph by kind.",
		}, []string{"kind"}),
		ValidTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routeserver_valid_trips",
			Help: "Trips running on the selected service day.",
		}),
		BuildDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routeserver_build_duration_seconds",
			Help: "Time taken to build the search graph.",
		}),
		RowErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routeserver_row_errors_total",
			Help: "Feed rows skipped during graph build, by stage.",
		}, []string{"stage"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routeserver_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TransferPenalty: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routeserver_transfer_penalty_seconds",
			Help: "Configured transfer penalty in seconds.",
		}),
	}

	reg.MustRegister(
		c.Queries, c.QueryDuration,
		c.GraphNodes, c.GraphEdges, c.ValidTrips, c.BuildDuration, c.RowErrors,
		c.NATSConnected, c.TransferPenalty,
	)

	c.TransferPenalty.Set(float64(transferPenalty))

	return c
}

// QueryObserve records one finished query.
func (c *Collector) QueryObserve(op, result string, d time.Duration) {
	c.Queries.WithLabelValues(op, result).Inc()
	c.QueryDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// ObserveBuild publishes the size of a freshly built network.
func (c *Collector) ObserveBuild(n *graph.Network, d time.Duration) {
	s := n.Stats
	c.GraphNodes.Set(float64(s.Nodes))
	c.GraphEdges.WithLabelValues(graph.RideEdge.String()).Set(float64(s.RideEdges))
	c.GraphEdges.WithLabelValues(graph.StationTransferEdge.String()).Set(float64(s.StationTransfers))
	c.GraphEdges.WithLabelValues(graph.WalkTransferEdge.String()).Set(float64(s.WalkTransfers))
	c.ValidTrips.Set(float64(len(n.ValidTrips)))
	c.BuildDuration.Set(d.Seconds())
	c.RowErrors.WithLabelValues("visits").Add(float64(s.TimeErrors))
	c.RowErrors.WithLabelValues("ride").Add(float64(s.RideErrors))
	c.RowErrors.WithLabelValues("walk").Add(float64(s.UnknownStopWalks))
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}
