// Package graph builds a time-expanded network from a GTFS feed and runs
// shortest-path searches over it.
//
// Nodes are vehicle visits (trip, stop). Edges either follow a trip to its
// next stop (ride) or move a passenger to another trip at the same stop or at
// a walk-connected stop (transfer). A Network is immutable once built and may
// be searched from any number of goroutines.
package graph

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"gtfs-routeserver/internal/calendar"
	"gtfs-routeserver/internal/gtfs"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrNoPath      = errors.New("no path")
)

// KeySeparator joins trip and stop ids in the wire form of a NodeKey.
const KeySeparator = "^"

// NodeKey identifies one vehicle visit to one stop.
type NodeKey struct {
	TripID string
	StopID string
}

func (k NodeKey) String() string {
	return k.TripID + KeySeparator + k.StopID
}

// ParseNodeKey parses "trip^stop". The split happens at the last separator,
// so trip ids may themselves contain "^".
func ParseNodeKey(s string) (NodeKey, error) {
	i := strings.LastIndex(s, KeySeparator)
	if i <= 0 || i == len(s)-1 {
		return NodeKey{}, fmt.Errorf("%w: malformed key %q", ErrUnknownNode, s)
	}
	return NodeKey{TripID: s[:i], StopID: s[i+1:]}, nil
}

type EdgeKind int

const (
	RideEdge EdgeKind = iota
	StationTransferEdge
	WalkTransferEdge
)

func (k EdgeKind) String() string {
	switch k {
	case RideEdge:
		return "ride"
	case StationTransferEdge:
		return "station_transfer"
	case WalkTransferEdge:
		return "walk_transfer"
	}
	return "unknown"
}

type Edge struct {
	From   NodeKey
	To     NodeKey
	Weight int
	Kind   EdgeKind
}

// Visit is one valid trip passing a stop, with times in seconds.
type Visit struct {
	TripID    string
	Arrival   int
	Departure int
}

// StopDetail keeps the raw schedule strings of a visit.
type StopDetail struct {
	StopID        string
	ArrivalTime   string
	DepartureTime string
}

type Stats struct {
	Nodes            int
	RideEdges        int
	StationTransfers int
	WalkTransfers    int
	TimeErrors       int
	RideErrors       int
	SelfLoops        int
	UnknownStopWalks int
	ReplacedEdges    int
}

func (s Stats) Edges() int {
	return s.RideEdges + s.StationTransfers + s.WalkTransfers
}

func (s *Stats) count(k EdgeKind, delta int) {
	switch k {
	case RideEdge:
		s.RideEdges += delta
	case StationTransferEdge:
		s.StationTransfers += delta
	case WalkTransferEdge:
		s.WalkTransfers += delta
	}
}

// Network is the immutable result of Build.
type Network struct {
	ValidServices  calendar.ServiceSet
	ValidTrips     map[string]string // trip_id -> route_id
	StopTrips      map[string][]Visit
	TripStopDetail map[NodeKey]StopDetail
	StopInfo       map[string]gtfs.Stop
	Edges          []Edge
	Stats          Stats

	ids    map[NodeKey]int64
	keys   []NodeKey
	edgeAt map[[2]int64]int
	graph  *simple.WeightedDirectedGraph
}

func (n *Network) HasNode(k NodeKey) bool {
	_, ok := n.ids[k]
	return ok
}

// Route returns the route of a valid trip.
func (n *Network) Route(tripID string) string {
	return n.ValidTrips[tripID]
}

func (n *Network) NodeCount() int { return len(n.keys) }

// ShortestPath returns the least-weight node sequence from origin to
// destination and its total weight.
func (n *Network) ShortestPath(origin, dest NodeKey) ([]NodeKey, int, error) {
	oid, ok := n.ids[origin]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownNode, origin)
	}
	did, ok := n.ids[dest]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownNode, dest)
	}
	if oid == did {
		return []NodeKey{origin}, 0, nil
	}

	shortest := path.DijkstraFrom(simple.Node(oid), n.graph)
	nodes, weight := shortest.To(did)
	if len(nodes) == 0 || math.IsInf(weight, 1) {
		return nil, 0, fmt.Errorf("%w: %s -> %s", ErrNoPath, origin, dest)
	}
	out := make([]NodeKey, len(nodes))
	for i, nd := range nodes {
		out[i] = n.keys[nd.ID()]
	}
	return out, int(weight), nil
}

// node returns the id of k, adding it to the graph on first use.
func (n *Network) node(k NodeKey) int64 {
	if id, ok := n.ids[k]; ok {
		return id
	}
	id := int64(len(n.keys))
	n.ids[k] = id
	n.keys = append(n.keys, k)
	n.graph.AddNode(simple.Node(id))
	return id
}

// addEdge records e. A second edge between the same pair of nodes replaces
// the first, matching a simple directed graph, and only the last one counts.
func (n *Network) addEdge(e Edge) {
	from, to := n.node(e.From), n.node(e.To)
	if from == to {
		n.Stats.SelfLoops++
		return
	}
	pair := [2]int64{from, to}
	if i, ok := n.edgeAt[pair]; ok {
		n.Stats.ReplacedEdges++
		n.Stats.count(n.Edges[i].Kind, -1)
		n.Edges[i] = e
	} else {
		n.edgeAt[pair] = len(n.Edges)
		n.Edges = append(n.Edges, e)
	}
	n.Stats.count(e.Kind, 1)
	n.graph.SetWeightedEdge(n.graph.NewWeightedEdge(simple.Node(from), simple.Node(to), float64(e.Weight)))
}