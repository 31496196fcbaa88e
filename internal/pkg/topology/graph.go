package topology

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ohowland/vvc_core/internal/pkg/network"
)

// Edge is one direction of a feeder branch, tagged with the element that forms it.
type Edge struct {
	To      string
	Element network.Element
}

// Graph is an undirected bus adjacency. Edges keep insertion order so a
// traversal over the same network always visits neighbours the same way.
type Graph struct {
	pid           uuid.UUID
	adjacencyList map[string][]Edge
}

// NewGraph returns an empty Graph.
func NewGraph() (Graph, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return Graph{}, err
	}

	al := make(map[string][]Edge)
	return Graph{pid, al}, nil
}

// PID identifies this build of the graph.
func (g Graph) PID() uuid.UUID {
	return g.pid
}

// AddNode adds a bus with no edges.
func (g *Graph) AddNode(bus string) error {
	if _, exists := g.adjacencyList[bus]; exists {
		err := fmt.Sprintf("node %s already exists in graph.", bus)
		return errors.New(err)
	}
	g.adjacencyList[bus] = make([]Edge, 0)
	return nil
}

// AddEdge links b1 and b2 in both directions, creating either bus if needed.
func (g *Graph) AddEdge(b1 string, b2 string, elem network.Element) {
	if _, exists := g.adjacencyList[b1]; !exists {
		g.adjacencyList[b1] = make([]Edge, 0)
	}
	if _, exists := g.adjacencyList[b2]; !exists {
		g.adjacencyList[b2] = make([]Edge, 0)
	}
	g.adjacencyList[b1] = append(g.adjacencyList[b1], Edge{b2, elem})
	g.adjacencyList[b2] = append(g.adjacencyList[b2], Edge{b1, elem})
}

// Edges returns the edges leaving bus, in insertion order.
func (g Graph) Edges(bus string) []Edge {
	if edges, exists := g.adjacencyList[bus]; exists {
		return edges
	}
	return make([]Edge, 0)
}

// HasNode reports whether bus is a vertex of the graph.
func (g Graph) HasNode(bus string) bool {
	_, ok := g.adjacencyList[bus]
	return ok
}

// Len is the number of buses in the graph.
func (g Graph) Len() int {
	return len(g.adjacencyList)
}

// BuildAdjacency adds one undirected edge per line and per transformer. Lines
// are enumerated before transformers; transformers with fewer than two
// terminals are skipped and only the first two terminals are linked.
func BuildAdjacency(net network.Network) (Graph, error) {
	g, err := NewGraph()
	if err != nil {
		return Graph{}, err
	}

	for _, l := range net.Lines {
		g.AddEdge(network.BusID(l.Bus1), network.BusID(l.Bus2), network.Element{Kind: network.LineKind, Name: l.Name})
	}

	for _, t := range net.Transformers {
		if len(t.Buses) < 2 {
			continue
		}
		g.AddEdge(network.BusID(t.Buses[0]), network.BusID(t.Buses[1]), network.Element{Kind: network.TransformerKind, Name: t.Name})
	}
	return g, nil
}
