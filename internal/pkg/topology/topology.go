/*
topology.go Upstream regulator discovery. A feeder is radial, so a single BFS
from the source assigns every reachable bus exactly one feeding element; the
regulators on the path from a bus back to the source are found by walking those
parent links.
*/

package topology

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ohowland/vvc_core/internal/pkg/network"
)

// MaxHops bounds an upstream walk so a malformed parent map cannot loop forever.
const MaxHops = 1000

var (
	ErrUnknownBus  = errors.New("topology: bus not in network")
	ErrUnreachable = errors.New("topology: bus not reachable from source")
)

// Feed records how BFS first reached a bus.
type Feed struct {
	Element network.Element
	From    string
}

// ParentMap maps a bus to the element that feeds it. The source and
// unreachable buses are absent.
type ParentMap map[string]Feed

// Chain is an ordered list of regulator names.
type Chain []string

// BFSParentMap runs one breadth-first search from source. The first discovery
// of a bus wins.
func BFSParentMap(g Graph, source string) (ParentMap, error) {
	if !g.HasNode(source) {
		return nil, fmt.Errorf("source %s: %w", source, ErrUnknownBus)
	}

	parents := make(ParentMap)
	visited := map[string]bool{source: true}
	queue := []string{source}
	for len(queue) > 0 {
		bus := queue[0]
		queue = queue[1:]
		for _, e := range g.Edges(bus) {
			if visited[e.To] {
				continue
			}
			visited[e.To] = true
			parents[e.To] = Feed{Element: e.Element, From: bus}
			queue = append(queue, e.To)
		}
	}
	return parents, nil
}

// MapTransformersToRegulators maps a transformer reference to its regulator
// control. When two controls share a transformer the last one enumerated wins.
func MapTransformersToRegulators(net network.Network) map[string]string {
	m := make(map[string]string)
	for _, r := range net.RegControls {
		ref := network.Element{Kind: network.TransformerKind, Name: strings.ToLower(r.Transformer)}
		m[ref.String()] = r.Name
	}
	return m
}

func xfmrKey(e network.Element) string {
	return network.Element{Kind: e.Kind, Name: strings.ToLower(e.Name)}.String()
}

// UpstreamChain walks from target toward the source, appending the regulator
// of every feeding transformer that has one. The walk stops at the source, at a
// bus with no parent entry, at a revisited bus, or after MaxHops.
func UpstreamChain(target string, parents ParentMap, xfmrMap map[string]string) Chain {
	chain := make(Chain, 0)
	visited := make(map[string]bool)
	bus := target
	for hop := 0; hop < MaxHops; hop++ {
		if visited[bus] {
			break
		}
		visited[bus] = true

		feed, ok := parents[bus]
		if !ok {
			break
		}
		if feed.Element.IsTransformer() {
			if reg, ok := xfmrMap[xfmrKey(feed.Element)]; ok {
				chain = append(chain, reg)
			}
		}
		bus = feed.From
	}
	return chain
}

// Resolver answers chain queries against one network definition.
type Resolver struct {
	net     network.Network
	graph   Graph
	parents ParentMap
	xfmrMap map[string]string
}

// NewResolver builds the adjacency and parent map rooted at the network's
// declared source bus.
func NewResolver(net network.Network) (Resolver, error) {
	g, err := BuildAdjacency(net)
	if err != nil {
		return Resolver{}, err
	}
	parents, err := BFSParentMap(g, net.SourceBus)
	if err != nil {
		return Resolver{}, err
	}
	return Resolver{
		net:     net,
		graph:   g,
		parents: parents,
		xfmrMap: MapTransformersToRegulators(net),
	}, nil
}

// Resolve returns the regulator chain for target. An unknown bus and a bus
// with no path to the source are structural failures; an empty chain is not.
func (r Resolver) Resolve(target string) (Chain, error) {
	target = network.BusID(target)
	if _, ok := r.net.Bus(target); !ok {
		return nil, fmt.Errorf("%s: %w", target, ErrUnknownBus)
	}
	if target == r.net.SourceBus {
		return Chain{}, nil
	}
	if _, ok := r.parents[target]; !ok {
		return nil, fmt.Errorf("%s: %w", target, ErrUnreachable)
	}
	return UpstreamChain(target, r.parents, r.xfmrMap), nil
}

// Graph exposes the adjacency the resolver was built with.
func (r Resolver) Graph() Graph {
	return r.graph
}

// Parents exposes the parent map the resolver was built with.
func (r Resolver) Parents() ParentMap {
	return r.parents
}

// Feed returns the element that feeds bus, if any.
func (r Resolver) Feed(bus string) (Feed, bool) {
	f, ok := r.parents[network.BusID(bus)]
	return f, ok
}

// Children inverts a parent map into a tree: bus -> buses it feeds.
// Child lists are sorted so the tree is stable across runs.
func Children(parents ParentMap) map[string][]string {
	children := make(map[string][]string)
	for bus, feed := range parents {
		children[feed.From] = append(children[feed.From], bus)
	}
	for bus := range children {
		sort.Strings(children[bus])
	}
	return children
}

// Downstream collects every bus fed, directly or not, by any of starts.
// The start buses themselves are included.
func Downstream(children map[string][]string, starts ...string) map[string]bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), starts...)
	for len(stack) > 0 {
		bus := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[bus] {
			continue
		}
		seen[bus] = true
		stack = append(stack, children[bus]...)
	}
	return seen
}
