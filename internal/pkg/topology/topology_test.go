package topology

import (
	"testing"

	"github.com/ohowland/vvc_core/internal/pkg/network"
	"gotest.tools/v3/assert"
)

// src -reg1- 1 -l1- 2 -reg2- 3 -l2- 4, plus an island 9-10 and a loop 2-5-3.
func testNetwork() network.Network {
	return network.Network{
		Name:      "chain",
		SourceBus: "src",
		Buses: []network.Bus{
			{ID: "src"}, {ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"},
			{ID: "5"}, {ID: "9"}, {ID: "10"}, {ID: "lonely"},
		},
		Lines: []network.Line{
			{Name: "l1", Bus1: "1.1.2.3", Bus2: "2.1.2.3"},
			{Name: "l2", Bus1: "3", Bus2: "4"},
			{Name: "l25", Bus1: "2", Bus2: "5"},
			{Name: "l53", Bus1: "5", Bus2: "3"},
			{Name: "island", Bus1: "9", Bus2: "10"},
		},
		Transformers: []network.Transformer{
			{Name: "Reg1", Buses: []string{"src", "1"}},
			{Name: "reg2", Buses: []string{"2", "3"}},
			{Name: "stub", Buses: []string{"4"}},
		},
		RegControls: []network.RegControl{
			{Name: "creg1", Transformer: "reg1"},
			{Name: "creg2", Transformer: "reg2"},
		},
	}
}

func TestBuildAdjacency(t *testing.T) {
	g, err := BuildAdjacency(testNetwork())
	assert.NilError(t, err)

	edges := g.Edges("2")
	assert.Equal(t, len(edges), 3)
	assert.Equal(t, edges[0].Element.String(), "Line.l1")
	assert.Equal(t, edges[1].Element.String(), "Line.l25")
	assert.Equal(t, edges[2].Element.String(), "Transformer.reg2")
	assert.Equal(t, edges[0].To, "1")

	// single-terminal transformer adds nothing
	assert.Equal(t, len(g.Edges("4")), 1)
	assert.Assert(t, !g.HasNode("lonely"))
}

func TestAddNodeDuplicate(t *testing.T) {
	g, err := NewGraph()
	assert.NilError(t, err)
	assert.NilError(t, g.AddNode("a"))
	assert.Assert(t, g.AddNode("a") != nil)
	assert.Equal(t, g.Len(), 1)
}

func TestBFSParentMap(t *testing.T) {
	g, _ := BuildAdjacency(testNetwork())
	parents, err := BFSParentMap(g, "src")
	assert.NilError(t, err)

	_, ok := parents["src"]
	assert.Assert(t, !ok)
	_, ok = parents["9"]
	assert.Assert(t, !ok)

	// 3 is reached from 2 through reg2 before the 5 detour is explored
	assert.Equal(t, parents["3"].Element.String(), "Transformer.reg2")
	assert.Equal(t, parents["3"].From, "2")
	assert.Equal(t, parents["5"].From, "2")
	assert.Equal(t, parents["1"].Element.String(), "Transformer.Reg1")
}

func TestBFSParentMapUnknownSource(t *testing.T) {
	g, _ := BuildAdjacency(testNetwork())
	_, err := BFSParentMap(g, "150")
	assert.ErrorIs(t, err, ErrUnknownBus)
}

func TestMapTransformersToRegulatorsLastWins(t *testing.T) {
	net := testNetwork()
	net.RegControls = append(net.RegControls, network.RegControl{Name: "creg2b", Transformer: "REG2"})
	m := MapTransformersToRegulators(net)
	assert.Equal(t, m["Transformer.reg2"], "creg2b")
	assert.Equal(t, m["Transformer.reg1"], "creg1")
}

func TestUpstreamChainOrder(t *testing.T) {
	r, err := NewResolver(testNetwork())
	assert.NilError(t, err)

	chain, err := r.Resolve("4")
	assert.NilError(t, err)
	assert.DeepEqual(t, chain, Chain{"creg2", "creg1"})

	chain, err = r.Resolve("2")
	assert.NilError(t, err)
	assert.DeepEqual(t, chain, Chain{"creg1"})
}

func TestUpstreamChainDeterministicAndAcyclic(t *testing.T) {
	r, _ := NewResolver(testNetwork())
	first, _ := r.Resolve("4.1")
	for i := 0; i < 10; i++ {
		again, err := r.Resolve("4")
		assert.NilError(t, err)
		assert.DeepEqual(t, again, first)
	}
	seen := make(map[string]bool)
	for _, reg := range first {
		assert.Assert(t, !seen[reg])
		seen[reg] = true
	}
}

func TestUpstreamChainCyclicParents(t *testing.T) {
	xfmr := network.Element{Kind: network.TransformerKind, Name: "t"}
	parents := ParentMap{
		"a": {Element: xfmr, From: "b"},
		"b": {Element: xfmr, From: "a"},
	}
	chain := UpstreamChain("a", parents, map[string]string{"Transformer.t": "r"})
	assert.DeepEqual(t, chain, Chain{"r", "r"})
}

func TestResolveErrors(t *testing.T) {
	r, _ := NewResolver(testNetwork())

	_, err := r.Resolve("nope")
	assert.ErrorIs(t, err, ErrUnknownBus)

	_, err = r.Resolve("9")
	assert.ErrorIs(t, err, ErrUnreachable)

	chain, err := r.Resolve("src")
	assert.NilError(t, err)
	assert.Equal(t, len(chain), 0)
}

func TestEmptyChainWithoutRegulators(t *testing.T) {
	net := testNetwork()
	net.RegControls = nil
	r, _ := NewResolver(net)
	chain, err := r.Resolve("4")
	assert.NilError(t, err)
	assert.Equal(t, len(chain), 0)
}

func TestChildrenAndDownstream(t *testing.T) {
	r, _ := NewResolver(testNetwork())
	children := Children(r.Parents())
	assert.DeepEqual(t, children["2"], []string{"3", "5"})

	down := Downstream(children, "2")
	for _, bus := range []string{"2", "3", "4", "5"} {
		assert.Assert(t, down[bus], bus)
	}
	assert.Assert(t, !down["1"])
	assert.Assert(t, !down["src"])
}
