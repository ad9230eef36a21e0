package usecases

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"waflow/internal/entities"
)

func testGraph(edges ...entities.Edge) entities.FlowGraph {
	g := entities.FlowGraph{Edges: edges}
	seen := map[string]bool{}
	for _, e := range edges {
		for _, id := range []string{e.Source, e.Target} {
			if !seen[id] {
				seen[id] = true
				g.Nodes = append(g.Nodes, entities.Node{ID: id, Kind: entities.NodeText})
			}
		}
	}
	return g
}

func nodeIDs(nodes []entities.Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestMatchNodes(t *testing.T) {
	g := testGraph(
		entities.Edge{Source: "start", MatchLabel: "[hello, hey, hi]", Target: "greet-bracket"},
		entities.Edge{Source: "start", MatchLabel: "Hi", Target: "greet-exact"},
		entities.Edge{Source: "start", MatchLabel: "price", Target: "price"},
		entities.Edge{Source: "start", MatchLabel: "[price list]", Target: "price"},
		entities.Edge{Source: "start", MatchLabel: entities.OtherMessageLabel, Target: "fallback"},
	)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"exact first then bracket", "hi", []string{"greet-exact", "greet-bracket"}},
		{"case insensitive", "HEY", []string{"greet-bracket"}},
		{"bracket interior contains text", "hello, h", []string{"greet-bracket"}},
		{"deduplicated", "price", []string{"price"}},
		{"fallback", "something else", []string{"fallback"}},
		{"label longer than text only matches in brackets", "hello there", []string{"fallback"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nodeIDs(MatchNodes(g, tt.text)))
		})
	}
}

func TestMatchNodes_FallbackEquivalence(t *testing.T) {
	g := testGraph(
		entities.Edge{Source: "a", MatchLabel: "yes", Target: "b"},
		entities.Edge{Source: "a", MatchLabel: entities.OtherMessageLabel, Target: "c"},
	)
	assert.Equal(t, MatchNodes(g, entities.OtherMessageLabel), MatchNodes(g, "no match here"))
}

func TestMatchNodes_NoRoute(t *testing.T) {
	g := testGraph(entities.Edge{Source: "a", MatchLabel: "yes", Target: "b"})
	assert.Empty(t, MatchNodes(g, "no"))
	assert.Empty(t, MatchNodes(entities.FlowGraph{}, "yes"))
}
