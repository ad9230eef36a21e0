package usecases

import (
	"strings"

	"waflow/internal/entities"
)

// MatchNodes returns the targets of the edges whose label matches text.
// A label matches when it equals text, or when it is wrapped in brackets and
// its interior contains text. Comparison is case-insensitive. Exact matches
// come before bracket matches and every node appears at most once. When
// nothing matches, the {{OTHER_MSG}} edges are used instead.
func MatchNodes(graph entities.FlowGraph, text string) []entities.Node {
	if nodes := matchLabel(graph, text); len(nodes) > 0 {
		return nodes
	}
	return matchLabel(graph, entities.OtherMessageLabel)
}

func matchLabel(graph entities.FlowGraph, text string) []entities.Node {
	word := strings.ToLower(text)

	var exact, bracket []string
	for _, e := range graph.Edges {
		label := strings.ToLower(e.MatchLabel)
		if label == "" {
			continue
		}
		if label == word {
			exact = append(exact, e.Target)
			continue
		}
		if word != "" && len(label) >= 2 && strings.HasPrefix(label, "[") && strings.HasSuffix(label, "]") {
			if strings.Contains(label[1:len(label)-1], word) {
				bracket = append(bracket, e.Target)
			}
		}
	}

	seen := make(map[string]struct{}, len(exact)+len(bracket))
	var out []entities.Node
	for _, id := range append(exact, bracket...) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if n, ok := graph.Node(id); ok {
			out = append(out, n)
		}
	}
	return out
}
