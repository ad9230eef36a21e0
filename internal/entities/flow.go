package entities

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OtherMessageLabel is the reserved edge label of the default route.
const OtherMessageLabel = "{{OTHER_MSG}}"

type NodeKind string

const (
	NodeText         NodeKind = "TEXT"
	NodeImage        NodeKind = "IMAGE"
	NodeVideo        NodeKind = "VIDEO"
	NodeDocument     NodeKind = "DOCUMENT"
	NodeAudio        NodeKind = "AUDIO"
	NodeLocation     NodeKind = "LOCATION"
	NodePoll         NodeKind = "POLL"
	NodeMakeRequest  NodeKind = "MAKE_REQUEST"
	NodeDelayBetween NodeKind = "DELAY_BETWEEN"
	NodeAI           NodeKind = "AI"
	NodePreventReply NodeKind = "PREVENT_REPLY"
)

var nodeKindAliases = map[string]NodeKind{
	"DOC": NodeDocument,
	"AUD": NodeAudio,
	"LOC": NodeLocation,
}

// ParseNodeKind normalizes a kind string. Unknown kinds are an error.
func ParseNodeKind(s string) (NodeKind, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	switch k := NodeKind(upper); k {
	case NodeText, NodeImage, NodeVideo, NodeDocument, NodeAudio, NodeLocation, NodePoll,
		NodeMakeRequest, NodeDelayBetween, NodeAI, NodePreventReply:
		return k, nil
	}
	if k, ok := nodeKindAliases[upper]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownNodeKind, s)
}

func (k *NodeKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: node kind must be a string", ErrConfigurationInvalid)
	}
	parsed, err := ParseNodeKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// IsContent reports whether the kind produces something to send.
func (k NodeKind) IsContent() bool {
	switch k {
	case NodeText, NodeImage, NodeVideo, NodeDocument, NodeAudio, NodeLocation, NodePoll:
		return true
	}
	return false
}

type NodeConfig struct {
	Content map[string]any `json:"content"`
}

type Node struct {
	ID     string     `json:"id"`
	Kind   NodeKind   `json:"kind"`
	Config NodeConfig `json:"config"`
}

type Edge struct {
	Source     string `json:"source"`
	MatchLabel string `json:"matchLabel"`
	Target     string `json:"target"`
}

// FlowGraph is read-only at execution time.
type FlowGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// DecodeFlowGraph parses the node and edge documents of a flow.
func DecodeFlowGraph(nodesJSON, edgesJSON []byte) (FlowGraph, error) {
	var g FlowGraph
	if len(nodesJSON) > 0 {
		if err := json.Unmarshal(nodesJSON, &g.Nodes); err != nil {
			return FlowGraph{}, fmt.Errorf("decode nodes: %w", err)
		}
	}
	if len(edgesJSON) > 0 {
		if err := json.Unmarshal(edgesJSON, &g.Edges); err != nil {
			return FlowGraph{}, fmt.Errorf("decode edges: %w", err)
		}
	}
	if err := g.Validate(); err != nil {
		return FlowGraph{}, err
	}
	return g, nil
}

func (g FlowGraph) Validate() error {
	seen := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node without id", ErrConfigurationInvalid)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrConfigurationInvalid, n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}

// IsEmpty is true when the graph cannot route anything.
func (g FlowGraph) IsEmpty() bool {
	return len(g.Nodes) == 0 || len(g.Edges) == 0
}

func (g FlowGraph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// FirstEdgeFrom returns the first edge leaving source, ignoring its label.
func (g FlowGraph) FirstEdgeFrom(source string) (Edge, bool) {
	for _, e := range g.Edges {
		if e.Source == source {
			return e, true
		}
	}
	return Edge{}, false
}
