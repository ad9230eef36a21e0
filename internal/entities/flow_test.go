package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFlowGraph(t *testing.T) {
	nodes := []byte(`[
		{"id":"1","kind":"text","config":{"content":{"text":"hi"}}},
		{"id":"2","kind":"doc","config":{"content":{"url":"https://x/y.pdf"}}},
		{"id":"3","kind":"MAKE_REQUEST","config":{"content":{"method":"GET","url":"https://api"}}}
	]`)
	edges := []byte(`[{"source":"1","matchLabel":"hello","target":"2"},{"source":"3","matchLabel":"","target":"1"}]`)

	g, err := DecodeFlowGraph(nodes, edges)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 3)
	assert.Equal(t, NodeText, g.Nodes[0].Kind)
	assert.Equal(t, NodeDocument, g.Nodes[1].Kind)
	assert.Equal(t, NodeMakeRequest, g.Nodes[2].Kind)
	assert.False(t, g.IsEmpty())

	e, ok := g.FirstEdgeFrom("3")
	require.True(t, ok)
	assert.Equal(t, "1", e.Target)

	_, ok = g.FirstEdgeFrom("2")
	assert.False(t, ok)
}

func TestDecodeFlowGraph_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		nodes string
		want  error
	}{
		{"unknown kind", `[{"id":"1","kind":"TELEPORT"}]`, ErrUnknownNodeKind},
		{"duplicate id", `[{"id":"1","kind":"TEXT"},{"id":"1","kind":"AI"}]`, ErrConfigurationInvalid},
		{"missing id", `[{"kind":"TEXT"}]`, ErrConfigurationInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFlowGraph([]byte(tt.nodes), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeContent(t *testing.T) {
	c, err := DecodeContent(NodeDelayBetween, map[string]any{"fromSec": "2", "toSec": 5.0})
	require.NoError(t, err)
	delay, ok := c.(DelayBetweenContent)
	require.True(t, ok)
	assert.Equal(t, FlexInt(2), delay.FromSec)
	assert.Equal(t, FlexInt(5), delay.ToSec)

	c, err = DecodeContent(NodeImage, map[string]any{"url": "https://cdn/a.jpg", "caption": "look"})
	require.NoError(t, err)
	img := c.(ImageContent)
	assert.Equal(t, "https://cdn/a.jpg", img.URL)
	assert.Equal(t, "look", img.Caption)

	_, err = DecodeContent(NodeDelayBetween, map[string]any{"fromSec": "soon"})
	assert.ErrorIs(t, err, ErrConfigurationInvalid)
}

func TestParseNodeKind(t *testing.T) {
	k, err := ParseNodeKind(" aud ")
	require.NoError(t, err)
	assert.Equal(t, NodeAudio, k)
	assert.True(t, k.IsContent())

	k, err = ParseNodeKind("prevent_reply")
	require.NoError(t, err)
	assert.False(t, k.IsContent())
}
