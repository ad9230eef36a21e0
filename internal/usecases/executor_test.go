package usecases

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waflow/internal/entities"
	"waflow/internal/interfaces"
)

func newTestExecutor(t *testing.T, bots *fakeChatbots, assistant *fakeAssistant, mediaDir string) *Executor {
	t.Helper()
	var a interfaces.Assistant
	if assistant != nil {
		a = assistant
	}
	exec := NewExecutor(bots, a, NewComposer(dirMedia{dir: mediaDir}), ExecutorConfig{
		RequestTimeout: 2 * time.Second,
		HandoffTimeout: time.Second,
	}, zerolog.Nop(), nil)
	exec.sleep = noSleep
	exec.randn = func(n int) int { return n - 1 }
	return exec
}

func testRun(graph entities.FlowGraph) Run {
	return Run{
		Chatbot: entities.ChatbotConfig{ID: 7, TenantID: 1, InstanceID: "inst-1", Active: true},
		Message: entities.CanonicalMessage{
			RemoteJID:  "62811@s.whatsapp.net",
			SenderName: "Ana",
			Kind:       entities.KindText,
			Text:       "hi",
		},
		Graph: graph,
	}
}

func textNode(id, text string) entities.Node {
	return entities.Node{ID: id, Kind: entities.NodeText, Config: entities.NodeConfig{Content: map[string]any{"text": text}}}
}

func TestExecutor_Text(t *testing.T) {
	exec := newTestExecutor(t, &fakeChatbots{}, nil, t.TempDir())
	run := testRun(entities.FlowGraph{})

	reply := exec.Execute(context.Background(), run, textNode("1", "Hello {name}, your number is {mobile}. {unknown}"))

	require.False(t, reply.Empty())
	assert.Equal(t, entities.NodeText, reply.Send.Kind)
	assert.Equal(t, "Hello Ana, your number is +62811. {unknown}", reply.Send.Text)
	assert.Equal(t, "text", reply.Record.Type)
	assert.Equal(t, entities.DirectionOutgoing, reply.Record.Route)
	assert.Equal(t, int64(7), reply.Record.ChatbotID)
	assert.Equal(t, "62811@s.whatsapp.net", reply.Record.RemoteJID)
	assert.Equal(t, map[string]any{"text": reply.Send.Text}, reply.Payload)
}

func TestExecutor_Media(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "menu.png"), []byte("\x89PNG\r\n\x1a\n0000"), 0o644))
	exec := newTestExecutor(t, &fakeChatbots{}, nil, dir)
	run := testRun(entities.FlowGraph{})

	image := entities.Node{ID: "img", Kind: entities.NodeImage, Config: entities.NodeConfig{Content: map[string]any{
		"url":     "https://app.example.com/media/menu.png?v=2#top",
		"caption": "For {name}",
	}}}
	reply := exec.Execute(context.Background(), run, image)

	require.False(t, reply.Empty())
	assert.Equal(t, filepath.Join(dir, "menu.png"), reply.Send.MediaPath)
	assert.Equal(t, "menu.png", reply.Send.FileName)
	assert.Equal(t, "For Ana", reply.Send.Caption)
	assert.Equal(t, "image/png", reply.Send.Mimetype)
	assert.Empty(t, reply.Send.Thumbnail, "png is not embedded as a jpeg preview")

	jpeg := []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "promo.jpg"), jpeg, 0o644))
	photo := entities.Node{ID: "photo", Kind: entities.NodeImage, Config: entities.NodeConfig{Content: map[string]any{
		"url": "https://app.example.com/media/promo.jpg",
	}}}
	reply = exec.Execute(context.Background(), run, photo)
	require.False(t, reply.Empty())
	assert.Equal(t, jpeg, reply.Send.Thumbnail)

	missing := entities.Node{ID: "doc", Kind: entities.NodeDocument, Config: entities.NodeConfig{Content: map[string]any{
		"url": "https://app.example.com/media/gone.pdf",
	}}}
	assert.True(t, exec.Execute(context.Background(), run, missing).Empty())
}

func TestExecutor_MakeRequestForwardsVariables(t *testing.T) {
	var gotMethod, gotBody, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Key")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"order": map[string]any{"id": 42, "status": "shipped"}})
	}))
	defer srv.Close()

	graph := entities.FlowGraph{
		Nodes: []entities.Node{
			{ID: "req", Kind: entities.NodeMakeRequest, Config: entities.NodeConfig{Content: map[string]any{
				"method":  "post",
				"url":     srv.URL + "/orders?phone={mobile}",
				"headers": []any{map[string]any{"key": "X-Key", "value": "secret"}},
				"body":    []any{map[string]any{"key": "customer", "value": "{name}"}},
			}}},
			textNode("reply", "Order {order.id} for {name} is {order.status}"),
		},
		Edges: []entities.Edge{{Source: "req", Target: "reply"}},
	}
	exec := newTestExecutor(t, &fakeChatbots{}, nil, t.TempDir())

	reply := exec.Execute(context.Background(), testRun(graph), graph.Nodes[0])

	require.False(t, reply.Empty())
	assert.Equal(t, "Order 42 for Ana is shipped", reply.Send.Text)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "secret", gotHeader)
	assert.JSONEq(t, `{"customer":"Ana"}`, gotBody)
}

func TestExecutor_MakeRequestArrayBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"name":"first"},{"name":"second"}]`)
	}))
	defer srv.Close()

	graph := entities.FlowGraph{
		Nodes: []entities.Node{
			{ID: "req", Kind: entities.NodeMakeRequest, Config: entities.NodeConfig{Content: map[string]any{"url": srv.URL}}},
			textNode("reply", "{0.name} then {1.name}"),
		},
		Edges: []entities.Edge{{Source: "req", Target: "reply"}},
	}
	exec := newTestExecutor(t, &fakeChatbots{}, nil, t.TempDir())

	reply := exec.Execute(context.Background(), testRun(graph), graph.Nodes[0])
	assert.Equal(t, "first then second", reply.Send.Text)
}

func TestExecutor_DeadEnds(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer ok.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	scalar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `"just a string"`)
	}))
	defer scalar.Close()

	request := func(url string) entities.Node {
		return entities.Node{ID: "req", Kind: entities.NodeMakeRequest, Config: entities.NodeConfig{Content: map[string]any{"url": url}}}
	}
	withEdge := func(n entities.Node) entities.FlowGraph {
		return entities.FlowGraph{
			Nodes: []entities.Node{n, textNode("next", "after")},
			Edges: []entities.Edge{{Source: n.ID, Target: "next"}},
		}
	}
	delay := entities.Node{ID: "wait", Kind: entities.NodeDelayBetween, Config: entities.NodeConfig{Content: map[string]any{"fromSec": 1, "toSec": 2}}}

	tests := []struct {
		name  string
		graph entities.FlowGraph
		node  entities.Node
	}{
		{"request without outgoing edge", entities.FlowGraph{Nodes: []entities.Node{request(ok.URL)}}, request(ok.URL)},
		{"request with error status", withEdge(request(failing.URL)), request(failing.URL)},
		{"request with scalar body", withEdge(request(scalar.URL)), request(scalar.URL)},
		{"delay without outgoing edge", entities.FlowGraph{Nodes: []entities.Node{delay}}, delay},
		{"edge to missing node", entities.FlowGraph{Nodes: []entities.Node{delay}, Edges: []entities.Edge{{Source: "wait", Target: "ghost"}}}, delay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newTestExecutor(t, &fakeChatbots{}, nil, t.TempDir())
			assert.True(t, exec.Execute(context.Background(), testRun(tt.graph), tt.node).Empty())
		})
	}
}

func TestExecutor_DelayBetween(t *testing.T) {
	delay := entities.Node{ID: "wait", Kind: entities.NodeDelayBetween, Config: entities.NodeConfig{Content: map[string]any{"fromSec": "5", "toSec": 2}}}
	graph := entities.FlowGraph{
		Nodes: []entities.Node{delay, textNode("next", "hello {name}")},
		Edges: []entities.Edge{{Source: "wait", MatchLabel: "ignored", Target: "next"}},
	}
	exec := newTestExecutor(t, &fakeChatbots{}, nil, t.TempDir())

	var slept []time.Duration
	exec.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	var bound int
	exec.randn = func(n int) int {
		bound = n
		return n - 1
	}

	reply := exec.Execute(context.Background(), testRun(graph), delay)

	assert.Equal(t, "hello Ana", reply.Send.Text)
	assert.Equal(t, 4, bound, "range 2..5 inclusive")
	assert.Equal(t, []time.Duration{5 * time.Second}, slept)
}

func TestExecutor_StepBudgetStopsCycles(t *testing.T) {
	a := entities.Node{ID: "a", Kind: entities.NodeDelayBetween, Config: entities.NodeConfig{Content: map[string]any{"fromSec": 0, "toSec": 0}}}
	b := entities.Node{ID: "b", Kind: entities.NodeDelayBetween, Config: entities.NodeConfig{Content: map[string]any{"fromSec": 0, "toSec": 0}}}
	graph := entities.FlowGraph{
		Nodes: []entities.Node{a, b},
		Edges: []entities.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
	}
	exec := newTestExecutor(t, &fakeChatbots{}, nil, t.TempDir())
	exec.cfg.MaxSteps = 5
	steps := 0
	exec.sleep = func(context.Context, time.Duration) error {
		steps++
		return nil
	}

	assert.True(t, exec.Execute(context.Background(), testRun(graph), a).Empty())
	assert.Equal(t, 5, steps)
}

func TestExecutor_StopsWhenChatbotDeactivated(t *testing.T) {
	delay := entities.Node{ID: "wait", Kind: entities.NodeDelayBetween, Config: entities.NodeConfig{Content: map[string]any{"fromSec": 0, "toSec": 0}}}
	graph := entities.FlowGraph{
		Nodes: []entities.Node{delay, textNode("next", "hello")},
		Edges: []entities.Edge{{Source: "wait", Target: "next"}},
	}
	bots := &fakeChatbots{inactive: map[int64]bool{7: true}}
	exec := newTestExecutor(t, bots, nil, t.TempDir())

	assert.True(t, exec.Execute(context.Background(), testRun(graph), delay).Empty())
}

func TestExecutor_AI(t *testing.T) {
	bots := &fakeChatbots{bots: []entities.ChatbotConfig{{ID: 7, TenantID: 1, InstanceID: "inst-1", Active: true}}}
	assistant := &fakeAssistant{}
	exec := newTestExecutor(t, bots, assistant, t.TempDir())
	node := entities.Node{ID: "ai", Kind: entities.NodeAI, Config: entities.NodeConfig{Content: map[string]any{
		"assignAi":     true,
		"instructions": "be brief",
	}}}

	reply := exec.Execute(context.Background(), testRun(entities.FlowGraph{}), node)

	assert.True(t, reply.Handled)
	assert.False(t, reply.Empty())
	assert.Equal(t, []string{"62811@s.whatsapp.net"}, bots.bot(7).AIBot)
	require.Equal(t, 1, assistant.calls())
	assert.Equal(t, "be brief", assistant.requests[0].Instructions)

	assistant.err = assert.AnError
	assert.True(t, exec.Execute(context.Background(), testRun(entities.FlowGraph{}), node).Empty())
}

func TestExecutor_PreventReply(t *testing.T) {
	bots := &fakeChatbots{bots: []entities.ChatbotConfig{{
		ID: 7, Active: true,
		PreventReply: []entities.PreventEntry{
			{Identity: "62811@s.whatsapp.net", Timestamp: "2020-01-01 00:00", Timezone: "UTC"},
			{Identity: "other@s.whatsapp.net", Timestamp: "2020-01-01 00:00", Timezone: "UTC"},
		},
	}}}
	exec := newTestExecutor(t, bots, nil, t.TempDir())
	node := entities.Node{ID: "pr", Kind: entities.NodePreventReply, Config: entities.NodeConfig{Content: map[string]any{
		"timestamp": "2099-01-01 00:00",
		"timezone":  "Asia/Jakarta",
	}}}
	run := testRun(entities.FlowGraph{})
	run.Chatbot = bots.bot(7)

	assert.True(t, exec.Execute(context.Background(), run, node).Empty())

	stored := bots.bot(7).PreventReply
	require.Len(t, stored, 2)
	assert.Equal(t, "other@s.whatsapp.net", stored[0].Identity)
	assert.Equal(t, entities.PreventEntry{Identity: "62811@s.whatsapp.net", Timestamp: "2099-01-01 00:00", Timezone: "Asia/Jakarta"}, stored[1])
}

func TestExecutor_UnknownContentDegrades(t *testing.T) {
	exec := newTestExecutor(t, &fakeChatbots{}, nil, t.TempDir())
	node := entities.Node{ID: "x", Kind: entities.NodeKind("TELEPORT")}
	assert.True(t, exec.Execute(context.Background(), testRun(entities.FlowGraph{}), node).Empty())
}
