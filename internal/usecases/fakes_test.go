package usecases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"waflow/internal/entities"
	"waflow/internal/interfaces"
)

type fakeChatbots struct {
	mu          sync.Mutex
	bots        []entities.ChatbotConfig
	inactive    map[int64]bool
	deactivated []int
	listErr     error
}

func (f *fakeChatbots) ListActiveByInstance(_ context.Context, instanceID string) ([]entities.ChatbotConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []entities.ChatbotConfig
	for _, b := range f.bots {
		if b.InstanceID == instanceID && b.Active {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeChatbots) IsActive(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.inactive[id], nil
}

func (f *fakeChatbots) AddAssistantIdentity(_ context.Context, id int64, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.bots {
		if f.bots[i].ID == id && !slices.Contains(f.bots[i].AIBot, identity) {
			f.bots[i].AIBot = append(f.bots[i].AIBot, identity)
		}
	}
	return nil
}

func (f *fakeChatbots) ReplacePreventEntry(_ context.Context, id int64, entry entities.PreventEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.bots {
		if f.bots[i].ID != id {
			continue
		}
		kept := f.bots[i].PreventReply[:0:0]
		for _, p := range f.bots[i].PreventReply {
			if p.Identity != entry.Identity {
				kept = append(kept, p)
			}
		}
		f.bots[i].PreventReply = append(kept, entry)
	}
	return nil
}

func (f *fakeChatbots) DeactivateTenant(_ context.Context, tenantID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, tenantID)
	for i := range f.bots {
		if f.bots[i].TenantID == tenantID {
			f.bots[i].Active = false
		}
	}
	return nil
}

func (f *fakeChatbots) bot(id int64) entities.ChatbotConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bots {
		if b.ID == id {
			return b
		}
	}
	return entities.ChatbotConfig{}
}

type fakeAssistant struct {
	mu       sync.Mutex
	err      error
	requests []interfaces.AssistantRequest
}

func (f *fakeAssistant) Handoff(_ context.Context, req interfaces.AssistantRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.err
}

func (f *fakeAssistant) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// dirMedia serves assets from a temp directory.
type dirMedia struct{ dir string }

func (m dirMedia) Locate(name string) (string, error) {
	p := filepath.Join(m.dir, filepath.Base(name))
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

type sentMessage struct {
	jid string
	req entities.SendRequest
}

type fakeSession struct {
	mu        sync.Mutex
	sent      []sentMessage
	presence  []bool
	sendErr   error
	emptyAck  bool
	known     map[string]bool // nil = everyone is on WhatsApp
	lookupErr error
	block     chan struct{}
}

func (s *fakeSession) Send(ctx context.Context, jid string, req entities.SendRequest) (entities.SendAck, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return entities.SendAck{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return entities.SendAck{}, s.sendErr
	}
	s.sent = append(s.sent, sentMessage{jid: jid, req: req})
	if s.emptyAck {
		return entities.SendAck{}, nil
	}
	return entities.SendAck{MessageID: fmt.Sprintf("MSG%d", len(s.sent)), Timestamp: time.Now()}, nil
}

func (s *fakeSession) LookupRecipient(_ context.Context, destination string) (string, error) {
	if s.lookupErr != nil {
		return "", s.lookupErr
	}
	number := strings.TrimPrefix(destination, "+")
	if s.known != nil && !s.known[number] {
		return "", entities.ErrRecipientUnreachable
	}
	return number + "@s.whatsapp.net", nil
}

func (s *fakeSession) SendPresence(_ context.Context, _ string, composing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, composing)
	return nil
}

func (s *fakeSession) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

type fakeRegistry map[string]*fakeSession

func (r fakeRegistry) Session(instanceID string) (interfaces.Session, bool) {
	s, ok := r[instanceID]
	if !ok {
		return nil, false
	}
	return s, true
}

type fakeFlows map[string]entities.FlowGraph

func (f fakeFlows) GetGraph(_ context.Context, flowID string) (entities.FlowGraph, error) {
	g, ok := f[flowID]
	if !ok {
		return entities.FlowGraph{}, errors.New("flow not found")
	}
	return g, nil
}

func (f fakeFlows) SaveGraph(_ context.Context, _ int, flowID string, graph entities.FlowGraph) error {
	f[flowID] = graph
	return nil
}

type fakeChats struct {
	mu      sync.Mutex
	records []entities.ChatRecord
}

func (f *fakeChats) Save(_ context.Context, r entities.ChatRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	return nil
}

type fakeUsage struct {
	mu    sync.Mutex
	count int
}

func (f *fakeUsage) Increment(context.Context, int, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return nil
}

type fakePlans struct {
	chatbot map[int]bool
	warmer  map[int]bool
}

func (f fakePlans) HasChatbotPlan(_ context.Context, tenantID int) (bool, error) {
	return f.chatbot[tenantID], nil
}

func (f fakePlans) HasWarmerPlan(_ context.Context, tenantID int) (bool, error) {
	return f.warmer[tenantID], nil
}

type fakeInstances map[string]entities.Instance

func (f fakeInstances) Get(_ context.Context, id string) (entities.Instance, error) {
	inst, ok := f[id]
	if !ok {
		return entities.Instance{}, errors.New("instance not found")
	}
	return inst, nil
}

func (f fakeInstances) List(context.Context) ([]entities.Instance, error) {
	out := make([]entities.Instance, 0, len(f))
	for _, inst := range f {
		out = append(out, inst)
	}
	return out, nil
}

func (f fakeInstances) Upsert(_ context.Context, inst entities.Instance) error {
	f[inst.ID] = inst
	return nil
}

func (f fakeInstances) Delete(_ context.Context, id string) error {
	delete(f, id)
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }
