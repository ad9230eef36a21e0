package infrastructure

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"waflow/internal/entities"
)

type memInstances struct {
	mu    sync.Mutex
	items map[string]entities.Instance
}

func (s *memInstances) Get(_ context.Context, id string) (entities.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.items[id]
	if !ok {
		return entities.Instance{}, errors.New("not found")
	}
	return inst, nil
}

func (s *memInstances) List(context.Context) ([]entities.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.Instance
	for _, inst := range s.items {
		out = append(out, inst)
	}
	return out, nil
}

func (s *memInstances) Upsert(_ context.Context, inst entities.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[inst.ID] = inst
	return nil
}

func (s *memInstances) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func newTestManager(t *testing.T) (*WhatsAppManager, *WhatsAppClient, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	m := NewWhatsAppManager(t.TempDir(), &memInstances{items: map[string]entities.Instance{}}, zerolog.Nop(), metrics)
	client := &WhatsAppClient{InstanceID: "inst-1", polls: NewPollCache(0), logger: zerolog.Nop()}
	m.clients["inst-1"] = client
	return m, client, metrics
}

func TestWhatsAppManager_DropsAfterReconnectLimit(t *testing.T) {
	m, client, metrics := newTestManager(t)

	for i := 1; i < DefaultReconnectLimit; i++ {
		m.handleEvent(client, &events.Disconnected{})
		require.NotNil(t, m.GetClient("inst-1"), "attempt %d", i)
	}
	m.handleEvent(client, &events.Disconnected{})

	assert.Nil(t, m.GetClient("inst-1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.sessionDrops.WithLabelValues("reconnect_limit")))
}

func TestWhatsAppManager_ConnectedResetsCounter(t *testing.T) {
	m, client, _ := newTestManager(t)

	for i := 0; i < DefaultReconnectLimit-1; i++ {
		m.handleEvent(client, &events.Disconnected{})
	}
	m.handleEvent(client, &events.Connected{})
	m.handleEvent(client, &events.Disconnected{})

	assert.NotNil(t, m.GetClient("inst-1"))
	assert.Equal(t, 1, m.Status("inst-1").Reconnects)
}

func TestWhatsAppManager_LoggedOutDropsImmediately(t *testing.T) {
	m, client, _ := newTestManager(t)

	m.handleEvent(client, &events.LoggedOut{})

	assert.Nil(t, m.GetClient("inst-1"))
	_, ok := m.Session("inst-1")
	assert.False(t, ok)
	assert.False(t, m.Status("inst-1").Exists)
}

func TestWhatsAppManager_DispatchesMessages(t *testing.T) {
	m, client, _ := newTestManager(t)
	got := make(chan *entities.CanonicalMessage, 1)
	m.OnMessage = func(_ context.Context, instanceID string, msg *entities.CanonicalMessage) {
		assert.Equal(t, "inst-1", instanceID)
		got <- msg
	}

	m.handleEvent(client, event("62811@s.whatsapp.net", &waE2E.Message{Conversation: proto.String("hi")}))

	select {
	case msg := <-got:
		assert.Equal(t, "hi", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("message not dispatched")
	}

	own := event("62811@s.whatsapp.net", &waE2E.Message{Conversation: proto.String("mine")})
	own.Info.IsFromMe = true
	m.handleEvent(client, own)
	select {
	case <-got:
		t.Fatal("own messages must be ignored")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWhatsAppManager_LogoutUnknown(t *testing.T) {
	m, _, _ := newTestManager(t)
	assert.NoError(t, m.Logout(context.Background(), "nope"))
	assert.Equal(t, "", m.QR("nope"))
}
