package infrastructure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/types/events"

	"waflow/internal/entities"
	"waflow/internal/interfaces"
)

// MessageHandler receives every converted inbound event.
type MessageHandler func(ctx context.Context, instanceID string, msg *entities.CanonicalMessage)

type InstanceStatus struct {
	InstanceID string `json:"instance_id"`
	Exists     bool   `json:"exists"`
	Connected  bool   `json:"connected"`
	LoggedIn   bool   `json:"logged_in"`
	JID        string `json:"jid,omitempty"`
	Name       string `json:"name,omitempty"`
	HasQR      bool   `json:"has_qr"`
	Reconnects int    `json:"reconnects"`
}

// WhatsAppManager owns the connected instances, keyed by instance id.
type WhatsAppManager struct {
	clients map[string]*WhatsAppClient
	mu      sync.RWMutex
	baseDir string

	instances  interfaces.InstanceStore
	reconnects *ReconnectTracker
	logger     zerolog.Logger
	metrics    *Metrics

	ctx       context.Context
	OnMessage MessageHandler
}

func NewWhatsAppManager(baseDir string, instances interfaces.InstanceStore, logger zerolog.Logger, metrics *Metrics) *WhatsAppManager {
	logger = logger.With().Str("component", "whatsapp").Logger()
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		logger.Warn().Err(err).Str("dir", baseDir).Msg("could not create devices directory")
	}
	return &WhatsAppManager{
		clients:    make(map[string]*WhatsAppClient),
		baseDir:    baseDir,
		instances:  instances,
		reconnects: NewReconnectTracker(DefaultReconnectLimit),
		logger:     logger,
		metrics:    metrics,
		ctx:        context.Background(),
	}
}

// Session implements interfaces.SessionRegistry. Only connected, paired
// instances are handed out.
func (m *WhatsAppManager) Session(instanceID string) (interfaces.Session, bool) {
	c := m.GetClient(instanceID)
	if c == nil || !c.IsConnected() {
		return nil, false
	}
	return c, true
}

func (m *WhatsAppManager) GetClient(instanceID string) *WhatsAppClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[instanceID]
}

func (m *WhatsAppManager) getOrCreate(ctx context.Context, instanceID string) (*WhatsAppClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[instanceID]; ok {
		return client, nil
	}

	dbPath := filepath.Join(m.baseDir, "instance_"+instanceID+".db")
	client, err := NewWhatsAppClient(ctx, dbPath, instanceID, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for instance %s: %w", instanceID, err)
	}
	client.AddHandler(m.eventHandler(client))
	m.clients[instanceID] = client
	return client, nil
}

// Connect registers inst and connects its client, creating it on first use.
// The connection outlives ctx; it is bound to the manager's base context.
func (m *WhatsAppManager) Connect(ctx context.Context, inst entities.Instance) (*WhatsAppClient, error) {
	if err := m.instances.Upsert(ctx, inst); err != nil {
		return nil, err
	}
	base := m.baseContext()
	client, err := m.getOrCreate(base, inst.ID)
	if err != nil {
		return nil, err
	}
	if client.Client.IsConnected() {
		return client, nil
	}
	if err := client.Connect(base); err != nil {
		return nil, fmt.Errorf("failed to connect instance %s: %w", inst.ID, err)
	}
	return client, nil
}

// Restore reconnects every paired instance from the instances table.
func (m *WhatsAppManager) Restore(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	list, err := m.instances.List(ctx)
	if err != nil {
		return err
	}
	for _, inst := range list {
		if inst.JID == "" {
			continue
		}
		if _, err := m.Connect(ctx, inst); err != nil {
			m.logger.Error().Err(err).Str("instance_id", inst.ID).Msg("restore failed")
		}
	}
	return nil
}

func (m *WhatsAppManager) QR(instanceID string) string {
	if c := m.GetClient(instanceID); c != nil {
		return c.GetQR()
	}
	return ""
}

func (m *WhatsAppManager) Status(instanceID string) InstanceStatus {
	status := InstanceStatus{InstanceID: instanceID, Reconnects: m.reconnects.Attempts(instanceID)}
	c := m.GetClient(instanceID)
	if c == nil {
		return status
	}
	status.Exists = true
	status.LoggedIn = c.IsLoggedIn()
	status.Connected = c.IsConnected()
	status.JID = c.OwnJID()
	status.Name = c.PushName()
	status.HasQR = c.GetQR() != ""
	return status
}

// Logout unpairs the instance and forgets it. Unknown instances are a no-op.
func (m *WhatsAppManager) Logout(ctx context.Context, instanceID string) error {
	c := m.GetClient(instanceID)
	if c == nil {
		return nil
	}

	var err error
	if c.IsLoggedIn() && c.Client.IsConnected() {
		err = c.Logout(ctx)
	}
	m.drop(instanceID, "logout")
	if delErr := m.instances.Delete(ctx, instanceID); delErr != nil && err == nil {
		err = delErr
	}
	return err
}

func (m *WhatsAppManager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		c.Disconnect()
	}
	m.clients = make(map[string]*WhatsAppClient)
}

func (m *WhatsAppManager) drop(instanceID, reason string) {
	m.mu.Lock()
	c, ok := m.clients[instanceID]
	delete(m.clients, instanceID)
	m.mu.Unlock()

	m.reconnects.Reset(instanceID)
	if !ok {
		return
	}
	m.metrics.SessionDropped(reason)
	m.logger.Warn().Str("instance_id", instanceID).Str("reason", reason).Msg("session dropped")
	go c.Disconnect()
}

func (m *WhatsAppManager) baseContext() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ctx
}

func (m *WhatsAppManager) eventHandler(client *WhatsAppClient) func(any) {
	return func(evt any) {
		m.handleEvent(client, evt)
	}
}

func (m *WhatsAppManager) handleEvent(client *WhatsAppClient, evt any) {
	id := client.InstanceID
	switch v := evt.(type) {
	case *events.Message:
		if v.Info.IsFromMe || m.OnMessage == nil {
			return
		}
		ctx := m.baseContext()
		msg := ConvertMessage(v, client.pollVotes(ctx, v))
		if msg == nil {
			return
		}
		go m.OnMessage(ctx, id, msg)

	case *events.Connected:
		m.reconnects.Reset(id)
		if jid := client.OwnJID(); jid != "" {
			m.rememberJID(id, jid)
		}
		m.logger.Info().Str("instance_id", id).Msg("connected")

	case *events.Disconnected:
		if m.reconnects.Failed(id) {
			m.drop(id, "reconnect_limit")
		}

	case *events.LoggedOut:
		m.drop(id, "logged_out")
	}
}

func (m *WhatsAppManager) rememberJID(instanceID, jid string) {
	ctx := m.baseContext()
	inst, err := m.instances.Get(ctx, instanceID)
	if err != nil {
		m.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("instance not registered")
		return
	}
	if inst.JID == jid {
		return
	}
	inst.JID = jid
	if err := m.instances.Upsert(ctx, inst); err != nil {
		m.logger.Error().Err(err).Str("instance_id", instanceID).Msg("failed to save instance jid")
	}
}
