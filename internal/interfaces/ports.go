package interfaces

import (
	"context"

	"waflow/internal/entities"
)

// Session is one connected WhatsApp number.
type Session interface {
	Send(ctx context.Context, jid string, req entities.SendRequest) (entities.SendAck, error)
	// LookupRecipient returns the chat JID of destination, or
	// entities.ErrRecipientUnreachable when the number is not on WhatsApp.
	LookupRecipient(ctx context.Context, destination string) (string, error)
	SendPresence(ctx context.Context, jid string, composing bool) error
}

type SessionRegistry interface {
	Session(instanceID string) (Session, bool)
}

type AssistantRequest struct {
	TenantID     int
	ChatbotID    int64
	InstanceID   string
	Instructions string
	Message      entities.CanonicalMessage
}

// Assistant takes over a conversation. A nil error means it handled the reply.
type Assistant interface {
	Handoff(ctx context.Context, req AssistantRequest) error
}

// MediaLibrary maps a public media file name to a local asset path.
type MediaLibrary interface {
	Locate(fileName string) (string, error)
}

type FlowStore interface {
	GetGraph(ctx context.Context, flowID string) (entities.FlowGraph, error)
	SaveGraph(ctx context.Context, tenantID int, flowID string, graph entities.FlowGraph) error
}

type ChatbotStore interface {
	ListActiveByInstance(ctx context.Context, instanceID string) ([]entities.ChatbotConfig, error)
	IsActive(ctx context.Context, id int64) (bool, error)
	AddAssistantIdentity(ctx context.Context, id int64, identity string) error
	// ReplacePreventEntry drops every entry of entry.Identity and appends entry, atomically.
	ReplacePreventEntry(ctx context.Context, id int64, entry entities.PreventEntry) error
	DeactivateTenant(ctx context.Context, tenantID int) error
}

type BroadcastStore interface {
	ListPending(ctx context.Context) ([]entities.BroadcastJob, error)
	// NextPendingEntry returns nil when the job has no PENDING entry left. An
	// undecodable entry comes with an error wrapping ErrConfigurationInvalid.
	NextPendingEntry(ctx context.Context, jobID string) (*entities.BroadcastLogEntry, error)
	// CompleteEntry reports false when the entry had already left PENDING.
	CompleteEntry(ctx context.Context, entryID int64, outcome entities.DeliveryOutcome) (bool, error)
	SetJobStatus(ctx context.Context, jobID string, status entities.JobStatus) error
}

type ChatStore interface {
	Save(ctx context.Context, record entities.ChatRecord) error
}

type UsageStore interface {
	Increment(ctx context.Context, tenantID int, instanceID string) error
}

// PlanGate answers whether a tenant may run a feature right now.
type PlanGate interface {
	HasChatbotPlan(ctx context.Context, tenantID int) (bool, error)
	HasWarmerPlan(ctx context.Context, tenantID int) (bool, error)
}

type InstanceStore interface {
	Get(ctx context.Context, instanceID string) (entities.Instance, error)
	List(ctx context.Context) ([]entities.Instance, error)
	Upsert(ctx context.Context, inst entities.Instance) error
	Delete(ctx context.Context, instanceID string) error
}

type WarmerStore interface {
	ListActive(ctx context.Context) ([]entities.Warmer, error)
	DeactivateTenant(ctx context.Context, tenantID int) error
}

type UserStore interface {
	// GetByUsername returns nil when the user does not exist.
	GetByUsername(ctx context.Context, username string) (*entities.User, error)
	Create(ctx context.Context, user *entities.User) error
}
