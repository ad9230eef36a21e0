package entities

import "time"

type JobStatus string

const (
	JobPending               JobStatus = "PENDING"
	JobCompleted             JobStatus = "COMPLETED"
	JobFailed                JobStatus = "FAILED"
	JobFailedInstanceMissing JobStatus = "FAILED_INSTANCE_MISSING"
)

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "PENDING"
	DeliverySent       DeliveryStatus = "sent"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryInstanceNA DeliveryStatus = "Instance NA"
	DeliveryNumberNA   DeliveryStatus = "Number NA"
)

// Terminal is true for every status except PENDING. Terminal rows never change.
func (s DeliveryStatus) Terminal() bool {
	return s != DeliveryPending
}

// MessageTemplate is the content a broadcast sends to every recipient.
type MessageTemplate struct {
	Kind    NodeKind       `json:"kind"`
	Content map[string]any `json:"content"`
}

type BroadcastJob struct {
	ID        string          `json:"id"`
	TenantID  int             `json:"tenant_id"`
	Title     string          `json:"title"`
	Status    JobStatus       `json:"status"`
	Schedule  *time.Time      `json:"schedule"` // wall clock in Timezone
	Timezone  string          `json:"timezone"`
	DelayFrom int             `json:"delay_from"`
	DelayTo   int             `json:"delay_to"`
	Instances []string        `json:"instances"`
	Template  MessageTemplate `json:"template"`
	CreatedAt time.Time       `json:"created_at"`
}

// IsDue reports whether the schedule has passed. Jobs without a schedule or
// with an unknown timezone are never due.
func (j BroadcastJob) IsDue(now time.Time) bool {
	if j.Schedule == nil {
		return false
	}
	loc, err := LoadZone(j.Timezone)
	if err != nil {
		return false
	}
	s := *j.Schedule
	at := time.Date(s.Year(), s.Month(), s.Day(), s.Hour(), s.Minute(), s.Second(), s.Nanosecond(), loc)
	return at.Before(now)
}

type BroadcastLogEntry struct {
	ID          int64          `json:"id"`
	JobID       string         `json:"broadcast_id"`
	Destination string         `json:"send_to"`
	Status      DeliveryStatus `json:"delivery_status"`
	MessageID   string         `json:"msg_id,omitempty"`
	InstanceID  string         `json:"instance_id,omitempty"`
	Error       string         `json:"err,omitempty"`
	Variables   map[string]any `json:"variables"`
}

// DeliveryOutcome is the terminal write for one log entry.
type DeliveryOutcome struct {
	Status     DeliveryStatus
	MessageID  string
	InstanceID string
	Error      string
}

// Recipient is one destination of a new broadcast with its template variables.
type Recipient struct {
	Destination string         `json:"send_to"`
	Variables   map[string]any `json:"variables"`
}
