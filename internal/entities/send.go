package entities

import "time"

// SendRequest is what the transport needs to deliver one message.
type SendRequest struct {
	Kind NodeKind

	Text string

	Caption   string
	MediaPath string
	FileName  string
	Mimetype  string
	Thumbnail []byte
	PTT       bool

	Latitude     float64
	Longitude    float64
	LocationName string
	Address      string

	PollName       string
	PollOptions    []string
	PollSelectable int
}

// SendAck is the transport's acknowledgement. An empty MessageID is not a success.
type SendAck struct {
	MessageID string
	Timestamp time.Time
}

// ChatRecord mirrors an outgoing message as saved to the chat history.
type ChatRecord struct {
	TenantID   int            `json:"tenant_id"`
	InstanceID string         `json:"instance_id"`
	ChatbotID  int64          `json:"chatbot_id"`
	Group      bool           `json:"group"`
	Type       string         `json:"type"`
	MsgID      string         `json:"msgId"`
	RemoteJID  string         `json:"remoteJid"`
	Context    map[string]any `json:"msgContext"`
	SenderName string         `json:"senderName"`
	Status     string         `json:"status"`
	Route      Direction      `json:"route"`
	Timestamp  time.Time      `json:"timestamp"`
}
