package entities

import (
	"strings"
	"time"
)

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MessageKind is the canonical content kind of an inbound event.
type MessageKind string

const (
	KindText            MessageKind = "text"
	KindImage           MessageKind = "image"
	KindLocation        MessageKind = "loc"
	KindAudioTranscribe MessageKind = "audio_transcribe"
	KindVideo           MessageKind = "video"
	KindDocumentCaption MessageKind = "doc_cap"
	KindPoll            MessageKind = "poll"
)

// AudioTranscribeText is the text carried by audio messages waiting for transcription.
const AudioTranscribeText = "audio_transcribe"

type LocationContext struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"long"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

// QuoteContext points at the message a reply quotes.
type QuoteContext struct {
	Participant string `json:"jid"`
	StanzaID    string `json:"id"`
}

type MessageContext struct {
	Location   *LocationContext `json:"location,omitempty"`
	Quote      *QuoteContext    `json:"quote,omitempty"`
	PollOption string           `json:"pollOption,omitempty"`
}

// CanonicalMessage is the transport independent shape of one inbound event.
// It is built once per event and never modified afterwards.
type CanonicalMessage struct {
	ID         string         `json:"msgId"`
	Direction  Direction      `json:"route"`
	Group      bool           `json:"group"`
	RemoteJID  string         `json:"remoteJid"`
	SenderName string         `json:"senderName"`
	Kind       MessageKind    `json:"type"`
	Text       string         `json:"text"`
	Context    MessageContext `json:"msgContext"`
	Timestamp  time.Time      `json:"timestamp"`
}

func (m CanonicalMessage) IsAudioTranscribe() bool {
	return m.Text == AudioTranscribeText
}

// Mobile returns the sender as "+<number>", falling back to the raw JID.
func (m CanonicalMessage) Mobile() string {
	return FormatMobile(m.RemoteJID)
}

// FormatMobile drops the JID server (user, group or lid) and prefixes "+".
func FormatMobile(jid string) string {
	if jid == "" {
		return ""
	}
	number, _, _ := strings.Cut(jid, "@")
	return "+" + number
}

// PollOptionVotes is one option of an aggregated poll with the JIDs that picked it.
type PollOptionVotes struct {
	Name   string   `json:"name"`
	Voters []string `json:"voters"`
}
