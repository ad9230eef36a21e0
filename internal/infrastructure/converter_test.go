package infrastructure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"waflow/internal/entities"
)

var sentAt = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func event(chat string, msg *waE2E.Message) *events.Message {
	jid, _ := types.ParseJID(chat)
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: jid, Sender: jid, IsGroup: jid.Server == types.GroupServer},
			ID:            "3EB0ABC",
			PushName:      "Ana",
			Timestamp:     sentAt,
		},
		Message: msg,
	}
}

func TestConvertMessage_Kinds(t *testing.T) {
	tests := []struct {
		name     string
		msg      *waE2E.Message
		wantKind entities.MessageKind
		wantText string
	}{
		{"conversation", &waE2E.Message{Conversation: proto.String("hi")}, entities.KindText, "hi"},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hey")}}, entities.KindText, "hey"},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}, entities.KindImage, "look"},
		{"image wins over text", &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{Caption: proto.String("pic")},
			Conversation: proto.String("text"),
		}, entities.KindImage, "pic"},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude: proto.Float64(-6.2), DegreesLongitude: proto.Float64(106.8), Address: proto.String("Jakarta"),
		}}, entities.KindLocation, "Jakarta"},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, entities.KindAudioTranscribe, entities.AudioTranscribeText},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("clip")}}, entities.KindVideo, "clip"},
		{"document caption", &waE2E.Message{DocumentWithCaptionMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Caption: proto.String("invoice")}},
		}}, entities.KindDocumentCaption, "invoice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertMessage(event("62811@s.whatsapp.net", tt.msg), nil)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantText, got.Text)
			assert.Equal(t, "62811@s.whatsapp.net", got.RemoteJID)
			assert.Equal(t, "Ana", got.SenderName)
			assert.Equal(t, entities.DirectionIncoming, got.Direction)
			assert.Equal(t, sentAt, got.Timestamp)
			assert.False(t, got.Group)
		})
	}
}

func TestConvertMessage_LocationContext(t *testing.T) {
	got := ConvertMessage(event("62811@s.whatsapp.net", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{
		DegreesLatitude: proto.Float64(-6.2), DegreesLongitude: proto.Float64(106.8), Name: proto.String("Office"),
	}}), nil)

	require.NotNil(t, got)
	require.NotNil(t, got.Context.Location)
	assert.Equal(t, -6.2, got.Context.Location.Latitude)
	assert.Equal(t, "Office", got.Context.Location.Name)
	assert.Empty(t, got.Text)
}

func TestConvertMessage_Quote(t *testing.T) {
	got := ConvertMessage(event("1203@g.us", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        proto.String("yes"),
		ContextInfo: &waE2E.ContextInfo{StanzaID: proto.String("Q1"), Participant: proto.String("62822@s.whatsapp.net")},
	}}), nil)

	require.NotNil(t, got)
	assert.True(t, got.Group)
	assert.Equal(t, "yes", got.Text)
	require.NotNil(t, got.Context.Quote)
	assert.Equal(t, "Q1", got.Context.Quote.StanzaID)
	assert.Equal(t, "62822@s.whatsapp.net", got.Context.Quote.Participant)
}

func TestConvertMessage_Poll(t *testing.T) {
	update := &waE2E.Message{PollUpdateMessage: &waE2E.PollUpdateMessage{}}

	got := ConvertMessage(event("62811@s.whatsapp.net", update), []entities.PollOptionVotes{
		{Name: "Red", Voters: []string{}},
		{Name: "Blue", Voters: []string{"62811@s.whatsapp.net"}},
	})
	require.NotNil(t, got)
	assert.Equal(t, entities.KindPoll, got.Kind)
	assert.Equal(t, "Blue", got.Text)

	assert.Nil(t, ConvertMessage(event("62811@s.whatsapp.net", update), []entities.PollOptionVotes{
		{Name: "Red", Voters: []string{}},
	}), "no voters")
	assert.Nil(t, ConvertMessage(event("62811@s.whatsapp.net", update), []entities.PollOptionVotes{
		{Name: "Red"},
		{Name: "Blue", Voters: []string{"62811@s.whatsapp.net"}},
	}), "malformed option")
}

func TestConvertMessage_Ignored(t *testing.T) {
	text := &waE2E.Message{Conversation: proto.String("hi")}

	assert.Nil(t, ConvertMessage(nil, nil))
	assert.Nil(t, ConvertMessage(event("status@broadcast", text), nil))
	assert.Nil(t, ConvertMessage(event("123@newsletter", text), nil))
	assert.Nil(t, ConvertMessage(event("1203@g.us", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}), nil), "group audio")
	assert.Nil(t, ConvertMessage(event("62811@s.whatsapp.net", &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{}}), nil))

	lid := ConvertMessage(event("1234@lid", text), nil)
	require.NotNil(t, lid)
	assert.False(t, lid.Group)
}

func TestConvertMessage_FromMe(t *testing.T) {
	evt := event("62811@s.whatsapp.net", &waE2E.Message{Conversation: proto.String("hi")})
	evt.Info.IsFromMe = true
	assert.Equal(t, entities.DirectionOutgoing, ConvertMessage(evt, nil).Direction)
}
