package infrastructure

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"waflow/internal/entities"
)

// ConvertMessage maps a whatsmeow message event onto a CanonicalMessage.
// votes carries the aggregated poll state for poll updates and is ignored
// otherwise. A nil result means the event is not something a flow reacts to.
func ConvertMessage(evt *events.Message, votes []entities.PollOptionVotes) *entities.CanonicalMessage {
	if evt == nil || evt.Message == nil {
		return nil
	}
	chat := evt.Info.Chat
	if chat.IsEmpty() || chat == types.StatusBroadcastJID {
		return nil
	}

	var group bool
	switch chat.Server {
	case types.GroupServer:
		group = true
	case types.DefaultUserServer, types.HiddenUserServer:
	default:
		return nil
	}

	out := &entities.CanonicalMessage{
		ID:         evt.Info.ID,
		Direction:  entities.DirectionIncoming,
		Group:      group,
		RemoteJID:  chat.String(),
		SenderName: evt.Info.PushName,
		Timestamp:  evt.Info.Timestamp,
	}
	if evt.Info.IsFromMe {
		out.Direction = entities.DirectionOutgoing
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}

	if !fillContent(out, evt.Message, votes) {
		return nil
	}
	return out
}

// fillContent applies the first matching content kind. The order matters:
// a message carrying several payloads is classified by the earliest one.
func fillContent(out *entities.CanonicalMessage, msg *waE2E.Message, votes []entities.PollOptionVotes) bool {
	ext := msg.GetExtendedTextMessage()
	quoted := ext.GetContextInfo().GetStanzaID() != ""

	switch {
	case msg.GetImageMessage() != nil:
		out.Kind = entities.KindImage
		out.Text = msg.GetImageMessage().GetCaption()

	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		out.Kind = entities.KindLocation
		out.Text = loc.GetAddress()
		out.Context.Location = &entities.LocationContext{
			Latitude:  loc.GetDegreesLatitude(),
			Longitude: loc.GetDegreesLongitude(),
			Name:      loc.GetName(),
			Address:   loc.GetAddress(),
		}

	case msg.GetAudioMessage() != nil:
		if out.Group {
			return false
		}
		out.Kind = entities.KindAudioTranscribe
		out.Text = entities.AudioTranscribeText

	case msg.GetConversation() != "":
		out.Kind = entities.KindText
		out.Text = msg.GetConversation()

	case !quoted && ext.GetText() != "":
		out.Kind = entities.KindText
		out.Text = ext.GetText()

	case msg.GetVideoMessage() != nil:
		out.Kind = entities.KindVideo
		out.Text = msg.GetVideoMessage().GetCaption()

	case msg.GetDocumentWithCaptionMessage() != nil:
		out.Kind = entities.KindDocumentCaption
		out.Text = msg.GetDocumentWithCaptionMessage().GetMessage().GetDocumentMessage().GetCaption()

	case quoted:
		out.Kind = entities.KindText
		out.Text = ext.GetText()
		out.Context.Quote = &entities.QuoteContext{
			Participant: ext.GetContextInfo().GetParticipant(),
			StanzaID:    ext.GetContextInfo().GetStanzaID(),
		}

	case len(votes) > 0:
		picked := firstVote(votes)
		if picked == "" {
			return false
		}
		out.Kind = entities.KindPoll
		out.Text = picked
		out.Context.PollOption = picked

	default:
		return false
	}
	return true
}

// firstVote returns the option of the first extracted voter. One malformed
// option invalidates the whole aggregate.
func firstVote(options []entities.PollOptionVotes) string {
	for _, opt := range options {
		if opt.Name == "" || opt.Voters == nil {
			return ""
		}
	}
	for _, opt := range options {
		for _, voter := range opt.Voters {
			if voter != "" {
				return opt.Name
			}
		}
	}
	return ""
}
