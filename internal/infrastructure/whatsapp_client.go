package infrastructure

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"waflow/internal/entities"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// WhatsAppClient is one paired instance. It implements interfaces.Session.
type WhatsAppClient struct {
	Client     *whatsmeow.Client
	InstanceID string

	polls  *PollCache
	logger zerolog.Logger

	qrCode string
	qrLock sync.RWMutex
}

func NewWhatsAppClient(ctx context.Context, dbPath, instanceID string, logger zerolog.Logger) (*WhatsAppClient, error) {
	logger = logger.With().Str("instance_id", instanceID).Logger()

	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)",
		waLog.Zerolog(logger.With().Str("module", "store").Logger()))
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Zerolog(logger.With().Str("module", "client").Logger()))
	return &WhatsAppClient{
		Client:     client,
		InstanceID: instanceID,
		polls:      NewPollCache(0),
		logger:     logger,
	}, nil
}

// Connect opens the socket. Unpaired devices start publishing QR codes.
func (w *WhatsAppClient) Connect(ctx context.Context) error {
	if w.Client.Store.ID != nil {
		return w.Client.Connect()
	}

	qrChan, err := w.Client.GetQRChannel(ctx)
	if err != nil {
		return err
	}
	if err := w.Client.Connect(); err != nil {
		return err
	}
	go w.watchQR(qrChan)
	return nil
}

func (w *WhatsAppClient) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if evt.Event == whatsmeow.QRChannelEventCode {
			w.qrLock.Lock()
			w.qrCode = evt.Code
			w.qrLock.Unlock()
			continue
		}
		w.qrLock.Lock()
		w.qrCode = ""
		w.qrLock.Unlock()
		w.logger.Info().Str("event", evt.Event).Msg("pairing event")
	}
}

func (w *WhatsAppClient) GetQR() string {
	w.qrLock.RLock()
	defer w.qrLock.RUnlock()
	return w.qrCode
}

func (w *WhatsAppClient) IsLoggedIn() bool {
	return w.Client != nil && w.Client.Store.ID != nil
}

func (w *WhatsAppClient) IsConnected() bool {
	return w.IsLoggedIn() && w.Client.IsConnected()
}

// OwnJID is the paired phone number as a user JID, empty before pairing.
func (w *WhatsAppClient) OwnJID() string {
	if !w.IsLoggedIn() {
		return ""
	}
	return w.Client.Store.ID.ToNonAD().String()
}

func (w *WhatsAppClient) PushName() string {
	if !w.IsLoggedIn() {
		return ""
	}
	return w.Client.Store.PushName
}

func (w *WhatsAppClient) Logout(ctx context.Context) error {
	w.qrLock.Lock()
	w.qrCode = ""
	w.qrLock.Unlock()
	return w.Client.Logout(ctx)
}

func (w *WhatsAppClient) Disconnect() {
	if w.Client != nil {
		w.Client.Disconnect()
	}
}

func (w *WhatsAppClient) AddHandler(handler func(any)) {
	w.Client.AddEventHandler(handler)
}

func (w *WhatsAppClient) Send(ctx context.Context, jid string, req entities.SendRequest) (entities.SendAck, error) {
	to, err := types.ParseJID(jid)
	if err != nil {
		return entities.SendAck{}, fmt.Errorf("invalid jid %q: %w", jid, err)
	}

	msg, err := w.buildMessage(ctx, req)
	if err != nil {
		return entities.SendAck{}, err
	}

	resp, err := w.Client.SendMessage(ctx, to, msg)
	if err != nil {
		return entities.SendAck{}, err
	}
	if req.Kind == entities.NodePoll && resp.ID != "" {
		w.polls.Put(resp.ID, req.PollOptions)
	}
	return entities.SendAck{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (w *WhatsAppClient) buildMessage(ctx context.Context, req entities.SendRequest) (*waE2E.Message, error) {
	switch req.Kind {
	case entities.NodeText:
		return &waE2E.Message{Conversation: proto.String(req.Text)}, nil

	case entities.NodeLocation:
		return &waE2E.Message{LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude:  proto.Float64(req.Latitude),
			DegreesLongitude: proto.Float64(req.Longitude),
			Name:             proto.String(req.LocationName),
			Address:          proto.String(req.Address),
		}}, nil

	case entities.NodePoll:
		return w.Client.BuildPollCreation(req.PollName, req.PollOptions, req.PollSelectable), nil

	case entities.NodeImage, entities.NodeVideo, entities.NodeDocument, entities.NodeAudio:
		return w.buildMedia(ctx, req)
	}
	return nil, fmt.Errorf("%w: cannot send %s", entities.ErrConfigurationInvalid, req.Kind)
}

func (w *WhatsAppClient) buildMedia(ctx context.Context, req entities.SendRequest) (*waE2E.Message, error) {
	data, err := os.ReadFile(req.MediaPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrConfigurationInvalid, err)
	}

	mediaType := map[entities.NodeKind]whatsmeow.MediaType{
		entities.NodeImage:    whatsmeow.MediaImage,
		entities.NodeVideo:    whatsmeow.MediaVideo,
		entities.NodeDocument: whatsmeow.MediaDocument,
		entities.NodeAudio:    whatsmeow.MediaAudio,
	}[req.Kind]

	up, err := w.Client.Upload(ctx, data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	switch req.Kind {
	case entities.NodeImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(req.Mimetype),
			Caption:       proto.String(req.Caption),
			JPEGThumbnail: req.Thumbnail,
		}}, nil
	case entities.NodeVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(req.Mimetype),
			Caption:       proto.String(req.Caption),
		}}, nil
	case entities.NodeAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(req.Mimetype),
			PTT:           proto.Bool(req.PTT),
		}}, nil
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(req.Mimetype),
			FileName:      proto.String(req.FileName),
			Title:         proto.String(req.FileName),
			Caption:       proto.String(req.Caption),
		}}, nil
	}
}

// LookupRecipient checks destination against the WhatsApp directory.
func (w *WhatsAppClient) LookupRecipient(ctx context.Context, destination string) (string, error) {
	number := PhoneDigits(destination)
	if number == "" {
		return "", entities.ErrRecipientUnreachable
	}

	resp, err := w.Client.IsOnWhatsApp(ctx, []string{"+" + number})
	if err != nil {
		return "", err
	}
	for _, r := range resp {
		if r.IsIn {
			return r.JID.String(), nil
		}
	}
	return "", entities.ErrRecipientUnreachable
}

func (w *WhatsAppClient) SendPresence(ctx context.Context, jid string, composing bool) error {
	to, err := types.ParseJID(jid)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if composing {
		state = types.ChatPresenceComposing
	}
	return w.Client.SendChatPresence(ctx, to, state, types.ChatPresenceMediaText)
}

// pollVotes decrypts a vote on one of our polls and expands it into the
// per-option voter lists the converter expects. Unknown polls yield nil.
func (w *WhatsAppClient) pollVotes(ctx context.Context, evt *events.Message) []entities.PollOptionVotes {
	update := evt.Message.GetPollUpdateMessage()
	if update == nil || w.Client == nil {
		return nil
	}
	options, ok := w.polls.Options(update.GetPollCreationMessageKey().GetID())
	if !ok {
		return nil
	}

	vote, err := w.Client.DecryptPollVote(ctx, evt)
	if err != nil {
		w.logger.Warn().Err(err).Str("msg_id", evt.Info.ID).Msg("failed to decrypt poll vote")
		return nil
	}
	return tallyVote(options, vote.GetSelectedOptions(), evt.Info.Sender.ToNonAD().String())
}

func tallyVote(options []string, selected [][]byte, voter string) []entities.PollOptionVotes {
	hashes := whatsmeow.HashPollOptions(options)
	out := make([]entities.PollOptionVotes, len(options))
	for i, name := range options {
		out[i] = entities.PollOptionVotes{Name: name, Voters: []string{}}
		for _, sel := range selected {
			if bytes.Equal(sel, hashes[i]) {
				out[i].Voters = append(out[i].Voters, voter)
				break
			}
		}
	}
	return out
}

// PhoneDigits keeps the digits of the user part of a number or JID.
func PhoneDigits(destination string) string {
	user, _, _ := strings.Cut(destination, "@")
	user, _, _ = strings.Cut(user, ":")
	var b strings.Builder
	for _, r := range user {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
