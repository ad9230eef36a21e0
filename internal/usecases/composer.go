package usecases

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"waflow/internal/entities"
	"waflow/internal/interfaces"
	"waflow/internal/templating"
)

// maxThumbnailBytes bounds the image embedded as the JPEG preview. Only JPEG
// files are embedded.
const maxThumbnailBytes = 64 << 10

var errNotSendable = errors.New("node kind has nothing to send")

// Composer turns resolved content into a transport send request and the
// payload mirrored into chat history. It is shared by flows and broadcasts.
type Composer struct {
	media interfaces.MediaLibrary
}

func NewComposer(media interfaces.MediaLibrary) *Composer {
	return &Composer{media: media}
}

// Compose builds the send request for a content node. Control kinds
// (MAKE_REQUEST, DELAY_BETWEEN, AI, PREVENT_REPLY) are rejected.
func (c *Composer) Compose(content entities.Content) (entities.SendRequest, map[string]any, error) {
	v := &composeVisitor{library: c.media}
	if err := content.Accept(v); err != nil {
		return entities.SendRequest{}, nil, err
	}
	return v.req, v.payload, nil
}

// resolveContent substitutes vars into raw. Text and caption fall back to the
// raw template when they resolve to nothing.
func resolveContent(raw map[string]any, vars map[string]any) map[string]any {
	resolved, _ := templating.Resolve(raw, vars).(map[string]any)
	if resolved == nil {
		resolved = map[string]any{}
	}
	for _, key := range []string{"text", "caption"} {
		if str, ok := raw[key].(string); ok {
			resolved[key] = templating.ResolveOr(str, vars)
		}
	}
	return resolved
}

// RecordType is the chat history type of an outgoing message of kind.
func RecordType(kind entities.NodeKind) string {
	switch kind {
	case entities.NodeText:
		return "text"
	case entities.NodeImage:
		return "image"
	case entities.NodeVideo:
		return "video"
	case entities.NodeDocument:
		return "doc"
	case entities.NodeAudio:
		return "aud"
	case entities.NodeLocation:
		return "loc"
	case entities.NodePoll:
		return "poll"
	}
	return strings.ToLower(string(kind))
}

type composeVisitor struct {
	library interfaces.MediaLibrary
	req     entities.SendRequest
	payload map[string]any
}

func (v *composeVisitor) VisitText(c entities.TextContent) error {
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("%w: empty text", entities.ErrConfigurationInvalid)
	}
	v.req = entities.SendRequest{Kind: entities.NodeText, Text: c.Text}
	v.payload = map[string]any{"text": c.Text}
	return nil
}

func (v *composeVisitor) VisitImage(c entities.ImageContent) error {
	if err := v.media(entities.NodeImage, c.MediaContent); err != nil {
		return err
	}
	if info, err := os.Stat(v.req.MediaPath); err == nil && info.Size() <= maxThumbnailBytes {
		if thumb, err := os.ReadFile(v.req.MediaPath); err == nil && mimetype.Detect(thumb).Is("image/jpeg") {
			v.req.Thumbnail = thumb
		}
	}
	return nil
}

func (v *composeVisitor) VisitVideo(c entities.VideoContent) error {
	if err := v.media(entities.NodeVideo, c.MediaContent); err != nil {
		return err
	}
	delete(v.payload, "fileName")
	return nil
}

func (v *composeVisitor) VisitDocument(c entities.DocumentContent) error {
	return v.media(entities.NodeDocument, c.MediaContent)
}

func (v *composeVisitor) VisitAudio(c entities.AudioContent) error {
	c.Caption = ""
	if err := v.media(entities.NodeAudio, c.MediaContent); err != nil {
		return err
	}
	v.req.PTT = true
	return nil
}

func (v *composeVisitor) VisitLocation(c entities.LocationContent) error {
	v.req = entities.SendRequest{
		Kind:         entities.NodeLocation,
		Latitude:     float64(c.Latitude),
		Longitude:    float64(c.Longitude),
		LocationName: c.Name,
		Address:      c.Address,
	}
	v.payload = map[string]any{
		"lat":     float64(c.Latitude),
		"long":    float64(c.Longitude),
		"name":    c.Name,
		"address": c.Address,
	}
	return nil
}

func (v *composeVisitor) VisitPoll(c entities.PollContent) error {
	options := make([]string, 0, len(c.Options))
	for _, o := range c.Options {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
	}
	if c.Name == "" || len(options) < 2 {
		return fmt.Errorf("%w: poll needs a name and two options", entities.ErrConfigurationInvalid)
	}
	selectable := int(c.SelectableCount)
	if selectable < 0 || selectable > len(options) {
		selectable = 0
	}
	v.req = entities.SendRequest{
		Kind:           entities.NodePoll,
		PollName:       c.Name,
		PollOptions:    options,
		PollSelectable: selectable,
	}
	v.payload = map[string]any{
		"name":            c.Name,
		"options":         options,
		"selectableCount": selectable,
	}
	return nil
}

func (v *composeVisitor) VisitMakeRequest(entities.MakeRequestContent) error   { return errNotSendable }
func (v *composeVisitor) VisitDelayBetween(entities.DelayBetweenContent) error { return errNotSendable }
func (v *composeVisitor) VisitAI(entities.AIContent) error                     { return errNotSendable }
func (v *composeVisitor) VisitPreventReply(entities.PreventReplyContent) error { return errNotSendable }

// media fills the request shared by every media kind.
func (v *composeVisitor) media(kind entities.NodeKind, c entities.MediaContent) error {
	asset := FileNameFromURL(c.URL)
	if asset == "" {
		return fmt.Errorf("%w: %s without url", entities.ErrConfigurationInvalid, kind)
	}
	if v.library == nil {
		return fmt.Errorf("%w: no media library", entities.ErrConfigurationInvalid)
	}
	path, err := v.library.Locate(asset)
	if err != nil {
		return fmt.Errorf("%w: media %q: %v", entities.ErrConfigurationInvalid, asset, err)
	}

	fileName := asset
	if name := FileNameFromURL(c.FileName); name != "" {
		fileName = name
	}

	mime := c.Mimetype
	if mime == "" {
		if detected, err := mimetype.DetectFile(path); err == nil {
			mime = detected.String()
		}
	}

	v.req = entities.SendRequest{
		Kind:      kind,
		Caption:   c.Caption,
		MediaPath: path,
		FileName:  fileName,
		Mimetype:  mime,
	}
	v.payload = map[string]any{
		"caption":  c.Caption,
		"fileName": fileName,
		"mimetype": mime,
	}
	return nil
}

// FileNameFromURL returns the last path segment of a URL without query or fragment.
func FileNameFromURL(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}
