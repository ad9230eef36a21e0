package entities

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Content is the typed, kind specific configuration of a node.
// The set is closed: every implementation lives in this file and every
// ContentVisitor must handle all of them.
type Content interface {
	Kind() NodeKind
	Accept(v ContentVisitor) error
}

type ContentVisitor interface {
	VisitText(TextContent) error
	VisitImage(ImageContent) error
	VisitVideo(VideoContent) error
	VisitDocument(DocumentContent) error
	VisitAudio(AudioContent) error
	VisitLocation(LocationContent) error
	VisitPoll(PollContent) error
	VisitMakeRequest(MakeRequestContent) error
	VisitDelayBetween(DelayBetweenContent) error
	VisitAI(AIContent) error
	VisitPreventReply(PreventReplyContent) error
}

type TextContent struct {
	Text string `json:"text"`
}

type MediaContent struct {
	URL      string `json:"url"`
	Caption  string `json:"caption"`
	FileName string `json:"fileName"`
	Mimetype string `json:"mimetype"`
}

type ImageContent struct{ MediaContent }
type VideoContent struct{ MediaContent }
type DocumentContent struct{ MediaContent }
type AudioContent struct{ MediaContent }

type LocationContent struct {
	Latitude  FlexFloat `json:"latitude"`
	Longitude FlexFloat `json:"longitude"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
}

type PollContent struct {
	Name            string   `json:"name"`
	Options         []string `json:"options"`
	SelectableCount FlexInt  `json:"selectableCount"`
}

type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type MakeRequestContent struct {
	Method  string     `json:"method"`
	URL     string     `json:"url"`
	Headers []KeyValue `json:"headers"`
	Body    []KeyValue `json:"body"`
}

type DelayBetweenContent struct {
	FromSec FlexInt `json:"fromSec"`
	ToSec   FlexInt `json:"toSec"`
}

type AIContent struct {
	AssignAI     bool   `json:"assignAi"`
	Instructions string `json:"instructions"`
}

type PreventReplyContent struct {
	Timestamp string `json:"timestamp"`
	Timezone  string `json:"timezone"`
}

func (TextContent) Kind() NodeKind         { return NodeText }
func (ImageContent) Kind() NodeKind        { return NodeImage }
func (VideoContent) Kind() NodeKind        { return NodeVideo }
func (DocumentContent) Kind() NodeKind     { return NodeDocument }
func (AudioContent) Kind() NodeKind        { return NodeAudio }
func (LocationContent) Kind() NodeKind     { return NodeLocation }
func (PollContent) Kind() NodeKind         { return NodePoll }
func (MakeRequestContent) Kind() NodeKind  { return NodeMakeRequest }
func (DelayBetweenContent) Kind() NodeKind { return NodeDelayBetween }
func (AIContent) Kind() NodeKind           { return NodeAI }
func (PreventReplyContent) Kind() NodeKind { return NodePreventReply }

func (c TextContent) Accept(v ContentVisitor) error         { return v.VisitText(c) }
func (c ImageContent) Accept(v ContentVisitor) error        { return v.VisitImage(c) }
func (c VideoContent) Accept(v ContentVisitor) error        { return v.VisitVideo(c) }
func (c DocumentContent) Accept(v ContentVisitor) error     { return v.VisitDocument(c) }
func (c AudioContent) Accept(v ContentVisitor) error        { return v.VisitAudio(c) }
func (c LocationContent) Accept(v ContentVisitor) error     { return v.VisitLocation(c) }
func (c PollContent) Accept(v ContentVisitor) error         { return v.VisitPoll(c) }
func (c MakeRequestContent) Accept(v ContentVisitor) error  { return v.VisitMakeRequest(c) }
func (c DelayBetweenContent) Accept(v ContentVisitor) error { return v.VisitDelayBetween(c) }
func (c AIContent) Accept(v ContentVisitor) error           { return v.VisitAI(c) }
func (c PreventReplyContent) Accept(v ContentVisitor) error { return v.VisitPreventReply(c) }

// DecodeContent converts a resolved content value into the typed variant of kind.
func DecodeContent(kind NodeKind, raw map[string]any) (Content, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigurationInvalid, err)
	}

	var c Content
	switch kind {
	case NodeText:
		c, err = decodeAs[TextContent](data)
	case NodeImage:
		c, err = decodeAs[ImageContent](data)
	case NodeVideo:
		c, err = decodeAs[VideoContent](data)
	case NodeDocument:
		c, err = decodeAs[DocumentContent](data)
	case NodeAudio:
		c, err = decodeAs[AudioContent](data)
	case NodeLocation:
		c, err = decodeAs[LocationContent](data)
	case NodePoll:
		c, err = decodeAs[PollContent](data)
	case NodeMakeRequest:
		c, err = decodeAs[MakeRequestContent](data)
	case NodeDelayBetween:
		c, err = decodeAs[DelayBetweenContent](data)
	case NodeAI:
		c, err = decodeAs[AIContent](data)
	case NodePreventReply:
		c, err = decodeAs[PreventReplyContent](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeKind, kind)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func decodeAs[T Content](data []byte) (Content, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigurationInvalid, err)
	}
	return v, nil
}

// FlexInt accepts JSON numbers and numeric strings. Fractions are truncated.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	v, err := parseFlexNumber(b)
	if err != nil {
		return err
	}
	*f = FlexInt(v)
	return nil
}

// FlexFloat accepts JSON numbers and numeric strings.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	v, err := parseFlexNumber(b)
	if err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

func parseFlexNumber(b []byte) (float64, error) {
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "" || s == "null" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrConfigurationInvalid, s)
	}
	return v, nil
}
