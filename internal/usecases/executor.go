package usecases

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"waflow/internal/entities"
	"waflow/internal/infrastructure"
	"waflow/internal/interfaces"
)

const (
	DefaultMaxSteps       = 32
	DefaultRequestTimeout = 20 * time.Second
	DefaultHandoffTimeout = 60 * time.Second

	maxResponseBytes = 1 << 20
)

var errStepBudget = errors.New("flow step budget exhausted")

// Reply is what one matched node produced: the payload mirrored into history,
// the history record and the request handed to the transport. Handled means
// the assistant took the conversation and nothing should be sent locally.
type Reply struct {
	Payload map[string]any
	Record  entities.ChatRecord
	Send    entities.SendRequest
	Handled bool
}

// Empty reports whether the reply has neither a send nor a handoff.
func (r Reply) Empty() bool {
	return !r.Handled && r.Send.Kind == ""
}

// Run is the context a flow executes in.
type Run struct {
	Chatbot entities.ChatbotConfig
	Message entities.CanonicalMessage
	Graph   entities.FlowGraph
	Vars    map[string]any
}

// variables returns name and mobile overlaid by the inherited variables.
func (r Run) variables() map[string]any {
	vars := map[string]any{
		"name":   r.Message.SenderName,
		"mobile": r.Message.Mobile(),
	}
	for k, v := range r.Vars {
		vars[k] = v
	}
	return vars
}

type ExecutorConfig struct {
	MaxSteps       int
	RequestTimeout time.Duration
	HandoffTimeout time.Duration
}

type Executor struct {
	chatbots  interfaces.ChatbotStore
	assistant interfaces.Assistant
	composer  *Composer
	client    *http.Client
	cfg       ExecutorConfig
	logger    zerolog.Logger
	metrics   *infrastructure.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	randn func(n int) int
}

func NewExecutor(
	chatbots interfaces.ChatbotStore,
	assistant interfaces.Assistant,
	composer *Composer,
	cfg ExecutorConfig,
	logger zerolog.Logger,
	metrics *infrastructure.Metrics,
) *Executor {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HandoffTimeout <= 0 {
		cfg.HandoffTimeout = DefaultHandoffTimeout
	}
	return &Executor{
		chatbots:  chatbots,
		assistant: assistant,
		composer:  composer,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		cfg:       cfg,
		logger:    logger.With().Str("component", "executor").Logger(),
		metrics:   metrics,
		now:       time.Now,
		sleep:     sleepCtx,
		randn:     rand.IntN,
	}
}

type workItem struct {
	node entities.Node
	vars map[string]any
}

// Execute runs node and every node it forwards to (MAKE_REQUEST, DELAY_BETWEEN)
// until one produces a reply or the chain ends. Failures are logged and yield
// an empty Reply.
func (e *Executor) Execute(ctx context.Context, run Run, node entities.Node) Reply {
	log := e.logger.With().
		Int64("chatbot_id", run.Chatbot.ID).
		Str("remote_jid", run.Message.RemoteJID).
		Logger()

	item := workItem{node: node, vars: run.variables()}
	for step := 0; ; step++ {
		if step >= e.cfg.MaxSteps {
			log.Warn().Err(errStepBudget).Int("steps", step).Str("node_id", item.node.ID).Msg("flow stopped")
			return Reply{}
		}
		if ctx.Err() != nil {
			return Reply{}
		}
		if step > 0 {
			active, err := e.chatbots.IsActive(ctx, run.Chatbot.ID)
			if err != nil {
				log.Error().Err(err).Msg("chatbot state check failed")
				return Reply{}
			}
			if !active {
				log.Info().Msg("chatbot deactivated mid flow")
				return Reply{}
			}
		}

		reply, next, err := e.step(ctx, run, item)
		if err != nil {
			e.metrics.NodeExecuted(string(item.node.Kind), "error")
			log.Warn().Err(err).Str("node_id", item.node.ID).Str("kind", string(item.node.Kind)).Msg("node failed")
			return Reply{}
		}
		e.metrics.NodeExecuted(string(item.node.Kind), "ok")

		if next == nil {
			return reply
		}
		item = *next
	}
}

func (e *Executor) step(ctx context.Context, run Run, item workItem) (reply Reply, next *workItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node %s panicked: %v", item.node.ID, r)
		}
	}()

	content, err := entities.DecodeContent(item.node.Kind, resolveContent(item.node.Config.Content, item.vars))
	if err != nil {
		return Reply{}, nil, err
	}

	v := &nodeVisitor{exec: e, ctx: ctx, run: run, item: item}
	if err := content.Accept(v); err != nil {
		return Reply{}, nil, err
	}
	return v.reply, v.next, nil
}

// forward queues the first node the current node points at.
func (e *Executor) forward(graph entities.FlowGraph, from string, vars map[string]any) *workItem {
	edge, ok := graph.FirstEdgeFrom(from)
	if !ok {
		return nil
	}
	target, ok := graph.Node(edge.Target)
	if !ok {
		return nil
	}
	return &workItem{node: target, vars: vars}
}

type nodeVisitor struct {
	exec  *Executor
	ctx   context.Context
	run   Run
	item  workItem
	reply Reply
	next  *workItem
}

func (v *nodeVisitor) send(content entities.Content) error {
	req, payload, err := v.exec.composer.Compose(content)
	if err != nil {
		return err
	}
	msg := v.run.Message
	v.reply = Reply{
		Payload: payload,
		Send:    req,
		Record: entities.ChatRecord{
			TenantID:   v.run.Chatbot.TenantID,
			InstanceID: v.run.Chatbot.InstanceID,
			ChatbotID:  v.run.Chatbot.ID,
			Group:      msg.Group,
			Type:       RecordType(req.Kind),
			RemoteJID:  msg.RemoteJID,
			Context:    payload,
			SenderName: msg.SenderName,
			Status:     "sent",
			Route:      entities.DirectionOutgoing,
			Timestamp:  v.exec.now(),
		},
	}
	return nil
}

func (v *nodeVisitor) VisitText(c entities.TextContent) error         { return v.send(c) }
func (v *nodeVisitor) VisitImage(c entities.ImageContent) error       { return v.send(c) }
func (v *nodeVisitor) VisitVideo(c entities.VideoContent) error       { return v.send(c) }
func (v *nodeVisitor) VisitDocument(c entities.DocumentContent) error { return v.send(c) }
func (v *nodeVisitor) VisitAudio(c entities.AudioContent) error       { return v.send(c) }
func (v *nodeVisitor) VisitLocation(c entities.LocationContent) error { return v.send(c) }
func (v *nodeVisitor) VisitPoll(c entities.PollContent) error         { return v.send(c) }

func (v *nodeVisitor) VisitMakeRequest(c entities.MakeRequestContent) error {
	data, err := WithTimeout(v.ctx, v.exec.cfg.RequestTimeout, func(ctx context.Context) (map[string]any, error) {
		return v.exec.doRequest(ctx, c)
	})
	if err != nil {
		return err
	}

	vars := make(map[string]any, len(v.item.vars)+len(data))
	for k, val := range v.item.vars {
		vars[k] = val
	}
	for k, val := range data {
		vars[k] = val
	}
	v.next = v.exec.forward(v.run.Graph, v.item.node.ID, vars)
	return nil
}

func (v *nodeVisitor) VisitDelayBetween(c entities.DelayBetweenContent) error {
	lo, hi := int(c.FromSec), int(c.ToSec)
	if lo > hi {
		lo, hi = hi, lo
	}
	lo = max(lo, 0)
	hi = max(hi, 0)
	secs := lo + v.exec.randn(hi-lo+1)

	if err := v.exec.sleep(v.ctx, time.Duration(secs)*time.Second); err != nil {
		return err
	}
	v.next = v.exec.forward(v.run.Graph, v.item.node.ID, v.item.vars)
	return nil
}

func (v *nodeVisitor) VisitAI(c entities.AIContent) error {
	chatbot := v.run.Chatbot
	sender := v.run.Message.RemoteJID

	if c.AssignAI && !chatbot.InAssistantMode(sender) {
		if err := v.exec.chatbots.AddAssistantIdentity(v.ctx, chatbot.ID, sender); err != nil {
			return fmt.Errorf("assign assistant: %w", err)
		}
	}
	if v.exec.assistant == nil {
		return nil
	}

	err := withTimeoutErr(v.ctx, v.exec.cfg.HandoffTimeout, func(ctx context.Context) error {
		return v.exec.assistant.Handoff(ctx, interfaces.AssistantRequest{
			TenantID:     chatbot.TenantID,
			ChatbotID:    chatbot.ID,
			InstanceID:   chatbot.InstanceID,
			Instructions: c.Instructions,
			Message:      v.run.Message,
		})
	})
	if err != nil {
		return fmt.Errorf("assistant handoff: %w", err)
	}
	v.reply = Reply{Handled: true}
	return nil
}

func (v *nodeVisitor) VisitPreventReply(c entities.PreventReplyContent) error {
	sender := v.run.Message.RemoteJID
	if _, active := v.run.Chatbot.ActiveSuppression(sender, v.exec.now()); active {
		return nil
	}
	entry := entities.PreventEntry{Identity: sender, Timestamp: c.Timestamp, Timezone: c.Timezone}
	if err := v.exec.chatbots.ReplacePreventEntry(v.ctx, v.run.Chatbot.ID, entry); err != nil {
		return fmt.Errorf("store prevent reply: %w", err)
	}
	return nil
}

// doRequest performs a MAKE_REQUEST call. Only a 2xx answer carrying a JSON
// object or array counts; arrays are exposed by index ("0", "1", ...).
func (e *Executor) doRequest(ctx context.Context, c entities.MakeRequestContent) (map[string]any, error) {
	method := strings.ToUpper(strings.TrimSpace(c.Method))
	if method == "" {
		method = http.MethodGet
	}
	if c.URL == "" {
		return nil, fmt.Errorf("%w: request without url", entities.ErrConfigurationInvalid)
	}

	var body io.Reader
	if method != http.MethodGet && method != http.MethodDelete {
		fields := make(map[string]string, len(c.Body))
		for _, kv := range c.Body {
			if kv.Key != "" {
				fields[kv.Key] = kv.Value
			}
		}
		encoded, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", entities.ErrConfigurationInvalid, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrConfigurationInvalid, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, kv := range c.Headers {
		if kv.Key != "" {
			req.Header.Set(kv.Key, kv.Value)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrExternalRequest, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", entities.ErrExternalRequest, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", entities.ErrExternalRequest, err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: body is not json", entities.ErrExternalRequest)
	}

	switch data := decoded.(type) {
	case map[string]any:
		return data, nil
	case []any:
		out := make(map[string]any, len(data))
		for i, item := range data {
			out[strconv.Itoa(i)] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: body is not an object or array", entities.ErrExternalRequest)
	}
}
