package usecases

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"waflow/internal/entities"
	"waflow/internal/infrastructure"
	"waflow/internal/interfaces"
)

const (
	DefaultReplyDelay       = time.Second
	DefaultTransportTimeout = 60 * time.Second
)

type FlowConfig struct {
	ReplyDelay       time.Duration
	TransportTimeout time.Duration
}

type FlowDeps struct {
	Instances interfaces.InstanceStore
	Plans     interfaces.PlanGate
	Chatbots  interfaces.ChatbotStore
	Flows     interfaces.FlowStore
	Sessions  interfaces.SessionRegistry
	Chats     interfaces.ChatStore
	Usage     interfaces.UsageStore
	Assistant interfaces.Assistant
}

// FlowService answers inbound messages with the flows of the chatbots bound
// to the receiving instance.
type FlowService struct {
	deps     FlowDeps
	executor *Executor
	cfg      FlowConfig
	logger   zerolog.Logger
	metrics  *infrastructure.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewFlowService(deps FlowDeps, executor *Executor, cfg FlowConfig, logger zerolog.Logger, metrics *infrastructure.Metrics) *FlowService {
	if cfg.ReplyDelay < 0 {
		cfg.ReplyDelay = 0
	}
	if cfg.TransportTimeout <= 0 {
		cfg.TransportTimeout = DefaultTransportTimeout
	}
	return &FlowService{
		deps:     deps,
		executor: executor,
		cfg:      cfg,
		logger:   logger.With().Str("component", "flow").Logger(),
		metrics:  metrics,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// HandleMessage runs every active chatbot of instanceID against msg. Chatbots
// run concurrently and a failing one never affects the others. It returns
// once all of them are done.
func (s *FlowService) HandleMessage(ctx context.Context, instanceID string, msg *entities.CanonicalMessage) {
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	log := s.logger.With().Str("instance_id", instanceID).Str("remote_jid", msg.RemoteJID).Logger()

	inst, err := s.deps.Instances.Get(ctx, instanceID)
	if err != nil {
		log.Error().Err(err).Msg("unknown instance")
		return
	}

	allowed, err := s.deps.Plans.HasChatbotPlan(ctx, inst.TenantID)
	if err != nil {
		log.Error().Err(err).Msg("plan check failed")
		return
	}
	if !allowed {
		log.Info().Int("tenant_id", inst.TenantID).Msg("chatbot plan inactive, disabling chatbots")
		if err := s.deps.Chatbots.DeactivateTenant(ctx, inst.TenantID); err != nil {
			log.Error().Err(err).Msg("deactivate chatbots")
		}
		return
	}

	bots, err := s.deps.Chatbots.ListActiveByInstance(ctx, instanceID)
	if err != nil {
		log.Error().Err(err).Msg("load chatbots")
		return
	}

	var wg sync.WaitGroup
	for _, bot := range bots {
		wg.Add(1)
		go func(bot entities.ChatbotConfig) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Int64("chatbot_id", bot.ID).Interface("panic", r).Msg("chatbot crashed")
				}
			}()
			s.runChatbot(ctx, bot, *msg)
		}(bot)
	}
	wg.Wait()
}

func (s *FlowService) runChatbot(ctx context.Context, bot entities.ChatbotConfig, msg entities.CanonicalMessage) {
	log := s.logger.With().Int64("chatbot_id", bot.ID).Str("remote_jid", msg.RemoteJID).Logger()

	if msg.Group && !bot.GroupReply {
		return
	}
	if entry, ok := bot.ActiveSuppression(msg.RemoteJID, s.now()); ok {
		log.Debug().Str("until", entry.Timestamp).Msg("replies suppressed")
		return
	}

	graph, err := s.deps.Flows.GetGraph(ctx, bot.FlowID)
	if err != nil {
		log.Error().Err(err).Str("flow_id", bot.FlowID).Msg("load flow")
		return
	}

	if bot.InAssistantMode(msg.RemoteJID) && s.deps.Assistant != nil {
		err := withTimeoutErr(ctx, s.executor.cfg.HandoffTimeout, func(ctx context.Context) error {
			return s.deps.Assistant.Handoff(ctx, interfaces.AssistantRequest{
				TenantID:     bot.TenantID,
				ChatbotID:    bot.ID,
				InstanceID:   bot.InstanceID,
				Instructions: assistantInstructions(graph),
				Message:      msg,
			})
		})
		if err == nil {
			return
		}
		log.Warn().Err(err).Msg("assistant handoff failed, falling back to flow")
	}

	if graph.IsEmpty() {
		return
	}

	run := Run{Chatbot: bot, Message: msg, Graph: graph}
	for _, node := range MatchNodes(graph, msg.Text) {
		if ctx.Err() != nil {
			return
		}
		reply := s.executor.Execute(ctx, run, node)
		if reply.Handled {
			return
		}
		if reply.Empty() {
			continue
		}
		// a voice note gets media and location replies up to the first text or poll
		if msg.IsAudioTranscribe() && (reply.Send.Kind == entities.NodeText || reply.Send.Kind == entities.NodePoll) {
			return
		}
		if err := s.deliver(ctx, bot, msg, reply); err != nil {
			s.metrics.ReplySent(false)
			log.Warn().Err(err).Str("node_id", node.ID).Msg("reply not delivered")
			continue
		}
		s.metrics.ReplySent(true)
	}
}

func (s *FlowService) deliver(ctx context.Context, bot entities.ChatbotConfig, msg entities.CanonicalMessage, reply Reply) error {
	if err := s.sleep(ctx, s.cfg.ReplyDelay); err != nil {
		return err
	}

	session, ok := s.deps.Sessions.Session(bot.InstanceID)
	if !ok {
		return fmt.Errorf("%w: %s", entities.ErrTransportUnavailable, bot.InstanceID)
	}

	ack, err := WithTimeout(ctx, s.cfg.TransportTimeout, func(ctx context.Context) (entities.SendAck, error) {
		return session.Send(ctx, msg.RemoteJID, reply.Send)
	})
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if ack.MessageID == "" {
		return fmt.Errorf("send: transport returned no message id")
	}

	record := reply.Record
	record.MsgID = ack.MessageID
	if !ack.Timestamp.IsZero() {
		record.Timestamp = ack.Timestamp
	}
	if err := s.deps.Chats.Save(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("msg_id", ack.MessageID).Msg("save chat record")
	}
	if err := s.deps.Usage.Increment(ctx, bot.TenantID, bot.InstanceID); err != nil {
		s.logger.Error().Err(err).Msg("count usage")
	}
	return nil
}

// assistantInstructions returns the instructions of the first AI node of graph.
func assistantInstructions(graph entities.FlowGraph) string {
	for _, n := range graph.Nodes {
		if n.Kind != entities.NodeAI {
			continue
		}
		if s, ok := n.Config.Content["instructions"].(string); ok {
			return s
		}
	}
	return ""
}
