package usecases

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"waflow/internal/entities"
	"waflow/internal/infrastructure"
	"waflow/internal/interfaces"
)

const (
	DefaultWarmerInterval = 2 * time.Second

	warmerSessionTimeout  = 15 * time.Second
	warmerLookupTimeout   = 5 * time.Second
	warmerPresenceTimeout = 5 * time.Second
	warmerSendTimeout     = 10 * time.Second
)

type WarmerDeps struct {
	Warmers   interfaces.WarmerStore
	Instances interfaces.InstanceStore
	Plans     interfaces.PlanGate
	Sessions  interfaces.SessionRegistry
}

// WarmerService keeps new numbers active by having a tenant's own instances
// exchange scripted messages.
type WarmerService struct {
	deps     WarmerDeps
	interval time.Duration
	logger   zerolog.Logger
	metrics  *infrastructure.Metrics

	sleep func(ctx context.Context, d time.Duration) error
	randn func(n int) int
}

func NewWarmerService(deps WarmerDeps, interval time.Duration, logger zerolog.Logger, metrics *infrastructure.Metrics) *WarmerService {
	if interval <= 0 {
		interval = DefaultWarmerInterval
	}
	return &WarmerService{
		deps:     deps,
		interval: interval,
		logger:   logger.With().Str("component", "warmer").Logger(),
		metrics:  metrics,
		sleep:    sleepCtx,
		randn:    rand.IntN,
	}
}

func (s *WarmerService) Run(ctx context.Context) error {
	for {
		if err := s.RunCycle(ctx); err != nil {
			s.logger.Error().Err(err).Msg("warmer cycle")
		}
		if err := s.sleep(ctx, s.interval); err != nil {
			return err
		}
	}
}

// RunCycle lets every active warmer send one message. Warmers run concurrently
// and independently.
func (s *WarmerService) RunCycle(ctx context.Context) error {
	warmers, err := s.deps.Warmers.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list warmers: %w", err)
	}

	var wg sync.WaitGroup
	for _, w := range warmers {
		wg.Add(1)
		go func(w entities.Warmer) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().Int64("warmer_id", w.ID).Interface("panic", r).Msg("warmer crashed")
				}
			}()
			if err := s.warm(ctx, w); err != nil {
				s.metrics.WarmerMessage(false)
				s.logger.Warn().Err(err).Int64("warmer_id", w.ID).Msg("warm up skipped")
			}
		}(w)
	}
	wg.Wait()
	return nil
}

func (s *WarmerService) warm(ctx context.Context, w entities.Warmer) error {
	if len(w.Instances) < 2 || len(w.Scripts) == 0 {
		return nil
	}

	allowed, err := s.deps.Plans.HasWarmerPlan(ctx, w.TenantID)
	if err != nil {
		return fmt.Errorf("plan check: %w", err)
	}
	if !allowed {
		s.logger.Info().Int("tenant_id", w.TenantID).Msg("warmer plan inactive, disabling warmers")
		return s.deps.Warmers.DeactivateTenant(ctx, w.TenantID)
	}

	from := w.Instances[s.randn(len(w.Instances))]
	script := w.Scripts[s.randn(len(w.Scripts))]
	others := make([]string, 0, len(w.Instances)-1)
	for _, id := range w.Instances {
		if id != from {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return nil
	}
	to := others[s.randn(len(others))]

	target, err := s.deps.Instances.Get(ctx, to)
	if err != nil {
		return fmt.Errorf("target instance %s: %w", to, err)
	}

	session, err := WithTimeout(ctx, warmerSessionTimeout, func(context.Context) (interfaces.Session, error) {
		sess, ok := s.deps.Sessions.Session(from)
		if !ok {
			return nil, entities.ErrTransportUnavailable
		}
		return sess, nil
	})
	if err != nil {
		return fmt.Errorf("session %s: %w", from, err)
	}

	jid, err := WithTimeout(ctx, warmerLookupTimeout, func(ctx context.Context) (string, error) {
		return session.LookupRecipient(ctx, target.JID)
	})
	if err != nil {
		return fmt.Errorf("target %s: %w", target.JID, err)
	}

	s.typing(ctx, session, jid)

	_, err = WithTimeout(ctx, warmerSendTimeout, func(ctx context.Context) (entities.SendAck, error) {
		return session.Send(ctx, jid, entities.SendRequest{Kind: entities.NodeText, Text: script})
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", jid, err)
	}
	s.metrics.WarmerMessage(true)
	return nil
}

// typing shows the composing indicator for one to three seconds. Failures
// are logged only.
func (s *WarmerService) typing(ctx context.Context, session interfaces.Session, jid string) {
	presence := func(composing bool) {
		err := withTimeoutErr(ctx, warmerPresenceTimeout, func(ctx context.Context) error {
			return session.SendPresence(ctx, jid, composing)
		})
		if err != nil {
			s.logger.Debug().Err(err).Bool("composing", composing).Msg("presence update")
		}
	}

	presence(true)
	_ = s.sleep(ctx, time.Second+time.Duration(s.randn(2000))*time.Millisecond)
	presence(false)
}
