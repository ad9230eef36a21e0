package usecases

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"waflow/internal/entities"
	"waflow/internal/infrastructure"
	"waflow/internal/interfaces"
)

const DefaultIdleInterval = time.Second

type BroadcastConfig struct {
	TransportTimeout time.Duration
	IdleInterval     time.Duration
}

// BroadcastService drains scheduled broadcast jobs one recipient per job per cycle.
type BroadcastService struct {
	store    interfaces.BroadcastStore
	sessions interfaces.SessionRegistry
	composer *Composer
	cfg      BroadcastConfig
	logger   zerolog.Logger
	metrics  *infrastructure.Metrics

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(from, to int) time.Duration
	pick   func(n int) int
}

func NewBroadcastService(
	store interfaces.BroadcastStore,
	sessions interfaces.SessionRegistry,
	composer *Composer,
	cfg BroadcastConfig,
	logger zerolog.Logger,
	metrics *infrastructure.Metrics,
) *BroadcastService {
	if cfg.TransportTimeout <= 0 {
		cfg.TransportTimeout = DefaultTransportTimeout
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	return &BroadcastService{
		store:    store,
		sessions: sessions,
		composer: composer,
		cfg:      cfg,
		logger:   logger.With().Str("component", "broadcast").Logger(),
		metrics:  metrics,
		now:      time.Now,
		sleep:    sleepCtx,
		jitter:   randomJitter,
		pick:     rand.IntN,
	}
}

// randomJitter returns a uniformly random duration between from and to seconds.
func randomJitter(from, to int) time.Duration {
	lo, hi := max(min(from, to), 0), max(from, to, 0)
	span := time.Duration(hi-lo) * time.Second
	d := time.Duration(lo) * time.Second
	if span > 0 {
		d += rand.N(span + 1)
	}
	return d
}

// Run repeats RunCycle until ctx is cancelled or a cycle fails.
func (s *BroadcastService) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.RunCycle(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if err := s.sleep(ctx, s.cfg.IdleInterval); err != nil {
			return err
		}
	}
}

type pendingDelivery struct {
	job   entities.BroadcastJob
	entry entities.BroadcastLogEntry
	// broken is set when the entry cannot be sent as stored.
	broken error
}

// RunCycle processes one PENDING entry of every due job and returns how many
// entries it stored an outcome for. Jobs without a PENDING entry are marked
// COMPLETED. Failed outcome writes are returned joined so the loop restarts
// after a delay instead of resending the same entry.
func (s *BroadcastService) RunCycle(ctx context.Context) (int, error) {
	jobs, err := s.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending broadcasts: %w", err)
	}

	now := s.now()
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		pending []pendingDelivery
	)
	for _, job := range jobs {
		if !job.IsDue(now) {
			continue
		}
		wg.Add(1)
		go func(job entities.BroadcastJob) {
			defer wg.Done()
			entry, err := s.store.NextPendingEntry(ctx, job.ID)
			var broken error
			switch {
			case entry != nil && errors.Is(err, entities.ErrConfigurationInvalid):
				broken = err
			case err != nil:
				s.logger.Error().Err(err).Str("broadcast_id", job.ID).Msg("fetch pending entry")
				return
			case entry == nil:
				s.finishJob(ctx, job.ID, entities.JobCompleted)
				return
			}
			mu.Lock()
			pending = append(pending, pendingDelivery{job: job, entry: *entry, broken: broken})
			mu.Unlock()
		}(job)
	}
	wg.Wait()

	var (
		handled int
		errs    []error
	)
	for _, p := range pending {
		wg.Add(1)
		go func(p pendingDelivery) {
			defer wg.Done()
			stored, err := s.process(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if stored {
				handled++
			}
		}(p)
	}
	wg.Wait()

	return handled, errors.Join(errs...)
}

// process delivers one entry and stores its outcome. It reports whether an
// outcome was written.
func (s *BroadcastService) process(ctx context.Context, p pendingDelivery) (bool, error) {
	job, entry := p.job, p.entry
	log := s.logger.With().Str("broadcast_id", job.ID).Int64("entry_id", entry.ID).Logger()

	var (
		outcome         entities.DeliveryOutcome
		instanceMissing bool
	)
	if p.broken != nil {
		outcome = failed(p.broken)
	} else {
		func() {
			defer func() {
				if r := recover(); r != nil {
					outcome = entities.DeliveryOutcome{Status: entities.DeliveryFailed, Error: fmt.Sprint(r)}
				}
			}()
			outcome, instanceMissing = s.deliver(ctx, job, entry)
		}()
	}
	if ctx.Err() != nil {
		return false, nil
	}

	updated, err := s.store.CompleteEntry(ctx, entry.ID, outcome)
	if err != nil {
		log.Error().Err(err).Str("status", string(outcome.Status)).Msg("store delivery outcome")
		return false, fmt.Errorf("store outcome of entry %d: %w", entry.ID, err)
	}
	if !updated {
		log.Warn().Msg("entry already terminal")
		return false, nil
	}
	s.metrics.Delivery(string(outcome.Status))
	log.Debug().Str("status", string(outcome.Status)).Str("instance_id", outcome.InstanceID).Msg("delivery finished")

	if instanceMissing {
		s.finishJob(ctx, job.ID, entities.JobFailedInstanceMissing)
	}
	return true, nil
}

// deliver sends the job's template to one recipient. The second result is
// true when the job has no usable instance.
func (s *BroadcastService) deliver(ctx context.Context, job entities.BroadcastJob, entry entities.BroadcastLogEntry) (entities.DeliveryOutcome, bool) {
	if err := s.sleep(ctx, s.jitter(job.DelayFrom, job.DelayTo)); err != nil {
		return failed(err), false
	}

	if len(job.Instances) == 0 {
		return entities.DeliveryOutcome{Status: entities.DeliveryInstanceNA, Error: "no instance configured"}, true
	}
	instanceID := job.Instances[s.pick(len(job.Instances))]

	session, err := WithTimeout(ctx, s.cfg.TransportTimeout, func(context.Context) (interfaces.Session, error) {
		sess, ok := s.sessions.Session(instanceID)
		if !ok {
			return nil, entities.ErrTransportUnavailable
		}
		return sess, nil
	})
	if err != nil {
		return entities.DeliveryOutcome{Status: entities.DeliveryInstanceNA, InstanceID: instanceID, Error: err.Error()}, true
	}

	jid, err := WithTimeout(ctx, s.cfg.TransportTimeout, func(ctx context.Context) (string, error) {
		return session.LookupRecipient(ctx, entry.Destination)
	})
	if errors.Is(err, entities.ErrRecipientUnreachable) {
		return entities.DeliveryOutcome{Status: entities.DeliveryNumberNA, InstanceID: instanceID}, false
	}
	if err != nil {
		return failed(fmt.Errorf("check recipient: %w", err)), false
	}

	req, err := s.compose(job.Template, entry)
	if err != nil {
		return failed(err), false
	}

	ack, err := WithTimeout(ctx, s.cfg.TransportTimeout, func(ctx context.Context) (entities.SendAck, error) {
		return session.Send(ctx, jid, req)
	})
	if err != nil {
		return failed(err), false
	}
	if ack.MessageID == "" {
		return failed(errors.New("transport returned no message id")), false
	}
	return entities.DeliveryOutcome{Status: entities.DeliverySent, MessageID: ack.MessageID, InstanceID: instanceID}, false
}

func (s *BroadcastService) compose(tpl entities.MessageTemplate, entry entities.BroadcastLogEntry) (entities.SendRequest, error) {
	vars := make(map[string]any, len(entry.Variables)+1)
	for k, v := range entry.Variables {
		vars[k] = v
	}
	if _, ok := vars["mobile"]; !ok {
		vars["mobile"] = "+" + strings.TrimPrefix(entry.Destination, "+")
	}

	content, err := entities.DecodeContent(tpl.Kind, resolveContent(tpl.Content, vars))
	if err != nil {
		return entities.SendRequest{}, err
	}
	req, _, err := s.composer.Compose(content)
	if err != nil {
		return entities.SendRequest{}, fmt.Errorf("compose %s: %w", tpl.Kind, err)
	}
	return req, nil
}

func (s *BroadcastService) finishJob(ctx context.Context, jobID string, status entities.JobStatus) {
	if err := s.store.SetJobStatus(ctx, jobID, status); err != nil {
		s.logger.Error().Err(err).Str("broadcast_id", jobID).Str("status", string(status)).Msg("update broadcast status")
		return
	}
	s.metrics.JobFinished(string(status))
	s.logger.Info().Str("broadcast_id", jobID).Str("status", string(status)).Msg("broadcast finished")
}

func failed(err error) entities.DeliveryOutcome {
	return entities.DeliveryOutcome{Status: entities.DeliveryFailed, Error: err.Error()}
}
