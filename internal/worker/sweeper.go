// Package worker runs background jobs of the offers backend.
//
// The Sweeper periodically looks for messages that stayed unread longer than
// a threshold and emails the other participant of the conversation once per
// batch. A message is included in at most one notification: after a
// successful send every message of the batch is flagged notificationSent and
// never qualifies again. Failed sends leave the flag untouched so the next
// cycle retries.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-offers-backend/internal/domain"
	"github.com/tbourn/go-offers-backend/internal/notify"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrSweepInProgress is returned by SweepOnce when another cycle is running.
var ErrSweepInProgress = errors.New("sweep already in progress")

// UnreadStore is the message store as seen by the sweeper.
type UnreadStore interface {
	FindConversationsWithUnreadMessages(ctx context.Context, threshold time.Time) ([]domain.Conversation, error)
	MarkNotificationSent(ctx context.Context, ids ...uint) (int64, error)
}

// Notifier delivers a notification to an address.
type Notifier interface {
	Notify(ctx context.Context, to string, n notify.Notification) error
}

// Config controls the sweep schedule.
type Config struct {
	// Period between cycles.
	Period time.Duration
	// Threshold is how long a message must stay unread before it qualifies.
	Threshold time.Duration
	// CycleTimeout bounds a single cycle; remaining conversations are
	// deferred to the next one. Zero means unbounded.
	CycleTimeout time.Duration
	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// SweepReport summarizes one cycle.
type SweepReport struct {
	Conversations int // conversations returned by the unread query
	Notified      int // notifications delivered
	Failed        int // notifications that could not be delivered
	Deferred      int // conversations left for the next cycle
}

// Sweeper is the unread-notification job. Cycles never overlap.
type Sweeper struct {
	store    UnreadStore
	notifier Notifier
	cfg      Config
	logger   zerolog.Logger

	cycle     sync.Mutex
	started   atomic.Bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewSweeper returns a Sweeper. Period defaults to 10m and Threshold to 5m.
func NewSweeper(store UnreadStore, n Notifier, cfg Config) *Sweeper {
	if cfg.Period <= 0 {
		cfg.Period = 10 * time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{
		store:     store,
		notifier:  n,
		cfg:       cfg,
		logger:    log.With().Str("component", "sweeper").Logger(),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run ticks every Period until ctx is done or Stop is called.
func (s *Sweeper) Run(ctx context.Context) {
	s.started.Store(true)
	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	s.logger.Info().
		Dur("period", s.cfg.Period).
		Dur("threshold", s.cfg.Threshold).
		Dur("cycle_timeout", s.cfg.CycleTimeout).
		Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			s.logger.Info().Msg("sweeper stopping")
			return
		case <-ticker.C:
			rep, err := s.SweepOnce(ctx)
			switch {
			case errors.Is(err, ErrSweepInProgress):
				s.logger.Warn().Msg("previous sweep still running; skipping tick")
			case err != nil:
				s.logger.Error().Err(err).Msg("sweep cycle failed")
			default:
				s.logger.Debug().
					Int("conversations", rep.Conversations).
					Int("notified", rep.Notified).
					Int("failed", rep.Failed).
					Int("deferred", rep.Deferred).
					Msg("sweep cycle done")
			}
		}
	}
}

// Stop signals Run to return and waits for it.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.stoppedCh
	}
}

// SweepOnce runs a single cycle against threshold Now()-Threshold. It returns
// ErrSweepInProgress without doing anything if a cycle is already running.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	if !s.cycle.TryLock() {
		sweepCycles.WithLabelValues("skipped").Inc()
		return SweepReport{}, ErrSweepInProgress
	}
	defer s.cycle.Unlock()

	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	threshold := s.cfg.Now().UTC().Add(-s.cfg.Threshold)

	tr := otel.Tracer("worker/Sweeper")
	ctx, span := tr.Start(ctx, "SweepOnce",
		trace.WithAttributes(attribute.String("threshold", threshold.Format(time.RFC3339))),
	)
	defer span.End()

	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}

	var rep SweepReport
	convs, err := s.store.FindConversationsWithUnreadMessages(ctx, threshold)
	if err != nil {
		sweepCycles.WithLabelValues("error").Inc()
		span.RecordError(err)
		return rep, err
	}
	rep.Conversations = len(convs)

	for i := range convs {
		if ctx.Err() != nil {
			rep.Deferred = len(convs) - i
			sweepDeferred.Add(float64(rep.Deferred))
			s.logger.Warn().Int("deferred", rep.Deferred).Msg("sweep cycle timed out; deferring remaining conversations")
			break
		}
		s.sweepConversation(ctx, &convs[i], threshold, &rep)
	}

	sweepCycles.WithLabelValues("ok").Inc()
	span.SetAttributes(
		attribute.Int("conversations", rep.Conversations),
		attribute.Int("notified", rep.Notified),
		attribute.Int("failed", rep.Failed),
		attribute.Int("deferred", rep.Deferred),
	)
	return rep, nil
}

func (s *Sweeper) sweepConversation(ctx context.Context, c *domain.Conversation, threshold time.Time, rep *SweepReport) {
	if c.RequesterID == c.ServiceProviderID {
		s.logger.Warn().Uint("conversation_id", c.ID).Msg("conversation has identical participants; skipping")
		return
	}

	var fromRequester, fromProvider []domain.Message
	for _, m := range c.Messages {
		if m.Read || m.NotificationSent || !m.CreatedAt.Before(threshold) {
			continue
		}
		switch m.AuthorID {
		case c.RequesterID:
			fromRequester = append(fromRequester, m)
		case c.ServiceProviderID:
			fromProvider = append(fromProvider, m)
		}
	}

	s.notifyBatch(ctx, c, c.Requester, c.ServiceProvider, fromRequester, rep)
	s.notifyBatch(ctx, c, c.ServiceProvider, c.Requester, fromProvider, rep)
}

// notifyBatch sends one notification to recipient about msgs written by
// sender, then flags them as notified.
func (s *Sweeper) notifyBatch(ctx context.Context, c *domain.Conversation, sender, recipient domain.User, msgs []domain.Message, rep *SweepReport) {
	if len(msgs) == 0 {
		return
	}
	l := s.logger.With().
		Uint("conversation_id", c.ID).
		Uint("recipient_id", recipient.ID).
		Int("messages", len(msgs)).
		Logger()

	n := notify.UnreadMessage{
		RecipientName:  recipient.Name,
		SenderName:     sender.Name,
		ServiceTitle:   c.RequestedService.Title,
		ConversationID: c.ID,
		Count:          len(msgs),
		Excerpts:       excerpts(msgs, 3, 140),
	}
	if err := s.notifier.Notify(ctx, recipient.StandardAddress(), n); err != nil {
		rep.Failed++
		sweepNotifications.WithLabelValues("failed").Inc()
		l.Warn().Err(err).Msg("unread notification failed; will retry next cycle")
		return
	}
	rep.Notified++
	sweepNotifications.WithLabelValues("sent").Inc()

	ids := make([]uint, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	// The send already happened; flag even if the cycle deadline passed.
	if _, err := s.store.MarkNotificationSent(context.WithoutCancel(ctx), ids...); err != nil {
		l.Error().Err(err).Msg("notification sent but messages not flagged")
	}
}

// excerpts returns up to n message contents clipped to maxRunes.
func excerpts(msgs []domain.Message, n, maxRunes int) []string {
	if len(msgs) < n {
		n = len(msgs)
	}
	out := make([]string, 0, n)
	for _, m := range msgs[:n] {
		txt := m.Content
		if utf8.RuneCountInString(txt) > maxRunes {
			txt = string([]rune(txt)[:maxRunes]) + "…"
		}
		out = append(out, txt)
	}
	return out
}
