package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/lock"
	"github.com/kursadbilgin/outreach-engine/internal/mailer"
	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	replyPassLockKey = "pass:replies"
	defaultPollTTL   = 10 * time.Minute
)

type PollResult struct {
	PassID     string    `json:"passId"`
	Fetched    int       `json:"fetched"`
	Matched    int       `json:"matched"`
	FirstReply int       `json:"firstReply"`
	Unmatched  int       `json:"unmatched"`
	Forwarded  int       `json:"forwarded"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// ReplyService runs the reply-poll pass: unseen mail is reconciled against
// contacts and matched replies are forwarded to the managers.
type ReplyService struct {
	mailbox    mailer.Mailbox
	reconciler *Reconciler
	forwarder  ForwardDispatcher
	locker     lock.Locker
	logger     *zap.Logger
	metrics    *observability.Metrics
	lockTTL    time.Duration
	now        func() time.Time
}

func NewReplyService(
	mailbox mailer.Mailbox,
	reconciler *Reconciler,
	forwarder ForwardDispatcher,
	locker lock.Locker,
	logger *zap.Logger,
) (*ReplyService, error) {
	if mailbox == nil {
		return nil, fmt.Errorf("mailbox is required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if forwarder == nil {
		return nil, fmt.Errorf("forward dispatcher is required")
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReplyService{
		mailbox:    mailbox,
		reconciler: reconciler,
		forwarder:  forwarder,
		locker:     locker,
		logger:     logger,
		lockTTL:    defaultPollTTL,
		now:        time.Now,
	}, nil
}

func (s *ReplyService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Poll processes every unseen message once. A matched message is marked
// consumed after its forward was attempted. Unmatched messages and messages
// that could not be reconciled stay unseen.
func (s *ReplyService) Poll(ctx context.Context) (*PollResult, error) {
	ctx, passID := observability.EnsureCorrelationID(ctx)
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("pass", "replies"))
	started := s.now()

	release, err := acquireLock(ctx, s.locker, replyPassLockKey, s.lockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	messages, err := s.mailbox.FetchUnseen(ctx)
	if err != nil {
		s.metrics.ObservePass("replies", "error", s.now().Sub(started))
		return nil, fmt.Errorf("failed to fetch unseen messages: %w", err)
	}

	result := &PollResult{PassID: passID, Fetched: len(messages), StartedAt: started.UTC()}
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		s.processMessage(ctx, logger, msg, result)
	}

	result.FinishedAt = s.now().UTC()
	status := "ok"
	if ctx.Err() != nil {
		status = "canceled"
	}
	s.metrics.ObservePass("replies", status, result.FinishedAt.Sub(started))

	if result.Fetched > 0 {
		logger.Info("reply poll finished",
			zap.Int("fetched", result.Fetched),
			zap.Int("matched", result.Matched),
			zap.Int("unmatched", result.Unmatched),
			zap.Int("failed", result.Failed),
		)
	}
	return result, ctx.Err()
}

func (s *ReplyService) processMessage(ctx context.Context, logger *zap.Logger, msg domain.InboundMessage, result *PollResult) {
	logger = logger.With(zap.String("ref", string(msg.Ref)))

	rec, err := s.reconciler.Reconcile(ctx, msg)
	if err != nil {
		result.Failed++
		s.metrics.IncReply("error")
		logger.Error("failed to reconcile message", zap.Error(err))
		return
	}
	if !rec.Matched {
		result.Unmatched++
		s.metrics.IncReply("unmatched")
		logger.Debug("message does not match a contact", zap.String("from", msg.From))
		return
	}

	result.Matched++
	if rec.FirstReply {
		result.FirstReply++
		s.metrics.IncReply("first")
	} else {
		s.metrics.IncReply("repeat")
	}
	logger.Info("reply recorded",
		zap.String("contactId", rec.ContactID),
		zap.Bool("firstReply", rec.FirstReply),
	)

	job := domain.ForwardJob{
		ContactID: rec.ContactID,
		Sender:    rec.Sender,
		Subject:   msg.Subject,
		ReplyAt:   rec.ReplyAt,
		SentAt:    msg.Date,
		Body:      msg.Body,
	}
	if err := s.forwarder.Dispatch(ctx, job); err != nil {
		result.Failed++
		logger.Error("failed to forward reply, a manager missed it", zap.String("contactId", rec.ContactID), zap.Error(err))
	} else {
		result.Forwarded++
	}

	// Consumed after any forward attempt; a rejecting manager address must
	// not pin the message in the inbox.
	if err := s.mailbox.MarkConsumed(context.WithoutCancel(ctx), msg.Ref); err != nil {
		logger.Warn("failed to mark message consumed", zap.Error(err))
	}
}
