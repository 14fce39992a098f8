package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/mailer"
	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"github.com/kursadbilgin/outreach-engine/internal/queue"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency   = 1
	defaultForwardAttempts = 3
	maxRetryDelay          = 60 * time.Second
	baseRetryDelay         = time.Second
	maxRetryJitterMillis   = 250
	forwardBodySeparator   = "------ Message content below ------"
)

var errNoManagers = errors.New("at least one manager address is required")

// ForwardDispatcher hands a matched reply over for delivery to the managers.
type ForwardDispatcher interface {
	Dispatch(ctx context.Context, job domain.ForwardJob) error
}

// ForwardService delivers reply copies to every manager address directly.
type ForwardService struct {
	sender      mailer.Sender
	actions     repository.ActionLogRepository
	managers    []string
	logger      *zap.Logger
	metrics     *observability.Metrics
	maxAttempts int
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	randIntn    func(n int) int
}

func NewForwardService(
	sender mailer.Sender,
	actions repository.ActionLogRepository,
	managers []string,
	logger *zap.Logger,
) (*ForwardService, error) {
	if sender == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	if actions == nil {
		return nil, fmt.Errorf("action log repository is required")
	}
	cleaned, err := normalizeManagers(managers)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ForwardService{
		sender:      sender,
		actions:     actions,
		managers:    cleaned,
		logger:      logger,
		maxAttempts: defaultForwardAttempts,
		now:         time.Now,
		sleep:       sleepContext,
		randIntn:    rand.Intn,
	}, nil
}

func (s *ForwardService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *ForwardService) Managers() []string {
	return append([]string(nil), s.managers...)
}

// Dispatch sends job to every manager. A failure for one manager does not
// stop the others; all failures are joined into the returned error.
func (s *ForwardService) Dispatch(ctx context.Context, job domain.ForwardJob) error {
	var errs []error
	for _, recipient := range s.managers {
		if err := s.DeliverTo(ctx, job, recipient); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeliverTo forwards job to one recipient, retrying transient transport
// failures, and records the outcome in the action log.
func (s *ForwardService) DeliverTo(ctx context.Context, job domain.ForwardJob, recipient string) error {
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("contactId", job.ContactID),
		zap.String("recipient", recipient),
	)
	email := ForwardEmail(job, recipient)

	var sendErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		_, sendErr = s.sender.Send(ctx, email)
		if sendErr == nil || !mailer.IsTransient(sendErr) || attempt == s.maxAttempts {
			break
		}
		delay := s.computeRetryDelay(attempt)
		logger.Warn("forward failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(sendErr),
		)
		if err := s.sleep(ctx, delay); err != nil {
			sendErr = errors.Join(sendErr, err)
			break
		}
	}

	if sendErr != nil {
		s.metrics.IncForward("failed")
		logger.Error("failed to forward reply", zap.Error(sendErr))
		s.appendLog(ctx, logger, job.ContactID, domain.ActionForwardFailed, fmt.Sprintf("to=%s: %v", recipient, sendErr))
		return fmt.Errorf("forward to %s: %w", recipient, sendErr)
	}

	s.metrics.IncForward("sent")
	logger.Info("reply forwarded")
	s.appendLog(ctx, logger, job.ContactID, domain.ActionForwarded, "to="+recipient)
	return nil
}

func (s *ForwardService) appendLog(ctx context.Context, logger *zap.Logger, contactID string, kind domain.ActionKind, details string) {
	err := s.actions.Append(context.WithoutCancel(ctx), &domain.ActionLog{
		ContactID: contactID,
		Kind:      kind,
		Details:   details,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		logger.Error("failed to append action log", zap.String("kind", kind.String()), zap.Error(err))
	}
}

func (s *ForwardService) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if s.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = s.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

// ForwardEmail builds the copy of a reply sent to one manager. Reply-To
// points at the original sender so the manager can answer directly.
func ForwardEmail(job domain.ForwardJob, recipient string) mailer.OutboundEmail {
	subject := strings.TrimSpace(job.Subject)
	if subject == "" {
		subject = "(no subject)"
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Forwarding a reply from %s\n", job.Sender)
	if !job.SentAt.IsZero() {
		fmt.Fprintf(&body, "Sent: %s\n", job.SentAt.UTC().Format(time.RFC1123Z))
	}
	fmt.Fprintf(&body, "Received: %s\n", job.ReplyAt.UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&body, "Original subject: %s\n\n", subject)
	body.WriteString(forwardBodySeparator)
	body.WriteString("\n\n")
	body.WriteString(job.Body)

	return mailer.OutboundEmail{
		To:      recipient,
		ReplyTo: job.Sender,
		Subject: fmt.Sprintf("FWD: Reply from %s - %s", job.Sender, subject),
		Body:    body.String(),
	}
}

// QueuedForwarder publishes one broker message per manager instead of
// sending inline. ForwardWorker performs the delivery.
type QueuedForwarder struct {
	publisher queue.Publisher
	managers  []string
}

func NewQueuedForwarder(publisher queue.Publisher, managers []string) (*QueuedForwarder, error) {
	if publisher == nil {
		return nil, fmt.Errorf("queue publisher is required")
	}
	cleaned, err := normalizeManagers(managers)
	if err != nil {
		return nil, err
	}
	return &QueuedForwarder{publisher: publisher, managers: cleaned}, nil
}

func (f *QueuedForwarder) Dispatch(ctx context.Context, job domain.ForwardJob) error {
	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	for _, recipient := range f.managers {
		msg := queue.ForwardMessage{Job: job, Recipient: recipient, CorrelationID: correlationID}
		if err := f.publisher.Publish(ctx, queue.ForwardQueue, msg); err != nil {
			return fmt.Errorf("failed to publish forward for %s: %w", recipient, err)
		}
	}
	return nil
}

// ForwardWorker consumes queued forwards and delivers them.
type ForwardWorker struct {
	consumer    queue.Consumer
	forwarder   *ForwardService
	logger      *zap.Logger
	concurrency int
}

func NewForwardWorker(consumer queue.Consumer, forwarder *ForwardService, concurrency int, logger *zap.Logger) (*ForwardWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if forwarder == nil {
		return nil, fmt.Errorf("forward service is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForwardWorker{
		consumer:    consumer,
		forwarder:   forwarder,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the forward queue until context cancellation.
func (w *ForwardWorker) Start(ctx context.Context) error {
	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("forward worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			if err := w.consumer.Consume(groupCtx, queueName, w.processMessage); err != nil {
				w.logger.Error("forward worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}
			w.logger.Info("forward worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *ForwardWorker) processMessage(ctx context.Context, msg queue.ForwardMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid forward message: %w", err)
	}
	return w.forwarder.DeliverTo(ctx, msg.Job, msg.Recipient)
}

func normalizeManagers(managers []string) ([]string, error) {
	seen := make(map[string]struct{}, len(managers))
	out := make([]string, 0, len(managers))
	for _, m := range managers {
		addr := domain.NormalizeEmail(m)
		if addr == "" {
			continue
		}
		if err := domain.ValidateEmail(addr); err != nil {
			return nil, fmt.Errorf("invalid manager address: %w", err)
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	if len(out) == 0 {
		return nil, errNoManagers
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
