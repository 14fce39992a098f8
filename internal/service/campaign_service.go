package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/lock"
	"github.com/kursadbilgin/outreach-engine/internal/mailer"
	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"github.com/kursadbilgin/outreach-engine/internal/ratelimit"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultPassLockTTL = 2 * time.Hour
	sendPaceKey        = "campaign-send"
)

// PassKind selects which sends a batch pass may perform.
type PassKind string

const (
	PassInitial  PassKind = "INITIAL"
	PassFollowup PassKind = "FOLLOWUP"
)

func (k PassKind) String() string { return string(k) }

func (k PassKind) IsValid() bool {
	switch k {
	case PassInitial, PassFollowup:
		return true
	}
	return false
}

func ParsePassKindFromString(s string) (PassKind, error) {
	k := PassKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid pass kind %q", domain.ErrValidation, s)
	}
	return k, nil
}

func (k PassKind) allows(d domain.Decision) bool {
	switch k {
	case PassInitial:
		return d == domain.DecisionSendInitial
	case PassFollowup:
		return d == domain.DecisionSendFollowup
	}
	return false
}

func (k PassKind) templateKind() domain.TemplateKind {
	if k == PassFollowup {
		return domain.TemplateFollowup
	}
	return domain.TemplateInitial
}

// PassRequest describes one batch pass. Settings is the snapshot the pass
// runs against; nil means read the current document.
type PassRequest struct {
	Kind     PassKind
	Trigger  domain.Trigger
	Settings *domain.CampaignSettings
}

type PassResult struct {
	PassID          string    `json:"passId"`
	Kind            PassKind  `json:"kind"`
	Considered      int       `json:"considered"`
	Sent            int       `json:"sent"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	IntegrityErrors int       `json:"integrityErrors"`
	StaleUpdates    int       `json:"staleUpdates"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// CampaignService runs batch send passes over the contact list. Contacts are
// processed one at a time; a failure for one contact never stops the pass.
type CampaignService struct {
	contacts  repository.ContactRepository
	actions   repository.ActionLogRepository
	settings  repository.SettingsRepository
	templates repository.TemplateRepository
	sender    mailer.Sender
	pacer     ratelimit.Pacer
	fallback  ratelimit.Pacer
	locker    lock.Locker
	logger    *zap.Logger
	metrics   *observability.Metrics
	lockTTL   time.Duration
	now       func() time.Time
}

func NewCampaignService(
	contacts repository.ContactRepository,
	actions repository.ActionLogRepository,
	settings repository.SettingsRepository,
	templates repository.TemplateRepository,
	sender mailer.Sender,
	pacer ratelimit.Pacer,
	locker lock.Locker,
	logger *zap.Logger,
) (*CampaignService, error) {
	if contacts == nil || actions == nil || settings == nil || templates == nil {
		return nil, fmt.Errorf("campaign repositories are required")
	}
	if sender == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	fallback := ratelimit.NewLocalPacer()
	if pacer == nil {
		pacer = fallback
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		contacts:  contacts,
		actions:   actions,
		settings:  settings,
		templates: templates,
		sender:    sender,
		pacer:     pacer,
		fallback:  fallback,
		locker:    locker,
		logger:    logger,
		lockTTL:   defaultPassLockTTL,
		now:       time.Now,
	}, nil
}

func (s *CampaignService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// RunPass executes one batch pass. Only one pass of a kind runs at a time
// across all processes; a concurrent request gets ErrConflict.
func (s *CampaignService) RunPass(ctx context.Context, req PassRequest) (*PassResult, error) {
	if !req.Kind.IsValid() {
		return nil, fmt.Errorf("%w: invalid pass kind %q", domain.ErrValidation, req.Kind)
	}

	ctx, passID := observability.EnsureCorrelationID(ctx)
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("pass", req.Kind.String()))
	started := s.now()
	passLabel := strings.ToLower(req.Kind.String())

	var settings domain.CampaignSettings
	if req.Settings != nil {
		settings = *req.Settings
	} else {
		current, err := s.settings.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load campaign settings: %w", err)
		}
		settings = current
	}

	release, err := s.acquirePassLock(ctx, "pass:"+passLabel)
	if err != nil {
		return nil, err
	}
	defer release()

	tmpl, err := s.templates.Get(ctx, req.Kind.templateKind())
	if err != nil {
		s.metrics.ObservePass(passLabel, "error", s.now().Sub(started))
		return nil, fmt.Errorf("failed to load %s template: %w", req.Kind, err)
	}

	var contacts []domain.Contact
	if req.Kind == PassInitial {
		contacts, err = s.contacts.FindDueForInitial(ctx)
	} else {
		contacts, err = s.contacts.FindDueForFollowup(ctx, settings.MaxFollowups)
	}
	if err != nil {
		s.metrics.ObservePass(passLabel, "error", s.now().Sub(started))
		return nil, fmt.Errorf("failed to load contacts for %s pass: %w", req.Kind, err)
	}

	result := &PassResult{
		PassID:     passID,
		Kind:       req.Kind,
		Considered: len(contacts),
		StartedAt:  started.UTC(),
	}

	for i := range contacts {
		if ctx.Err() != nil {
			logger.Warn("pass interrupted", zap.Int("remaining", len(contacts)-i))
			break
		}
		s.processContact(ctx, logger, contacts[i], settings, req, tmpl, result)
	}

	result.FinishedAt = s.now().UTC()
	status := "ok"
	if ctx.Err() != nil {
		status = "canceled"
	}
	s.metrics.ObservePass(passLabel, status, result.FinishedAt.Sub(started))

	level := zap.DebugLevel
	if result.Sent > 0 || result.Failed > 0 || result.IntegrityErrors > 0 {
		level = zap.InfoLevel
	}
	logger.Log(level, "pass finished",
		zap.Int("considered", result.Considered),
		zap.Int("sent", result.Sent),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Int("integrityErrors", result.IntegrityErrors),
	)

	return result, ctx.Err()
}

func (s *CampaignService) processContact(
	ctx context.Context,
	logger *zap.Logger,
	contact domain.Contact,
	settings domain.CampaignSettings,
	req PassRequest,
	tmpl domain.Template,
	result *PassResult,
) {
	logger = logger.With(zap.String("contactId", contact.ID))

	action, ok := s.decide(ctx, logger, contact, settings, req.Trigger, result)
	if !ok {
		return
	}
	if !req.Kind.allows(action.Decision) {
		result.Skipped++
		return
	}

	if err := s.pace(ctx, logger, settings.InterSendDelay()); err != nil {
		return
	}

	// The pass list was read before pacing; a reply or another pass may have
	// moved the contact on since then.
	fresh, err := s.contacts.GetByID(ctx, contact.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			result.Skipped++
			return
		}
		result.Failed++
		logger.Warn("failed to reload contact before send, left for the next pass", zap.Error(err))
		return
	}
	recheck, ok := s.decide(ctx, logger, *fresh, settings, req.Trigger, result)
	if !ok {
		return
	}
	if recheck != action {
		result.Skipped++
		logger.Info("contact changed before send, skipped",
			zap.String("planned", action.Decision.String()),
			zap.String("now", recheck.Decision.String()),
		)
		return
	}
	contact = *fresh

	kindLabel := "initial"
	if action.Decision == domain.DecisionSendFollowup {
		kindLabel = "followup"
	}
	subject, body := tmpl.Render(contact, action.FollowupNumber)

	sendStart := s.now()
	receipt, err := s.sender.Send(ctx, mailer.OutboundEmail{
		To:      contact.Email,
		Subject: subject,
		Body:    body,
	})
	s.metrics.ObserveEmailSendDuration(kindLabel, s.now().Sub(sendStart))
	if err != nil {
		result.Failed++
		s.metrics.IncEmailFailed(kindLabel, mailer.FailureReason(err))
		logger.Warn("send failed, contact left for the next pass",
			zap.String("kind", kindLabel),
			zap.Bool("transient", mailer.IsTransient(err)),
			zap.Error(err),
		)
		s.appendLog(ctx, logger, contact.ID, domain.ActionSendFailed, fmt.Sprintf("%s: %v", kindLabel, err))
		return
	}
	result.Sent++
	s.metrics.IncEmailSent(kindLabel)

	details := fmt.Sprintf("subject=%q", subject)
	if action.FollowupNumber > 0 {
		details = fmt.Sprintf("followup=%d %s", action.FollowupNumber, details)
	}
	if receipt != nil && receipt.MessageID != "" {
		details += fmt.Sprintf(" messageId=%s", receipt.MessageID)
	}

	// The mail is out; record it even if the pass is being cancelled.
	applied, err := s.contacts.ApplySendOutcome(context.WithoutCancel(ctx), contact.ID, domain.SendOutcome{
		Decision:       action.Decision,
		FollowupNumber: action.FollowupNumber,
		MaxFollowups:   settings.MaxFollowups,
		At:             s.now().UTC(),
		Details:        details,
	})
	if err != nil {
		logger.Error("email sent but contact state was not recorded", zap.String("kind", kindLabel), zap.Error(err))
		return
	}
	if !applied {
		result.StaleUpdates++
		logger.Warn("contact changed while sending, state left as is", zap.String("kind", kindLabel))
	}
}

// decide runs the decision engine, recording integrity failures. ok is false
// when the contact must be skipped because its state cannot be trusted.
func (s *CampaignService) decide(
	ctx context.Context,
	logger *zap.Logger,
	contact domain.Contact,
	settings domain.CampaignSettings,
	trigger domain.Trigger,
	result *PassResult,
) (domain.Action, bool) {
	action, err := domain.Decide(contact, settings, s.now(), trigger)
	if err != nil {
		result.IntegrityErrors++
		s.metrics.IncDataIntegrityError()
		logger.Error("contact state is inconsistent, skipping", zap.Error(err))
		s.appendLog(ctx, logger, contact.ID, domain.ActionDataIntegrity, err.Error())
		return domain.Action{}, false
	}
	return action, true
}

// pace waits for the inter-send delay. If the shared pacer is unreachable the
// in-process one keeps spacing within this process.
func (s *CampaignService) pace(ctx context.Context, logger *zap.Logger, spacing time.Duration) error {
	err := s.pacer.Wait(ctx, sendPaceKey, spacing)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logger.Warn("shared pacer unavailable, pacing locally", zap.Error(err))
	return s.fallback.Wait(ctx, sendPaceKey, spacing)
}

func (s *CampaignService) acquirePassLock(ctx context.Context, key string) (func(), error) {
	return acquireLock(ctx, s.locker, key, s.lockTTL)
}

func (s *CampaignService) appendLog(ctx context.Context, logger *zap.Logger, contactID string, kind domain.ActionKind, details string) {
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

// Stats summarises the campaign against the current follow-up cap.
func (s *CampaignService) Stats(ctx context.Context) (domain.Stats, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("failed to load campaign settings: %w", err)
	}
	return s.contacts.Stats(ctx, settings.MaxFollowups)
}

// acquireLock takes an exclusive lease on key or fails with ErrConflict.
func acquireLock(ctx context.Context, locker lock.Locker, key string, ttl time.Duration) (func(), error) {
	token, ok, err := locker.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s lock: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s already running", domain.ErrConflict, key)
	}
	return func() {
		_ = locker.Release(context.WithoutCancel(ctx), key, token)
	}, nil
}
