package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/mailer"
	"github.com/kursadbilgin/outreach-engine/internal/queue"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
)

// memoryContactRepo mirrors the conditional updates of the Gorm repository.
type memoryContactRepo struct {
	mu       sync.Mutex
	contacts map[string]*domain.Contact
	actions  *memoryActionLog

	findErr       error
	applySendHook func(id string)
}

func newMemoryContactRepo(actions *memoryActionLog, contacts ...domain.Contact) *memoryContactRepo {
	r := &memoryContactRepo{contacts: make(map[string]*domain.Contact), actions: actions}
	for i := range contacts {
		c := contacts[i]
		r.contacts[c.ID] = &c
	}
	return r
}

func (r *memoryContactRepo) get(id string) domain.Contact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.contacts[id]
}

func (r *memoryContactRepo) sorted() []domain.Contact {
	out := make([]domain.Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryContactRepo) Import(ctx context.Context, contacts []*domain.Contact) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var inserted int64
	for _, c := range contacts {
		exists := false
		for _, existing := range r.contacts {
			if strings.EqualFold(existing.Email, c.Email) {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		copied := *c
		copied.ID = fmt.Sprintf("c%d", len(r.contacts)+1)
		r.contacts[copied.ID] = &copied
		inserted++
	}
	return inserted, nil
}

func (r *memoryContactRepo) GetByID(ctx context.Context, id string) (*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *memoryContactRepo) FindByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if strings.EqualFold(c.Email, email) {
			copied := *c
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memoryContactRepo) FindDueForInitial(ctx context.Context) ([]domain.Contact, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Contact
	for _, c := range r.sorted() {
		if !c.Replied && c.InitialSentAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryContactRepo) FindDueForFollowup(ctx context.Context, maxFollowups int) ([]domain.Contact, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Contact
	for _, c := range r.sorted() {
		if !c.Replied && c.InitialSentAt != nil && c.FollowupCount < maxFollowups {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memoryContactRepo) List(ctx context.Context, params repository.ContactListParams) ([]domain.Contact, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Contact
	for _, c := range r.sorted() {
		if params.Replied != nil && c.Replied != *params.Replied {
			continue
		}
		out = append(out, c)
	}
	return out, int64(len(out)), nil
}

func (r *memoryContactRepo) ApplySendOutcome(ctx context.Context, id string, outcome domain.SendOutcome) (bool, error) {
	if r.applySendHook != nil {
		r.applySendHook(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contacts[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	kind := domain.ActionInitialSent
	applied := false
	at := outcome.At
	switch outcome.Decision {
	case domain.DecisionSendInitial:
		if !c.Replied && c.InitialSentAt == nil {
			c.InitialSentAt = &at
			applied = true
		}
	case domain.DecisionSendFollowup:
		kind = domain.ActionFollowupSent
		if !c.Replied && c.InitialSentAt != nil &&
			c.FollowupCount == outcome.FollowupNumber-1 && c.FollowupCount < outcome.MaxFollowups {
			c.FollowupCount++
			c.LastFollowupAt = &at
			applied = true
		}
	default:
		return false, domain.ErrValidation
	}
	if applied {
		c.LastContactAt = &at
	}
	details := outcome.Details
	if !applied {
		details = "contact state changed before update; " + details
	}
	r.actions.add(domain.ActionLog{ContactID: id, Kind: kind, Details: details, CreatedAt: at})
	return applied, nil
}

func (r *memoryContactRepo) ApplyReply(ctx context.Context, id string, at time.Time, details string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	kind := domain.ActionReplyRepeated
	applied := false
	if !c.Replied {
		c.Replied = true
		c.ReplyAt = &at
		c.LastContactAt = &at
		kind = domain.ActionReplyReceived
		applied = true
	}
	r.actions.add(domain.ActionLog{ContactID: id, Kind: kind, Details: details, CreatedAt: at})
	return applied, nil
}

func (r *memoryContactRepo) SetCustomFollowupTime(ctx context.Context, id string, value *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.CustomFollowupTime = value
	return nil
}

func (r *memoryContactRepo) Stats(ctx context.Context, maxFollowups int) (domain.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s domain.Stats
	for _, c := range r.contacts {
		s.Total++
		if c.InitialSentAt != nil {
			s.InitialSent++
		}
		if c.Replied {
			s.Replied++
		}
		if c.InitialSentAt != nil && !c.Replied && c.FollowupCount < maxFollowups {
			s.PendingFollowup++
		}
	}
	return s, nil
}

type memoryActionLog struct {
	mu      sync.Mutex
	entries []domain.ActionLog
}

func (l *memoryActionLog) add(entry domain.ActionLog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *memoryActionLog) Append(ctx context.Context, entry *domain.ActionLog) error {
	l.add(*entry)
	return nil
}

func (l *memoryActionLog) ListRecent(ctx context.Context, limit int) ([]domain.ActionLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ActionLog, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

func (l *memoryActionLog) kinds() []domain.ActionKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ActionKind, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.Kind)
	}
	return out
}

func (l *memoryActionLog) count(kind domain.ActionKind) int {
	n := 0
	for _, k := range l.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type fakeSettingsRepo struct {
	mu       sync.Mutex
	settings domain.CampaignSettings
	getErr   error
}

func (r *fakeSettingsRepo) Get(ctx context.Context) (domain.CampaignSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return domain.CampaignSettings{}, r.getErr
	}
	return r.settings, nil
}

func (r *fakeSettingsRepo) Update(ctx context.Context, fn func(*domain.CampaignSettings) error) (domain.CampaignSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.settings
	if err := fn(&next); err != nil {
		return domain.CampaignSettings{}, err
	}
	if err := next.Validate(); err != nil {
		return domain.CampaignSettings{}, err
	}
	r.settings = next
	return next, nil
}

type fakeTemplateRepo struct {
	saved map[domain.TemplateKind]domain.Template
}

func (r *fakeTemplateRepo) Get(ctx context.Context, kind domain.TemplateKind) (domain.Template, error) {
	if t, ok := r.saved[kind]; ok {
		return t, nil
	}
	return domain.DefaultTemplate(kind), nil
}

func (r *fakeTemplateRepo) Save(ctx context.Context, t domain.Template) error {
	if r.saved == nil {
		r.saved = make(map[domain.TemplateKind]domain.Template)
	}
	r.saved[t.Kind] = t
	return nil
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []mailer.OutboundEmail
	sendFn func(ctx context.Context, email mailer.OutboundEmail) (*mailer.SendReceipt, error)
}

func (s *fakeSender) Send(ctx context.Context, email mailer.OutboundEmail) (*mailer.SendReceipt, error) {
	s.mu.Lock()
	s.sent = append(s.sent, email)
	s.mu.Unlock()
	if s.sendFn != nil {
		return s.sendFn(ctx, email)
	}
	return &mailer.SendReceipt{MessageID: "<msg@test>"}, nil
}

func (s *fakeSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, e := range s.sent {
		out = append(out, e.To)
	}
	return out
}

type fakePacer struct {
	mu     sync.Mutex
	calls  []time.Duration
	waitFn func(ctx context.Context, key string, spacing time.Duration) error
}

func (p *fakePacer) Wait(ctx context.Context, key string, spacing time.Duration) error {
	p.mu.Lock()
	p.calls = append(p.calls, spacing)
	p.mu.Unlock()
	if p.waitFn != nil {
		return p.waitFn(ctx, key, spacing)
	}
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
	err      error
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return "", false, nil
	}
	l.held[key] = true
	l.acquired = append(l.acquired, key)
	return "token-" + key, true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if token == "token-"+key {
		delete(l.held, key)
	}
	return nil
}

type fakeMailbox struct {
	messages  []domain.InboundMessage
	fetchErr  error
	markErr   error
	consumed  []domain.MessageRef
	fetchCall int
}

func (m *fakeMailbox) FetchUnseen(ctx context.Context) ([]domain.InboundMessage, error) {
	m.fetchCall++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.messages, nil
}

func (m *fakeMailbox) MarkConsumed(ctx context.Context, ref domain.MessageRef) error {
	m.consumed = append(m.consumed, ref)
	return m.markErr
}

type fakeDispatcher struct {
	jobs       []domain.ForwardJob
	dispatchFn func(ctx context.Context, job domain.ForwardJob) error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, job domain.ForwardJob) error {
	d.jobs = append(d.jobs, job)
	if d.dispatchFn != nil {
		return d.dispatchFn(ctx, job)
	}
	return nil
}

type fakePublisher struct {
	published []queue.ForwardMessage
	queues    []string
	publishFn func(ctx context.Context, queue string, msg queue.ForwardMessage) error
}

func (p *fakePublisher) Publish(ctx context.Context, q string, msg queue.ForwardMessage) error {
	if p.publishFn != nil {
		if err := p.publishFn(ctx, q, msg); err != nil {
			return err
		}
	}
	p.queues = append(p.queues, q)
	p.published = append(p.published, msg)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
}

func (c *fakeConsumer) Consume(ctx context.Context, q string, handler queue.MessageHandler) error {
	if c.consumeFn != nil {
		return c.consumeFn(ctx, q, handler)
	}
	<-ctx.Done()
	return nil
}

func (c *fakeConsumer) Close() error { return nil }

type fakePassRunner struct {
	mu    sync.Mutex
	calls []PassRequest
	runFn func(ctx context.Context, req PassRequest) (*PassResult, error)
}

func (r *fakePassRunner) RunPass(ctx context.Context, req PassRequest) (*PassResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()
	if r.runFn != nil {
		return r.runFn(ctx, req)
	}
	return &PassResult{Kind: req.Kind}, nil
}

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }
