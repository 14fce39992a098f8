package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/lock"
	"go.uber.org/zap"
)

func newTestReplyService(t *testing.T, mailbox *fakeMailbox, dispatcher *fakeDispatcher, locker lock.Locker, contacts ...domain.Contact) (*ReplyService, *memoryContactRepo) {
	t.Helper()

	r, repo, _ := newTestReconciler(t, contacts...)
	svc, err := NewReplyService(mailbox, r, dispatcher, locker, zap.NewNop())
	if err != nil {
		t.Fatalf("NewReplyService() error = %v", err)
	}
	svc.now = func() time.Time { return testNow }
	return svc, repo
}

func TestReplyServicePoll(t *testing.T) {
	t.Parallel()

	mailbox := &fakeMailbox{messages: []domain.InboundMessage{
		{Ref: "1", From: "Ana <ana@example.com>", Subject: "Re: hello", Body: "interested", Date: testNow.Add(-time.Minute)},
		{Ref: "2", From: "stranger@example.com", Subject: "hi"},
		{Ref: "3", From: "ana@example.com", Subject: "Re: hello again", Body: "call me"},
	}}
	dispatcher := &fakeDispatcher{}
	svc, repo := newTestReplyService(t, mailbox, dispatcher, &fakeLocker{},
		domain.Contact{ID: "c1", Email: "ana@example.com", InitialSentAt: timePtr(testNow.Add(-time.Hour))},
	)

	result, err := svc.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if result.Fetched != 3 || result.Matched != 2 || result.FirstReply != 1 || result.Unmatched != 1 || result.Forwarded != 2 {
		t.Fatalf("result = %+v", result)
	}

	if len(dispatcher.jobs) != 2 {
		t.Fatalf("dispatched = %d, want 2 (repeat replies are forwarded too)", len(dispatcher.jobs))
	}
	job := dispatcher.jobs[0]
	if job.ContactID != "c1" || job.Sender != "ana@example.com" || job.Subject != "Re: hello" || job.Body != "interested" {
		t.Fatalf("job = %+v", job)
	}
	if !job.SentAt.Equal(testNow.Add(-time.Minute)) || !job.ReplyAt.Equal(testNow) {
		t.Fatalf("job times = sent %v, received %v", job.SentAt, job.ReplyAt)
	}
	if len(mailbox.consumed) != 2 || mailbox.consumed[0] != "1" || mailbox.consumed[1] != "3" {
		t.Fatalf("consumed = %v, want [1 3]; unmatched mail stays unseen", mailbox.consumed)
	}
	if !repo.get("c1").Replied {
		t.Fatal("contact should be marked replied")
	}
}

func TestReplyServiceForwardFailureStillConsumes(t *testing.T) {
	t.Parallel()

	mailbox := &fakeMailbox{messages: []domain.InboundMessage{{Ref: "9", From: "ana@example.com"}}}
	dispatcher := &fakeDispatcher{dispatchFn: func(ctx context.Context, job domain.ForwardJob) error {
		return errors.New("relay rejected")
	}}
	svc, repo := newTestReplyService(t, mailbox, dispatcher, nil,
		domain.Contact{ID: "c1", Email: "ana@example.com"},
	)

	result, err := svc.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if result.Failed != 1 || result.Forwarded != 0 {
		t.Fatalf("result = %+v, want one failed forward", result)
	}
	if len(mailbox.consumed) != 1 {
		t.Fatalf("consumed = %v, want message marked after forward attempt", mailbox.consumed)
	}
	if !repo.get("c1").Replied {
		t.Fatal("reply must be recorded even when forwarding fails")
	}
}

func TestReplyServiceFetchError(t *testing.T) {
	t.Parallel()

	locker := &fakeLocker{}
	mailbox := &fakeMailbox{fetchErr: errors.New("imap down")}
	svc, _ := newTestReplyService(t, mailbox, &fakeDispatcher{}, locker)

	if _, err := svc.Poll(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if len(locker.held) != 0 {
		t.Fatal("poll lock should be released")
	}
}

func TestReplyServiceConcurrentPoll(t *testing.T) {
	t.Parallel()

	mailbox := &fakeMailbox{}
	svc, _ := newTestReplyService(t, mailbox, &fakeDispatcher{}, &fakeLocker{held: map[string]bool{replyPassLockKey: true}})

	_, err := svc.Poll(context.Background())
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Poll() error = %v, want ErrConflict", err)
	}
	if mailbox.fetchCall != 0 {
		t.Fatal("mailbox must not be fetched without the lock")
	}
}

func TestReplyServiceFallsBackToLocalLocker(t *testing.T) {
	t.Parallel()

	svc, _ := newTestReplyService(t, &fakeMailbox{}, &fakeDispatcher{}, nil)
	local, ok := svc.locker.(*lock.LocalLocker)
	if !ok {
		t.Fatalf("locker = %T, want *lock.LocalLocker", svc.locker)
	}

	if _, held, _ := local.Acquire(context.Background(), replyPassLockKey, time.Minute); !held {
		t.Fatal("Acquire() should succeed while no poll runs")
	}
	if _, err := svc.Poll(context.Background()); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Poll() error = %v, want ErrConflict while the lease is held", err)
	}
}
