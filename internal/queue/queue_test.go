package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestQueueNames(t *testing.T) {
	work := WorkQueueNames()
	if len(work) != 1 || work[0] != ForwardQueue {
		t.Fatalf("WorkQueueNames() = %v, want [%s]", work, ForwardQueue)
	}

	if got := DLQName(ForwardQueue); got != "dlq.outreach.forwards" {
		t.Fatalf("DLQName() = %s, want dlq.outreach.forwards", got)
	}
}

func TestForwardMessageValidate(t *testing.T) {
	msg := ForwardMessage{
		Job: domain.ForwardJob{
			ContactID: "c1",
			Sender:    "ana@example.com",
			ReplyAt:   time.Unix(1_700_000_000, 0),
		},
		Recipient: "boss@example.com",
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.Job.ContactID = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty contact id")
	}

	msg.Job.ContactID = "c1"
	msg.Recipient = "not-an-address"
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for invalid recipient")
	}
}

func TestForwardMessageID(t *testing.T) {
	job := domain.ForwardJob{ContactID: "c1", ReplyAt: time.Unix(0, 42)}
	a := ForwardMessage{Job: job, Recipient: "Boss@Example.com"}
	b := ForwardMessage{Job: job, Recipient: "boss@example.com"}
	c := ForwardMessage{Job: job, Recipient: "other@example.com"}

	if a.MessageID() != b.MessageID() {
		t.Fatalf("MessageID() differs by case: %s vs %s", a.MessageID(), b.MessageID())
	}
	if a.MessageID() == c.MessageID() {
		t.Fatal("MessageID() should differ per recipient")
	}
}

func TestTopologyDeclaresDLQFirst(t *testing.T) {
	decls := topology()
	if len(decls) != 2 {
		t.Fatalf("topology() len = %d, want 2", len(decls))
	}
	if decls[0].name != DLQName(ForwardQueue) || decls[0].bindDLX != ForwardQueue {
		t.Fatalf("first decl = %+v, want bound dlq", decls[0])
	}
	if decls[1].name != ForwardQueue {
		t.Fatalf("second decl = %s, want %s", decls[1].name, ForwardQueue)
	}
	if decls[1].args["x-dead-letter-routing-key"] != ForwardQueue {
		t.Fatalf("work queue args = %v", decls[1].args)
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, time.Second},
		{time.Second, 2 * time.Second},
		{16 * time.Second, 30 * time.Second},
		{30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.in); got != tt.want {
			t.Fatalf("nextBackoff(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func validForwardMessage() ForwardMessage {
	return ForwardMessage{
		Job: domain.ForwardJob{
			ContactID: "c1",
			Sender:    "ana@example.com",
			ReplyAt:   time.Unix(1_700_000_000, 0),
		},
		Recipient: "boss@example.com",
	}
}

func TestDecodeDelivery(t *testing.T) {
	t.Parallel()

	body, err := json.Marshal(validForwardMessage())
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	msg, err := decodeDelivery(amqp.Delivery{Type: forwardMessageType, CorrelationId: "corr-1", Body: body})
	if err != nil {
		t.Fatalf("decodeDelivery() error = %v", err)
	}
	if msg.CorrelationID != "corr-1" {
		t.Fatalf("CorrelationID = %q, want corr-1", msg.CorrelationID)
	}
	if msg.Recipient != "boss@example.com" {
		t.Fatalf("Recipient = %q", msg.Recipient)
	}

	if _, err := decodeDelivery(amqp.Delivery{Body: []byte("{")}); err == nil {
		t.Fatal("expected error for invalid json")
	}
	if _, err := decodeDelivery(amqp.Delivery{Type: "other", Body: body}); err == nil {
		t.Fatal("expected error for foreign message type")
	}
	if _, err := decodeDelivery(amqp.Delivery{Body: []byte(`{"recipient":"boss@example.com"}`)}); err == nil {
		t.Fatal("expected error for missing job")
	}
}

func TestPublisherEncode(t *testing.T) {
	t.Parallel()

	p := &RabbitMQPublisher{now: func() time.Time { return time.Unix(10, 0) }}
	msg := validForwardMessage()
	msg.CorrelationID = "corr-2"

	pub, err := p.encode(ForwardQueue, msg)
	if err != nil {
		t.Fatalf("encode() error = %v", err)
	}
	if pub.MessageId != msg.MessageID() || pub.CorrelationId != "corr-2" {
		t.Fatalf("publishing ids = %q/%q", pub.MessageId, pub.CorrelationId)
	}
	if pub.DeliveryMode != amqp.Persistent || pub.Type != forwardMessageType {
		t.Fatalf("publishing = %+v", pub)
	}

	if _, err := p.encode("", msg); err == nil {
		t.Fatal("expected error for empty queue")
	}
	msg.Recipient = "nope"
	if _, err := p.encode(ForwardQueue, msg); err == nil {
		t.Fatal("expected error for invalid message")
	}
}
