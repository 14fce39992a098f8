package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

func TestWebhookSenderSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody webhookRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.Header().Set("X-Message-ID", "relay-1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	s, err := NewWebhookSender(server.URL, "me@example.com", "secret")
	if err != nil {
		t.Fatalf("NewWebhookSender() error = %v", err)
	}

	receipt, err := s.Send(context.Background(), OutboundEmail{
		To:      "ana@example.com",
		Subject: "Hi",
		Body:    "hello",
	})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}
	if receipt.MessageID != "relay-1" {
		t.Fatalf("MessageID = %q, want relay-1", receipt.MessageID)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotBody.From != "me@example.com" || gotBody.To != "ana@example.com" || gotBody.Text != "hello" {
		t.Fatalf("request body = %+v", gotBody)
	}
}

func TestWebhookSenderClassifiesFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{name: "server error", status: http.StatusBadGateway, wantTransient: true},
		{name: "throttled", status: http.StatusTooManyRequests, wantTransient: true},
		{name: "rejected", status: http.StatusUnprocessableEntity, wantTransient: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			s, err := NewWebhookSender(server.URL, "me@example.com", "")
			if err != nil {
				t.Fatalf("NewWebhookSender() error = %v", err)
			}

			_, err = s.Send(context.Background(), OutboundEmail{To: "ana@example.com", Subject: "s", Body: "b"})
			var transportErr *TransportError
			if !errors.As(err, &transportErr) {
				t.Fatalf("Send() error = %v, want *TransportError", err)
			}
			if transportErr.StatusCode != tt.status {
				t.Fatalf("StatusCode = %d, want %d", transportErr.StatusCode, tt.status)
			}
			if IsTransient(err) != tt.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", IsTransient(err), tt.wantTransient)
			}
		})
	}
}

func TestWebhookSenderTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New().SetTimeout(20 * time.Millisecond)
	s, err := NewWebhookSenderWithClient(server.URL, "me@example.com", client)
	if err != nil {
		t.Fatalf("NewWebhookSenderWithClient() error = %v", err)
	}

	_, err = s.Send(context.Background(), OutboundEmail{To: "ana@example.com"})
	if !IsTransient(err) {
		t.Fatalf("IsTransient(%v) = false, want true", err)
	}
}

func TestNewWebhookSenderValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewWebhookSender("", "me@example.com", ""); err == nil {
		t.Fatal("NewWebhookSender() with empty endpoint should fail")
	}
	if _, err := NewWebhookSender("http://relay", "", ""); err == nil {
		t.Fatal("NewWebhookSender() with empty from should fail")
	}
}
