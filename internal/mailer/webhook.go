package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	ReplyTo string `json:"replyTo,omitempty"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// WebhookSender posts mail to an HTTP relay that sends from the operator's
// address.
type WebhookSender struct {
	client   *resty.Client
	endpoint string
	from     string
}

func NewWebhookSender(endpoint, from, token string) (*WebhookSender, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	if token != "" {
		client.SetAuthToken(token)
	}

	return NewWebhookSenderWithClient(endpoint, from, client)
}

func NewWebhookSenderWithClient(endpoint, from string, client *resty.Client) (*WebhookSender, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("from address is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookSender{
		client:   client,
		endpoint: trimmedEndpoint,
		from:     from,
	}, nil
}

func (s *WebhookSender) Send(ctx context.Context, email OutboundEmail) (*SendReceipt, error) {
	if strings.TrimSpace(email.To) == "" {
		return nil, &TransportError{Op: "send", Message: "recipient is required"}
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookRequest{
			From:    s.from,
			To:      email.To,
			ReplyTo: email.ReplyTo,
			Subject: email.Subject,
			Text:    email.Body,
		}).
		Post(s.endpoint)
	if err != nil {
		return nil, &TransportError{
			Op:        "webhook send",
			Message:   "relay request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendReceipt{MessageID: relayMessageID(response)}, nil
	}

	msg := fmt.Sprintf("relay returned status %d", statusCode)
	if body != "" {
		msg = fmt.Sprintf("%s: %s", msg, body)
	}
	return nil, &TransportError{
		Op:         "webhook send",
		StatusCode: statusCode,
		Message:    msg,
		Transient:  statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError,
	}
}

func relayMessageID(response *resty.Response) string {
	for _, key := range []string{"X-Message-ID", "X-Request-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}
	return ""
}
