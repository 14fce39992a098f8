package mailer

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// composeMessage renders email as an RFC 5322 message and returns it together
// with its Message-ID.
func composeMessage(from *mail.Address, email OutboundEmail, now time.Time) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{{Address: email.To}})
	if email.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: email.ReplyTo}})
	}
	h.SetSubject(email.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("generate message id: %w", err)
	}
	messageID, err := h.MessageID()
	if err != nil {
		return nil, "", fmt.Errorf("read message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, email.Body); err != nil {
		return nil, "", fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close message writer: %w", err)
	}

	return buf.Bytes(), messageID, nil
}
