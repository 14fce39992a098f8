package mailer

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
)

// ParseMessage extracts sender, subject, date and the reply text from a raw
// message. The body is the first text/plain part that is not an attachment;
// messages without one fall back to their first inline text part.
func ParseMessage(ref domain.MessageRef, raw []byte) (domain.InboundMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		return domain.InboundMessage{}, fmt.Errorf("parse message %s: %w", ref, err)
	}
	defer mr.Close()

	msg := domain.InboundMessage{Ref: ref}
	if from, err := mr.Header.Text("From"); err == nil {
		msg.From = from
	} else {
		msg.From = mr.Header.Get("From")
	}
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = mr.Header.Get("Subject")
	}
	if date, err := mr.Header.Date(); err == nil {
		msg.Date = date
	}
	if id, err := mr.Header.MessageID(); err == nil {
		msg.MessageID = id
	}

	var fallback string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				continue
			}
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}
		if !strings.HasPrefix(contentType, "text/") {
			continue
		}

		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}
		if contentType == "text/plain" {
			msg.Body = strings.TrimSpace(string(body))
			return msg, nil
		}
		if fallback == "" {
			fallback = strings.TrimSpace(string(body))
		}
	}

	msg.Body = fallback
	return msg, nil
}
