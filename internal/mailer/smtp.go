package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

const defaultSMTPTimeout = 30 * time.Second

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	FromName    string
	ImplicitTLS bool
	Timeout     time.Duration
}

// SMTPSender delivers mail through the operator's own mailbox so replies come
// back to the inbox the poller reads.
type SMTPSender struct {
	cfg  SMTPConfig
	from *mail.Address
	now  func() time.Time
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp port is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}

	return &SMTPSender{
		cfg:  cfg,
		from: &mail.Address{Name: cfg.FromName, Address: cfg.From},
		now:  time.Now,
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, email OutboundEmail) (*SendReceipt, error) {
	if strings.TrimSpace(email.To) == "" {
		return nil, &TransportError{Op: "send", Message: "recipient is required"}
	}

	raw, messageID, err := composeMessage(s.from, email, s.now())
	if err != nil {
		return nil, &TransportError{Op: "compose", Cause: err}
	}

	client, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.Mail(s.cfg.From); err != nil {
		return nil, wrapSMTPError("smtp MAIL FROM", err)
	}
	if err := client.Rcpt(email.To); err != nil {
		return nil, wrapSMTPError("smtp RCPT TO", err)
	}
	w, err := client.Data()
	if err != nil {
		return nil, wrapSMTPError("smtp DATA", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, wrapSMTPError("smtp DATA", err)
	}
	if err := w.Close(); err != nil {
		return nil, wrapSMTPError("smtp DATA", err)
	}
	_ = client.Quit()

	return &SendReceipt{MessageID: messageID}, nil
}

func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if s.cfg.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &TransportError{Op: "smtp dial", Transient: true, Cause: err}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.cfg.Timeout)
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, wrapSMTPError("smtp greeting", err)
	}

	if !s.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				_ = client.Close()
				return nil, wrapSMTPError("smtp STARTTLS", err)
			}
		}
	}

	if s.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
			if err := client.Auth(auth); err != nil {
				_ = client.Close()
				return nil, wrapSMTPError("smtp AUTH", err)
			}
		}
	}

	return client, nil
}
