package mailer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"go.uber.org/zap"
)

type IMAPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Mailbox     string
	ImplicitTLS bool
}

// IMAPMailbox reads replies from the operator's inbox. Each call opens its own
// session; the inbox is polled rarely enough that pooling is not needed.
type IMAPMailbox struct {
	cfg    IMAPConfig
	logger *zap.Logger
}

func NewIMAPMailbox(cfg IMAPConfig, logger *zap.Logger) (*IMAPMailbox, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("imap host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("imap port is required")
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IMAPMailbox{cfg: cfg, logger: logger}, nil
}

func (m *IMAPMailbox) FetchUnseen(ctx context.Context) ([]domain.InboundMessage, error) {
	client, stop, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer stop()

	data, err := client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, &TransportError{Op: "imap search", Transient: true, Cause: err}
	}

	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	section := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	defer fetchCmd.Close()

	messages := make([]domain.InboundMessage, 0, len(uids))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			m.logger.Warn("failed to collect message", zap.Error(err))
			continue
		}

		ref := domain.MessageRef(strconv.FormatUint(uint64(buf.UID), 10))
		raw := buf.FindBodySection(section)
		if raw == nil {
			m.logger.Warn("message has no body", zap.String("ref", string(ref)))
			continue
		}
		parsed, err := ParseMessage(ref, raw)
		if err != nil {
			m.logger.Warn("failed to parse message", zap.String("ref", string(ref)), zap.Error(err))
			continue
		}
		messages = append(messages, parsed)
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, &TransportError{Op: "imap fetch", Transient: true, Cause: err}
	}
	return messages, nil
}

func (m *IMAPMailbox) MarkConsumed(ctx context.Context, ref domain.MessageRef) error {
	uid, err := strconv.ParseUint(string(ref), 10, 32)
	if err != nil {
		return fmt.Errorf("invalid message ref %q: %w", ref, err)
	}

	client, stop, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer stop()

	err = client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil).Close()
	if err != nil {
		return &TransportError{Op: "imap store", Transient: true, Cause: err}
	}
	return nil
}

// connect logs in and selects the mailbox. The returned stop func logs out;
// cancelling ctx closes the connection so blocked commands return.
func (m *IMAPMailbox) connect(ctx context.Context) (*imapclient.Client, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var (
		client *imapclient.Client
		err    error
	)
	if m.cfg.ImplicitTLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, nil, &TransportError{Op: "imap dial", Transient: true, Cause: err}
	}

	release := context.AfterFunc(ctx, func() { _ = client.Close() })
	stop := func() {
		release()
		_ = client.Logout().Wait()
	}

	if err := client.Login(m.cfg.Username, m.cfg.Password).Wait(); err != nil {
		stop()
		return nil, nil, &TransportError{Op: "imap login", Message: "authentication failed", Cause: err}
	}
	if _, err := client.Select(m.cfg.Mailbox, nil).Wait(); err != nil {
		stop()
		return nil, nil, &TransportError{Op: "imap select", Transient: true, Cause: err}
	}

	return client, stop, nil
}
