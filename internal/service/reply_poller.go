package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 30 * time.Second
	maxPollBackoff      = 5 * time.Minute
)

// ReplyPoller runs reply-poll passes on a fixed interval. Failed polls back
// off exponentially; the first success restores the normal interval.
type ReplyPoller struct {
	replies  *ReplyService
	logger   *zap.Logger
	interval time.Duration
	wait     func(ctx context.Context, d time.Duration) error
}

func NewReplyPoller(replies *ReplyService, interval time.Duration, logger *zap.Logger) (*ReplyPoller, error) {
	if replies == nil {
		return nil, fmt.Errorf("reply service is required")
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplyPoller{
		replies:  replies,
		logger:   logger,
		interval: interval,
		wait:     sleepContext,
	}, nil
}

func (p *ReplyPoller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	delay := p.interval
	for {
		_, err := p.replies.Poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		delay = p.nextDelay(delay, err)

		if err := p.wait(ctx, delay); err != nil {
			return nil
		}
	}
}

func (p *ReplyPoller) nextDelay(current time.Duration, err error) time.Duration {
	if err == nil {
		return p.interval
	}
	if errors.Is(err, domain.ErrConflict) {
		p.logger.Info("reply poll already running elsewhere")
		return p.interval
	}

	next := current * 2
	if next > maxPollBackoff {
		next = maxPollBackoff
	}
	p.logger.Warn("reply poll failed, backing off", zap.Duration("delay", next), zap.Error(err))
	return next
}
