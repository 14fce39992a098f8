package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/lock"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSchedulerTickInterval = 15 * time.Second
	schedulerTickLockTTL         = 2 * time.Minute
	minuteLayout                 = "2006-01-02T15:04"
)

// PassRunner runs a single batch pass.
type PassRunner interface {
	RunPass(ctx context.Context, req PassRequest) (*PassResult, error)
}

// Scheduler fires batch passes on the campaign's local clock. The initial
// pass fires at the daily send time; the follow-up pass fires every minute
// and the decision engine picks who is due. Each pass fires at most once per
// local minute across all replicas.
type Scheduler struct {
	runner   PassRunner
	settings repository.SettingsRepository
	locker   lock.Locker
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
	fired    map[PassKind]string
}

func NewScheduler(
	runner PassRunner,
	settings repository.SettingsRepository,
	locker lock.Locker,
	interval time.Duration,
	logger *zap.Logger,
) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("pass runner is required")
	}
	if settings == nil {
		return nil, fmt.Errorf("settings repository is required")
	}
	if interval <= 0 {
		interval = defaultSchedulerTickInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		runner:   runner,
		settings: settings,
		locker:   locker,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		fired:    make(map[PassKind]string),
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.tick(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial tick failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load campaign settings: %w", err)
	}
	if !settings.Enabled {
		return nil
	}

	loc, err := settings.Location()
	if err != nil {
		return err
	}
	local := s.now().In(loc)
	clock := domain.ClockOf(local)
	minute := local.Format(minuteLayout)
	trigger := domain.ScheduleTrigger(clock)

	if clock == settings.DailySendTime {
		s.fire(ctx, PassInitial, minute, trigger, settings)
	}
	s.fire(ctx, PassFollowup, minute, trigger, settings)
	return nil
}

func (s *Scheduler) fire(ctx context.Context, kind PassKind, minute string, trigger domain.Trigger, settings domain.CampaignSettings) {
	if s.fired[kind] == minute {
		return
	}

	if s.locker != nil {
		key := fmt.Sprintf("tick:%s:%s", kind, minute)
		_, ok, err := s.locker.Acquire(ctx, key, schedulerTickLockTTL)
		if err != nil {
			s.logger.Warn("tick lock unavailable, running pass anyway", zap.String("pass", kind.String()), zap.Error(err))
		} else if !ok {
			s.fired[kind] = minute
			return
		}
	}
	s.fired[kind] = minute

	snapshot := settings
	_, err := s.runner.RunPass(ctx, PassRequest{Kind: kind, Trigger: trigger, Settings: &snapshot})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict):
		s.logger.Info("pass already running, tick skipped", zap.String("pass", kind.String()))
	case ctx.Err() != nil:
	default:
		s.logger.Error("scheduled pass failed", zap.String("pass", kind.String()), zap.Error(err))
	}
}
