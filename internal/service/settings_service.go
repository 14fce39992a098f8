package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"go.uber.org/zap"
)

type SettingsService struct {
	settings repository.SettingsRepository
	logger   *zap.Logger
}

func NewSettingsService(settings repository.SettingsRepository, logger *zap.Logger) (*SettingsService, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{settings: settings, logger: logger}, nil
}

func (s *SettingsService) Get(ctx context.Context) (domain.CampaignSettings, error) {
	return s.settings.Get(ctx)
}

// UpdateFromJSON applies a partial settings document on top of the stored
// one. Fields absent from patch keep their current value. Running passes keep
// the snapshot they started with.
func (s *SettingsService) UpdateFromJSON(ctx context.Context, patch []byte) (domain.CampaignSettings, error) {
	updated, err := s.settings.Update(ctx, func(current *domain.CampaignSettings) error {
		decoder := json.NewDecoder(bytes.NewReader(patch))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(current); err != nil {
			return fmt.Errorf("%w: invalid settings document: %v", domain.ErrValidation, err)
		}
		return nil
	})
	if err != nil {
		return domain.CampaignSettings{}, err
	}

	s.logger.Info("campaign settings updated",
		zap.String("dailySendTime", updated.DailySendTime.String()),
		zap.String("followupMode", updated.FollowupMode.String()),
		zap.Int("maxFollowups", updated.MaxFollowups),
		zap.Bool("enabled", updated.Enabled),
	)
	return updated, nil
}
