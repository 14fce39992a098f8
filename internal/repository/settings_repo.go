package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const settingsRowID = 1

type SettingsRepository interface {
	Get(ctx context.Context) (domain.CampaignSettings, error)
	Update(ctx context.Context, fn func(*domain.CampaignSettings) error) (domain.CampaignSettings, error)
}

// GormSettingsRepo keeps the settings document in a single row. Missing
// fields in the stored document fall back to the seed.
type GormSettingsRepo struct {
	db   *gorm.DB
	seed domain.CampaignSettings
}

func NewGormSettingsRepo(db *gorm.DB, seed domain.CampaignSettings) *GormSettingsRepo {
	return &GormSettingsRepo{db: db, seed: seed}
}

func (r *GormSettingsRepo) Get(ctx context.Context) (domain.CampaignSettings, error) {
	var model SettingsModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", settingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.seed, nil
	}
	if err != nil {
		return domain.CampaignSettings{}, err
	}
	return r.decode(model.Document)
}

// Update applies fn to the current document under a row lock, validates the
// result and writes it back.
func (r *GormSettingsRepo) Update(ctx context.Context, fn func(*domain.CampaignSettings) error) (domain.CampaignSettings, error) {
	var updated domain.CampaignSettings
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current := r.seed

		var model SettingsModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", settingsRowID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			if current, err = r.decode(model.Document); err != nil {
				return err
			}
		}

		if err := fn(&current); err != nil {
			return err
		}
		if err := current.Validate(); err != nil {
			return err
		}

		doc, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		updated = current
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"document", "updated_at"}),
		}).Create(&SettingsModel{
			ID:        settingsRowID,
			Document:  string(doc),
			UpdatedAt: time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return domain.CampaignSettings{}, err
	}
	return updated, nil
}

func (r *GormSettingsRepo) decode(doc string) (domain.CampaignSettings, error) {
	settings := r.seed
	if err := json.Unmarshal([]byte(doc), &settings); err != nil {
		return domain.CampaignSettings{}, fmt.Errorf("%w: stored settings: %v", domain.ErrDataIntegrity, err)
	}
	return settings, nil
}
