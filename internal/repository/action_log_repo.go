package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"gorm.io/gorm"
)

type ActionLogRepository interface {
	Append(ctx context.Context, entry *domain.ActionLog) error
	ListRecent(ctx context.Context, limit int) ([]domain.ActionLog, error)
}

type GormActionLogRepo struct {
	db *gorm.DB
}

func NewGormActionLogRepo(db *gorm.DB) *GormActionLogRepo {
	return &GormActionLogRepo{db: db}
}

func (r *GormActionLogRepo) Append(ctx context.Context, entry *domain.ActionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(actionLogModelFromDomain(entry)).Error
}

func (r *GormActionLogRepo) ListRecent(ctx context.Context, limit int) ([]domain.ActionLog, error) {
	if limit < 1 {
		limit = 20
	}
	limit = min(limit, 500)

	var rows []struct {
		ID           string
		ContactID    string
		Kind         domain.ActionKind
		Details      string
		CreatedAt    time.Time
		ContactEmail string
	}
	err := r.db.WithContext(ctx).
		Table("action_logs AS a").
		Select("a.id, a.contact_id, a.kind, a.details, a.created_at, COALESCE(c.email, '') AS contact_email").
		Joins("LEFT JOIN contacts c ON c.id = a.contact_id").
		Order("a.created_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	logs := make([]domain.ActionLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, domain.ActionLog{
			ID:           row.ID,
			ContactID:    row.ContactID,
			ContactEmail: row.ContactEmail,
			Kind:         row.Kind,
			Details:      row.Details,
			CreatedAt:    row.CreatedAt,
		})
	}
	return logs, nil
}
