package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TemplateRepository interface {
	Get(ctx context.Context, kind domain.TemplateKind) (domain.Template, error)
	Save(ctx context.Context, t domain.Template) error
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

// Get returns the stored template or the built-in default for kind.
func (r *GormTemplateRepo) Get(ctx context.Context, kind domain.TemplateKind) (domain.Template, error) {
	var model TemplateModel
	err := r.db.WithContext(ctx).First(&model, "kind = ?", kind).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DefaultTemplate(kind), nil
	}
	if err != nil {
		return domain.Template{}, err
	}
	return *templateModelToDomain(&model), nil
}

func (r *GormTemplateRepo) Save(ctx context.Context, t domain.Template) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}},
			DoUpdates: clause.AssignmentColumns([]string{"subject", "body", "updated_at"}),
		}).
		Create(&TemplateModel{
			Kind:      t.Kind,
			Subject:   t.Subject,
			Body:      t.Body,
			UpdatedAt: time.Now().UTC(),
		}).Error
}
