package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultContactPageSize = 50
	// MaxContactPageSize is the largest page List returns.
	MaxContactPageSize = 500
)

type ContactListParams struct {
	Replied  *bool
	Page     int
	PageSize int
}

// Normalized clamps Page to at least 1 and PageSize to 1..MaxContactPageSize.
func (p ContactListParams) Normalized() ContactListParams {
	p.Page = max(p.Page, 1)
	if p.PageSize < 1 {
		p.PageSize = DefaultContactPageSize
	}
	p.PageSize = min(p.PageSize, MaxContactPageSize)
	return p
}

func (p ContactListParams) bounds() (offset, limit int) {
	p = p.Normalized()
	return (p.Page - 1) * p.PageSize, p.PageSize
}

type ContactRepository interface {
	Import(ctx context.Context, contacts []*domain.Contact) (int64, error)
	GetByID(ctx context.Context, id string) (*domain.Contact, error)
	FindByEmail(ctx context.Context, email string) (*domain.Contact, error)
	FindDueForInitial(ctx context.Context) ([]domain.Contact, error)
	FindDueForFollowup(ctx context.Context, maxFollowups int) ([]domain.Contact, error)
	List(ctx context.Context, params ContactListParams) ([]domain.Contact, int64, error)
	ApplySendOutcome(ctx context.Context, contactID string, outcome domain.SendOutcome) (bool, error)
	ApplyReply(ctx context.Context, contactID string, at time.Time, details string) (bool, error)
	SetCustomFollowupTime(ctx context.Context, contactID string, value *string) error
	Stats(ctx context.Context, maxFollowups int) (domain.Stats, error)
}

type GormContactRepo struct {
	db *gorm.DB
}

func NewGormContactRepo(db *gorm.DB) *GormContactRepo {
	return &GormContactRepo{db: db}
}

// Import inserts contacts and silently skips addresses that already exist.
// It returns the number of rows actually inserted.
func (r *GormContactRepo) Import(ctx context.Context, contacts []*domain.Contact) (int64, error) {
	models := make([]ContactModel, 0, len(contacts))
	for _, c := range contacts {
		model := contactModelFromDomain(c)
		if model == nil {
			continue
		}
		if model.ID == "" {
			model.ID = uuid.NewString()
		}
		models = append(models, *model)
	}
	if len(models) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&models, 100)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormContactRepo) GetByID(ctx context.Context, id string) (*domain.Contact, error) {
	var model ContactModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return contactModelToDomain(&model), nil
}

func (r *GormContactRepo) FindByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	var model ContactModel
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", domain.NormalizeEmail(email)).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return contactModelToDomain(&model), nil
}

func (r *GormContactRepo) FindDueForInitial(ctx context.Context) ([]domain.Contact, error) {
	var models []ContactModel
	err := r.db.WithContext(ctx).
		Where("initial_sent_at IS NULL AND replied = ?", false).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return contactsToDomain(models), nil
}

func (r *GormContactRepo) FindDueForFollowup(ctx context.Context, maxFollowups int) ([]domain.Contact, error) {
	var models []ContactModel
	err := r.db.WithContext(ctx).
		Where("replied = ? AND initial_sent_at IS NOT NULL AND followup_count < ?", false, maxFollowups).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return contactsToDomain(models), nil
}

func (r *GormContactRepo) List(ctx context.Context, params ContactListParams) ([]domain.Contact, int64, error) {
	query := r.db.WithContext(ctx).Model(&ContactModel{})
	if params.Replied != nil {
		query = query.Where("replied = ?", *params.Replied)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := params.bounds()

	var models []ContactModel
	err := query.
		Order("created_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}
	return contactsToDomain(models), total, nil
}

// ApplySendOutcome records a successful send. The contact row is updated only
// if it is still in the state the send was decided on, so a reply or a
// concurrent pass is never overwritten. The action log entry is written in the
// same transaction either way. It reports whether the contact row changed.
func (r *GormContactRepo) ApplySendOutcome(ctx context.Context, contactID string, outcome domain.SendOutcome) (bool, error) {
	kind := domain.ActionInitialSent
	updates := map[string]any{
		"last_contact_at": outcome.At,
		"updated_at":      outcome.At,
	}

	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&ContactModel{}).Where("id = ? AND replied = ?", contactID, false)

		switch outcome.Decision {
		case domain.DecisionSendInitial:
			query = query.Where("initial_sent_at IS NULL")
			updates["initial_sent_at"] = outcome.At
		case domain.DecisionSendFollowup:
			kind = domain.ActionFollowupSent
			query = query.Where(
				"initial_sent_at IS NOT NULL AND followup_count = ? AND followup_count < ?",
				outcome.FollowupNumber-1, outcome.MaxFollowups,
			)
			updates["followup_count"] = gorm.Expr("followup_count + 1")
			updates["last_followup_at"] = outcome.At
		default:
			return fmt.Errorf("%w: cannot apply decision %s", domain.ErrValidation, outcome.Decision)
		}

		result := query.Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		applied = result.RowsAffected > 0

		details := outcome.Details
		if !applied {
			details = "contact state changed before update; " + details
		}
		return tx.Create(&ActionLogModel{
			ID:        uuid.NewString(),
			ContactID: contactID,
			Kind:      kind,
			Details:   details,
			CreatedAt: outcome.At,
		}).Error
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ApplyReply moves a contact to replied exactly once. Later replies leave the
// row untouched and are logged as repeats.
func (r *GormContactRepo) ApplyReply(ctx context.Context, contactID string, at time.Time, details string) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ContactModel{}).
			Where("id = ? AND replied = ?", contactID, false).
			Updates(map[string]any{
				"replied":         true,
				"reply_at":        at,
				"last_contact_at": at,
				"updated_at":      at,
			})
		if result.Error != nil {
			return result.Error
		}
		applied = result.RowsAffected > 0

		kind := domain.ActionReplyRepeated
		if applied {
			kind = domain.ActionReplyReceived
		}
		return tx.Create(&ActionLogModel{
			ID:        uuid.NewString(),
			ContactID: contactID,
			Kind:      kind,
			Details:   details,
			CreatedAt: at,
		}).Error
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *GormContactRepo) SetCustomFollowupTime(ctx context.Context, contactID string, value *string) error {
	result := r.db.WithContext(ctx).
		Model(&ContactModel{}).
		Where("id = ?", contactID).
		Update("custom_followup_time", value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormContactRepo) Stats(ctx context.Context, maxFollowups int) (domain.Stats, error) {
	var row struct {
		Total           int64
		InitialSent     int64
		Replied         int64
		PendingFollowup int64
	}
	err := r.db.WithContext(ctx).
		Model(&ContactModel{}).
		Select(`COUNT(*) AS total,
			COUNT(initial_sent_at) AS initial_sent,
			COUNT(*) FILTER (WHERE replied) AS replied,
			COUNT(*) FILTER (WHERE NOT replied AND initial_sent_at IS NOT NULL AND followup_count < ?) AS pending_followup`,
			maxFollowups).
		Scan(&row).Error
	if err != nil {
		return domain.Stats{}, err
	}
	return domain.Stats{
		Total:           row.Total,
		InitialSent:     row.InitialSent,
		Replied:         row.Replied,
		PendingFollowup: row.PendingFollowup,
	}, nil
}

func contactsToDomain(models []ContactModel) []domain.Contact {
	contacts := make([]domain.Contact, 0, len(models))
	for i := range models {
		contacts = append(contacts, *contactModelToDomain(&models[i]))
	}
	return contacts
}
