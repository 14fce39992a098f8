package repository

import (
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
)

// ContactModel is the persistence model for the contacts table.
type ContactModel struct {
	ID                 string     `gorm:"type:uuid;primaryKey"`
	Email              string     `gorm:"type:varchar(320);not null"`
	Name               string     `gorm:"type:varchar(255);not null;default:''"`
	InitialSentAt      *time.Time `gorm:"type:timestamptz"`
	FollowupCount      int        `gorm:"not null;default:0"`
	LastFollowupAt     *time.Time `gorm:"type:timestamptz"`
	LastContactAt      *time.Time `gorm:"type:timestamptz"`
	Replied            bool       `gorm:"not null;default:false"`
	ReplyAt            *time.Time `gorm:"type:timestamptz"`
	CustomFollowupTime *string    `gorm:"type:varchar(16)"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (ContactModel) TableName() string {
	return "contacts"
}

// ActionLogModel is the persistence model for action_logs.
type ActionLogModel struct {
	ID        string            `gorm:"type:uuid;primaryKey"`
	ContactID string            `gorm:"type:uuid;not null;index"`
	Kind      domain.ActionKind `gorm:"type:varchar(32);not null"`
	Details   string            `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time         `gorm:"index"`
}

func (ActionLogModel) TableName() string {
	return "action_logs"
}

// SettingsModel stores the campaign settings as a single JSON document row.
type SettingsModel struct {
	ID        int    `gorm:"primaryKey;autoIncrement:false"`
	Document  string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (SettingsModel) TableName() string {
	return "campaign_settings"
}

// TemplateModel is the persistence model for email_templates.
type TemplateModel struct {
	Kind      domain.TemplateKind `gorm:"type:varchar(16);primaryKey"`
	Subject   string              `gorm:"type:text;not null"`
	Body      string              `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (TemplateModel) TableName() string {
	return "email_templates"
}

func contactModelFromDomain(c *domain.Contact) *ContactModel {
	if c == nil {
		return nil
	}

	return &ContactModel{
		ID:                 c.ID,
		Email:              c.Email,
		Name:               c.Name,
		InitialSentAt:      c.InitialSentAt,
		FollowupCount:      c.FollowupCount,
		LastFollowupAt:     c.LastFollowupAt,
		LastContactAt:      c.LastContactAt,
		Replied:            c.Replied,
		ReplyAt:            c.ReplyAt,
		CustomFollowupTime: c.CustomFollowupTime,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func contactModelToDomain(m *ContactModel) *domain.Contact {
	if m == nil {
		return nil
	}

	return &domain.Contact{
		ID:                 m.ID,
		Email:              m.Email,
		Name:               m.Name,
		InitialSentAt:      m.InitialSentAt,
		FollowupCount:      m.FollowupCount,
		LastFollowupAt:     m.LastFollowupAt,
		LastContactAt:      m.LastContactAt,
		Replied:            m.Replied,
		ReplyAt:            m.ReplyAt,
		CustomFollowupTime: m.CustomFollowupTime,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func actionLogModelFromDomain(l *domain.ActionLog) *ActionLogModel {
	if l == nil {
		return nil
	}

	return &ActionLogModel{
		ID:        l.ID,
		ContactID: l.ContactID,
		Kind:      l.Kind,
		Details:   l.Details,
		CreatedAt: l.CreatedAt,
	}
}

func templateModelToDomain(m *TemplateModel) *domain.Template {
	if m == nil {
		return nil
	}

	return &domain.Template{
		Kind:    m.Kind,
		Subject: m.Subject,
		Body:    m.Body,
	}
}
