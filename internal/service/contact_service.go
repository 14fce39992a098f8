package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultActionLimit = 100
	maxActionLimit     = 1000
	importChunkSize    = 1000
)

type ContactService struct {
	contacts repository.ContactRepository
	actions  repository.ActionLogRepository
	settings repository.SettingsRepository
	logger   *zap.Logger
	now      func() time.Time
}

// ContactView is a contact together with its derived campaign stage.
type ContactView struct {
	domain.Contact
	Stage domain.Stage
}

type ContactPage struct {
	Items    []ContactView
	Total    int64
	Page     int
	PageSize int
}

type ImportResult struct {
	Rows       int      `json:"rows"`
	Imported   int64    `json:"imported"`
	Duplicates int      `json:"duplicates"`
	Invalid    []string `json:"invalid,omitempty"`
}

func NewContactService(
	contacts repository.ContactRepository,
	actions repository.ActionLogRepository,
	settings repository.SettingsRepository,
	logger *zap.Logger,
) (*ContactService, error) {
	if contacts == nil || actions == nil || settings == nil {
		return nil, fmt.Errorf("contact repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContactService{
		contacts: contacts,
		actions:  actions,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// ImportCSV reads contacts from CSV with an "email" column and an optional
// "name" column. Invalid rows are reported and skipped; addresses already in
// the list (or repeated in the file) are ignored.
func (s *ContactService) ImportCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: csv is empty", domain.ErrValidation)
		}
		return nil, fmt.Errorf("%w: failed to read csv header: %v", domain.ErrValidation, err)
	}
	emailCol, nameCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "email":
			emailCol = i
		case "name":
			nameCol = i
		}
	}
	if emailCol < 0 {
		return nil, fmt.Errorf("%w: csv header must contain an email column", domain.ErrValidation)
	}

	result := &ImportResult{}
	seen := make(map[string]struct{})
	now := s.now().UTC()
	var batch []*domain.Contact

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrValidation, line, err)
		}
		if emailCol >= len(record) || strings.TrimSpace(record[emailCol]) == "" {
			continue
		}
		result.Rows++

		email := domain.NormalizeEmail(record[emailCol])
		if err := domain.ValidateEmail(email); err != nil {
			result.Invalid = append(result.Invalid, fmt.Sprintf("line %d: %s", line, record[emailCol]))
			continue
		}
		if _, ok := seen[email]; ok {
			result.Duplicates++
			continue
		}
		seen[email] = struct{}{}

		name := ""
		if nameCol >= 0 && nameCol < len(record) {
			name = strings.TrimSpace(record[nameCol])
		}
		batch = append(batch, &domain.Contact{Email: email, Name: name, CreatedAt: now, UpdatedAt: now})
	}

	for start := 0; start < len(batch); start += importChunkSize {
		end := min(start+importChunkSize, len(batch))
		inserted, err := s.contacts.Import(ctx, batch[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to import contacts: %w", err)
		}
		result.Imported += inserted
	}
	result.Duplicates += len(batch) - int(result.Imported)

	s.logger.Info("contacts imported",
		zap.Int("rows", result.Rows),
		zap.Int64("imported", result.Imported),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("invalid", len(result.Invalid)),
	)
	return result, nil
}

func (s *ContactService) List(ctx context.Context, params repository.ContactListParams) (*ContactPage, error) {
	params = params.Normalized()

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign settings: %w", err)
	}
	contacts, total, err := s.contacts.List(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	items := make([]ContactView, 0, len(contacts))
	for _, c := range contacts {
		items = append(items, ContactView{Contact: c, Stage: c.Stage(settings.MaxFollowups)})
	}
	return &ContactPage{Items: items, Total: total, Page: params.Page, PageSize: params.PageSize}, nil
}

// SetCustomFollowupTime overrides the follow-up cadence of one contact. An
// empty value clears the override.
func (s *ContactService) SetCustomFollowupTime(ctx context.Context, contactID, value string) (*domain.Contact, error) {
	var stored *string
	if v := strings.TrimSpace(value); v != "" {
		cadence, err := domain.ParseCadence(v)
		if err != nil {
			return nil, err
		}
		canonical := cadence.String()
		stored = &canonical
	}

	if err := s.contacts.SetCustomFollowupTime(ctx, contactID, stored); err != nil {
		return nil, err
	}
	return s.contacts.GetByID(ctx, contactID)
}

func (s *ContactService) RecentActions(ctx context.Context, limit int) ([]domain.ActionLog, error) {
	if limit <= 0 {
		limit = defaultActionLimit
	}
	if limit > maxActionLimit {
		limit = maxActionLimit
	}
	return s.actions.ListRecent(ctx, limit)
}
