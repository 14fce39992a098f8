package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"go.uber.org/zap"
)

type TemplateService struct {
	templates repository.TemplateRepository
	logger    *zap.Logger
}

func NewTemplateService(templates repository.TemplateRepository, logger *zap.Logger) (*TemplateService, error) {
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateService{templates: templates, logger: logger}, nil
}

func (s *TemplateService) List(ctx context.Context) ([]domain.Template, error) {
	kinds := []domain.TemplateKind{domain.TemplateInitial, domain.TemplateFollowup}
	out := make([]domain.Template, 0, len(kinds))
	for _, kind := range kinds {
		t, err := s.templates.Get(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s template: %w", kind, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *TemplateService) Save(ctx context.Context, t domain.Template) (domain.Template, error) {
	if err := t.Validate(); err != nil {
		return domain.Template{}, err
	}
	if err := s.templates.Save(ctx, t); err != nil {
		return domain.Template{}, fmt.Errorf("failed to save %s template: %w", t.Kind, err)
	}
	s.logger.Info("template saved", zap.String("kind", t.Kind.String()))
	return t, nil
}
