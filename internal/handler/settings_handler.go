package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
)

type SettingsService interface {
	Get(ctx context.Context) (domain.CampaignSettings, error)
	UpdateFromJSON(ctx context.Context, patch []byte) (domain.CampaignSettings, error)
}

type TemplateService interface {
	List(ctx context.Context) ([]domain.Template, error)
	Save(ctx context.Context, t domain.Template) (domain.Template, error)
}

type SettingsHandler struct {
	settings  SettingsService
	templates TemplateService
}

func NewSettingsHandler(settings SettingsService, templates TemplateService) (*SettingsHandler, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings service is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template service is required")
	}
	return &SettingsHandler{settings: settings, templates: templates}, nil
}

func (h *SettingsHandler) register(v1 fiber.Router) {
	v1.Get("/settings", h.GetSettings)
	v1.Put("/settings", h.UpdateSettings)
	v1.Get("/templates", h.ListTemplates)
	v1.Put("/templates/:kind", h.SaveTemplate)
}

type templateRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type templateResponse struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *SettingsHandler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.settings.Get(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(settings)
}

// UpdateSettings applies a partial JSON document; omitted fields are kept.
func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	updated, err := h.settings.UpdateFromJSON(c.UserContext(), c.Body())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(updated)
}

func (h *SettingsHandler) ListTemplates(c *fiber.Ctx) error {
	templates, err := h.templates.List(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	items := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		items = append(items, toTemplateResponse(t))
	}
	return c.JSON(fiber.Map{"items": items})
}

func (h *SettingsHandler) SaveTemplate(c *fiber.Ctx) error {
	kind, err := domain.ParseTemplateKindFromString(c.Params("kind"))
	if err != nil {
		return toHTTPError(err)
	}
	var req templateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	saved, err := h.templates.Save(c.UserContext(), domain.Template{Kind: kind, Subject: req.Subject, Body: req.Body})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(toTemplateResponse(saved))
}

func toTemplateResponse(t domain.Template) templateResponse {
	return templateResponse{Kind: t.Kind.String(), Subject: t.Subject, Body: t.Body}
}
