package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"github.com/kursadbilgin/outreach-engine/internal/service"
)

const (
	defaultPage     = 1
	importFormField = "file"
)

type ContactService interface {
	ImportCSV(ctx context.Context, r io.Reader) (*service.ImportResult, error)
	List(ctx context.Context, params repository.ContactListParams) (*service.ContactPage, error)
	SetCustomFollowupTime(ctx context.Context, contactID, value string) (*domain.Contact, error)
	RecentActions(ctx context.Context, limit int) ([]domain.ActionLog, error)
}

type ContactHandler struct {
	contacts ContactService
}

func NewContactHandler(contacts ContactService) (*ContactHandler, error) {
	if contacts == nil {
		return nil, fmt.Errorf("contact service is required")
	}
	return &ContactHandler{contacts: contacts}, nil
}

func (h *ContactHandler) register(v1 fiber.Router) {
	v1.Get("/contacts", h.ListContacts)
	v1.Post("/contacts/import", h.ImportContacts)
	v1.Put("/contacts/:id/custom-followup-time", h.SetCustomFollowupTime)
	v1.Get("/actions", h.ListActions)
}

type contactResponse struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name"`
	Stage              string     `json:"stage"`
	InitialSentAt      *time.Time `json:"initialSentAt,omitempty"`
	FollowupCount      int        `json:"followupCount"`
	LastFollowupAt     *time.Time `json:"lastFollowupAt,omitempty"`
	LastContactAt      *time.Time `json:"lastContactAt,omitempty"`
	Replied            bool       `json:"replied"`
	ReplyAt            *time.Time `json:"replyAt,omitempty"`
	CustomFollowupTime *string    `json:"customFollowupTime,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

type actionResponse struct {
	ID           string    `json:"id"`
	ContactID    string    `json:"contactId"`
	ContactEmail string    `json:"contactEmail,omitempty"`
	Kind         string    `json:"kind"`
	Details      string    `json:"details"`
	CreatedAt    time.Time `json:"createdAt"`
}

type customFollowupTimeRequest struct {
	Value string `json:"value"`
}

func (h *ContactHandler) ListContacts(c *fiber.Ctx) error {
	params, err := parseContactListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	page, err := h.contacts.List(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]contactResponse, 0, len(page.Items))
	for _, v := range page.Items {
		items = append(items, toContactResponse(v.Contact, v.Stage))
	}
	return c.JSON(fiber.Map{
		"items":    items,
		"total":    page.Total,
		"page":     page.Page,
		"pageSize": page.PageSize,
	})
}

// ImportContacts accepts either a multipart upload in the "file" field or a
// raw CSV request body.
func (h *ContactHandler) ImportContacts(c *fiber.Ctx) error {
	var reader io.Reader
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		fh, err := c.FormFile(importFormField)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "missing csv file field")
		}
		f, err := fh.Open()
		if err != nil {
			return fmt.Errorf("failed to open upload: %w", err)
		}
		defer f.Close()
		reader = f
	} else {
		reader = bytes.NewReader(c.Body())
	}

	result, err := h.contacts.ImportCSV(c.UserContext(), reader)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *ContactHandler) SetCustomFollowupTime(c *fiber.Ctx) error {
	var req customFollowupTimeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	contact, err := h.contacts.SetCustomFollowupTime(c.UserContext(), c.Params("id"), req.Value)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(toContactResponse(*contact, ""))
}

func (h *ContactHandler) ListActions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return toHTTPError(fmt.Errorf("%w: limit must be >= 0", domain.ErrValidation))
	}

	entries, err := h.contacts.RecentActions(c.UserContext(), limit)
	if err != nil {
		return toHTTPError(err)
	}
	items := make([]actionResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, actionResponse{
			ID:           e.ID,
			ContactID:    e.ContactID,
			ContactEmail: e.ContactEmail,
			Kind:         e.Kind.String(),
			Details:      e.Details,
			CreatedAt:    e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"items": items})
}

func parseContactListParams(c *fiber.Ctx) (repository.ContactListParams, error) {
	params := repository.ContactListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", repository.DefaultContactPageSize),
	}
	if params.Page < 1 {
		return repository.ContactListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > repository.MaxContactPageSize {
		return repository.ContactListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, repository.MaxContactPageSize)
	}

	if raw := strings.TrimSpace(c.Query("replied")); raw != "" {
		replied, err := strconv.ParseBool(raw)
		if err != nil {
			return repository.ContactListParams{}, fmt.Errorf("%w: replied must be a boolean", domain.ErrValidation)
		}
		params.Replied = &replied
	}
	return params, nil
}

func toContactResponse(c domain.Contact, stage domain.Stage) contactResponse {
	return contactResponse{
		ID:                 c.ID,
		Email:              c.Email,
		Name:               c.Name,
		Stage:              stage.String(),
		InitialSentAt:      c.InitialSentAt,
		FollowupCount:      c.FollowupCount,
		LastFollowupAt:     c.LastFollowupAt,
		LastContactAt:      c.LastContactAt,
		Replied:            c.Replied,
		ReplyAt:            c.ReplyAt,
		CustomFollowupTime: c.CustomFollowupTime,
		CreatedAt:          c.CreatedAt,
	}
}
