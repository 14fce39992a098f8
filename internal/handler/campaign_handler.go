package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/outreach-engine/internal/domain"
	"github.com/kursadbilgin/outreach-engine/internal/service"
)

type CampaignService interface {
	RunPass(ctx context.Context, req service.PassRequest) (*service.PassResult, error)
	Stats(ctx context.Context) (domain.Stats, error)
}

type ReplyPoller interface {
	Poll(ctx context.Context) (*service.PollResult, error)
}

type CampaignHandler struct {
	campaign CampaignService
	replies  ReplyPoller
}

func NewCampaignHandler(campaign CampaignService, replies ReplyPoller) (*CampaignHandler, error) {
	if campaign == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	if replies == nil {
		return nil, fmt.Errorf("reply poller is required")
	}
	return &CampaignHandler{campaign: campaign, replies: replies}, nil
}

func (h *CampaignHandler) register(v1 fiber.Router) {
	v1.Get("/stats", h.GetStats)
	v1.Post("/passes/:kind", h.RunPass)
}

func (h *CampaignHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.campaign.Stats(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(stats)
}

// RunPass triggers a pass from the dashboard. Manual follow-up passes treat
// fixed-time cadences as due.
func (h *CampaignHandler) RunPass(c *fiber.Ctx) error {
	kind := strings.ToLower(strings.TrimSpace(c.Params("kind")))
	if kind == "replies" {
		result, err := h.replies.Poll(c.UserContext())
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(result)
	}

	passKind, err := service.ParsePassKindFromString(kind)
	if err != nil {
		return toHTTPError(err)
	}
	result, err := h.campaign.RunPass(c.UserContext(), service.PassRequest{
		Kind:    passKind,
		Trigger: domain.ManualTrigger(),
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(result)
}
