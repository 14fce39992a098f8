package handler

import (
	"github.com/gofiber/fiber/v2"
)

// Services groups the dependencies of the /v1 API.
type Services struct {
	Campaign  CampaignService
	Replies   ReplyPoller
	Contacts  ContactService
	Settings  SettingsService
	Templates TemplateService
}

func RegisterRoutes(router fiber.Router, services Services) error {
	campaign, err := NewCampaignHandler(services.Campaign, services.Replies)
	if err != nil {
		return err
	}
	contacts, err := NewContactHandler(services.Contacts)
	if err != nil {
		return err
	}
	settings, err := NewSettingsHandler(services.Settings, services.Templates)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	campaign.register(v1)
	contacts.register(v1)
	settings.register(v1)
	return nil
}
