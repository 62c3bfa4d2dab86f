package api

import (
	"fmt"
	"regexp"

	"github.com/gofiber/fiber/v2"

	"hookhub/internal/store"
)

// ListWebhooks handles GET /api/webhooks.
func (h *Handler) ListWebhooks(c *fiber.Ctx) error {
	records, err := h.store.ListWebhooks(c.Context(), c.Query("active") == "true")
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}
	if records == nil {
		records = []*store.WebhookRecord{}
	}
	return c.JSON(fiber.Map{"data": records})
}

// CreateWebhook handles POST /api/webhooks.
func (h *Handler) CreateWebhook(c *fiber.Ctx) error {
	var rec store.WebhookRecord
	if err := c.BodyParser(&rec); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	var details []ErrorDetail
	if rec.URL == "" {
		details = append(details, ErrorDetail{Field: "url", Message: "url is required"})
	}
	if rec.ProjectFilter != "" {
		if _, err := regexp.Compile(rec.ProjectFilter); err != nil {
			details = append(details, ErrorDetail{Field: "project_filter", Message: err.Error()})
		}
	}
	if len(details) > 0 {
		return ValidationError(details)
	}

	id, err := h.store.CreateWebhook(c.Context(), &rec)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	rec.ID = id

	if h.auditor != nil {
		h.auditor.Record(Actor(c), "webhook.create", "", rec.URL)
	}
	return c.Status(201).JSON(fiber.Map{"data": rec})
}

// DeleteWebhook handles DELETE /api/webhooks/:id.
func (h *Handler) DeleteWebhook(c *fiber.Ctx) error {
	id := c.Params("id")
	deleted, err := h.store.DeleteWebhook(c.Context(), id)
	if err != nil {
		return fmt.Errorf("delete webhook %s: %w", id, err)
	}
	if !deleted {
		return NotFoundError("webhook", id)
	}

	if h.auditor != nil {
		h.auditor.Record(Actor(c), "webhook.delete", "", id)
	}
	return c.JSON(fiber.Map{"message": "Webhook deleted"})
}
