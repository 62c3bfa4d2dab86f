package api

import "github.com/gofiber/fiber/v2"

// RegisterRoutes wires the manifest API onto the Fiber app. The auth
// middlewares are supplied by the caller so this package stays free of
// token concerns.
func RegisterRoutes(app *fiber.App, h *Handler, authRequired, adminRequired fiber.Handler) {
	app.Get("/health", h.Health)

	api := app.Group("/api", authRequired)

	api.Get("/manifests", h.ListManifests)
	api.Get("/manifests/:project", h.GetManifest)
	api.Put("/manifests/:project", h.PutManifest)
	api.Delete("/manifests/:project", h.DeleteManifest)
	api.Get("/manifests/:project/revisions", h.ListRevisions)
	api.Post("/manifests/:project/preview", h.Preview)
	api.Get("/revisions/:id", h.GetRevision)
	api.Post("/validate", h.Validate)

	api.Get("/policies", adminRequired, h.ListPolicies)
	api.Post("/policies", adminRequired, h.CreatePolicy)
	api.Put("/policies/:id", adminRequired, h.UpdatePolicy)
	api.Delete("/policies/:id", adminRequired, h.DeletePolicy)
	api.Get("/webhooks", adminRequired, h.ListWebhooks)
	api.Post("/webhooks", adminRequired, h.CreateWebhook)
	api.Delete("/webhooks/:id", adminRequired, h.DeleteWebhook)
}

// Health handles GET /health.
func (h *Handler) Health(c *fiber.Ctx) error {
	if err := h.store.DB.PingContext(c.Context()); err != nil {
		return c.Status(503).JSON(fiber.Map{"status": "degraded", "error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"status":    "ok",
		"manifests": h.registry.Len(),
		"policies":  h.policies.Len(),
	})
}
