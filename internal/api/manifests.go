package api

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"hookhub/internal/manifest"
	"hookhub/internal/policy"
	"hookhub/internal/registry"
	"hookhub/internal/storage"
	"hookhub/internal/store"
)

// Notifier fans a manifest change out to registered webhooks.
type Notifier interface {
	ManifestChanged(project, checksum, action string)
}

// Auditor records an audit trail entry.
type Auditor interface {
	Record(actor, action, project, detail string)
}

// Handler serves the manifest API.
type Handler struct {
	store    *store.Store
	registry *registry.Registry
	policies *policy.Engine
	files    *storage.Local
	notifier Notifier
	auditor  Auditor
}

func NewHandler(s *store.Store, reg *registry.Registry, eng *policy.Engine, files *storage.Local, n Notifier, a Auditor) *Handler {
	return &Handler{store: s, registry: reg, policies: eng, files: files, notifier: n, auditor: a}
}

// manifestSummary is the list-view projection of a registry entry.
type manifestSummary struct {
	Project  string `json:"project"`
	Checksum string `json:"checksum"`
	Repos    int    `json:"repos"`
	Hooks    int    `json:"hooks"`
}

// ListManifests handles GET /api/manifests.
func (h *Handler) ListManifests(c *fiber.Ctx) error {
	entries := h.registry.All()
	summaries := make([]manifestSummary, 0, len(entries))
	for _, e := range entries {
		summaries = append(summaries, manifestSummary{
			Project:  e.Project,
			Checksum: e.Checksum,
			Repos:    len(e.Manifest.Repos),
			Hooks:    e.Manifest.HookCount(),
		})
	}
	return c.JSON(fiber.Map{"data": summaries})
}

// GetManifest handles GET /api/manifests/:project. With ?format=yaml the
// stored YAML document is returned verbatim.
func (h *Handler) GetManifest(c *fiber.Ctx) error {
	project := c.Params("project")
	rec, err := h.store.GetManifest(c.Context(), project)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("manifest", project)
		}
		return fmt.Errorf("get manifest %s: %w", project, err)
	}

	if c.Query("format") == "yaml" {
		c.Set("Content-Type", "application/x-yaml")
		return c.SendString(rec.Definition)
	}

	m, err := manifest.Parse([]byte(rec.Definition))
	if err != nil {
		return fmt.Errorf("decode stored manifest %s: %w", project, err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"project":    rec.Project,
		"checksum":   rec.Checksum,
		"updated_by": rec.UpdatedBy,
		"updated_at": rec.UpdatedAt,
		"manifest":   m,
	}})
}

// PutManifest handles PUT /api/manifests/:project. The body is the YAML
// manifest. The document must parse, pass validation, and pass all
// blocking policies before it is stored; advice violations are returned
// alongside the result.
func (h *Handler) PutManifest(c *fiber.Ctx) error {
	project := c.Params("project")

	m, err := manifest.Parse(c.Body())
	if err != nil {
		return NewAppError("INVALID_MANIFEST", 400, err.Error())
	}

	if issues := m.Validate(); len(issues) > 0 {
		return ValidationError(issueDetails(issues))
	}

	violations := h.policies.Evaluate(project, m)
	if policy.HasBlocking(violations) {
		return &AppError{
			Code:    "POLICY_BLOCKED",
			Status:  422,
			Message: "Manifest rejected by policy",
			Details: violationDetails(violations),
		}
	}

	canonical, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", project, err)
	}
	checksum, err := m.Checksum()
	if err != nil {
		return fmt.Errorf("checksum manifest %s: %w", project, err)
	}

	actor := Actor(c)
	revID, err := h.store.SaveManifest(c.Context(), project, string(canonical), checksum, actor)
	if err != nil {
		return fmt.Errorf("save manifest %s: %w", project, err)
	}

	h.registry.Set(&registry.Entry{Project: project, Checksum: checksum, Manifest: m})

	if h.files != nil {
		if err := h.files.SaveManifest(project, canonical); err != nil {
			log.Printf("WARN: write manifest file for %s: %v", project, err)
		}
	}
	if h.notifier != nil {
		h.notifier.ManifestChanged(project, checksum, "updated")
	}
	if h.auditor != nil {
		h.auditor.Record(actor, "manifest.update", project, "revision "+revID)
	}

	return c.JSON(fiber.Map{"data": fiber.Map{
		"project":    project,
		"checksum":   checksum,
		"revision":   revID,
		"violations": violations,
	}})
}

// DeleteManifest handles DELETE /api/manifests/:project. Revision
// history is kept.
func (h *Handler) DeleteManifest(c *fiber.Ctx) error {
	project := c.Params("project")
	deleted, err := h.store.DeleteManifest(c.Context(), project)
	if err != nil {
		return fmt.Errorf("delete manifest %s: %w", project, err)
	}
	if !deleted {
		return NotFoundError("manifest", project)
	}

	h.registry.Delete(project)
	if h.files != nil {
		if err := h.files.RemoveManifest(project); err != nil {
			log.Printf("WARN: remove manifest file for %s: %v", project, err)
		}
	}
	if h.notifier != nil {
		h.notifier.ManifestChanged(project, "", "deleted")
	}
	if h.auditor != nil {
		h.auditor.Record(Actor(c), "manifest.delete", project, "")
	}

	return c.JSON(fiber.Map{"message": "Manifest deleted"})
}

// ListRevisions handles GET /api/manifests/:project/revisions.
func (h *Handler) ListRevisions(c *fiber.Ctx) error {
	project := c.Params("project")
	limit, _ := strconv.Atoi(c.Query("limit"))

	revs, err := h.store.ListRevisions(c.Context(), project, limit)
	if err != nil {
		return fmt.Errorf("list revisions for %s: %w", project, err)
	}
	if revs == nil {
		revs = []*store.RevisionRecord{}
	}
	return c.JSON(fiber.Map{"data": revs})
}

// GetRevision handles GET /api/revisions/:id. With ?format=yaml the
// revision's YAML document is returned verbatim.
func (h *Handler) GetRevision(c *fiber.Ctx) error {
	id := c.Params("id")
	rev, err := h.store.GetRevision(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("revision", id)
		}
		return fmt.Errorf("get revision %s: %w", id, err)
	}

	if c.Query("format") == "yaml" {
		c.Set("Content-Type", "application/x-yaml")
		return c.SendString(rev.Definition)
	}
	return c.JSON(fiber.Map{"data": rev})
}

// Validate handles POST /api/validate: a stateless lint of the posted
// YAML document, reporting both structural issues and policy violations
// without storing anything.
func (h *Handler) Validate(c *fiber.Ctx) error {
	m, err := manifest.Parse(c.Body())
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"data": fiber.Map{
			"valid": false,
			"error": err.Error(),
		}})
	}

	issues := m.Validate()
	violations := h.policies.Evaluate(c.Query("project"), m)

	return c.JSON(fiber.Map{"data": fiber.Map{
		"valid":      len(issues) == 0 && !policy.HasBlocking(violations),
		"issues":     issueDetails(issues),
		"violations": violations,
	}})
}

// Preview handles POST /api/manifests/:project/preview. The body lists
// candidate file paths; the response shows which hooks would pick up
// which files under the stored manifest's filters.
func (h *Handler) Preview(c *fiber.Ctx) error {
	project := c.Params("project")
	entry := h.registry.Get(project)
	if entry == nil {
		return NotFoundError("manifest", project)
	}

	var body struct {
		Files []string `json:"files"`
	}
	if err := c.BodyParser(&body); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if len(body.Files) == 0 {
		return NewAppError("INVALID_PAYLOAD", 400, "files list is required")
	}

	preview, err := entry.Manifest.SelectFiles(body.Files)
	if err != nil {
		return fmt.Errorf("preview selection for %s: %w", project, err)
	}
	return c.JSON(fiber.Map{"data": preview})
}

func issueDetails(issues []manifest.Issue) []ErrorDetail {
	details := make([]ErrorDetail, 0, len(issues))
	for _, is := range issues {
		details = append(details, ErrorDetail{
			Repo:    is.Repo,
			Hook:    is.Hook,
			Field:   is.Field,
			Message: is.Message,
		})
	}
	return details
}

func violationDetails(violations []policy.Violation) []ErrorDetail {
	details := make([]ErrorDetail, 0, len(violations))
	for _, v := range violations {
		details = append(details, ErrorDetail{
			Repo:    v.Repo,
			Hook:    v.Hook,
			Field:   "policy:" + v.Policy,
			Message: strings.TrimSpace(v.Severity + ": " + v.Message),
		})
	}
	return details
}
