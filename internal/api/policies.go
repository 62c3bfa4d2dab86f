package api

import (
	"errors"
	"fmt"
	"log"

	"github.com/expr-lang/expr"
	"github.com/gofiber/fiber/v2"

	"hookhub/internal/policy"
	"hookhub/internal/store"
)

// ListPolicies handles GET /api/policies. With ?active=true only
// enabled policies are returned.
func (h *Handler) ListPolicies(c *fiber.Ctx) error {
	records, err := h.store.ListPolicies(c.Context(), c.Query("active") == "true")
	if err != nil {
		return fmt.Errorf("list policies: %w", err)
	}
	if records == nil {
		records = []*store.PolicyRecord{}
	}
	return c.JSON(fiber.Map{"data": records})
}

// CreatePolicy handles POST /api/policies.
func (h *Handler) CreatePolicy(c *fiber.Ctx) error {
	var rec store.PolicyRecord
	if err := c.BodyParser(&rec); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if details := validatePolicy(&rec); len(details) > 0 {
		return ValidationError(details)
	}

	id, err := h.store.CreatePolicy(c.Context(), &rec)
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return NewAppError("DUPLICATE_POLICY", 409, fmt.Sprintf("Policy %q already exists", rec.Name))
		}
		return fmt.Errorf("create policy: %w", err)
	}
	rec.ID = id

	h.reloadPolicies(c)
	if h.auditor != nil {
		h.auditor.Record(Actor(c), "policy.create", "", rec.Name)
	}
	return c.Status(201).JSON(fiber.Map{"data": rec})
}

// UpdatePolicy handles PUT /api/policies/:id.
func (h *Handler) UpdatePolicy(c *fiber.Ctx) error {
	id := c.Params("id")
	var rec store.PolicyRecord
	if err := c.BodyParser(&rec); err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	rec.ID = id
	if details := validatePolicy(&rec); len(details) > 0 {
		return ValidationError(details)
	}

	if err := h.store.UpdatePolicy(c.Context(), &rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("policy", id)
		}
		if errors.Is(err, store.ErrUniqueViolation) {
			return NewAppError("DUPLICATE_POLICY", 409, fmt.Sprintf("Policy %q already exists", rec.Name))
		}
		return fmt.Errorf("update policy %s: %w", id, err)
	}

	h.reloadPolicies(c)
	if h.auditor != nil {
		h.auditor.Record(Actor(c), "policy.update", "", rec.Name)
	}
	return c.JSON(fiber.Map{"data": rec})
}

// DeletePolicy handles DELETE /api/policies/:id.
func (h *Handler) DeletePolicy(c *fiber.Ctx) error {
	id := c.Params("id")
	deleted, err := h.store.DeletePolicy(c.Context(), id)
	if err != nil {
		return fmt.Errorf("delete policy %s: %w", id, err)
	}
	if !deleted {
		return NotFoundError("policy", id)
	}

	h.reloadPolicies(c)
	if h.auditor != nil {
		h.auditor.Record(Actor(c), "policy.delete", "", id)
	}
	return c.JSON(fiber.Map{"message": "Policy deleted"})
}

func (h *Handler) reloadPolicies(c *fiber.Ctx) {
	if err := h.policies.Reload(c.Context(), h.store); err != nil {
		log.Printf("ERROR: reload policies: %v", err)
	}
}

func validatePolicy(rec *store.PolicyRecord) []ErrorDetail {
	var details []ErrorDetail
	if rec.Name == "" {
		details = append(details, ErrorDetail{Field: "name", Message: "name is required"})
	}
	if rec.Scope == "" {
		rec.Scope = policy.ScopeRepo
	}
	switch rec.Scope {
	case policy.ScopeManifest, policy.ScopeRepo, policy.ScopeHook:
	default:
		details = append(details, ErrorDetail{Field: "scope", Message: "scope must be manifest, repo, or hook"})
	}
	if rec.Severity == "" {
		rec.Severity = policy.SeverityAdvice
	}
	switch rec.Severity {
	case policy.SeverityAdvice, policy.SeverityBlock:
	default:
		details = append(details, ErrorDetail{Field: "severity", Message: "severity must be advice or block"})
	}
	if rec.Expression == "" {
		details = append(details, ErrorDetail{Field: "expression", Message: "expression is required"})
	} else if _, err := expr.Compile(rec.Expression, expr.AsBool()); err != nil {
		details = append(details, ErrorDetail{Field: "expression", Message: err.Error()})
	}
	return details
}
