package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"hookhub/internal/config"
	"hookhub/internal/policy"
	"hookhub/internal/registry"
	"hookhub/internal/storage"
	"hookhub/internal/store"
)

const sampleManifest = `exclude: ^(docs|Makefile)
repos:
  - repo: https://github.com/psf/black
    rev: 23.3.0
    hooks:
      - id: black
  - repo: https://github.com/pre-commit/mirrors-mypy
    rev: v1.4.1
    hooks:
      - id: mypy
        files: ^libqtile/.*
        additional_dependencies:
          - types-python-dateutil
`

type testEnv struct {
	app      *fiber.App
	store    *store.Store
	registry *registry.Registry
	policies *policy.Engine
	files    *storage.Local
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.New(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Name:   "hookhub_api_test",
		Path:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	files, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local storage: %v", err)
	}

	reg := registry.NewRegistry()
	eng := policy.NewEngine()
	h := NewHandler(s, reg, eng, files, nil, nil)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	asAdmin := func(c *fiber.Ctx) error {
		c.Locals("user", &UserContext{ID: "u1", Email: "admin@localhost", Roles: []string{"admin"}})
		return c.Next()
	}
	passthrough := func(c *fiber.Ctx) error { return c.Next() }
	RegisterRoutes(app, h, asAdmin, passthrough)

	return &testEnv{app: app, store: s, registry: reg, policies: eng, files: files}
}

func (e *testEnv) do(t *testing.T, method, path, contentType, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func decodeData(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var wrapper struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		t.Fatalf("decode response %s: %v", body, err)
	}
	return wrapper.Data
}

func TestPutAndGetManifest(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "PUT", "/api/manifests/qtile", "application/x-yaml", sampleManifest)
	if resp.StatusCode != 200 {
		t.Fatalf("put: expected 200, got %d: %s", resp.StatusCode, body)
	}
	data := decodeData(t, body)
	checksum, _ := data["checksum"].(string)
	if checksum == "" || data["revision"] == "" {
		t.Fatalf("expected checksum and revision in response: %s", body)
	}

	if entry := env.registry.Get("qtile"); entry == nil || entry.Checksum != checksum {
		t.Fatal("registry not updated after put")
	}
	if _, err := os.Stat(env.files.Path("qtile")); err != nil {
		t.Fatalf("manifest file not written: %v", err)
	}

	resp, body = env.do(t, "GET", "/api/manifests/qtile", "", "")
	if resp.StatusCode != 200 {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	data = decodeData(t, body)
	if data["checksum"] != checksum || data["updated_by"] != "admin@localhost" {
		t.Fatalf("unexpected manifest data: %s", body)
	}

	resp, body = env.do(t, "GET", "/api/manifests/qtile?format=yaml", "", "")
	if resp.StatusCode != 200 {
		t.Fatalf("get yaml: expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "rev: 23.3.0") {
		t.Fatalf("expected yaml body, got: %s", body)
	}

	resp, body = env.do(t, "GET", "/api/manifests", "", "")
	if resp.StatusCode != 200 {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"hooks":2`) {
		t.Fatalf("expected hook count in summary: %s", body)
	}
}

func TestPutManifest_InvalidYAML(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, "PUT", "/api/manifests/qtile", "application/x-yaml", "repos: [unclosed")
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Error.Code != "INVALID_MANIFEST" {
		t.Fatalf("expected INVALID_MANIFEST, got %s", errResp.Error.Code)
	}
}

func TestPutManifest_ValidationFailure(t *testing.T) {
	env := newTestEnv(t)
	// Remote repo with a moving ref
	doc := "repos:\n  - repo: https://github.com/psf/black\n    rev: master\n    hooks:\n      - id: black\n"
	resp, body := env.do(t, "PUT", "/api/manifests/qtile", "application/x-yaml", doc)
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422, got %d: %s", resp.StatusCode, body)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Error.Code != "VALIDATION_FAILED" || len(errResp.Error.Details) == 0 {
		t.Fatalf("expected validation details, got: %s", body)
	}
}

func TestPutManifest_PolicyBlocked(t *testing.T) {
	env := newTestEnv(t)

	env.policies.Load([]*store.PolicyRecord{{
		Name:       "mypy-required",
		Scope:      policy.ScopeManifest,
		Expression: `any(manifest.Repos, {any(.Hooks, {.ID == "mypy"})})`,
		Message:    "every project must run mypy",
		Severity:   policy.SeverityBlock,
		Active:     true,
	}})

	doc := "repos:\n  - repo: https://github.com/psf/black\n    rev: 23.3.0\n    hooks:\n      - id: black\n"
	resp, body := env.do(t, "PUT", "/api/manifests/qtile", "application/x-yaml", doc)
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422, got %d: %s", resp.StatusCode, body)
	}
	var errResp ErrorResponse
	json.Unmarshal(body, &errResp)
	if errResp.Error.Code != "POLICY_BLOCKED" {
		t.Fatalf("expected POLICY_BLOCKED, got %s", errResp.Error.Code)
	}

	// Compliant manifest passes
	resp, body = env.do(t, "PUT", "/api/manifests/qtile", "application/x-yaml", sampleManifest)
	if resp.StatusCode != 200 {
		t.Fatalf("expected compliant manifest accepted, got %d: %s", resp.StatusCode, body)
	}
}

func TestDeleteManifest(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "PUT", "/api/manifests/qtile", "application/x-yaml", sampleManifest)

	resp, _ := env.do(t, "DELETE", "/api/manifests/qtile", "", "")
	if resp.StatusCode != 200 {
		t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
	}
	if env.registry.Get("qtile") != nil {
		t.Fatal("registry entry should be gone")
	}
	if _, err := os.Stat(env.files.Path("qtile")); !os.IsNotExist(err) {
		t.Fatal("manifest file should be removed")
	}

	resp, _ = env.do(t, "GET", "/api/manifests/qtile", "", "")
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, "DELETE", "/api/manifests/qtile", "", "")
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 on second delete, got %d", resp.StatusCode)
	}
}

func TestRevisions(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "PUT", "/api/manifests/qtile", "application/x-yaml", sampleManifest)
	env.do(t, "PUT", "/api/manifests/qtile", "application/x-yaml",
		strings.Replace(sampleManifest, "23.3.0", "24.1.0", 1))

	resp, body := env.do(t, "GET", "/api/manifests/qtile/revisions", "", "")
	if resp.StatusCode != 200 {
		t.Fatalf("revisions: expected 200, got %d", resp.StatusCode)
	}
	var wrapper struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		t.Fatalf("decode revisions: %v", err)
	}
	if len(wrapper.Data) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(wrapper.Data))
	}

	revID, _ := wrapper.Data[0]["id"].(string)
	resp, body = env.do(t, "GET", "/api/revisions/"+revID+"?format=yaml", "", "")
	if resp.StatusCode != 200 {
		t.Fatalf("get revision: expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "repos:") {
		t.Fatalf("expected yaml revision body: %s", body)
	}
}

func TestValidateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "POST", "/api/validate", "application/x-yaml", sampleManifest)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	data := decodeData(t, body)
	if data["valid"] != true {
		t.Fatalf("expected valid manifest: %s", body)
	}

	bad := "repos:\n  - repo: https://github.com/psf/black\n    hooks:\n      - id: black\n"
	resp, body = env.do(t, "POST", "/api/validate", "application/x-yaml", bad)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 for lint result, got %d", resp.StatusCode)
	}
	data = decodeData(t, body)
	if data["valid"] != false {
		t.Fatalf("expected invalid manifest: %s", body)
	}

	resp, body = env.do(t, "POST", "/api/validate", "application/x-yaml", "repos: [unclosed")
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400 for unparsable yaml, got %d: %s", resp.StatusCode, body)
	}
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "PUT", "/api/manifests/qtile", "application/x-yaml", sampleManifest)

	payload := `{"files": ["libqtile/core.py", "scripts/run.py", "docs/index.rst"]}`
	resp, body := env.do(t, "POST", "/api/manifests/qtile/preview", "application/json", payload)
	if resp.StatusCode != 200 {
		t.Fatalf("preview: expected 200, got %d: %s", resp.StatusCode, body)
	}

	var wrapper struct {
		Data struct {
			Excluded   []string `json:"excluded"`
			Selections []struct {
				Repo  string   `json:"repo"`
				Hook  string   `json:"hook"`
				Files []string `json:"files"`
			} `json:"selections"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if len(wrapper.Data.Excluded) != 1 || wrapper.Data.Excluded[0] != "docs/index.rst" {
		t.Fatalf("expected docs excluded, got %v", wrapper.Data.Excluded)
	}
	for _, sel := range wrapper.Data.Selections {
		switch sel.Hook {
		case "black":
			if len(sel.Files) != 2 {
				t.Fatalf("black should see both python files, got %v", sel.Files)
			}
		case "mypy":
			if len(sel.Files) != 1 || sel.Files[0] != "libqtile/core.py" {
				t.Fatalf("mypy files filter not applied, got %v", sel.Files)
			}
		}
	}

	resp, _ = env.do(t, "POST", "/api/manifests/missing/preview", "application/json", payload)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 for unknown project, got %d", resp.StatusCode)
	}
}

func TestPolicyEndpoints(t *testing.T) {
	env := newTestEnv(t)

	create := `{"name":"pinned-revs","scope":"repo","expression":"repo.Rev != \"master\"","severity":"block","active":true}`
	resp, body := env.do(t, "POST", "/api/policies", "application/json", create)
	if resp.StatusCode != 201 {
		t.Fatalf("create: expected 201, got %d: %s", resp.StatusCode, body)
	}
	data := decodeData(t, body)
	id, _ := data["id"].(string)
	if id == "" {
		t.Fatalf("expected generated id: %s", body)
	}
	if env.policies.Len() != 1 {
		t.Fatal("engine not reloaded after create")
	}

	resp, _ = env.do(t, "POST", "/api/policies", "application/json", create)
	if resp.StatusCode != 409 {
		t.Fatalf("duplicate: expected 409, got %d", resp.StatusCode)
	}

	resp, body = env.do(t, "POST", "/api/policies", "application/json",
		`{"name":"broken","expression":"repo.Rev !=","severity":"advice"}`)
	if resp.StatusCode != 422 {
		t.Fatalf("bad expression: expected 422, got %d: %s", resp.StatusCode, body)
	}

	update := `{"name":"pinned-revs","scope":"repo","expression":"repo.Rev != \"main\"","severity":"advice","active":false}`
	resp, _ = env.do(t, "PUT", "/api/policies/"+id, "application/json", update)
	if resp.StatusCode != 200 {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	if env.policies.Len() != 0 {
		t.Fatal("deactivated policy should leave the engine")
	}

	resp, _ = env.do(t, "DELETE", "/api/policies/"+id, "", "")
	if resp.StatusCode != 200 {
		t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, "DELETE", "/api/policies/"+id, "", "")
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 on second delete, got %d", resp.StatusCode)
	}
}

func TestWebhookEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "POST", "/api/webhooks", "application/json",
		`{"url":"https://ci.example.com/hook","project_filter":"^qtile$","active":true}`)
	if resp.StatusCode != 201 {
		t.Fatalf("create: expected 201, got %d: %s", resp.StatusCode, body)
	}
	data := decodeData(t, body)
	id, _ := data["id"].(string)

	resp, _ = env.do(t, "POST", "/api/webhooks", "application/json", `{"url":"","project_filter":"[bad"}`)
	if resp.StatusCode != 422 {
		t.Fatalf("invalid webhook: expected 422, got %d", resp.StatusCode)
	}

	resp, body = env.do(t, "GET", "/api/webhooks", "", "")
	if resp.StatusCode != 200 || !strings.Contains(string(body), id) {
		t.Fatalf("list: expected webhook %s, got %d %s", id, resp.StatusCode, body)
	}

	resp, _ = env.do(t, "DELETE", "/api/webhooks/"+id, "", "")
	if resp.StatusCode != 200 {
		t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, "GET", "/health", "", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("unexpected health body: %s", body)
	}
}
