package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"hookhub/internal/config"
	"hookhub/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Name:   "hookhub_notify_test",
		Path:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return s
}

func TestDispatch(t *testing.T) {
	var gotBody Payload
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Token")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	body, _ := json.Marshal(Payload{Event: "manifest", Project: "qtile", Action: "updated"})
	result := Dispatch(context.Background(), srv.URL, "POST", map[string]string{"X-Token": "abc"}, body)
	if !result.OK() {
		t.Fatalf("expected delivery to succeed: %+v", result)
	}
	if gotHeader != "abc" {
		t.Fatalf("expected custom header, got %q", gotHeader)
	}
	if gotBody.Project != "qtile" || gotBody.Action != "updated" {
		t.Fatalf("unexpected payload: %+v", gotBody)
	}
}

func TestDispatch_ConnectionError(t *testing.T) {
	result := Dispatch(context.Background(), "http://127.0.0.1:1/nope", "POST", nil, nil)
	if result.OK() || result.Error == "" {
		t.Fatalf("expected error result, got %+v", result)
	}
}

func TestResolveHeaders(t *testing.T) {
	t.Setenv("HOOKHUB_TEST_TOKEN", "s3cret")
	resolved := ResolveHeaders(map[string]string{
		"Authorization": "Bearer {{env.HOOKHUB_TEST_TOKEN}}",
		"X-Plain":       "value",
	})
	if resolved["Authorization"] != "Bearer s3cret" {
		t.Fatalf("env not resolved: %q", resolved["Authorization"])
	}
	if resolved["X-Plain"] != "value" {
		t.Fatalf("plain header changed: %q", resolved["X-Plain"])
	}
}

func TestMatchesProject(t *testing.T) {
	if !matchesProject("", "anything") {
		t.Fatal("empty filter must match all projects")
	}
	if !matchesProject("^qtile$", "qtile") {
		t.Fatal("expected exact filter to match")
	}
	if matchesProject("^qtile$", "qtile-fork") {
		t.Fatal("expected non-matching project to be skipped")
	}
	if matchesProject("[invalid", "qtile") {
		t.Fatal("invalid filter must not match")
	}
}

func TestLogDelivery_FailureQueuesRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateWebhook(ctx, &store.WebhookRecord{
		URL:    "https://ci.example.com/hook",
		Active: true,
	})
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	webhooks, err := s.ListWebhooks(ctx, true)
	if err != nil || len(webhooks) != 1 {
		t.Fatalf("list webhooks: %v (%d)", err, len(webhooks))
	}

	d := NewDispatcher(s)
	d.logDelivery(ctx, webhooks[0], "qtile", []byte(`{"event":"manifest"}`), &DispatchResult{StatusCode: 500})

	row, err := store.QueryRow(ctx, s.DB,
		"SELECT webhook_id, status, attempt, error, next_retry_at FROM _webhook_logs")
	if err != nil {
		t.Fatalf("query log: %v", err)
	}
	if row["webhook_id"] != id {
		t.Fatalf("unexpected webhook_id: %v", row["webhook_id"])
	}
	if row["status"] != "retrying" {
		t.Fatalf("expected retrying status, got %v", row["status"])
	}
	if toInt(row["attempt"]) != 1 {
		t.Fatalf("expected attempt 1, got %v", row["attempt"])
	}
	if row["next_retry_at"] == nil {
		t.Fatal("expected a next_retry_at for retrying delivery")
	}
}

func TestLogDelivery_Success(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateWebhook(ctx, &store.WebhookRecord{URL: "https://x", Active: true}); err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	webhooks, _ := s.ListWebhooks(ctx, true)

	d := NewDispatcher(s)
	d.logDelivery(ctx, webhooks[0], "qtile", []byte(`{}`), &DispatchResult{StatusCode: 204})

	row, err := store.QueryRow(ctx, s.DB, "SELECT status FROM _webhook_logs")
	if err != nil {
		t.Fatalf("query log: %v", err)
	}
	if row["status"] != "delivered" {
		t.Fatalf("expected delivered, got %v", row["status"])
	}
}

func TestRetryTimestampBackoff(t *testing.T) {
	// Attempts double the 30s base delay
	first := retryTimestamp(1)
	third := retryTimestamp(3)
	if first >= third {
		t.Fatalf("expected later retry for higher attempts: %s vs %s", first, third)
	}
}
