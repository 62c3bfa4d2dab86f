package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"hookhub/internal/store"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Payload is the JSON body sent to webhook endpoints when a manifest
// changes.
type Payload struct {
	Event          string `json:"event"`
	Project        string `json:"project"`
	Checksum       string `json:"checksum,omitempty"`
	Action         string `json:"action"` // updated, deleted
	Timestamp      string `json:"timestamp"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Dispatcher fans manifest change events out to registered webhooks.
// Deliveries run in background goroutines and are recorded in
// _webhook_logs; the Scheduler picks up failures for retry.
type Dispatcher struct {
	store *store.Store
}

func NewDispatcher(s *store.Store) *Dispatcher {
	return &Dispatcher{store: s}
}

// ManifestChanged dispatches the event to every active webhook whose
// project filter matches. Does not block the caller.
func (d *Dispatcher) ManifestChanged(project, checksum, action string) {
	webhooks, err := d.store.ListWebhooks(context.Background(), true)
	if err != nil {
		log.Printf("ERROR: list webhooks for dispatch: %v", err)
		return
	}
	if len(webhooks) == 0 {
		return
	}

	payload := &Payload{
		Event:          "manifest",
		Project:        project,
		Checksum:       checksum,
		Action:         action,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		IdempotencyKey: "wh_" + uuid.New().String(),
	}
	bodyJSON, _ := json.Marshal(payload)

	for _, wh := range webhooks {
		if !matchesProject(wh.ProjectFilter, project) {
			continue
		}
		go func(wh *store.WebhookRecord) {
			headers := ResolveHeaders(wh.Headers)
			result := Dispatch(context.Background(), wh.URL, wh.Method, headers, bodyJSON)
			d.logDelivery(context.Background(), wh, project, bodyJSON, result)
		}(wh)
	}
}

func matchesProject(filter, project string) bool {
	if filter == "" {
		return true
	}
	re, err := regexp.Compile(filter)
	if err != nil {
		log.Printf("WARN: bad webhook project filter %q: %v", filter, err)
		return false
	}
	return re.MatchString(project)
}

// ResolveHeaders replaces {{env.VAR_NAME}} in header values with os env
// values, so secrets stay out of the database.
func ResolveHeaders(headers map[string]string) map[string]string {
	resolved := make(map[string]string, len(headers))
	for k, v := range headers {
		resolved[k] = resolveEnvVars(v)
	}
	return resolved
}

func resolveEnvVars(s string) string {
	for {
		start := strings.Index(s, "{{env.")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return s
		}
		end += start
		varName := s[start+6 : end]
		envVal := os.Getenv(varName)
		s = s[:start] + envVal + s[end+2:]
	}
}

// DispatchResult holds the outcome of a single webhook HTTP call.
type DispatchResult struct {
	StatusCode   int
	ResponseBody string
	Error        string
}

// OK reports whether the delivery succeeded.
func (r *DispatchResult) OK() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// Dispatch performs the HTTP call. url/method/headers are resolved values.
func Dispatch(ctx context.Context, url, method string, headers map[string]string, bodyJSON []byte) *DispatchResult {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyJSON))
	if err != nil {
		return &DispatchResult{Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return &DispatchResult{Error: fmt.Sprintf("http call: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024)) // max 64KB

	return &DispatchResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(respBody),
	}
}

func (d *Dispatcher) logDelivery(ctx context.Context, wh *store.WebhookRecord, project string, bodyJSON []byte, result *DispatchResult) {
	status := "delivered"
	errMsg := result.Error
	if !result.OK() {
		if wh.MaxAttempts > 1 {
			status = "retrying"
		} else {
			status = "failed"
		}
		if errMsg == "" {
			errMsg = fmt.Sprintf("HTTP %d", result.StatusCode)
		}
	}

	var nextRetry any
	if status == "retrying" {
		nextRetry = retryTimestamp(1)
	}

	pb := d.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`INSERT INTO _webhook_logs (id, webhook_id, project, url, method, request_body,
		 response_status, response_body, status, attempt, max_attempts, next_retry_at, error)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(store.GenerateUUID()), pb.Add(wh.ID), pb.Add(project), pb.Add(wh.URL), pb.Add(wh.Method),
		pb.Add(string(bodyJSON)), pb.Add(result.StatusCode), pb.Add(result.ResponseBody),
		pb.Add(status), pb.Add(1), pb.Add(wh.MaxAttempts), pb.Add(nextRetry), pb.Add(errMsg))
	if _, err := store.Exec(ctx, d.store.DB, query, pb.Params()...); err != nil {
		log.Printf("ERROR: failed to log webhook delivery for %s: %v", wh.ID, err)
	}
}

// retryTimestamp computes the next retry time with exponential backoff:
// 30s doubled per attempt. Stored as a UTC string so both dialects
// compare it consistently.
func retryTimestamp(attempt int) string {
	backoff := 30 * time.Second << (attempt - 1)
	return time.Now().Add(backoff).UTC().Format("2006-01-02 15:04:05")
}
