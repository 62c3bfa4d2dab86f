package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// WebhookRecord is a registered manifest-change notification target.
// ProjectFilter is an optional pattern restricting which projects the
// webhook fires for.
type WebhookRecord struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers,omitempty"`
	ProjectFilter string            `json:"project_filter,omitempty"`
	MaxAttempts   int               `json:"max_attempts"`
	Active        bool              `json:"active"`
	CreatedAt     time.Time         `json:"created_at"`
}

// CreateWebhook inserts a webhook and returns its generated id.
func (s *Store) CreateWebhook(ctx context.Context, w *WebhookRecord) (string, error) {
	id := GenerateUUID()
	if w.Method == "" {
		w.Method = "POST"
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = 3
	}
	headersJSON, _ := json.Marshal(w.Headers)

	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`INSERT INTO _webhooks (id, url, method, headers, project_filter, max_attempts, active)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(id), pb.Add(w.URL), pb.Add(w.Method), pb.Add(string(headersJSON)),
		pb.Add(w.ProjectFilter), pb.Add(w.MaxAttempts), pb.Add(w.Active))
	if _, err := Exec(ctx, s.DB, query, pb.Params()...); err != nil {
		return "", fmt.Errorf("insert webhook: %w", s.Dialect.MapError(err))
	}
	return id, nil
}

// DeleteWebhook removes a webhook and its delivery log.
func (s *Store) DeleteWebhook(ctx context.Context, id string) (bool, error) {
	pb := s.Dialect.NewParamBuilder()
	n, err := Exec(ctx, s.DB,
		fmt.Sprintf("DELETE FROM _webhooks WHERE id = %s", pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return false, fmt.Errorf("delete webhook %s: %w", id, err)
	}
	return n > 0, nil
}

// ListWebhooks returns registered webhooks, optionally only active ones.
func (s *Store) ListWebhooks(ctx context.Context, activeOnly bool) ([]*WebhookRecord, error) {
	query := `SELECT id, url, method, headers, project_filter, max_attempts, active, created_at
		 FROM _webhooks`
	if activeOnly {
		query += ` WHERE active = ` + s.boolLiteral(true)
	}
	query += ` ORDER BY created_at`

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var records []*WebhookRecord
	for rows.Next() {
		var rec WebhookRecord
		var headersRaw, active, createdAt any
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Method, &headersRaw,
			&rec.ProjectFilter, &rec.MaxAttempts, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan webhook row: %w", err)
		}
		rec.Headers = decodeHeaders(headersRaw)
		rec.Active = ToBool(active)
		rec.CreatedAt = ParseTime(createdAt)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func decodeHeaders(v any) map[string]string {
	var raw []byte
	switch val := v.(type) {
	case string:
		raw = []byte(val)
	case []byte:
		raw = val
	default:
		return map[string]string{}
	}
	headers := map[string]string{}
	if err := json.Unmarshal(raw, &headers); err != nil {
		return map[string]string{}
	}
	return headers
}
