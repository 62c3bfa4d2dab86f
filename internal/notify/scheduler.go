package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"hookhub/internal/store"
)

// Scheduler retries failed webhook deliveries on a background interval.
type Scheduler struct {
	store  *store.Store
	ticker *time.Ticker
	done   chan struct{}
}

func NewScheduler(s *store.Store) *Scheduler {
	return &Scheduler{store: s}
}

// Start begins the background ticker for retrying webhook deliveries.
func (ws *Scheduler) Start() {
	ws.ticker = time.NewTicker(30 * time.Second)
	ws.done = make(chan struct{})
	go ws.run()
	log.Println("Webhook scheduler started (30s interval)")
}

// Stop halts the background ticker.
func (ws *Scheduler) Stop() {
	if ws.ticker != nil {
		ws.ticker.Stop()
	}
	if ws.done != nil {
		close(ws.done)
	}
}

func (ws *Scheduler) run() {
	for {
		select {
		case <-ws.done:
			return
		case <-ws.ticker.C:
			ws.processRetries()
		}
	}
}

func (ws *Scheduler) processRetries() {
	ctx := context.Background()

	// Headers are re-resolved from the webhook row on every attempt so
	// rotated secrets take effect without touching pending deliveries.
	rows, err := store.QueryRows(ctx, ws.store.DB, fmt.Sprintf(
		`SELECT l.id, l.url, l.method, l.request_body, l.attempt, l.max_attempts, w.headers
		 FROM _webhook_logs l
		 JOIN _webhooks w ON w.id = l.webhook_id
		 WHERE l.status = 'retrying' AND l.next_retry_at < %s
		 ORDER BY l.next_retry_at ASC
		 LIMIT 50`, ws.store.Dialect.NowExpr()))
	if err != nil {
		log.Printf("ERROR: webhook scheduler query failed: %v", err)
		return
	}

	for _, row := range rows {
		ws.retryDelivery(ctx, row)
	}
}

func (ws *Scheduler) retryDelivery(ctx context.Context, row map[string]any) {
	logID := fmt.Sprintf("%v", row["id"])
	attempt := toInt(row["attempt"]) + 1
	maxAttempts := toInt(row["max_attempts"])
	url := fmt.Sprintf("%v", row["url"])
	method := fmt.Sprintf("%v", row["method"])

	headers := map[string]string{}
	if h, ok := row["headers"].(string); ok && h != "" {
		if err := json.Unmarshal([]byte(h), &headers); err != nil {
			log.Printf("WARN: webhook scheduler headers for %s: %v", logID, err)
		}
	}

	var bodyJSON []byte
	if b, ok := row["request_body"].(string); ok {
		bodyJSON = []byte(b)
	}

	result := Dispatch(ctx, url, method, ResolveHeaders(headers), bodyJSON)

	newStatus := "delivered"
	errMsg := result.Error
	if !result.OK() {
		if errMsg == "" {
			errMsg = fmt.Sprintf("HTTP %d", result.StatusCode)
		}
		if attempt >= maxAttempts {
			newStatus = "failed"
		} else {
			newStatus = "retrying"
		}
	}

	var nextRetry any
	if newStatus == "retrying" {
		nextRetry = retryTimestamp(attempt)
	}

	pb := ws.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`UPDATE _webhook_logs
		 SET status = %s, attempt = %s, response_status = %s, response_body = %s,
		     error = %s, next_retry_at = %s, updated_at = %s
		 WHERE id = %s`,
		pb.Add(newStatus), pb.Add(attempt), pb.Add(result.StatusCode), pb.Add(result.ResponseBody),
		pb.Add(errMsg), pb.Add(nextRetry), ws.store.Dialect.NowExpr(), pb.Add(logID))
	if _, err := store.Exec(ctx, ws.store.DB, query, pb.Params()...); err != nil {
		log.Printf("ERROR: webhook scheduler update for %s: %v", logID, err)
		return
	}

	if newStatus == "delivered" {
		log.Printf("Webhook retry delivered: log=%s attempt=%d", logID, attempt)
	} else if newStatus == "failed" {
		log.Printf("Webhook retry exhausted: log=%s attempt=%d/%d", logID, attempt, maxAttempts)
	}
}

func toInt(v any) int {
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case json.Number:
		n, _ := val.Int64()
		return int(n)
	default:
		return 0
	}
}
