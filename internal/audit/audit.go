package audit

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"hookhub/internal/store"
)

// Entry is one audit trail record.
type Entry struct {
	Actor   string
	Action  string
	Project string
	Detail  string
	At      time.Time
}

// Buffer collects audit entries in memory and periodically flushes them
// to the _audit_log table in a batch insert.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	store   *store.Store
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
}

// NewBuffer creates a buffer that flushes on a timer or when full.
func NewBuffer(s *store.Store, maxSize int, flushIntervalMs int) *Buffer {
	b := &Buffer{
		store:   s,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	b.ticker = time.NewTicker(time.Duration(flushIntervalMs) * time.Millisecond)
	go b.run()
	return b
}

func (b *Buffer) run() {
	for {
		select {
		case <-b.done:
			return
		case <-b.ticker.C:
			b.Flush()
		}
	}
}

// Record adds an entry to the buffer. If the buffer is full, a flush is
// triggered asynchronously.
func (b *Buffer) Record(actor, action, project, detail string) {
	entry := Entry{Actor: actor, Action: action, Project: project, Detail: detail, At: time.Now().UTC()}

	b.mu.Lock()
	b.entries = append(b.entries, entry)
	shouldFlush := len(b.entries) >= b.maxSize
	b.mu.Unlock()
	if shouldFlush {
		go b.Flush()
	}
}

// Flush writes all buffered entries to the database in a single batch
// insert.
func (b *Buffer) Flush() {
	b.mu.Lock()
	if len(b.entries) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.entries
	b.entries = nil
	b.mu.Unlock()

	ctx := context.Background()
	pb := b.store.Dialect.NewParamBuilder()
	placeholders := make([]string, 0, len(batch))
	for _, e := range batch {
		ph := []string{
			pb.Add(store.GenerateUUID()),
			pb.Add(e.Actor),
			pb.Add(e.Action),
			pb.Add(e.Project),
			pb.Add(e.Detail),
			pb.Add(e.At.Format("2006-01-02 15:04:05")),
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	query := fmt.Sprintf(
		"INSERT INTO _audit_log (id, actor, action, project, detail, created_at) VALUES %s",
		strings.Join(placeholders, ","))
	if _, err := store.Exec(ctx, b.store.DB, query, pb.Params()...); err != nil {
		log.Printf("ERROR: audit buffer insert: %v", err)
	}
}

// Stop halts the background ticker and flushes remaining entries.
func (b *Buffer) Stop() {
	if b.ticker != nil {
		b.ticker.Stop()
	}
	close(b.done)
	b.Flush()
}
