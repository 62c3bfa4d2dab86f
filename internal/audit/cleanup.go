package audit

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"hookhub/internal/store"
)

// Cleaner deletes audit entries older than the retention window on a
// background interval.
type Cleaner struct {
	store         *store.Store
	retentionDays int
	ticker        *time.Ticker
	done          chan struct{}
}

func NewCleaner(s *store.Store, retentionDays int) *Cleaner {
	return &Cleaner{store: s, retentionDays: retentionDays}
}

// Start begins the hourly retention sweep.
func (c *Cleaner) Start() {
	if c.retentionDays <= 0 {
		log.Println("Audit retention disabled (retention_days <= 0)")
		return
	}
	c.ticker = time.NewTicker(time.Hour)
	c.done = make(chan struct{})
	go c.run()
	log.Printf("Audit retention sweep started (%d days, hourly)", c.retentionDays)
}

// Stop halts the sweep.
func (c *Cleaner) Stop() {
	if c.ticker != nil {
		c.ticker.Stop()
	}
	if c.done != nil {
		close(c.done)
	}
}

func (c *Cleaner) run() {
	c.Sweep()
	for {
		select {
		case <-c.done:
			return
		case <-c.ticker.C:
			c.Sweep()
		}
	}
}

// Sweep deletes expired rows once and returns the number removed.
func (c *Cleaner) Sweep() int64 {
	ctx := context.Background()
	pb := c.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("DELETE FROM _audit_log WHERE %s",
		c.store.Dialect.IntervalDeleteExpr("created_at", pb, strconv.Itoa(c.retentionDays)))

	n, err := store.Exec(ctx, c.store.DB, query, pb.Params()...)
	if err != nil {
		log.Printf("ERROR: audit retention sweep: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("Audit retention sweep removed %d entries", n)
	}
	return n
}
