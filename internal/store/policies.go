package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PolicyRecord is a stored org-wide manifest policy.
type PolicyRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Scope      string    `json:"scope"`
	Expression string    `json:"expression"`
	Message    string    `json:"message,omitempty"`
	Severity   string    `json:"severity"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreatePolicy inserts a policy and returns its generated id.
func (s *Store) CreatePolicy(ctx context.Context, p *PolicyRecord) (string, error) {
	id := GenerateUUID()
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`INSERT INTO _policies (id, name, scope, expression, message, severity, active)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(id), pb.Add(p.Name), pb.Add(p.Scope), pb.Add(p.Expression),
		pb.Add(p.Message), pb.Add(p.Severity), pb.Add(p.Active))
	if _, err := Exec(ctx, s.DB, query, pb.Params()...); err != nil {
		return "", fmt.Errorf("insert policy %s: %w", p.Name, s.Dialect.MapError(err))
	}
	return id, nil
}

// UpdatePolicy rewrites a policy by id. Returns ErrNotFound when absent.
func (s *Store) UpdatePolicy(ctx context.Context, p *PolicyRecord) error {
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`UPDATE _policies
		 SET name = %s, scope = %s, expression = %s, message = %s, severity = %s, active = %s, updated_at = %s
		 WHERE id = %s`,
		pb.Add(p.Name), pb.Add(p.Scope), pb.Add(p.Expression), pb.Add(p.Message),
		pb.Add(p.Severity), pb.Add(p.Active), s.Dialect.NowExpr(), pb.Add(p.ID))
	n, err := Exec(ctx, s.DB, query, pb.Params()...)
	if err != nil {
		return fmt.Errorf("update policy %s: %w", p.ID, s.Dialect.MapError(err))
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePolicy removes a policy by id. Returns true if a row was deleted.
func (s *Store) DeletePolicy(ctx context.Context, id string) (bool, error) {
	pb := s.Dialect.NewParamBuilder()
	n, err := Exec(ctx, s.DB,
		fmt.Sprintf("DELETE FROM _policies WHERE id = %s", pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return false, fmt.Errorf("delete policy %s: %w", id, err)
	}
	return n > 0, nil
}

// ListPolicies returns policies ordered by name. With activeOnly, only
// enabled policies are returned.
func (s *Store) ListPolicies(ctx context.Context, activeOnly bool) ([]*PolicyRecord, error) {
	query := `SELECT id, name, scope, expression, message, severity, active, created_at, updated_at
		 FROM _policies`
	if activeOnly {
		query += ` WHERE active = ` + s.boolLiteral(true)
	}
	query += ` ORDER BY name`

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var records []*PolicyRecord
	for rows.Next() {
		rec, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetPolicy returns a single policy by id, or ErrNotFound.
func (s *Store) GetPolicy(ctx context.Context, id string) (*PolicyRecord, error) {
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`SELECT id, name, scope, expression, message, severity, active, created_at, updated_at
		 FROM _policies WHERE id = %s`, pb.Add(id))

	rec, err := scanPolicy(s.DB.QueryRowContext(ctx, query, pb.Params()...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get policy %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) boolLiteral(b bool) string {
	if s.Dialect.Name() == "sqlite" {
		if b {
			return "1"
		}
		return "0"
	}
	if b {
		return "true"
	}
	return "false"
}

func scanPolicy(row rowScanner) (*PolicyRecord, error) {
	var rec PolicyRecord
	var active, createdAt, updatedAt any
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Scope, &rec.Expression, &rec.Message,
		&rec.Severity, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Active = ToBool(active)
	rec.CreatedAt = ParseTime(createdAt)
	rec.UpdatedAt = ParseTime(updatedAt)
	return &rec, nil
}
