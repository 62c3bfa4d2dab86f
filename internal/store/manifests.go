package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ManifestRecord is the persisted manifest for one project. Definition
// holds the canonical YAML document.
type ManifestRecord struct {
	Project    string    `json:"project"`
	Definition string    `json:"definition"`
	Checksum   string    `json:"checksum"`
	UpdatedBy  string    `json:"updated_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RevisionRecord is one historical state of a project's manifest.
type RevisionRecord struct {
	ID         string    `json:"id"`
	Project    string    `json:"project"`
	Definition string    `json:"definition"`
	Checksum   string    `json:"checksum"`
	Author     string    `json:"author,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SaveManifest upserts the current manifest and appends a revision row
// in the same transaction. Returns the new revision id.
func (s *Store) SaveManifest(ctx context.Context, project, definition, checksum, author string) (string, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`INSERT INTO _manifests (project, definition, checksum, updated_by)
		 VALUES (%s, %s, %s, %s)
		 ON CONFLICT (project) DO UPDATE
		 SET definition = excluded.definition, checksum = excluded.checksum,
		     updated_by = excluded.updated_by, updated_at = %s`,
		pb.Add(project), pb.Add(definition), pb.Add(checksum), pb.Add(author), s.Dialect.NowExpr())
	if _, err := Exec(ctx, tx, query, pb.Params()...); err != nil {
		return "", fmt.Errorf("upsert manifest %s: %w", project, s.Dialect.MapError(err))
	}

	revID := GenerateUUID()
	pb = s.Dialect.NewParamBuilder()
	query = fmt.Sprintf(`INSERT INTO _manifest_revisions (id, project, definition, checksum, author)
		 VALUES (%s, %s, %s, %s, %s)`,
		pb.Add(revID), pb.Add(project), pb.Add(definition), pb.Add(checksum), pb.Add(author))
	if _, err := Exec(ctx, tx, query, pb.Params()...); err != nil {
		return "", fmt.Errorf("insert revision for %s: %w", project, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return revID, nil
}

// GetManifest returns the current manifest for a project, or ErrNotFound.
func (s *Store) GetManifest(ctx context.Context, project string) (*ManifestRecord, error) {
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`SELECT project, definition, checksum, updated_by, created_at, updated_at
		 FROM _manifests WHERE project = %s`, pb.Add(project))

	rec, err := scanManifest(s.DB.QueryRowContext(ctx, query, pb.Params()...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get manifest %s: %w", project, err)
	}
	return rec, nil
}

// ListManifests returns all stored manifests ordered by project name.
func (s *Store) ListManifests(ctx context.Context) ([]*ManifestRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT project, definition, checksum, updated_by, created_at, updated_at
		 FROM _manifests ORDER BY project`)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	defer rows.Close()

	var records []*ManifestRecord
	for rows.Next() {
		rec, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manifest row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteManifest removes a project's current manifest. Revision history
// is kept. Returns true if a row was deleted.
func (s *Store) DeleteManifest(ctx context.Context, project string) (bool, error) {
	pb := s.Dialect.NewParamBuilder()
	n, err := Exec(ctx, s.DB,
		fmt.Sprintf("DELETE FROM _manifests WHERE project = %s", pb.Add(project)),
		pb.Params()...)
	if err != nil {
		return false, fmt.Errorf("delete manifest %s: %w", project, err)
	}
	return n > 0, nil
}

// ListRevisions returns up to limit revisions for a project, newest first.
func (s *Store) ListRevisions(ctx context.Context, project string, limit int) ([]*RevisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`SELECT id, project, definition, checksum, author, created_at
		 FROM _manifest_revisions WHERE project = %s
		 ORDER BY created_at DESC LIMIT %s`, pb.Add(project), pb.Add(limit))

	rows, err := s.DB.QueryContext(ctx, query, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list revisions for %s: %w", project, err)
	}
	defer rows.Close()

	var records []*RevisionRecord
	for rows.Next() {
		rec, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revision row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRevision returns a single revision by id, or ErrNotFound.
func (s *Store) GetRevision(ctx context.Context, id string) (*RevisionRecord, error) {
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`SELECT id, project, definition, checksum, author, created_at
		 FROM _manifest_revisions WHERE id = %s`, pb.Add(id))

	rec, err := scanRevision(s.DB.QueryRowContext(ctx, query, pb.Params()...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get revision %s: %w", id, err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManifest(row rowScanner) (*ManifestRecord, error) {
	var rec ManifestRecord
	var updatedBy sql.NullString
	var createdAt, updatedAt any
	if err := row.Scan(&rec.Project, &rec.Definition, &rec.Checksum, &updatedBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.UpdatedBy = updatedBy.String
	rec.CreatedAt = ParseTime(createdAt)
	rec.UpdatedAt = ParseTime(updatedAt)
	return &rec, nil
}

func scanRevision(row rowScanner) (*RevisionRecord, error) {
	var rec RevisionRecord
	var author sql.NullString
	var createdAt any
	if err := row.Scan(&rec.ID, &rec.Project, &rec.Definition, &rec.Checksum, &author, &createdAt); err != nil {
		return nil, err
	}
	rec.Author = author.String
	rec.CreatedAt = ParseTime(createdAt)
	return &rec, nil
}
