package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/TobiSchelling/postforge/internal/apperr"
)

// UpsertRubric creates a rubric or renames and reactivates an existing one.
func (db *DB) UpsertRubric(ctx context.Context, code, name string) error {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return apperr.Wrap(apperr.ErrValidation, "rubric needs a code and a name")
	}
	_, err := db.execWithRetry(ctx,
		`INSERT INTO rubrics (code, name, is_active, created_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(code) DO UPDATE SET name = excluded.name, is_active = 1`,
		code, name, db.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("saving rubric %q: %w", code, err)
	}
	return nil
}

// SetRubricActive toggles whether a rubric can be resolved.
func (db *DB) SetRubricActive(ctx context.Context, code string, active bool) error {
	res, err := db.execWithRetry(ctx, "UPDATE rubrics SET is_active = ? WHERE code = ?", boolToInt(active), code)
	if err != nil {
		return fmt.Errorf("updating rubric %q: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "rubric %q", code)
	}
	return nil
}

// ListRubrics returns all rubrics ordered by name.
func (db *DB) ListRubrics(ctx context.Context) ([]Rubric, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT code, name, is_active, created_at FROM rubrics ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing rubrics: %w", err)
	}
	defer rows.Close()

	var rubrics []Rubric
	for rows.Next() {
		var r Rubric
		var active int
		var created string
		if err := rows.Scan(&r.Code, &r.Name, &active, &created); err != nil {
			return nil, err
		}
		r.IsActive = active != 0
		r.CreatedAt = parseTime(created)
		rubrics = append(rubrics, r)
	}
	return rubrics, rows.Err()
}

// ResolveRubric returns the name of an active rubric by code.
func (db *DB) ResolveRubric(ctx context.Context, code string) (string, bool, error) {
	var name string
	err := db.conn.QueryRowContext(ctx,
		"SELECT name FROM rubrics WHERE code = ? AND is_active = 1", strings.TrimSpace(code),
	).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolving rubric %q: %w", code, err)
	}
	return name, true, nil
}

// GetStats returns aggregate counts for the status command.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM posts", &s.TotalPosts},
		{"SELECT COUNT(*) FROM posts WHERE payload IS NOT NULL", &s.PostsWithData},
		{"SELECT COUNT(*) FROM rubrics WHERE is_active = 1", &s.Rubrics},
	}
	for _, q := range queries {
		if err := db.conn.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("reading stats: %w", err)
		}
	}
	jobs, err := db.JobCounts(ctx)
	if err != nil {
		return nil, err
	}
	s.Jobs = jobs
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
