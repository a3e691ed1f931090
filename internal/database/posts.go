package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/TobiSchelling/postforge/internal/apperr"
	"github.com/TobiSchelling/postforge/internal/article"
)

var postColumns = []string{
	"id", "slug", "title", "lead", "section", "body", "faq", "citations", "tags",
	"payload", "source_key", "canonical_url", "created_at", "updated_at",
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

type rowScanner interface {
	Scan(dest ...any) error
}

// InsertPost stores a new post. Projected columns are rebuilt from the payload
// first. A taken slug yields apperr.ErrConflict.
func (db *DB) InsertPost(ctx context.Context, p *Post) (int64, error) {
	if p.Payload == nil {
		return 0, apperr.Wrap(apperr.ErrValidation, "post has no payload")
	}
	p.syncFromPayload()
	args, err := postValues(p)
	if err != nil {
		return 0, err
	}

	stamp := db.timestamp()
	res, err := db.execWithRetry(ctx,
		`INSERT INTO posts (slug, title, lead, section, body, faq, citations, tags,
			payload, source_key, canonical_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append(args, stamp, stamp)...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apperr.Wrap(apperr.ErrConflict, "slug %q already exists", p.Slug)
		}
		return 0, fmt.Errorf("inserting post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading post id: %w", err)
	}
	p.ID = id
	p.CreatedAt = parseTime(stamp)
	p.UpdatedAt = p.CreatedAt
	return id, nil
}

// UpdatePost replaces every mutable column of the post identified by p.ID and
// refreshes updated_at.
func (db *DB) UpdatePost(ctx context.Context, p *Post) error {
	if p.ID == 0 {
		return apperr.Wrap(apperr.ErrValidation, "post has no id")
	}
	if p.Payload == nil {
		return apperr.Wrap(apperr.ErrValidation, "post has no payload")
	}
	p.syncFromPayload()
	args, err := postValues(p)
	if err != nil {
		return err
	}

	stamp := db.timestamp()
	res, err := db.execWithRetry(ctx,
		`UPDATE posts SET slug = ?, title = ?, lead = ?, section = ?, body = ?, faq = ?,
			citations = ?, tags = ?, payload = ?, source_key = ?, canonical_url = ?, updated_at = ?
		WHERE id = ?`,
		append(args, stamp, p.ID)...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.ErrConflict, "slug %q already exists", p.Slug)
		}
		return fmt.Errorf("updating post %d: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating post %d: %w", p.ID, err)
	}
	if n == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "post %d", p.ID)
	}
	p.UpdatedAt = parseTime(stamp)
	return nil
}

func postValues(p *Post) ([]any, error) {
	payload, err := article.EncodePayload(p.Payload)
	if err != nil {
		return nil, err
	}
	faq, err := marshalList(p.FAQ)
	if err != nil {
		return nil, err
	}
	citations, err := marshalList(p.Citations)
	if err != nil {
		return nil, err
	}
	tags, err := marshalList(p.Tags)
	if err != nil {
		return nil, err
	}
	return []any{
		p.Slug, p.Title, p.Lead, p.Section, p.Body, faq, citations, tags,
		string(payload), nullString(p.SourceKey), p.Canonical,
	}, nil
}

func marshalList[T any](items []T) (string, error) {
	if items == nil {
		return "[]", nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshaling column: %w", err)
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// SlugExists reports whether any post uses slug.
func (db *DB) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts WHERE slug = ?", slug).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking slug: %w", err)
	}
	return n > 0, nil
}

// FindPostBySlug returns the post with slug, or nil if none exists.
func (db *DB) FindPostBySlug(ctx context.Context, slug string) (*Post, error) {
	return db.findPost(ctx, sq.Eq{"slug": slug})
}

// FindPostByID returns the post with id, or nil if none exists.
func (db *DB) FindPostByID(ctx context.Context, id int64) (*Post, error) {
	return db.findPost(ctx, sq.Eq{"id": id})
}

// FindPostBySourceKey returns the oldest post generated from key, or nil.
func (db *DB) FindPostBySourceKey(ctx context.Context, key string) (*Post, error) {
	if key == "" {
		return nil, nil
	}
	return db.findPost(ctx, sq.Eq{"source_key": key})
}

func (db *DB) findPost(ctx context.Context, where sq.Sqlizer) (*Post, error) {
	query, args, err := sq.Select(postColumns...).From("posts").
		Where(where).OrderBy("id ASC").Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	p, err := scanPost(db.conn.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.DecodeErr != nil {
		return nil, p.DecodeErr
	}
	return p, nil
}

// ListPosts returns one page of posts, newest first, optionally filtered by a
// title/lead search term and a section.
func (db *DB) ListPosts(ctx context.Context, f PostFilter) (*PostPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}

	where := sq.And{}
	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + s + "%"
		where = append(where, sq.Or{sq.Like{"title": pattern}, sq.Like{"lead": pattern}})
	}
	if s := strings.TrimSpace(f.Section); s != "" {
		where = append(where, sq.Eq{"section": s})
	}

	countQuery, countArgs, err := sq.Select("COUNT(*)").From("posts").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building count query: %w", err)
	}
	var total int
	if err := db.conn.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting posts: %w", err)
	}

	query, args, err := sq.Select(postColumns...).From("posts").Where(where).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(f.PerPage)).Offset(uint64((f.Page - 1) * f.PerPage)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}
	items, err := db.queryPosts(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &PostPage{
		Items:      items,
		Page:       f.Page,
		PerPage:    f.PerPage,
		TotalItems: total,
		TotalPages: int(math.Ceil(float64(total) / float64(f.PerPage))),
	}, nil
}

// StalePosts returns up to limit posts with a payload whose updated_at is at or
// before cutoff, in (updated_at, id) order, strictly after the cursor when given.
// A row with an unreadable payload is returned with DecodeErr set so the page
// and the cursor stay intact.
func (db *DB) StalePosts(ctx context.Context, cutoff time.Time, after *PostCursor, limit int) ([]Post, error) {
	q := sq.Select(postColumns...).From("posts").
		Where("payload IS NOT NULL").
		Where(sq.LtOrEq{"updated_at": formatTime(cutoff)})
	if after != nil {
		at := formatTime(after.UpdatedAt)
		q = q.Where(sq.Or{
			sq.Gt{"updated_at": at},
			sq.And{sq.Eq{"updated_at": at}, sq.Gt{"id": after.ID}},
		})
	}
	query, args, err := q.OrderBy("updated_at ASC", "id ASC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building stale query: %w", err)
	}
	return db.queryPosts(ctx, query, args...)
}

func (db *DB) queryPosts(ctx context.Context, query string, args ...any) ([]Post, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

func scanPost(row rowScanner) (*Post, error) {
	var (
		p                    Post
		faq, citations, tags string
		payload, sourceKey   sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Slug, &p.Title, &p.Lead, &p.Section, &p.Body,
		&faq, &citations, &tags, &payload, &sourceKey, &p.Canonical,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var errs []error
	for _, col := range []struct {
		name string
		raw  string
		dest any
	}{{"faq", faq, &p.FAQ}, {"citations", citations, &p.Citations}, {"tags", tags, &p.Tags}} {
		if err := unmarshalColumn(col.raw, col.dest); err != nil {
			errs = append(errs, apperr.WrapErr(apperr.ErrSchema, fmt.Sprintf("post %d %s", p.ID, col.name), err))
		}
	}
	if payload.Valid {
		doc, err := article.DecodePayload([]byte(payload.String))
		if err != nil {
			errs = append(errs, fmt.Errorf("post %d payload: %w", p.ID, err))
		} else {
			p.Payload = doc
		}
	}
	p.DecodeErr = errors.Join(errs...)
	p.SourceKey = sourceKey.String
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func unmarshalColumn(raw string, dest any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}
