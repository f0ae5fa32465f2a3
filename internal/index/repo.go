package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/munin/internal/models"
)

// DocRow represents a row in the documents table.
type DocRow struct {
	Path      string
	Title     string
	Checksum  string
	Tags      []string
	UpdatedAt time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string
	Title   string
	Snippet string
}

// UpsertDocument inserts or replaces a document row, its FTS entry, and
// its outgoing edges within a transaction.
func (db *DB) UpsertDocument(d DocRow, body string, edges []models.Edge) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tagsJSON, _ := json.Marshal(d.Tags)

	// Upsert documents table (includes body for fallback search).
	_, err = tx.Exec(`
		INSERT INTO documents (path, title, checksum, tags, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title      = excluded.title,
			checksum   = excluded.checksum,
			tags       = excluded.tags,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, d.Path, d.Title, d.Checksum, string(tagsJSON), body, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, d.Path, d.Title, body, d.Tags); err != nil {
		return err
	}

	// Replace edges: delete old then bulk insert.
	_, _ = tx.Exec(`DELETE FROM links WHERE source = ?`, d.Path)
	if len(edges) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source, target, kind, section, invalid) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range edges {
			invalid := 0
			if e.Invalid {
				invalid = 1
			}
			if _, err := stmt.Exec(d.Path, e.Target, string(e.Kind), e.Section, invalid); err != nil {
				return fmt.Errorf("index: insert link: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteDocument removes a document, its FTS entry, and outgoing edges.
func (db *DB) DeleteDocument(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	_, _ = tx.Exec(`DELETE FROM links WHERE source = ?`, path)
	_, _ = tx.Exec(`DELETE FROM documents WHERE path = ?`, path)

	return tx.Commit()
}

// GetDocument returns one cached row, or nil when the path is not
// indexed.
func (db *DB) GetDocument(path string) (*DocRow, error) {
	row := db.conn.QueryRow(`SELECT path, title, checksum, tags, updated_at FROM documents WHERE path = ?`, path)
	d, err := scanDocRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: get document: %w", err)
	}
	return &d, nil
}

// GetChecksum returns the stored checksum for a document, or empty
// string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM documents WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// ListDocuments returns one page of document rows plus the total count
// matching the filter. tag narrows to documents carrying that tag; sort
// is one of "path" (default), "title", "updated".
func (db *DB) ListDocuments(limit, offset int, tag, sort string) ([]DocRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	order := "path ASC"
	switch sort {
	case "", "path":
	case "title":
		order = "title ASC, path ASC"
	case "updated":
		order = "updated_at DESC, path ASC"
	default:
		return nil, 0, fmt.Errorf("index: unknown sort %q", sort)
	}

	where := ""
	args := []any{}
	if tag != "" {
		// Tags are stored as a JSON array; match the quoted element.
		where = `WHERE tags LIKE ?`
		args = append(args, `%"`+tag+`"%`)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM documents `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count documents: %w", err)
	}

	rows, err := db.conn.Query(
		`SELECT path, title, checksum, tags, updated_at FROM documents `+where+` ORDER BY `+order+` LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list documents: %w", err)
	}
	defer rows.Close()

	var out []DocRow
	for rows.Next() {
		d, err := scanDocRow(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// AllPaths returns every indexed document path.
func (db *DB) AllPaths() (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT path FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}

// AllChecksums returns path → checksum for every indexed document.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// Backlinks returns the distinct document paths that reference the given
// target.
func (db *DB) Backlinks(target string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT DISTINCT source FROM links WHERE target = ? ORDER BY source`, target)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// scanDocRow scans one documents row, decoding the tags JSON column.
func scanDocRow(scan func(dest ...any) error) (DocRow, error) {
	var d DocRow
	var tagsJSON string
	if err := scan(&d.Path, &d.Title, &d.Checksum, &tagsJSON, &d.UpdatedAt); err != nil {
		return DocRow{}, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &d.Tags); err != nil {
		d.Tags = nil
	}
	return d, nil
}
