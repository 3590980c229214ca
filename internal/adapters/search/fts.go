// Package search implements the document search provider on a local SQLite
// FTS5 index.
package search

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Document is one indexed piece of case material.
type Document struct {
	ID      string
	Title   string
	Source  string
	Content string
}

// Result is a document matched by a query.
type Result struct {
	Document
	// Relevance is the match score normalized against the query's best hit,
	// in (0, 1].
	Relevance float64
}

// Index is a full-text document index. It implements core.SearchProvider.
type Index struct {
	db     *sql.DB
	logger *logging.Logger
}

var _ core.SearchProvider = (*Index)(nil)

// OpenIndex opens (creating if needed) the index database at path.
// The path ":memory:" opens a private in-memory index.
func OpenIndex(path string, logger *logging.Logger) (*Index, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateIndex(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating index: %w", err)
	}
	return &Index{db: db, logger: logger}, nil
}

func migrateIndex(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the index.
func (x *Index) Close() error {
	return x.db.Close()
}

// Add inserts or replaces documents by ID.
func (x *Index) Add(ctx context.Context, docs ...Document) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, d := range docs {
		if d.ID == "" {
			return core.ErrValidation("EMPTY_DOCUMENT_ID", "document id is required")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (doc_id, title, source, content, indexed_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(doc_id) DO UPDATE SET
				title = excluded.title,
				source = excluded.source,
				content = excluded.content,
				indexed_at = excluded.indexed_at`,
			d.ID, d.Title, d.Source, d.Content, now)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// Remove deletes a document by ID.
func (x *Index) Remove(ctx context.Context, id string) error {
	_, err := x.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, id)
	return err
}

// Count returns the number of indexed documents.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// Query runs one free-text query and returns up to limit results, best first.
func (x *Index) Query(ctx context.Context, query string, limit int) ([]Result, error) {
	match := matchExpression(query)
	if match == "" {
		return nil, nil
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT d.doc_id, d.title, d.source, d.content, bm25(documents_fts) AS score
		FROM documents_fts
		JOIN documents d ON d.rowid = documents_fts.rowid
		WHERE documents_fts MATCH ?
		ORDER BY score
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer rows.Close()

	var (
		results []Result
		best    float64
	)
	for rows.Next() {
		var (
			r     Result
			score float64
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Source, &r.Content, &score); err != nil {
			return nil, err
		}
		// bm25 is lower-is-better and negative for matches.
		r.Relevance = -score
		if r.Relevance > best {
			best = r.Relevance
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		if best > 0 {
			results[i].Relevance /= best
		} else {
			results[i].Relevance = 1
		}
	}
	return results, nil
}

// Search runs every query, keeps hits at or above threshold, deduplicates
// by document and formats them for a prompt. It returns "" when nothing
// matched.
func (x *Index) Search(ctx context.Context, queries []string, limit int, threshold float64) (string, error) {
	var all []Result
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		results, err := x.Query(ctx, q, limit)
		if err != nil {
			return "", core.ErrProvider(core.CodeSearchFailed, "search failed for query "+q, false).WithCause(err)
		}
		kept := 0
		for _, r := range results {
			if r.Relevance >= threshold {
				all = append(all, r)
				kept++
			}
		}
		x.logger.Debug("search query", "query", q, "hits", len(results), "kept", kept)
	}
	return FormatResults(Dedupe(all)), nil
}

// Dedupe drops repeated documents, keeping first occurrence order.
func Dedupe(results []Result) []Result {
	seen := make(map[string]bool, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}

const maxFormattedContent = 500

// FormatResults renders results as numbered document sections.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	sections := make([]string, 0, len(results))
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = fmt.Sprintf("Document %d", i+1)
		}
		source := r.Source
		if source == "" {
			source = "Unknown source"
		}
		content := r.Content
		if len(content) > maxFormattedContent {
			content = truncateRunes(content, maxFormattedContent) + "..."
		}
		sections = append(sections, fmt.Sprintf("Document %d: %s\nSource: %s\nRelevance: %.2f\nContent: %s\n---",
			i+1, title, source, r.Relevance, content))
	}
	return strings.Join(sections, "\n\n")
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary.
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// matchExpression turns free text into an FTS5 OR query of quoted terms so
// user input can never be parsed as query syntax.
func matchExpression(q string) string {
	terms := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if len(t) < 2 {
			continue
		}
		quoted = append(quoted, `"`+strings.ToLower(t)+`"`)
	}
	return strings.Join(quoted, " OR ")
}
