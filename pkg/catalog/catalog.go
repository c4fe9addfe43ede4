// Package catalog persists document metadata and lifecycle state in
// SQLite. It is the single writer for status transitions; the index
// store never touches catalog state and vice versa.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"notebook/internal/models"
)

// timeLayout keeps a fixed-width fractional second so the stored text
// sorts lexicographically in timestamp order. RFC3339Nano drops
// trailing zeros, which would break ORDER BY created_at.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Catalog struct {
	db *sql.DB
}

// New opens (or creates) the catalog database under dataDir.
func New(dataDir string) (*Catalog, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(dataDir, "catalog.db")

	// WAL keeps concurrent readers cheap; the busy timeout covers
	// overlapping writes from parallel uploads.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %v", err)
	}

	c := &Catalog{db: db}

	if err := c.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return c, nil
}

func (c *Catalog) initialize() error {
	createTable := `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			chunk_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`

	if _, err := c.db.Exec(createTable); err != nil {
		return fmt.Errorf("failed to create documents table: %v", err)
	}

	return nil
}

// Register allocates an identity for filename and durably records it
// with status pending before returning, so the document is listable
// while indexing is still in flight.
func (c *Catalog) Register(ctx context.Context, filename string) (models.Document, error) {
	doc := models.Document{
		ID:        uuid.NewString(),
		Filename:  filename,
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, status, created_at) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Filename, string(doc.Status), doc.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to register document: %v", err)
	}

	return doc, nil
}

// SetStatus records a lifecycle transition. errorMessage is only
// meaningful for StatusFailed and is cleared otherwise.
func (c *Catalog) SetStatus(ctx context.Context, id string, status models.Status, errorMessage string) error {
	if status != models.StatusFailed {
		errorMessage = ""
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = ? WHERE id = ?`,
		string(status), errorMessage, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update document status: %v", err)
	}

	return c.checkFound(res, id)
}

// SetReady marks a successful build and records the chunk count.
func (c *Catalog) SetReady(ctx context.Context, id string, chunkCount int) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = '', chunk_count = ? WHERE id = ?`,
		string(models.StatusReady), chunkCount, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark document ready: %v", err)
	}

	return c.checkFound(res, id)
}

func (c *Catalog) Get(ctx context.Context, id string) (models.Document, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT id, filename, status, error_message, chunk_count, created_at
		 FROM documents WHERE id = ?`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to read document: %v", err)
	}

	return doc, nil
}

// List returns all documents most-recent-first. The id tie-break keeps
// the order deterministic for documents registered in the same instant.
func (c *Catalog) List(ctx context.Context) ([]models.Document, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, filename, status, error_message, chunk_count, created_at
		 FROM documents ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %v", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document row: %v", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// Delete removes the catalog entry. Deleting an unknown or already
// deleted id is a no-op so duplicate delete requests are harmless.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %v", err)
	}
	return nil
}

// FailStale marks documents left pending or indexing by a previous
// process as failed. Called once at startup so the catalog never
// advertises a build that no longer exists.
func (c *Catalog) FailStale(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = ? WHERE status IN (?, ?)`,
		string(models.StatusFailed), "indexing interrupted by restart",
		string(models.StatusPending), string(models.StatusIndexing),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile stale documents: %v", err)
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) checkFound(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable) (models.Document, error) {
	var doc models.Document
	var status, createdAt string

	if err := row.Scan(&doc.ID, &doc.Filename, &status, &doc.ErrorMessage, &doc.ChunkCount, &createdAt); err != nil {
		return models.Document{}, err
	}

	doc.Status = models.Status(status)

	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return models.Document{}, fmt.Errorf("invalid created_at %q: %v", createdAt, err)
	}
	doc.CreatedAt = ts

	return doc, nil
}
