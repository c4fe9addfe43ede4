package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"notebook/internal/models"
)

type PGVectorConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// PGVectorStore is the Postgres-backed IndexStore. One table holds all
// documents, but every operation is scoped to a single document_id, so
// indices stay independent: search touches only the selected document's
// rows and drop is a single DELETE.
type PGVectorStore struct {
	config PGVectorConfig
	pool   *pgxpool.Pool
}

func NewPGVectorStore(config PGVectorConfig) (*PGVectorStore, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	vs := &PGVectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PGVectorStore) initialize() error {
	ctx := context.Background()

	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			document_id TEXT NOT NULL,
			chunk_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			source_page INTEGER NOT NULL,
			char_start INTEGER NOT NULL,
			char_end INTEGER NOT NULL,
			embedding vector(%d),
			PRIMARY KEY (document_id, chunk_id)
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_document_idx
		ON %s (document_id)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %v", err)
	}

	return nil
}

// Build replaces the document's rows inside one transaction, so readers
// observe either the old index or the new one, never a mix.
func (vs *PGVectorStore) Build(ctx context.Context, documentID string, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks for document %s", models.ErrIndexBuild, documentID)
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", models.ErrIndexBuild, len(chunks), len(vectors))
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", models.ErrIndexBuild, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, vs.config.TableName),
		documentID,
	); err != nil {
		return fmt.Errorf("%w: failed to clear prior index: %v", models.ErrIndexBuild, err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (document_id, chunk_id, content, source_page, char_start, char_end, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		vs.config.TableName)

	for i, chunk := range chunks {
		embedding := pgvector.NewVector(normalize(vectors[i]))

		if _, err := tx.Exec(ctx, stmt,
			documentID,
			chunk.ID,
			chunk.Text,
			chunk.SourcePage,
			chunk.CharStart,
			chunk.CharEnd,
			embedding,
		); err != nil {
			return fmt.Errorf("%w: failed to insert chunk %d: %v", models.ErrIndexBuild, chunk.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit: %v", models.ErrIndexBuild, err)
	}

	return nil
}

func (vs *PGVectorStore) Search(ctx context.Context, documentID string, query []float32, k int) ([]models.RetrievedPassage, error) {
	embedding := pgvector.NewVector(normalize(query))

	stmt := fmt.Sprintf(`
		SELECT chunk_id, content, source_page, 1 - (embedding <=> $2) AS score
		FROM %s
		WHERE document_id = $1
		ORDER BY embedding <=> $2, chunk_id
		LIMIT $3`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, stmt, documentID, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %v", err)
	}
	defer rows.Close()

	var passages []models.RetrievedPassage
	for rows.Next() {
		passage := models.RetrievedPassage{DocumentID: documentID}
		if err := rows.Scan(&passage.ChunkID, &passage.Text, &passage.SourcePage, &passage.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		passages = append(passages, passage)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %v", err)
	}

	// No rows means no published index for this document
	if len(passages) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrIndexNotFound, documentID)
	}

	return passages, nil
}

func (vs *PGVectorStore) Drop(ctx context.Context, documentID string) error {
	_, err := vs.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, vs.config.TableName),
		documentID)
	if err != nil {
		return fmt.Errorf("failed to drop index: %v", err)
	}
	return nil
}

func (vs *PGVectorStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}
