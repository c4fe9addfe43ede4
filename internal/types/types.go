package types

import (
	"context"

	"notebook/internal/models"
)

// Core interfaces

// Extractor turns raw PDF bytes into an ordered sequence of page texts.
type Extractor interface {
	Extract(data []byte) ([]models.Page, error)
}

// Chunker splits extracted pages into overlapping passages.
type Chunker interface {
	Split(pages []models.Page) ([]models.Chunk, error)
}

// Embedder converts texts into vectors, preserving input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a grounded answer from retrieved passages.
type Generator interface {
	Answer(ctx context.Context, question string, passages []models.RetrievedPassage, history []models.ConversationTurn) (string, error)
}

// Catalog is the durable mapping of document identity to metadata and
// lifecycle state. All status transitions go through it.
type Catalog interface {
	Register(ctx context.Context, filename string) (models.Document, error)
	SetStatus(ctx context.Context, id string, status models.Status, errorMessage string) error
	SetReady(ctx context.Context, id string, chunkCount int) error
	Get(ctx context.Context, id string) (models.Document, error)
	List(ctx context.Context) ([]models.Document, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// IndexStore owns one vector index per document. Build replaces any
// prior index wholesale and publishes atomically; readers never observe
// a half-built index.
type IndexStore interface {
	Build(ctx context.Context, documentID string, chunks []models.Chunk, vectors [][]float32) error
	Search(ctx context.Context, documentID string, query []float32, k int) ([]models.RetrievedPassage, error)
	Drop(ctx context.Context, documentID string) error
	Close() error
}
