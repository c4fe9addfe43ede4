package models

import "time"

// Status is the lifecycle state of an uploaded document.
type Status string

const (
	StatusPending  Status = "pending"
	StatusIndexing Status = "indexing"
	StatusReady    Status = "ready"
	StatusFailed   Status = "failed"
)

// Document is the catalog record for one uploaded PDF. Only documents
// with StatusReady are queryable.
type Document struct {
	ID           string    `json:"document_id"`
	Filename     string    `json:"filename"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ChunkCount   int       `json:"chunk_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Page is one page of extracted PDF text, in document order.
type Page struct {
	Number int
	Text   string
}

// Chunk is a window of normalized page text. IDs are sequential within
// a document. CharStart/CharEnd are offsets into the normalized text of
// the source page. Chunks are immutable once created.
type Chunk struct {
	ID         int
	Text       string
	SourcePage int
	CharStart  int
	CharEnd    int
}

// RetrievedPassage is a per-query search hit. It is never persisted.
type RetrievedPassage struct {
	DocumentID string  `json:"document_id"`
	ChunkID    int     `json:"chunk_id"`
	Text       string  `json:"text"`
	SourcePage int     `json:"source_page"`
	Score      float64 `json:"score"`
}

// ConversationTurn is one prior question/answer pair. History is owned
// by the caller; the core only reads it during prompt construction.
type ConversationTurn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
