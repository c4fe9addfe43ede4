package models

import "errors"

// Error taxonomy for the indexing and query pipeline. Callers match
// with errors.Is; provider errors are wrapped so the original cause
// stays attached.
var (
	// ErrDocumentNotFound is returned for an unknown document id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrEmptyDocument is returned when extraction yields no chunks.
	// A document with no retrievable text is a build failure, not a
	// silently empty index.
	ErrEmptyDocument = errors.New("document produced no chunks")

	// ErrEmbeddingProvider is returned once embedding retries are
	// exhausted. It aborts the enclosing index build or query.
	ErrEmbeddingProvider = errors.New("embedding provider failure")

	// ErrIndexBuild is returned when an index cannot be constructed or
	// its artifact cannot be written.
	ErrIndexBuild = errors.New("index build failed")

	// ErrIndexNotFound is returned by Search when a document has no
	// published index: never built, build failed, or deleted.
	ErrIndexNotFound = errors.New("index not found")

	// ErrNoDocumentsSelected rejects a query with an empty document set.
	ErrNoDocumentsSelected = errors.New("no documents selected")

	// ErrGenerationProvider is returned when the generation call fails
	// or times out.
	ErrGenerationProvider = errors.New("generation provider failure")

	// ErrNoContext signals that retrieval produced nothing usable, as
	// opposed to a successful retrieval that happens to be short.
	ErrNoContext = errors.New("no grounding context available")
)
