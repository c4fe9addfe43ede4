// Package engine wires the catalog, extractor, chunker, embedding
// gateway, index store and generator into the upload pipeline and the
// multi-document query path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"notebook/internal/models"
	"notebook/internal/types"
)

type Config struct {
	KPerDoc int // search depth per document
	KTotal  int // fused result size
}

type Engine struct {
	catalog   types.Catalog
	extractor types.Extractor
	chunker   types.Chunker
	embedder  types.Embedder
	generator types.Generator
	indices   types.IndexStore
	config    Config

	mu     sync.Mutex
	builds map[string]*buildLock
	wg     sync.WaitGroup
}

// buildLock serializes builds of one document. refs counts holders and
// waiters so the map entry can be pruned once the last one releases.
type buildLock struct {
	sync.Mutex
	refs int
}

func New(catalog types.Catalog, extractor types.Extractor, chunker types.Chunker,
	embedder types.Embedder, generator types.Generator, indices types.IndexStore,
	config Config) *Engine {

	if config.KPerDoc <= 0 {
		config.KPerDoc = 4
	}
	if config.KTotal <= 0 {
		config.KTotal = 8
	}

	return &Engine{
		catalog:   catalog,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		generator: generator,
		indices:   indices,
		config:    config,
		builds:    make(map[string]*buildLock),
	}
}

// Upload registers the document and starts the index build in the
// background. The returned document is already visible in the catalog
// with status pending; callers poll for the terminal status.
func (e *Engine) Upload(ctx context.Context, filename string, data []byte) (models.Document, error) {
	doc, err := e.catalog.Register(ctx, filename)
	if err != nil {
		return models.Document{}, err
	}

	e.wg.Add(1)
	go e.build(doc.ID, data)

	return doc, nil
}

// build runs the indexing pipeline for one document. It deliberately
// uses a fresh context: a client disconnecting mid-upload must not
// leave the catalog claiming an index that was never built.
func (e *Engine) build(documentID string, data []byte) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic while indexing document %s: %v", documentID, r)
			e.fail(documentID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	// Serialize concurrent builds of the same document; builds of
	// different documents never contend
	lock := e.acquireBuildLock(documentID)
	defer e.releaseBuildLock(documentID, lock)

	ctx := context.Background()

	if err := e.catalog.SetStatus(ctx, documentID, models.StatusIndexing, ""); err != nil {
		log.Printf("failed to mark document %s indexing: %v", documentID, err)
		return
	}

	chunkCount, err := e.index(ctx, documentID, data)
	if err != nil {
		log.Printf("indexing failed for document %s: %v", documentID, err)
		e.fail(documentID, err.Error())
		return
	}

	if err := e.catalog.SetReady(ctx, documentID, chunkCount); err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			// Deleted while the build was in flight: the index published
			// above must not outlive the catalog entry
			log.Printf("document %s deleted during build, dropping its index", documentID)
			if derr := e.indices.Drop(ctx, documentID); derr != nil {
				log.Printf("failed to drop index for deleted document %s: %v", documentID, derr)
			}
			return
		}
		log.Printf("failed to mark document %s ready: %v", documentID, err)
	}
}

// index runs extract → chunk → embed → build. Any error leaves no
// published index behind.
func (e *Engine) index(ctx context.Context, documentID string, data []byte) (int, error) {
	pages, err := e.extractor.Extract(data)
	if err != nil {
		return 0, fmt.Errorf("text extraction failed: %v", err)
	}

	chunks, err := e.chunker.Split(pages)
	if err != nil {
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	if err := e.indices.Build(ctx, documentID, chunks, vectors); err != nil {
		return 0, err
	}

	return len(chunks), nil
}

func (e *Engine) fail(documentID, message string) {
	if err := e.catalog.SetStatus(context.Background(), documentID, models.StatusFailed, message); err != nil {
		log.Printf("failed to mark document %s failed: %v", documentID, err)
	}
}

// Delete removes the catalog entry and drops the index. Both halves are
// idempotent, so repeated deletes of the same id are harmless.
func (e *Engine) Delete(ctx context.Context, documentID string) error {
	if err := e.catalog.Delete(ctx, documentID); err != nil {
		return err
	}
	return e.indices.Drop(ctx, documentID)
}

func (e *Engine) Get(ctx context.Context, documentID string) (models.Document, error) {
	return e.catalog.Get(ctx, documentID)
}

func (e *Engine) List(ctx context.Context) ([]models.Document, error) {
	return e.catalog.List(ctx)
}

// Wait blocks until all in-flight index builds finish. Used on shutdown
// so catalog state stays consistent with stored index artifacts.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) acquireBuildLock(documentID string) *buildLock {
	e.mu.Lock()
	lock, ok := e.builds[documentID]
	if !ok {
		lock = &buildLock{}
		e.builds[documentID] = lock
	}
	lock.refs++
	e.mu.Unlock()

	lock.Lock()
	return lock
}

func (e *Engine) releaseBuildLock(documentID string, lock *buildLock) {
	lock.Unlock()

	e.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(e.builds, documentID)
	}
	e.mu.Unlock()
}
