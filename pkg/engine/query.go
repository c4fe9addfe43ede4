package engine

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"notebook/internal/models"
)

// Retrieve fans a similarity search out across the selected documents
// and fuses the results into one ranked list of at most kTotal
// passages. A document without a published index (failed build, or
// deleted while the query was in flight) is skipped rather than
// failing the request; an error embedding the question itself is fatal
// to the request.
func (e *Engine) Retrieve(ctx context.Context, documentIDs []string, question string, kPerDoc, kTotal int) ([]models.RetrievedPassage, error) {
	if len(documentIDs) == 0 {
		return nil, models.ErrNoDocumentsSelected
	}

	queryVec, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		merged []models.RetrievedPassage
		wg     sync.WaitGroup
	)

	for _, documentID := range dedupe(documentIDs) {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			passages, err := e.indices.Search(ctx, id, queryVec, kPerDoc)
			if err != nil {
				if errors.Is(err, models.ErrIndexNotFound) {
					log.Printf("skipping document %s: no published index", id)
				} else {
					log.Printf("skipping document %s: search failed: %v", id, err)
				}
				return
			}

			mu.Lock()
			merged = append(merged, passages...)
			mu.Unlock()
		}(documentID)
	}
	wg.Wait()

	fused := fuse(merged, kTotal)
	if len(fused) == 0 {
		return nil, models.ErrNoContext
	}
	return fused, nil
}

// Ask answers a question against the selected documents. When retrieval
// yields no grounding context the generator's fixed fallback is used
// and the provider is never called.
func (e *Engine) Ask(ctx context.Context, documentIDs []string, question string, history []models.ConversationTurn) (string, []models.RetrievedPassage, error) {
	passages, err := e.Retrieve(ctx, documentIDs, question, e.config.KPerDoc, e.config.KTotal)
	if errors.Is(err, models.ErrNoContext) {
		answer, aerr := e.generator.Answer(ctx, question, nil, history)
		return answer, nil, aerr
	}
	if err != nil {
		return "", nil, err
	}

	answer, err := e.generator.Answer(ctx, question, passages, history)
	if err != nil {
		return "", nil, err
	}
	return answer, passages, nil
}

// fuse is plain top-k rank fusion: scores from different documents are
// compared directly because every index shares the same embedding
// space and metric. Per-index score normalization is a deliberate
// non-feature; if it is ever wanted, this is the seam.
func fuse(passages []models.RetrievedPassage, kTotal int) []models.RetrievedPassage {
	sort.Slice(passages, func(i, j int) bool {
		if passages[i].Score != passages[j].Score {
			return passages[i].Score > passages[j].Score
		}
		if passages[i].DocumentID != passages[j].DocumentID {
			return passages[i].DocumentID < passages[j].DocumentID
		}
		return passages[i].ChunkID < passages[j].ChunkID
	})

	if kTotal > 0 && len(passages) > kTotal {
		passages = passages[:kTotal]
	}
	return passages
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
