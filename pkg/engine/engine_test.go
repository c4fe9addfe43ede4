package engine_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notebook/internal/models"
	"notebook/pkg/catalog"
	"notebook/pkg/chunker"
	"notebook/pkg/engine"
	"notebook/pkg/llm"
	"notebook/pkg/store"
)

// fakeExtractor maps raw upload bytes to extraction results.
type fakeExtractor struct {
	pages map[string][]models.Page
	errs  map[string]error
}

func (f *fakeExtractor) Extract(data []byte) ([]models.Page, error) {
	if err := f.errs[string(data)]; err != nil {
		return nil, err
	}
	return f.pages[string(data)], nil
}

// hashEmbedder derives a deterministic vector from each text, so equal
// texts embed identically and self-retrieval scores exactly 1.
type hashEmbedder struct {
	embedErr error
	queryErr error
}

func vecFor(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32(sum[i]) + 1
	}
	return vec
}

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if h.embedErr != nil {
		return nil, h.embedErr
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = vecFor(text)
	}
	return vectors, nil
}

func (h *hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if h.queryErr != nil {
		return nil, h.queryErr
	}
	return vecFor(text), nil
}

// fixedEmbedder always embeds queries to the same vector; used when a
// test controls index vectors directly.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = f.vec
	}
	return vectors, nil
}

func (f *fixedEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return f.vec, nil
}

// gatedExtractor blocks inside Extract until released, so a test can
// interleave other operations with an in-flight build.
type gatedExtractor struct {
	started chan struct{}
	release chan struct{}
	pages   []models.Page
}

func (g *gatedExtractor) Extract(_ []byte) ([]models.Page, error) {
	close(g.started)
	<-g.release
	return g.pages, nil
}

type fakeGenerator struct {
	answer       string
	calls        int
	lastPassages []models.RetrievedPassage
}

func (g *fakeGenerator) Answer(_ context.Context, _ string, passages []models.RetrievedPassage, _ []models.ConversationTurn) (string, error) {
	g.calls++
	g.lastPassages = passages
	if len(passages) == 0 {
		return llm.NoContextAnswer, nil
	}
	return g.answer, nil
}

type testRig struct {
	engine    *engine.Engine
	catalog   *catalog.Catalog
	indices   *store.FileIndexStore
	extractor *fakeExtractor
	embedder  *hashEmbedder
	generator *fakeGenerator
	chunker   chunker.Chunker
}

func newRig(t *testing.T) *testRig {
	t.Helper()

	cat, err := catalog.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	indices, err := store.NewFileIndexStore(t.TempDir())
	require.NoError(t, err)

	rig := &testRig{
		catalog: cat,
		indices: indices,
		extractor: &fakeExtractor{
			pages: make(map[string][]models.Page),
			errs:  make(map[string]error),
		},
		embedder:  &hashEmbedder{},
		generator: &fakeGenerator{answer: "a grounded answer"},
		chunker:   chunker.NewWithConfig(chunker.ChunkerConfig{ChunkSize: 500, ChunkOverlap: 50}),
	}
	rig.engine = engine.New(cat, rig.extractor, &rig.chunker, rig.embedder,
		rig.generator, indices, engine.Config{KPerDoc: 4, KTotal: 8})
	return rig
}

// cyclicPages builds pages of distinct repeating text so every chunk
// window has unique content.
func cyclicPages(n, length int) []models.Page {
	pages := make([]models.Page, n)
	for p := range pages {
		var sb strings.Builder
		for i := 0; sb.Len() < length; i++ {
			sb.WriteByte(byte('a' + (i+p*7)%26))
		}
		pages[p] = models.Page{Number: p + 1, Text: sb.String()[:length]}
	}
	return pages
}

func TestUploadLifecycleAndSelfRetrieval(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	pages := cyclicPages(3, 1000)
	rig.extractor.pages["pdf"] = pages

	doc, err := rig.engine.Upload(ctx, "spec.pdf", []byte("pdf"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, doc.Status)

	rig.engine.Wait()

	got, err := rig.engine.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, got.Status)
	// window 500 / overlap 50 over 3 pages of 1000 chars: 3 windows each
	assert.Equal(t, 9, got.ChunkCount)

	// A question identical to a chunk's text must retrieve that chunk
	chunks, err := rig.chunker.Split(pages)
	require.NoError(t, err)
	require.True(t, len(chunks) > 4)

	passages, err := rig.engine.Retrieve(ctx, []string{doc.ID}, chunks[4].Text, 4, 8)
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	assert.Equal(t, 4, passages[0].ChunkID)
	assert.Equal(t, doc.ID, passages[0].DocumentID)
	assert.InDelta(t, 1.0, passages[0].Score, 1e-6)
}

func TestUploadExtractionFailure(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.extractor.errs["bad"] = errors.New("malformed xref table")

	doc, err := rig.engine.Upload(ctx, "broken.pdf", []byte("bad"))
	require.NoError(t, err)
	rig.engine.Wait()

	got, err := rig.engine.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "text extraction failed")
}

func TestUploadEmptyDocumentFails(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.extractor.pages["blank"] = []models.Page{{Number: 1, Text: "   "}}

	doc, err := rig.engine.Upload(ctx, "blank.pdf", []byte("blank"))
	require.NoError(t, err)
	rig.engine.Wait()

	got, err := rig.engine.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.ErrEmptyDocument.Error(), got.ErrorMessage)
}

func TestUploadEmbedderFailureLeavesNoIndex(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.extractor.pages["pdf"] = cyclicPages(1, 600)
	rig.embedder.embedErr = fmt.Errorf("%w: rate limited", models.ErrEmbeddingProvider)

	doc, err := rig.engine.Upload(ctx, "doc.pdf", []byte("pdf"))
	require.NoError(t, err)
	rig.engine.Wait()

	got, err := rig.engine.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)

	// Nothing was published for this document
	_, err = rig.indices.Search(ctx, doc.ID, vecFor("anything"), 1)
	assert.True(t, errors.Is(err, models.ErrIndexNotFound))
}

func TestRetrieveRejectsEmptySelection(t *testing.T) {
	rig := newRig(t)

	_, err := rig.engine.Retrieve(context.Background(), nil, "any question", 4, 8)
	assert.True(t, errors.Is(err, models.ErrNoDocumentsSelected))

	_, err = rig.engine.Retrieve(context.Background(), []string{}, "", 4, 8)
	assert.True(t, errors.Is(err, models.ErrNoDocumentsSelected))
}

func TestRetrieveFusesRanksAcrossDocuments(t *testing.T) {
	cat, err := catalog.New(t.TempDir())
	require.NoError(t, err)
	defer cat.Close()
	indices, err := store.NewFileIndexStore(t.TempDir())
	require.NoError(t, err)

	ch := chunker.NewWithConfig(chunker.ChunkerConfig{})
	gen := &fakeGenerator{answer: "ok"}
	eng := engine.New(cat, &fakeExtractor{}, &ch, &fixedEmbedder{vec: []float32{1, 0}},
		gen, indices, engine.Config{KPerDoc: 2, KTotal: 3})

	ctx := context.Background()
	cos := func(c float64) []float32 {
		return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
	}

	// doc-a scores [0.9, 0.7], doc-b scores [0.95, 0.6] against (1, 0)
	require.NoError(t, indices.Build(ctx, "doc-a",
		[]models.Chunk{{ID: 0, Text: "a0"}, {ID: 1, Text: "a1"}},
		[][]float32{cos(0.9), cos(0.7)}))
	require.NoError(t, indices.Build(ctx, "doc-b",
		[]models.Chunk{{ID: 0, Text: "b0"}, {ID: 1, Text: "b1"}},
		[][]float32{cos(0.95), cos(0.6)}))

	passages, err := eng.Retrieve(ctx, []string{"doc-a", "doc-b"}, "q", 2, 3)
	require.NoError(t, err)
	require.Len(t, passages, 3)

	assert.InDelta(t, 0.95, passages[0].Score, 1e-4)
	assert.Equal(t, "b0", passages[0].Text)
	assert.InDelta(t, 0.9, passages[1].Score, 1e-4)
	assert.Equal(t, "a0", passages[1].Text)
	assert.InDelta(t, 0.7, passages[2].Score, 1e-4)
	assert.Equal(t, "a1", passages[2].Text)
}

func TestRetrieveSkipsDocumentsWithoutIndex(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.extractor.pages["pdf"] = cyclicPages(1, 600)
	doc, err := rig.engine.Upload(ctx, "good.pdf", []byte("pdf"))
	require.NoError(t, err)
	rig.engine.Wait()

	passages, err := rig.engine.Retrieve(ctx,
		[]string{doc.ID, "deleted-or-failed"}, "abcdefgh", 4, 8)
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	for _, p := range passages {
		assert.Equal(t, doc.ID, p.DocumentID)
	}
}

func TestRetrieveMixedReadyAndFailedDocuments(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.extractor.pages["good"] = cyclicPages(1, 600)
	rig.extractor.errs["bad"] = errors.New("corrupt file")

	ready, err := rig.engine.Upload(ctx, "ready.pdf", []byte("good"))
	require.NoError(t, err)
	failed, err := rig.engine.Upload(ctx, "failed.pdf", []byte("bad"))
	require.NoError(t, err)
	rig.engine.Wait()

	passages, err := rig.engine.Retrieve(ctx,
		[]string{ready.ID, failed.ID}, "abcdefgh", 4, 8)
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	for _, p := range passages {
		assert.Equal(t, ready.ID, p.DocumentID)
	}
}

func TestRetrieveNoContext(t *testing.T) {
	rig := newRig(t)

	_, err := rig.engine.Retrieve(context.Background(),
		[]string{"ghost-1", "ghost-2"}, "question", 4, 8)
	assert.True(t, errors.Is(err, models.ErrNoContext))
}

func TestAskFallsBackWithoutContext(t *testing.T) {
	rig := newRig(t)

	answer, passages, err := rig.engine.Ask(context.Background(),
		[]string{"ghost"}, "question", nil)
	require.NoError(t, err)
	assert.Equal(t, llm.NoContextAnswer, answer)
	assert.Empty(t, passages)
	assert.Equal(t, 1, rig.generator.calls)
	assert.Empty(t, rig.generator.lastPassages)
}

func TestAskReturnsGroundedAnswer(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.extractor.pages["pdf"] = cyclicPages(1, 600)
	doc, err := rig.engine.Upload(ctx, "doc.pdf", []byte("pdf"))
	require.NoError(t, err)
	rig.engine.Wait()

	answer, passages, err := rig.engine.Ask(ctx, []string{doc.ID}, "abcdefgh", nil)
	require.NoError(t, err)
	assert.Equal(t, "a grounded answer", answer)
	assert.NotEmpty(t, passages)
	assert.Equal(t, passages, rig.generator.lastPassages)
}

func TestDeleteIsIdempotentAndInvalidatesIndex(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.extractor.pages["pdf"] = cyclicPages(1, 600)
	doc, err := rig.engine.Upload(ctx, "doc.pdf", []byte("pdf"))
	require.NoError(t, err)
	rig.engine.Wait()

	require.NoError(t, rig.engine.Delete(ctx, doc.ID))

	_, err = rig.engine.Get(ctx, doc.ID)
	assert.True(t, errors.Is(err, models.ErrDocumentNotFound))
	_, err = rig.indices.Search(ctx, doc.ID, vecFor("x"), 1)
	assert.True(t, errors.Is(err, models.ErrIndexNotFound))

	// Duplicate delete (double click in the UI) is a no-op
	require.NoError(t, rig.engine.Delete(ctx, doc.ID))

	// A query that still names the deleted document skips it
	_, err = rig.engine.Retrieve(ctx, []string{doc.ID}, "question", 4, 8)
	assert.True(t, errors.Is(err, models.ErrNoContext))
}

func TestDeleteDuringBuildDropsPublishedIndex(t *testing.T) {
	cat, err := catalog.New(t.TempDir())
	require.NoError(t, err)
	defer cat.Close()

	dir := t.TempDir()
	indices, err := store.NewFileIndexStore(dir)
	require.NoError(t, err)

	extractor := &gatedExtractor{
		started: make(chan struct{}),
		release: make(chan struct{}),
		pages:   cyclicPages(1, 600),
	}
	ch := chunker.NewWithConfig(chunker.ChunkerConfig{ChunkSize: 500, ChunkOverlap: 50})
	eng := engine.New(cat, extractor, &ch, &hashEmbedder{},
		&fakeGenerator{answer: "ok"}, indices, engine.Config{})

	ctx := context.Background()
	doc, err := eng.Upload(ctx, "doc.pdf", []byte("pdf"))
	require.NoError(t, err)

	// Delete while the build is blocked mid-extraction, then let the
	// build run to completion
	<-extractor.started
	require.NoError(t, eng.Delete(ctx, doc.ID))
	close(extractor.release)
	eng.Wait()

	_, err = eng.Get(ctx, doc.ID)
	assert.True(t, errors.Is(err, models.ErrDocumentNotFound))

	// The index the build published must not outlive the catalog entry
	_, err = indices.Search(ctx, doc.ID, vecFor("x"), 1)
	assert.True(t, errors.Is(err, models.ErrIndexNotFound))

	// Nor may its artifact resurrect the index after a restart
	reopened, err := store.NewFileIndexStore(dir)
	require.NoError(t, err)
	_, err = reopened.Search(ctx, doc.ID, vecFor("x"), 1)
	assert.True(t, errors.Is(err, models.ErrIndexNotFound))
}

func TestQueryEmbeddingFailureIsFatalToRequest(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.extractor.pages["pdf"] = cyclicPages(1, 600)
	doc, err := rig.engine.Upload(ctx, "doc.pdf", []byte("pdf"))
	require.NoError(t, err)
	rig.engine.Wait()

	rig.embedder.queryErr = fmt.Errorf("%w: provider down", models.ErrEmbeddingProvider)
	_, err = rig.engine.Retrieve(ctx, []string{doc.ID}, "question", 4, 8)
	assert.True(t, errors.Is(err, models.ErrEmbeddingProvider))
}

func TestConcurrentUploadsOfDifferentDocuments(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("pdf-%d", i)
		rig.extractor.pages[key] = cyclicPages(1, 600)
	}

	var docs []models.Document
	for i := 0; i < 5; i++ {
		doc, err := rig.engine.Upload(ctx, fmt.Sprintf("doc-%d.pdf", i),
			[]byte(fmt.Sprintf("pdf-%d", i)))
		require.NoError(t, err)
		docs = append(docs, doc)
	}
	rig.engine.Wait()

	for _, doc := range docs {
		got, err := rig.engine.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReady, got.Status)
	}
}
