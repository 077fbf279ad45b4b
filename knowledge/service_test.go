package knowledge

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnastRaja/chatbot-sub000/config"
	"github.com/AnastRaja/chatbot-sub000/database/dbtest"
)

// keywordEmbedder maps text onto counts of a fixed vocabulary.
type keywordEmbedder struct {
	vocabulary []string
	fail       error
	calls      atomic.Int32
}

func (e *keywordEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		lower := strings.ToLower(input)
		vector := make([]float32, len(e.vocabulary)+1)
		for j, word := range e.vocabulary {
			vector[j] = float32(strings.Count(lower, word))
		}
		vector[len(e.vocabulary)] = 0.01
		out[i] = vector
	}
	return out, nil
}

func newTestService(t *testing.T, embedder Embedder, chunkSize int) *Service {
	t.Helper()
	db := dbtest.Open(t, &Document{}, &Chunk{})
	svc, err := NewService(db, embedder, nil, config.KnowledgeConfig{ChunkSize: chunkSize, TopK: 2, EmbedConcurrency: 2})
	require.NoError(t, err)
	return svc
}

func TestIngestPlainTextBecomesReady(t *testing.T) {
	embedder := &keywordEmbedder{vocabulary: []string{"refund", "shipping", "hours"}}
	svc := newTestService(t, embedder, 60)
	ctx := context.Background()

	text := "Refunds are accepted within 30 days.\n" +
		"Shipping takes five business days.\n" +
		"Opening hours are nine to five."
	doc, err := svc.Ingest(ctx, 7, Upload{FileName: "faq.txt", ContentType: "text/plain", Data: []byte(text)})
	require.NoError(t, err)
	assert.Equal(t, StatusReady, doc.Status)
	assert.Equal(t, 3, doc.ChunkCount)
	assert.Nil(t, doc.ErrorMsg)

	results, err := svc.Search(ctx, 7, "what about shipping?", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Text, "Shipping")

	other, err := svc.Search(ctx, 8, "shipping", 3)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestIngestEmbeddingFailureMarksError(t *testing.T) {
	embedder := &keywordEmbedder{fail: errors.New("provider down")}
	svc := newTestService(t, embedder, 1000)

	doc, err := svc.Ingest(context.Background(), 1, Upload{FileName: "a.md", Data: []byte("# Title\nbody")})
	require.Error(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, StatusError, doc.Status)
	require.NotNil(t, doc.ErrorMsg)
	assert.Contains(t, *doc.ErrorMsg, "provider down")

	var count int64
	require.NoError(t, svc.db.Model(&Chunk{}).Where("document_id = ?", doc.ID).Count(&count).Error)
	assert.Zero(t, count)

	assert.ErrorIs(t, svc.Process(context.Background(), doc.ID, []byte("retry")), ErrNotProcessing)
}

func TestIngestEmptyDocumentMarksError(t *testing.T) {
	svc := newTestService(t, &keywordEmbedder{}, 1000)

	doc, err := svc.Ingest(context.Background(), 1, Upload{FileName: "blank.txt", ContentType: "text/plain", Data: []byte("   \n ")})
	assert.ErrorIs(t, err, ErrNoText)
	assert.Equal(t, StatusError, doc.Status)
}

func TestDeleteDocumentRemovesChunks(t *testing.T) {
	svc := newTestService(t, &keywordEmbedder{vocabulary: []string{"a"}}, 1000)
	ctx := context.Background()

	doc, err := svc.Ingest(ctx, 3, Upload{FileName: "a.txt", ContentType: "text/plain", Data: []byte("a a a")})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteDocument(ctx, 4, doc.ID), ErrDocumentNotFound, "other project cannot delete")
	require.NoError(t, svc.DeleteDocument(ctx, 3, doc.ID))

	var count int64
	require.NoError(t, svc.db.Model(&Chunk{}).Where("project_id = ?", 3).Count(&count).Error)
	assert.Zero(t, count)
	_, err = svc.GetDocument(ctx, 3, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestSubmitProcessesInBackground(t *testing.T) {
	svc := newTestService(t, &keywordEmbedder{vocabulary: []string{"hello"}}, 1000)
	svc.Start(1)
	ctx := context.Background()

	data := []byte("hello world")
	doc, err := svc.CreateDocument(ctx, 5, Upload{FileName: "hello.txt", Data: data})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, doc.Status)
	assert.Equal(t, "text/plain", doc.ContentType)

	require.NoError(t, svc.Submit(ctx, doc.ID, data))
	svc.Close()

	reloaded, err := svc.GetDocument(ctx, 5, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, reloaded.Status)
	assert.ErrorIs(t, svc.Submit(ctx, doc.ID, data), ErrQueueClosed)
}

func TestEmbedAllBatchesConcurrently(t *testing.T) {
	embedder := &keywordEmbedder{vocabulary: []string{"x"}}
	svc := newTestService(t, embedder, 1000)
	svc.batchSize = 2

	texts := []string{"x", "xx", "xxx", "xxxx", "xxxxx"}
	vectors, err := svc.embedAll(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	for i, vector := range vectors {
		assert.Equal(t, float32(i+1), vector[0], "vector %d keeps input order", i)
	}
	assert.Equal(t, int32(3), embedder.calls.Load())
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "text/plain", detectContentType("text/plain; charset=utf-8", "a.bin", nil))
	assert.Equal(t, "application/pdf", detectContentType("", "report.pdf", nil))
	assert.Equal(t, "text/markdown", detectContentType("application/octet-stream", "notes.md", []byte("# hi")))
	assert.Equal(t, "text/plain", detectContentType("", "unknown", []byte("just words")))
}

func TestSearchBlankQuery(t *testing.T) {
	embedder := &keywordEmbedder{}
	svc := newTestService(t, embedder, 1000)

	results, err := svc.Search(context.Background(), 1, "   ", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, embedder.calls.Load())
}

func TestPurgeOriginalsWithoutStorage(t *testing.T) {
	svc := newTestService(t, &keywordEmbedder{}, 200)

	cleanup, err := svc.PurgeOriginals(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, cleanup)
}
