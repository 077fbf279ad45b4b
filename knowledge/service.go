package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/AnastRaja/chatbot-sub000/config"
	"github.com/AnastRaja/chatbot-sub000/storage"
)

var (
	ErrDocumentNotFound = errors.New("knowledge: document not found")
	ErrNotProcessing    = errors.New("knowledge: document is no longer processing")
	ErrQueueClosed      = errors.New("knowledge: ingestion queue closed")
)

const (
	maxErrorLength  = 500
	chunkInsertSize = 100
	processTimeout  = 5 * time.Minute
)

// Upload is a raw file received from the dashboard or the CLI.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

type ingestJob struct {
	documentID uint64
	data       []byte
}

// Service owns documents and chunks: ingestion, deletion and retrieval.
type Service struct {
	db          *gorm.DB
	embedder    Embedder
	retriever   *Retriever
	chunker     *chunker
	originals   *storage.DocumentStorage
	topK        int
	concurrency int
	batchSize   int

	jobs    chan ingestJob
	workers sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

func NewService(db *gorm.DB, embedder Embedder, originals *storage.DocumentStorage, cfg config.KnowledgeConfig) (*Service, error) {
	if db == nil {
		return nil, errors.New("knowledge: database connection is required")
	}
	if embedder == nil {
		return nil, errors.New("knowledge: embedder is required")
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	concurrency := cfg.EmbedConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Service{
		db:          db,
		embedder:    embedder,
		retriever:   NewRetriever(db),
		chunker:     newChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		originals:   originals,
		topK:        topK,
		concurrency: concurrency,
		batchSize:   16,
		jobs:        make(chan ingestJob, 64),
	}, nil
}

// Start launches background workers processing submitted documents until Close.
func (s *Service) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			for job := range s.jobs {
				s.runJob(job)
			}
		}()
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (s *Service) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.mu.Unlock()
	s.workers.Wait()
}

// Submit queues a processing document. It blocks while the queue is full.
func (s *Service) Submit(ctx context.Context, documentID uint64, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrQueueClosed
	}
	select {
	case s.jobs <- ingestJob{documentID: documentID, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runJob(job ingestJob) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("knowledge: ingestion panic", "document", job.documentID, "panic", r)
			s.markFailed(job.documentID, fmt.Errorf("internal error: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	if err := s.Process(ctx, job.documentID, job.data); err != nil {
		log.Warn("knowledge: document processing failed", "document", job.documentID, "err", err)
	}
}

// CreateDocument stores the original (when object storage is configured) and
// records the document in the processing state.
func (s *Service) CreateDocument(ctx context.Context, projectID uint64, upload Upload) (*Document, error) {
	fileName := strings.TrimSpace(upload.FileName)
	if fileName == "" {
		fileName = "document"
	}

	doc := &Document{
		ProjectID:   projectID,
		FileName:    fileName,
		ContentType: detectContentType(upload.ContentType, fileName, upload.Data),
		SizeBytes:   int64(len(upload.Data)),
		Status:      StatusProcessing,
	}

	if s.originals != nil {
		key, err := s.originals.Upload(ctx, projectID, fileName, doc.ContentType, upload.Data)
		if err != nil {
			return nil, err
		}
		doc.StorageKey = &key
	}

	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		if doc.StorageKey != nil {
			_ = s.originals.Remove(context.WithoutCancel(ctx), *doc.StorageKey)
		}
		return nil, fmt.Errorf("knowledge: create document: %w", err)
	}
	return doc, nil
}

// Ingest creates and processes a document synchronously.
func (s *Service) Ingest(ctx context.Context, projectID uint64, upload Upload) (*Document, error) {
	doc, err := s.CreateDocument(ctx, projectID, upload)
	if err != nil {
		return nil, err
	}
	if err := s.Process(ctx, doc.ID, upload.Data); err != nil {
		if reloaded, loadErr := s.GetDocument(ctx, projectID, doc.ID); loadErr == nil {
			return reloaded, err
		}
		return doc, err
	}
	return s.GetDocument(ctx, projectID, doc.ID)
}

// Process extracts, chunks and embeds a processing document, then stores its
// chunks and marks it ready in one transaction. Failures mark it as error.
func (s *Service) Process(ctx context.Context, documentID uint64, data []byte) error {
	var doc Document
	if err := s.db.WithContext(ctx).Where("id = ?", documentID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("knowledge: load document: %w", err)
	}
	if doc.Status != StatusProcessing {
		return ErrNotProcessing
	}

	chunks, err := s.buildChunks(ctx, &doc, data)
	if err != nil {
		s.markFailed(doc.ID, err)
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(chunks, chunkInsertSize).Error; err != nil {
			return fmt.Errorf("knowledge: insert chunks: %w", err)
		}
		result := tx.Model(&Document{}).
			Where("id = ? AND status = ?", doc.ID, StatusProcessing).
			Updates(map[string]interface{}{
				"status":        StatusReady,
				"chunk_count":   len(chunks),
				"error_message": nil,
			})
		if result.Error != nil {
			return fmt.Errorf("knowledge: mark ready: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotProcessing
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotProcessing) {
			s.markFailed(doc.ID, err)
		}
		return err
	}

	log.Info("knowledge: document ready", "document", doc.ID, "project", doc.ProjectID, "chunks", len(chunks))
	return nil
}

func (s *Service) buildChunks(ctx context.Context, doc *Document, data []byte) ([]Chunk, error) {
	text, err := extractText(data, doc.ContentType)
	if err != nil {
		return nil, err
	}

	pieces := s.chunker.split(text)
	if len(pieces) == 0 {
		return nil, ErrNoText
	}

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Text
	}
	vectors, err := s.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = Chunk{
			DocumentID: doc.ID,
			ProjectID:  doc.ProjectID,
			Seq:        i,
			Text:       piece.Text,
			TokenCount: piece.TokenCount,
			Embedding:  vectors[i],
		}
	}
	return chunks, nil
}

// embedAll embeds texts in batches, running up to s.concurrency batches at once.
func (s *Service) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for start := 0; start < len(texts); start += s.batchSize {
		start, end := start, min(start+s.batchSize, len(texts))
		g.Go(func() error {
			batch, err := s.embedder.Embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("knowledge: embed chunks %d-%d: %w", start, end, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("knowledge: embedder returned %d vectors for %d chunks", len(batch), end-start)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	for i, vector := range vectors {
		if len(vector) == 0 || len(vector) != dim {
			return nil, fmt.Errorf("knowledge: chunk %d embedding has %d dimensions, expected %d", i, len(vector), dim)
		}
	}
	return vectors, nil
}

func (s *Service) markFailed(documentID uint64, cause error) {
	message := cause.Error()
	if runes := []rune(message); len(runes) > maxErrorLength {
		message = string(runes[:maxErrorLength])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND status = ?", documentID, StatusProcessing).
		Updates(map[string]interface{}{"status": StatusError, "error_message": message}).Error
	if err != nil {
		log.Error("knowledge: mark document failed", "document", documentID, "err", err)
	}
}

func (s *Service) ListDocuments(ctx context.Context, projectID uint64) ([]Document, error) {
	var documents []Document
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC, id DESC").
		Find(&documents).Error; err != nil {
		return nil, fmt.Errorf("knowledge: list documents: %w", err)
	}
	return documents, nil
}

func (s *Service) GetDocument(ctx context.Context, projectID, documentID uint64) (*Document, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("id = ? AND project_id = ?", documentID, projectID).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("knowledge: load document: %w", err)
	}
	return &doc, nil
}

// DeleteDocument removes the chunks and the document in one transaction, then
// the stored original on a best-effort basis.
func (s *Service) DeleteDocument(ctx context.Context, projectID, documentID uint64) error {
	var doc Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND project_id = ?", documentID, projectID).First(&doc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDocumentNotFound
			}
			return err
		}
		if err := tx.Where("document_id = ?", doc.ID).Delete(&Chunk{}).Error; err != nil {
			return fmt.Errorf("knowledge: delete chunks: %w", err)
		}
		if err := tx.Delete(&doc).Error; err != nil {
			return fmt.Errorf("knowledge: delete document: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if doc.StorageKey != nil {
		if err := s.originals.Remove(ctx, *doc.StorageKey); err != nil {
			log.Warn("knowledge: remove stored original", "document", doc.ID, "err", err)
		}
	}
	return nil
}

// PurgeOriginals lists the stored originals of a project and returns a cleanup that
// removes them. Listing happens now, while the document rows exist; callers run the
// cleanup once the rows are gone.
func (s *Service) PurgeOriginals(ctx context.Context, projectID uint64) (func(context.Context) error, error) {
	if s.originals == nil {
		return nil, nil
	}
	var keys []string
	if err := s.db.WithContext(ctx).Model(&Document{}).
		Where("project_id = ? AND storage_key IS NOT NULL", projectID).
		Pluck("storage_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("knowledge: list stored originals: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return func(ctx context.Context) error {
		var errs []error
		for _, key := range keys {
			if err := s.originals.Remove(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}, nil
}

// DownloadURL returns a presigned link to the stored original.
func (s *Service) DownloadURL(ctx context.Context, doc *Document) (string, error) {
	if doc == nil || doc.StorageKey == nil {
		return "", storage.ErrNotConfigured
	}
	return s.originals.PresignedURL(ctx, *doc.StorageKey, 15*time.Minute)
}

// EmbedQuery embeds a single query text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, errors.New("knowledge: embedder returned no vector for query")
	}
	return vectors[0], nil
}

// Retrieve ranks the project's chunks against an embedded query.
func (s *Service) Retrieve(ctx context.Context, projectID uint64, query []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		k = s.topK
	}
	return s.retriever.Retrieve(ctx, projectID, query, k)
}

// Search embeds text and retrieves the top k chunks.
func (s *Service) Search(ctx context.Context, projectID uint64, text string, k int) ([]ScoredChunk, error) {
	if strings.TrimSpace(text) == "" {
		return []ScoredChunk{}, nil
	}
	query, err := s.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.Retrieve(ctx, projectID, query, k)
}
