package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
)

// Retriever ranks a project's stored chunks against a query vector with a
// linear cosine scan.
type Retriever struct {
	db *gorm.DB
}

func NewRetriever(db *gorm.DB) *Retriever {
	return &Retriever{db: db}
}

// Retrieve returns at most k chunks of projectID ordered by descending
// similarity. Equal scores keep insertion order. No chunks yields an empty list.
func (r *Retriever) Retrieve(ctx context.Context, projectID uint64, query []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 || len(query) == 0 {
		return []ScoredChunk{}, nil
	}

	var chunks []Chunk
	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("id ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("knowledge: load chunks: %w", err)
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	skipped := 0
	for _, chunk := range chunks {
		score, ok := cosineSimilarity(query, chunk.Embedding)
		if !ok {
			skipped++
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: chunk, Score: score})
	}
	if skipped > 0 {
		log.Warn("knowledge: skipped chunks with mismatched embeddings", "project", projectID, "skipped", skipped, "dim", len(query))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// cosineSimilarity reports false when the vectors cannot be compared.
// A zero vector scores 0.
func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, true
	}
	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(score) {
		return 0, true
	}
	return score, true
}
