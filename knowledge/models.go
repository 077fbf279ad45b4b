package knowledge

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

type Document struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	ProjectID   uint64    `gorm:"not null;index" json:"project_id"`
	FileName    string    `gorm:"size:255;not null" json:"file_name"`
	ContentType string    `gorm:"size:128" json:"content_type"`
	SizeBytes   int64     `gorm:"not null;default:0" json:"size_bytes"`
	StorageKey  *string   `gorm:"size:255" json:"-"`
	Status      string    `gorm:"size:16;not null;default:'processing'" json:"status"`
	ErrorMsg    *string   `gorm:"column:error_message;size:500" json:"error,omitempty"`
	ChunkCount  int       `gorm:"not null;default:0" json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Document) TableName() string {
	return "knowledge_documents"
}

type Chunk struct {
	ID         uint64                       `gorm:"primaryKey" json:"id"`
	DocumentID uint64                       `gorm:"not null;index:idx_document_seq" json:"document_id"`
	ProjectID  uint64                       `gorm:"not null;index" json:"project_id"`
	Seq        int                          `gorm:"not null;index:idx_document_seq" json:"seq"`
	Text       string                       `gorm:"type:text;not null" json:"text"`
	TokenCount int                          `gorm:"not null;default:0" json:"token_count"`
	Embedding  datatypes.JSONSlice[float32] `gorm:"type:json" json:"-"`
	CreatedAt  time.Time                    `json:"created_at"`
}

func (Chunk) TableName() string {
	return "knowledge_chunks"
}

type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}
