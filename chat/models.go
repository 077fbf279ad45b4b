package chat

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusActive   = "active"
	StatusClosed   = "closed"
	StatusArchived = "archived"
)

const (
	SenderUser   = "user"
	SenderBot    = "bot"
	SenderSystem = "system"
	SenderAgent  = "agent"
)

// ClientMetadata is what the widget reports about the visitor's browser.
type ClientMetadata struct {
	UserAgent string `json:"userAgent,omitempty"`
	Device    string `json:"device,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	Language  string `json:"language,omitempty"`
}

// Session is one visitor conversation. It belongs to exactly one project for its whole life.
type Session struct {
	ID            string                             `gorm:"primaryKey;size:36" json:"id"`
	ProjectID     uint64                             `gorm:"not null;index:idx_chat_sessions_project_last,priority:1" json:"project_id"`
	Status        string                             `gorm:"size:16;not null;default:'active'" json:"status"`
	AgentTakeover bool                               `gorm:"not null;default:false" json:"agent_takeover"`
	AgentID       *uint64                            `json:"agent_id,omitempty"`
	AgentName     string                             `gorm:"size:120" json:"agent_name,omitempty"`
	Metadata      datatypes.JSONType[ClientMetadata] `gorm:"type:json" json:"metadata"`
	Summary       *string                            `gorm:"type:text" json:"summary,omitempty"`
	LastMessageAt time.Time                          `gorm:"index:idx_chat_sessions_project_last,priority:2" json:"last_message_at"`
	EndedAt       *time.Time                         `json:"ended_at,omitempty"`
	CreatedAt     time.Time                          `json:"created_at"`
	UpdatedAt     time.Time                          `json:"updated_at"`
}

func (Session) TableName() string {
	return "chat_sessions"
}

// Message is immutable once stored.
type Message struct {
	ID               uint64    `gorm:"primaryKey" json:"id"`
	SessionID        string    `gorm:"size:36;not null;index:idx_chat_messages_session" json:"session_id"`
	ProjectID        uint64    `gorm:"not null;index" json:"project_id"`
	Sender           string    `gorm:"size:16;not null" json:"sender"`
	Content          string    `gorm:"type:text;not null" json:"content"`
	PromptTokens     *int      `json:"prompt_tokens,omitempty"`
	CompletionTokens *int      `json:"completion_tokens,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func (Message) TableName() string {
	return "chat_messages"
}
