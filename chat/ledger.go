package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/AnastRaja/chatbot-sub000/config"
)

var (
	ErrSessionNotFound   = errors.New("chat: session not found")
	ErrInvalidTransition = errors.New("chat: invalid session transition")
)

// SessionKey identifies a session only together with the project it must belong to.
type SessionKey struct {
	ProjectID uint64
	SessionID string
}

// Ledger persists sessions and their messages.
type Ledger struct {
	db           *gorm.DB
	cache        *messageCache
	historyLimit int
}

func NewLedger(db *gorm.DB, redisClient *redis.Client, cfg config.ChatConfig) *Ledger {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 10
	}
	return &Ledger{
		db:           db,
		cache:        newMessageCache(redisClient, cfg.CacheTTL, limit),
		historyLimit: limit,
	}
}

// Resolve returns the active session named by key, or a new session for key.ProjectID.
// A session id that is unknown, inactive or bound to another project is never reused.
func (l *Ledger) Resolve(ctx context.Context, key SessionKey, meta ClientMetadata) (*Session, bool, error) {
	if sessionID := strings.TrimSpace(key.SessionID); sessionID != "" {
		var session Session
		err := l.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error
		switch {
		case err == nil && session.ProjectID == key.ProjectID && session.Status == StatusActive:
			return &session, false, nil
		case err == nil && session.ProjectID != key.ProjectID:
			log.Warn("chat: session belongs to another project, starting a new one",
				"session", sessionID, "project", key.ProjectID, "owner_project", session.ProjectID)
		case err == nil:
			log.Info("chat: session is no longer active, starting a new one", "session", sessionID, "status", session.Status)
		case errors.Is(err, gorm.ErrRecordNotFound):
			log.Warn("chat: unknown session, starting a new one", "session", sessionID, "project", key.ProjectID)
		default:
			return nil, false, fmt.Errorf("chat: load session: %w", err)
		}
	}

	session, err := l.Create(ctx, key.ProjectID, meta)
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// Create opens a new active session bound to projectID.
func (l *Ledger) Create(ctx context.Context, projectID uint64, meta ClientMetadata) (*Session, error) {
	now := time.Now().UTC()
	session := &Session{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Status:        StatusActive,
		Metadata:      datatypes.NewJSONType(meta),
		LastMessageAt: now,
	}
	if err := l.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("chat: create session: %w", err)
	}
	return session, nil
}

func (l *Ledger) Get(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	err := l.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(sessionID)).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chat: get session: %w", err)
	}
	return &session, nil
}

// SessionExists reports whether sessionID names a stored session.
func (l *Ledger) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&Session{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("chat: count session: %w", err)
	}
	return count > 0, nil
}

// ListSessions returns a project's sessions, most recently active first.
func (l *Ledger) ListSessions(ctx context.Context, projectID uint64, status string, limit int) ([]Session, error) {
	query := l.db.WithContext(ctx).Where("project_id = ?", projectID)
	if status = strings.TrimSpace(status); status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var list []Session
	if err := query.Order("last_message_at DESC").Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("chat: list sessions: %w", err)
	}
	return list, nil
}

// Append stores msg and bumps the session's last activity in one transaction.
func (l *Ledger) Append(ctx context.Context, msg *Message) error {
	if msg == nil || msg.SessionID == "" || msg.ProjectID == 0 {
		return errors.New("chat: message requires session and project")
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&Session{}).
			Where("id = ?", msg.SessionID).
			Update("last_message_at", msg.CreatedAt).Error
	})
	if err != nil {
		return fmt.Errorf("chat: append message: %w", err)
	}

	l.cache.push(ctx, *msg)
	return nil
}

// Recent returns up to limit of the newest messages, oldest first.
func (l *Ledger) Recent(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = l.historyLimit
	}
	cacheable := limit == l.historyLimit
	if cacheable {
		if cached, ok := l.cache.get(ctx, sessionID); ok {
			return cached, nil
		}
	}

	var history []Message
	if err := l.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&history).Error; err != nil {
		return nil, fmt.Errorf("chat: load recent messages: %w", err)
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	if cacheable {
		l.cache.seed(ctx, sessionID, history)
	}
	return history, nil
}

// Messages returns the full transcript oldest first.
func (l *Ledger) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	var list []Message
	if err := l.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("chat: load messages: %w", err)
	}
	return list, nil
}

// Takeover hands an active session to a human agent.
func (l *Ledger) Takeover(ctx context.Context, sessionID string, agentID uint64, agentName string) (*Session, error) {
	return l.transition(ctx, sessionID, "status = ?", []any{StatusActive}, map[string]any{
		"agent_takeover": true,
		"agent_id":       agentID,
		"agent_name":     agentName,
	})
}

// Release returns a taken-over session to the bot.
func (l *Ledger) Release(ctx context.Context, sessionID string) (*Session, error) {
	return l.transition(ctx, sessionID, "status = ? AND agent_takeover = ?", []any{StatusActive, true}, map[string]any{
		"agent_takeover": false,
	})
}

// End closes an active session.
func (l *Ledger) End(ctx context.Context, sessionID string) (*Session, error) {
	session, err := l.transition(ctx, sessionID, "status = ?", []any{StatusActive}, map[string]any{
		"status":         StatusClosed,
		"agent_takeover": false,
		"ended_at":       time.Now().UTC(),
	})
	if err == nil {
		l.cache.invalidate(ctx, sessionID)
	}
	return session, err
}

// Archive moves an active session out of the live queue.
func (l *Ledger) Archive(ctx context.Context, sessionID string) (*Session, error) {
	session, err := l.transition(ctx, sessionID, "status = ?", []any{StatusActive}, map[string]any{
		"status":         StatusArchived,
		"agent_takeover": false,
		"ended_at":       time.Now().UTC(),
	})
	if err == nil {
		l.cache.invalidate(ctx, sessionID)
	}
	return session, err
}

func (l *Ledger) SaveSummary(ctx context.Context, sessionID, summary string) error {
	if err := l.db.WithContext(ctx).Model(&Session{}).Where("id = ?", sessionID).Update("summary", summary).Error; err != nil {
		return fmt.Errorf("chat: save summary: %w", err)
	}
	return nil
}

// transition applies updates only while the guard still holds.
func (l *Ledger) transition(ctx context.Context, sessionID, guard string, guardArgs []any, updates map[string]any) (*Session, error) {
	args := append([]any{sessionID}, guardArgs...)
	result := l.db.WithContext(ctx).Model(&Session{}).Where("id = ? AND "+guard, args...).Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("chat: update session: %w", result.Error)
	}

	session, err := l.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return session, ErrInvalidTransition
	}
	return session, nil
}
