package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/AnastRaja/chatbot-sub000/authorization"
	"github.com/AnastRaja/chatbot-sub000/chat"
	"github.com/AnastRaja/chatbot-sub000/knowledge"
	"github.com/AnastRaja/chatbot-sub000/leads"
	"github.com/AnastRaja/chatbot-sub000/projects"
)

// Models lists every persisted type in dependency order.
func Models() []interface{} {
	return []interface{}{
		&authorization.Account{},
		&projects.Project{},
		&knowledge.Document{},
		&knowledge.Chunk{},
		&chat.Session{},
		&chat.Message{},
		&leads.Lead{},
	}
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("database: auto migrate: %w", err)
	}
	return nil
}
