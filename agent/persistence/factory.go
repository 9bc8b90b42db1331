package persistence

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewConversationStore builds the backend named by cfg.Type.
// db is required for StoreTypeDatabase and ignored otherwise.
func NewConversationStore(cfg StoreConfig, db *gorm.DB, logger *zap.Logger) (ConversationStore, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeDatabase:
		if db == nil {
			return nil, fmt.Errorf("database store requires a connection")
		}
		return NewGormStore(db, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported conversation store type: %s", cfg.Type)
	}
}
