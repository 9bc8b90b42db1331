package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BaSui01/perspectra/types"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeDatabase StoreType = "database"
)

// Conversation is the persisted envelope of one boardroom session.
type Conversation struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	Title            string        `json:"title"`
	Problem          string        `json:"problem"`
	TopicFocus       string        `json:"topic_focus"`
	SpeakingInterval time.Duration `json:"speaking_interval"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Validate 校验必填字段
func (c *Conversation) Validate() error {
	if c == nil || c.ID == "" || strings.TrimSpace(c.Problem) == "" {
		return ErrInvalidInput
	}
	if c.SpeakingInterval < 0 {
		return ErrInvalidInput
	}
	return nil
}

// ListOptions pages ListByUser results, newest first.
type ListOptions struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (o ListOptions) normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Store is the base interface for all persistent stores
type Store interface {
	Close() error
	Ping(ctx context.Context) error
}

// ConversationStore persists conversations and their transcripts.
type ConversationStore interface {
	Store

	// Create fails with ErrAlreadyExists on a duplicate ID.
	Create(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, id string) (*Conversation, error)
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*Conversation, error)
	// Update overwrites TopicFocus and SpeakingInterval.
	Update(ctx context.Context, conv *Conversation) error
	// Delete removes the conversation and its messages.
	Delete(ctx context.Context, id string) error

	// AppendMessage is idempotent by message ID within a conversation.
	AppendMessage(ctx context.Context, conversationID string, msg types.Message) error
	// ListMessages returns messages in timestamp order, ties by append order.
	ListMessages(ctx context.Context, conversationID string) ([]types.Message, error)
}

// StoreConfig selects a backend
type StoreConfig struct {
	Type StoreType `json:"type" yaml:"type"`
	// TxRetries bounds transaction retries for the database backend
	TxRetries int `json:"tx_retries" yaml:"tx_retries"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      StoreTypeMemory,
		TxRetries: 3,
	}
}

func validMessage(msg types.Message) bool {
	return msg.ID != "" && msg.Persona.Valid()
}
