package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/perspectra/internal/database"
	"github.com/BaSui01/perspectra/types"
)

// conversationRow maps the conversations table.
type conversationRow struct {
	ID                 string    `gorm:"primaryKey;size:64"`
	UserID             string    `gorm:"size:128;not null;default:'';index:idx_conversations_user_id,priority:1"`
	Title              string    `gorm:"size:255;not null;default:''"`
	Problem            string    `gorm:"type:text;not null"`
	TopicFocus         string    `gorm:"type:text;not null;default:''"`
	SpeakingIntervalMS int64     `gorm:"column:speaking_interval_ms;not null"`
	CreatedAt          time.Time `gorm:"index:idx_conversations_user_id,priority:2"`
	UpdatedAt          time.Time
}

func (conversationRow) TableName() string { return "conversations" }

// messageRow maps the messages table.
type messageRow struct {
	ConversationID string    `gorm:"primaryKey;size:64"`
	ID             string    `gorm:"primaryKey;size:64"`
	Seq            int64     `gorm:"not null;default:0"`
	Persona        string    `gorm:"size:32;not null"`
	Content        string    `gorm:"type:text;not null"`
	FactChecked    bool      `gorm:"not null;default:false"`
	SentAt         time.Time `gorm:"not null"`
}

func (messageRow) TableName() string { return "messages" }

func toRow(c *Conversation) conversationRow {
	return conversationRow{
		ID:                 c.ID,
		UserID:             c.UserID,
		Title:              c.Title,
		Problem:            c.Problem,
		TopicFocus:         c.TopicFocus,
		SpeakingIntervalMS: c.SpeakingInterval.Milliseconds(),
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func (r conversationRow) toConversation() *Conversation {
	return &Conversation{
		ID:               r.ID,
		UserID:           r.UserID,
		Title:            r.Title,
		Problem:          r.Problem,
		TopicFocus:       r.TopicFocus,
		SpeakingInterval: time.Duration(r.SpeakingIntervalMS) * time.Millisecond,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (r messageRow) toMessage() types.Message {
	return types.Message{
		ID:          r.ID,
		Content:     r.Content,
		Persona:     types.PersonaType(r.Persona),
		Timestamp:   r.SentAt,
		FactChecked: r.FactChecked,
	}
}

// GormStore is a ConversationStore over postgres, mysql or sqlite.
// The schema is owned by internal/migration; AutoMigrate exists for tests
// and throwaway sqlite files.
type GormStore struct {
	db      *gorm.DB
	retries int
	logger  *zap.Logger
}

// NewGormStore wraps an open GORM connection
func NewGormStore(db *gorm.DB, cfg StoreConfig, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm store: %w", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := cfg.TxRetries
	if retries <= 0 {
		retries = DefaultStoreConfig().TxRetries
	}
	return &GormStore{
		db:      db,
		retries: retries,
		logger:  logger.With(zap.String("component", "conversation_store")),
	}, nil
}

// AutoMigrate creates the tables through GORM
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&conversationRow{}, &messageRow{})
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Create(ctx context.Context, conv *Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	row := toRow(conv)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("create conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var row conversationRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return row.toConversation(), nil
}

func (s *GormStore) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*Conversation, error) {
	opts = opts.normalize()
	var rows []conversationRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(opts.Limit).Offset(opts.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]*Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toConversation())
	}
	return out, nil
}

func (s *GormStore) Update(ctx context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" || conv.SpeakingInterval < 0 {
		return ErrInvalidInput
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&conversationRow{}).
		Where("id = ?", conv.ID).
		Updates(map[string]any{
			"topic_focus":          conv.TopicFocus,
			"speaking_interval_ms": conv.SpeakingInterval.Milliseconds(),
			"updated_at":           now,
		})
	if res.Error != nil {
		return fmt.Errorf("update conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	conv.UpdatedAt = now
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	var affected int64
	err := database.RetryTransaction(ctx, s.db, s.retries, s.logger, func(tx *gorm.DB) error {
		// sqlite 默认不开启外键，显式删除消息
		if err := tx.Where("conversation_id = ?", id).Delete(&messageRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&conversationRow{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) AppendMessage(ctx context.Context, conversationID string, msg types.Message) error {
	if !validMessage(msg) {
		return ErrInvalidInput
	}
	err := database.RetryTransaction(ctx, s.db, s.retries, s.logger, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&conversationRow{}).Where("id = ?", conversationID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}

		var maxSeq int64
		if err := tx.Model(&messageRow{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}

		row := messageRow{
			ConversationID: conversationID,
			ID:             msg.ID,
			Seq:            maxSeq + 1,
			Persona:        string(msg.Persona),
			Content:        msg.Content,
			FactChecked:    msg.FactChecked,
			SentAt:         msg.Timestamp.UTC(),
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *GormStore) ListMessages(ctx context.Context, conversationID string) ([]types.Message, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sent_at ASC").Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]types.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toMessage())
	}
	return out, nil
}

var _ ConversationStore = (*GormStore)(nil)
