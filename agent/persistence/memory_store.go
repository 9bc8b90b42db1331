package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/perspectra/types"
)

// MemoryStore 是 ConversationStore 的内存实现，重启后数据丢失。
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]types.Message
	seen          map[string]map[string]struct{}
	closed        bool
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]types.Message),
		seen:          make(map[string]map[string]struct{}),
		now:           time.Now,
	}
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) Create(ctx context.Context, conv *Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.conversations[conv.ID]; ok {
		return ErrAlreadyExists
	}

	now := s.now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	cp := *conv
	s.conversations[conv.ID] = &cp
	s.seen[conv.ID] = make(map[string]struct{})
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*Conversation, error) {
	opts = opts.normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []*Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			cp := *conv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if opts.Offset >= len(out) {
		return []*Conversation{}, nil
	}
	out = out[opts.Offset:]
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" || conv.SpeakingInterval < 0 {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	existing, ok := s.conversations[conv.ID]
	if !ok {
		return ErrNotFound
	}
	existing.TopicFocus = conv.TopicFocus
	existing.SpeakingInterval = conv.SpeakingInterval
	existing.UpdatedAt = s.now()
	conv.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	delete(s.seen, id)
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID string, msg types.Message) error {
	if !validMessage(msg) {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	seen, ok := s.seen[conversationID]
	if !ok {
		return ErrNotFound
	}
	if _, dup := seen[msg.ID]; dup {
		return nil
	}
	seen[msg.ID] = struct{}{}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}

	out := types.CloneMessages(s.messages[conversationID])
	if out == nil {
		out = []types.Message{}
	}
	// 稳定排序保留追加顺序作为次序
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

var _ ConversationStore = (*MemoryStore)(nil)
