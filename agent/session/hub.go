package session

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/perspectra/types"
)

// EventType 事件类型
type EventType string

const (
	EventMessage EventType = "message"
	EventState   EventType = "state"
	EventClosed  EventType = "closed"
)

// DefaultSubscriberBuffer 订阅者通道缓冲
const DefaultSubscriberBuffer = 64

// Event is one item of a conversation's live stream.
type Event struct {
	Type           EventType                `json:"type"`
	ConversationID string                   `json:"conversation_id"`
	Message        *types.Message           `json:"message,omitempty"`
	State          *types.ConversationState `json:"state,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
}

// Subscription receives events for one conversation until cancelled.
type Subscription struct {
	id     uint64
	convID string
	ch     chan Event
	hub    *Hub
	// mu 串行化发送与关闭，closed 之后不再写 ch
	mu     sync.Mutex
	closed bool
	// dropped 因缓冲已满丢弃的事件数
	dropped atomic.Uint64
}

// Events returns the receive side. It is closed on Cancel or hub close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Cancel 取消订阅，可重复调用
func (s *Subscription) Cancel() {
	s.hub.remove(s)
}

// offer delivers ev without blocking. It reports false when the buffer
// is full; sends after close are silently ignored.
func (s *Subscription) offer(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// shutdown closes ch once, optionally delivering a final event first.
func (s *Subscription) shutdown(final *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if final != nil {
		select {
		case s.ch <- *final:
		default:
		}
	}
	s.closed = true
	close(s.ch)
}

// Hub fans events out per conversation. Publish never blocks: a full
// subscriber buffer drops the event for that subscriber only.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
	logger *zap.Logger
}

// NewHub 创建事件中心
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[uint64]*Subscription),
		buffer: buffer,
		logger: logger.With(zap.String("component", "session_hub")),
	}
}

// Subscribe 订阅会话事件
func (h *Hub) Subscribe(conversationID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		convID: conversationID,
		ch:     make(chan Event, h.buffer),
		hub:    h,
	}
	if h.closed {
		sub.shutdown(nil)
		return sub
	}
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[uint64]*Subscription)
	}
	h.subs[conversationID][sub.id] = sub
	return sub
}

// Publish 发布事件给该会话的所有订阅者
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs[ev.ConversationID] {
		if !sub.offer(ev) {
			if sub.dropped.Add(1) == 1 {
				h.logger.Warn("slow subscriber, dropping events",
					zap.String("conversation_id", ev.ConversationID),
					zap.Uint64("subscription", sub.id),
				)
			}
		}
	}
}

// Subscribers 返回会话当前订阅数
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}

// CloseConversation sends EventClosed and ends every subscription of the conversation.
func (h *Hub) CloseConversation(conversationID string) {
	h.mu.Lock()
	subs := h.subs[conversationID]
	delete(h.subs, conversationID)
	h.mu.Unlock()

	ev := Event{Type: EventClosed, ConversationID: conversationID, Timestamp: time.Now()}
	for _, sub := range subs {
		sub.shutdown(&ev)
	}
}

// Close 关闭所有订阅
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := h.subs
	h.subs = make(map[string]map[uint64]*Subscription)
	h.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.shutdown(nil)
		}
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	if subs, ok := h.subs[sub.convID]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.subs, sub.convID)
		}
	}
	h.mu.Unlock()
	sub.shutdown(nil)
}
