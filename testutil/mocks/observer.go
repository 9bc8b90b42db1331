package mocks

import (
	"sync"

	"github.com/BaSui01/perspectra/agent/boardroom"
	"github.com/BaSui01/perspectra/types"
)

// ObserverRecorder 记录引擎回调
type ObserverRecorder struct {
	mu       sync.Mutex
	messages []types.Message
	states   []types.ConversationState

	// MessageErr / StateErr 非空时回调返回该错误（记录照常进行）
	MessageErr error
	StateErr   error
}

// NewObserverRecorder 创建记录器
func NewObserverRecorder() *ObserverRecorder {
	return &ObserverRecorder{}
}

// Attach 注册到引擎
func (r *ObserverRecorder) Attach(e *boardroom.Engine) {
	e.SetMessageObserver(r.OnMessage)
	e.SetStateObserver(r.OnState)
}

// OnMessage 实现 boardroom.MessageObserver
func (r *ObserverRecorder) OnMessage(msg types.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.MessageErr
}

// OnState 实现 boardroom.StateObserver
func (r *ObserverRecorder) OnState(state types.ConversationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return r.StateErr
}

// Messages 返回已记录消息
func (r *ObserverRecorder) Messages() []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return types.CloneMessages(r.messages)
}

// MessageCount 返回已记录消息数
func (r *ObserverRecorder) MessageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// States 返回已记录状态快照
func (r *ObserverRecorder) States() []types.ConversationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ConversationState, len(r.states))
	copy(out, r.states)
	return out
}

// LastState 返回最近一次状态快照
func (r *ObserverRecorder) LastState() (types.ConversationState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return types.ConversationState{}, false
	}
	return r.states[len(r.states)-1], true
}
