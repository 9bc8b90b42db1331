package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/perspectra/agent/boardroom"
	"github.com/BaSui01/perspectra/agent/persistence"
	"github.com/BaSui01/perspectra/config"
	"github.com/BaSui01/perspectra/types"
)

// Session hosts one conversation: its engine plus the wiring that
// persists, caches and streams what the engine emits.
type Session struct {
	id      string
	engine  *boardroom.Engine
	gateway boardroom.ResponseGateway
	store   persistence.ConversationStore
	states  *persistence.StateCache
	hub     *Hub
	bounds  config.BoardroomConfig
	timeout time.Duration
	clock   func() time.Time
	logger  *zap.Logger

	mu        sync.Mutex
	conv      persistence.Conversation
	lastTouch time.Time
	closed    bool

	// turnMu 串行化手动生成与 Start/Resume 的状态检查
	turnMu     sync.Mutex
	responding bool
}

type sessionDeps struct {
	gateway boardroom.ResponseGateway
	store   persistence.ConversationStore
	states  *persistence.StateCache
	hub     *Hub
	bounds  config.BoardroomConfig
	timeout time.Duration
	clock   func() time.Time
	logger  *zap.Logger
}

func newSession(conv persistence.Conversation, history []types.Message, deps sessionDeps, opts ...boardroom.Option) *Session {
	s := &Session{
		id:        conv.ID,
		gateway:   deps.gateway,
		store:     deps.store,
		states:    deps.states,
		hub:       deps.hub,
		bounds:    deps.bounds,
		timeout:   deps.timeout,
		clock:     deps.clock,
		logger:    deps.logger.With(zap.String("conversation_id", conv.ID)),
		conv:      conv,
		lastTouch: deps.clock(),
	}
	s.engine = boardroom.NewEngine(deps.gateway, opts...)
	for _, m := range history {
		s.engine.AddMessage(m)
	}
	s.engine.SetMessageObserver(s.onMessage)
	s.engine.SetStateObserver(s.onState)
	return s
}

// ID 返回会话 ID
func (s *Session) ID() string { return s.id }

// Conversation returns a copy of the stored envelope.
func (s *Session) Conversation() persistence.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// State 返回引擎状态快照
func (s *Session) State() types.ConversationState {
	return s.engine.State()
}

// History 返回完整对话记录
func (s *Session) History() []types.Message {
	return s.engine.History()
}

// SpeakingInterval 返回当前发言间隔
func (s *Session) SpeakingInterval() time.Duration {
	return s.engine.SpeakingInterval()
}

// Subscribe streams this conversation's events.
func (s *Session) Subscribe() *Subscription {
	s.touch()
	return s.hub.Subscribe(s.id)
}

// Start begins autonomous turns seeded with the loaded history.
// Starting an active session is a no-op.
func (s *Session) Start() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if s.responding {
		return types.NewError(types.ErrInvalidTransition, "a manual response is being generated")
	}
	s.touch()
	conv := s.Conversation()
	return s.engine.Start(conv.Problem, s.engine.History())
}

// Pause 暂停自主发言
func (s *Session) Pause() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.touch()
	if !s.engine.State().Running() {
		return types.NewError(types.ErrInvalidTransition, "conversation is not running")
	}
	s.engine.Pause()
	return nil
}

// Resume 恢复自主发言
func (s *Session) Resume() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if s.responding {
		return types.NewError(types.ErrInvalidTransition, "a manual response is being generated")
	}
	s.touch()
	if !s.engine.State().Paused() {
		return types.NewError(types.ErrInvalidTransition, "conversation is not paused")
	}
	s.engine.Resume()
	return nil
}

// Stop ends the current run. A later Start begins a new run on the same history.
func (s *Session) Stop() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.touch()
	if !s.engine.State().IsActive {
		return types.NewError(types.ErrInvalidTransition, "conversation is not active")
	}
	s.engine.Stop()
	return nil
}

// PostUserMessage injects a human message. An active conversation is
// paused first; an inactive one just records it.
func (s *Session) PostUserMessage(content string) (types.Message, error) {
	if err := s.checkOpen(); err != nil {
		return types.Message{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return types.Message{}, types.NewError(types.ErrInvalidRequest, "message content is required")
	}
	s.touch()

	msg := types.NewUserMessage(uuid.NewString(), content)
	msg.Timestamp = s.clock()
	if err := s.engine.Interrupt(msg); err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

func (s *Session) beginRespond() (types.ConversationState, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	state := s.engine.State()
	if state.Running() {
		return state, types.NewError(types.ErrInvalidTransition, "conversation is running; pause it first")
	}
	if s.responding {
		return state, types.NewError(types.ErrConflict, "a response is already being generated")
	}
	s.responding = true
	return state, nil
}

func (s *Session) endRespond() {
	s.turnMu.Lock()
	s.responding = false
	s.turnMu.Unlock()
}

// Respond generates one message from persona on demand. It is refused
// while autonomous turns are running or another Respond is in flight,
// and Start/Resume are refused until it returns.
func (s *Session) Respond(ctx context.Context, persona types.PersonaType) (types.Message, error) {
	if err := s.checkOpen(); err != nil {
		return types.Message{}, err
	}
	if !persona.IsAutonomous() {
		return types.Message{}, types.NewError(types.ErrInvalidRequest, "unknown persona: "+string(persona))
	}
	state, err := s.beginRespond()
	if err != nil {
		return types.Message{}, err
	}
	defer s.endRespond()
	s.touch()

	conv := s.Conversation()
	topic := state.TopicFocus
	if topic == "" {
		topic = conv.TopicFocus
	}
	req := boardroom.GenerateRequest{
		Persona:    persona,
		Problem:    conv.Problem,
		History:    s.engine.History(),
		TopicFocus: topic,
		Round:      state.ConversationRound,
	}
	if s.bounds.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.bounds.GenerationTimeout)
		defer cancel()
	}
	resp, err := boardroom.Generate(ctx, s.gateway, req)
	if err != nil {
		s.logger.Warn("manual response failed", zap.String("persona", string(persona)), zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			return types.Message{}, types.NewError(types.ErrUpstreamTimeout, "generation timed out").WithCause(err)
		}
		if e, ok := types.AsError(err); ok {
			// 上游的 401/429 不能原样透给客户端
			if e.Provider != "" {
				return types.Message{}, types.NewError(types.ErrGenerationFailed, e.Message).
					WithCause(err).
					WithRetryable(e.Retryable).
					WithProvider(e.Provider)
			}
			return types.Message{}, e
		}
		return types.Message{}, types.NewError(types.ErrGenerationFailed, "generation failed").WithCause(err)
	}

	msg := types.Message{
		ID:          uuid.NewString(),
		Content:     strings.TrimSpace(resp.Content),
		Persona:     persona,
		Timestamp:   s.clock(),
		FactChecked: resp.FactChecked,
	}
	// AddMessage 不触发观察者，这里自行持久化与广播
	s.engine.AddMessage(msg)
	if err := s.record(msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// SetSpeakingInterval snaps ms to the configured range and applies it.
func (s *Session) SetSpeakingInterval(ctx context.Context, ms int64) (time.Duration, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	s.touch()
	d := s.bounds.ClampInterval(ms)
	if err := s.engine.SetSpeakingInterval(d); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.conv.SpeakingInterval = d
	conv := s.conv
	s.mu.Unlock()
	if err := s.store.Update(ctx, &conv); err != nil {
		return d, err
	}
	return d, nil
}

// onMessage 持久化、回填引擎并广播
func (s *Session) onMessage(msg types.Message) error {
	s.engine.AddMessage(msg)
	return s.record(msg)
}

func (s *Session) record(msg types.Message) error {
	s.touch()
	m := msg
	s.hub.Publish(Event{Type: EventMessage, ConversationID: s.id, Message: &m})

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.AppendMessage(ctx, s.id, msg); err != nil {
		s.logger.Error("persist message failed", zap.String("message_id", msg.ID), zap.Error(err))
		return err
	}
	return nil
}

func (s *Session) onState(state types.ConversationState) error {
	st := state
	s.hub.Publish(Event{Type: EventState, ConversationID: s.id, State: &st})

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var errs []error
	if s.states != nil {
		if err := s.states.Save(ctx, s.id, state); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	changed := state.TopicFocus != "" && state.TopicFocus != s.conv.TopicFocus
	if changed {
		s.conv.TopicFocus = state.TopicFocus
	}
	conv := s.conv
	s.mu.Unlock()
	if changed {
		if err := s.store.Update(ctx, &conv); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) touch() {
	now := s.clock()
	s.mu.Lock()
	s.lastTouch = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastTouch)
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.NewError(types.ErrSessionClosed, "session is closed")
	}
	return nil
}

// close stops the engine and waits for its loop to exit or ctx to end.
func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.engine.Stop()
	defer s.hub.CloseConversation(s.id)
	select {
	case <-s.engine.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
