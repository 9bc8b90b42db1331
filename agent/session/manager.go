package session

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/perspectra/agent/boardroom"
	"github.com/BaSui01/perspectra/agent/boardroom/speaker"
	"github.com/BaSui01/perspectra/agent/persistence"
	"github.com/BaSui01/perspectra/config"
	"github.com/BaSui01/perspectra/types"
)

const meterName = "github.com/BaSui01/perspectra/agent/session"

// DefaultPersistTimeout bounds each store or cache write made from an observer.
const DefaultPersistTimeout = 5 * time.Second

// Recorder receives engine and session metrics.
type Recorder interface {
	boardroom.Recorder
	SetActiveSessions(n int)
}

// CreateRequest 创建会话参数
type CreateRequest struct {
	UserID             string `json:"user_id"`
	Title              string `json:"title"`
	Problem            string `json:"problem"`
	SpeakingIntervalMS int64  `json:"speaking_interval_ms"`
	AutoStart          bool   `json:"auto_start"`
}

// Manager maps conversation IDs to live sessions, loading them from the
// store on first access.
type Manager struct {
	store   persistence.ConversationStore
	gateway boardroom.ResponseGateway
	states  *persistence.StateCache
	hub     *Hub
	bounds  config.BoardroomConfig
	timeout time.Duration
	clock   func() time.Time
	logger  *zap.Logger

	recorder   Recorder
	engineOpts []boardroom.Option
	active     metric.Int64UpDownCounter

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	loads    singleflight.Group

	reaperOnce sync.Once
	stopReaper chan struct{}
	reaperDone chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithStateCache caches every state snapshot in Redis.
func WithStateCache(c *persistence.StateCache) Option {
	return func(m *Manager) { m.states = c }
}

// WithHub shares an existing hub.
func WithHub(h *Hub) Option {
	return func(m *Manager) {
		if h != nil {
			m.hub = h
		}
	}
}

// WithMetrics 设置指标记录器
func WithMetrics(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithMeter registers the active session counter on meter.
func WithMeter(meter metric.Meter) Option {
	return func(m *Manager) {
		if meter == nil {
			return
		}
		if c, err := meter.Int64UpDownCounter("perspectra.sessions.active",
			metric.WithDescription("Sessions loaded in memory"),
		); err == nil {
			m.active = c
		}
	}
}

// WithPersistTimeout 设置观察者写入超时
func WithPersistTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock 设置时间源，同时用于引擎
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.clock = now
		}
	}
}

// WithEngineOptions appends options applied to every engine.
func WithEngineOptions(opts ...boardroom.Option) Option {
	return func(m *Manager) { m.engineOpts = append(m.engineOpts, opts...) }
}

// NewManager 创建会话管理器
func NewManager(store persistence.ConversationStore, gateway boardroom.ResponseGateway, bounds config.BoardroomConfig, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		gateway:    gateway,
		bounds:     bounds,
		timeout:    DefaultPersistTimeout,
		clock:      time.Now,
		logger:     zap.NewNop(),
		sessions:   make(map[string]*Session),
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	WithMeter(otel.Meter(meterName))(m)
	for _, opt := range opts {
		opt(m)
	}
	if m.hub == nil {
		m.hub = NewHub(DefaultSubscriberBuffer, m.logger)
	}
	m.logger = m.logger.With(zap.String("component", "session_manager"))
	return m
}

// Hub 返回事件中心
func (m *Manager) Hub() *Hub { return m.hub }

// Bounds 返回会议室配置
func (m *Manager) Bounds() config.BoardroomConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bounds
}

// SetBounds swaps interval bounds and policy settings for sessions loaded afterwards.
func (m *Manager) SetBounds(b config.BoardroomConfig) {
	m.mu.Lock()
	m.bounds = b
	m.mu.Unlock()
}

// maxTitleRunes 标题最大长度
const maxTitleRunes = 120

// conversationTitle 未提供标题时取问题首行
func conversationTitle(title, problem string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title, _, _ = strings.Cut(problem, "\n")
		title = strings.TrimSpace(title)
	}
	if r := []rune(title); len(r) > maxTitleRunes {
		title = strings.TrimSpace(string(r[:maxTitleRunes-1])) + "…"
	}
	return title
}

// Create persists a new conversation and loads its session.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	problem := strings.TrimSpace(req.Problem)
	if problem == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "problem statement is required")
	}

	m.mu.RLock()
	closed, bounds := m.closed, m.bounds
	m.mu.RUnlock()
	if closed {
		return nil, types.NewError(types.ErrSessionClosed, "session manager is shut down")
	}

	conv := persistence.Conversation{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Title:            conversationTitle(req.Title, problem),
		Problem:          problem,
		TopicFocus:       problem,
		SpeakingInterval: bounds.ClampInterval(req.SpeakingIntervalMS),
	}
	if err := m.store.Create(ctx, &conv); err != nil {
		return nil, storeError(err)
	}

	s, err := m.register(m.build(conv, nil, bounds))
	if err != nil {
		return nil, err
	}
	m.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", conv.UserID),
		zap.Duration("interval", conv.SpeakingInterval),
	)
	if req.AutoStart {
		if err := s.Start(); err != nil {
			return s, err
		}
	}
	return s, nil
}

// Get returns the live session, loading it from the store once.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	closed := m.closed
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if closed {
		return nil, types.NewError(types.ErrSessionClosed, "session manager is shut down")
	}

	v, err, _ := m.loads.Do(id, func() (any, error) {
		return m.load(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *Manager) load(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	if s, ok := m.sessions[id]; ok {
		m.mu.RUnlock()
		return s, nil
	}
	bounds := m.bounds
	m.mu.RUnlock()

	conv, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	history, err := m.store.ListMessages(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}

	s, err := m.register(m.build(*conv, history, bounds))
	if err != nil {
		return nil, err
	}
	m.logger.Debug("session loaded", zap.String("conversation_id", id), zap.Int("messages", len(history)))
	return s, nil
}

func (m *Manager) build(conv persistence.Conversation, history []types.Message, bounds config.BoardroomConfig) *Session {
	seed := bounds.Seed
	if seed == 0 {
		h := fnv.New64a()
		_, _ = h.Write([]byte(conv.ID))
		seed = int64(h.Sum64())
	}
	policy := speaker.New(speaker.Config{
		ModeratorEvery: bounds.ModeratorEvery,
		ClaimGap:       bounds.ClaimGap,
		DevilCooldown:  bounds.DevilCooldown,
		Seed:           seed,
	})

	opts := []boardroom.Option{
		boardroom.WithPolicy(policy),
		boardroom.WithSpeakingInterval(conv.SpeakingInterval),
		boardroom.WithGenerationTimeout(bounds.GenerationTimeout),
		boardroom.WithClock(m.clock),
		boardroom.WithLogger(m.logger.With(zap.String("conversation_id", conv.ID))),
		boardroom.WithTopicSummarizer(func(string) string { return conv.TopicFocus }),
	}
	if m.recorder != nil {
		opts = append(opts, boardroom.WithMetrics(m.recorder))
	}
	opts = append(opts, m.engineOpts...)

	return newSession(conv, history, sessionDeps{
		gateway: m.gateway,
		store:   m.store,
		states:  m.states,
		hub:     m.hub,
		bounds:  bounds,
		timeout: m.timeout,
		clock:   m.clock,
		logger:  m.logger,
	}, opts...)
}

// register 若已有同 ID 会话则返回已有会话
func (m *Manager) register(s *Session) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, types.NewError(types.ErrSessionClosed, "session manager is shut down")
	}
	if existing, ok := m.sessions[s.id]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[s.id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.reportActive(1, n)
	return s, nil
}

func (m *Manager) unregister(id string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if ok {
		m.reportActive(-1, n)
	}
	return s, ok
}

func (m *Manager) reportActive(delta int64, n int) {
	if m.active != nil {
		m.active.Add(context.Background(), delta)
	}
	if m.recorder != nil {
		m.recorder.SetActiveSessions(n)
	}
}

// Close stops and unloads one session. Unknown IDs are ignored.
func (m *Manager) Close(ctx context.Context, id string) error {
	s, ok := m.unregister(id)
	if !ok {
		return nil
	}
	return s.close(ctx)
}

// Delete removes the conversation everywhere.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.Close(ctx, id); err != nil {
		m.logger.Warn("close before delete", zap.String("conversation_id", id), zap.Error(err))
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return storeError(err)
	}
	if m.states != nil {
		if err := m.states.Delete(ctx, id); err != nil {
			m.logger.Warn("delete cached state", zap.String("conversation_id", id), zap.Error(err))
		}
	}
	return nil
}

// List 返回用户的会话列表
func (m *Manager) List(ctx context.Context, userID string, opts persistence.ListOptions) ([]*persistence.Conversation, error) {
	list, err := m.store.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, storeError(err)
	}
	return list, nil
}

// Messages returns the live history when loaded, otherwise the stored one.
func (m *Manager) Messages(ctx context.Context, id string) ([]types.Message, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s.History(), nil
	}
	msgs, err := m.store.ListMessages(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return msgs, nil
}

// Active 返回已加载会话数
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartReaper unloads idle sessions every timeout/2 until ctx ends or
// Shutdown is called. A non-positive timeout disables reaping.
func (m *Manager) StartReaper(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	m.reaperOnce.Do(func() {
		go func() {
			defer close(m.reaperDone)
			ticker := time.NewTicker(timeout / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-m.stopReaper:
					return
				case <-ticker.C:
					if n := m.reapIdle(ctx, m.clock(), timeout); n > 0 {
						m.logger.Info("reaped idle sessions", zap.Int("count", n))
					}
				}
			}
		}()
	})
}

// reapIdle unloads sessions that are not running, have no subscribers and
// were untouched for at least timeout.
func (m *Manager) reapIdle(ctx context.Context, now time.Time, timeout time.Duration) int {
	m.mu.RLock()
	var idle []string
	for id, s := range m.sessions {
		if s.State().Running() || m.hub.Subscribers(id) > 0 {
			continue
		}
		if s.idleSince(now) >= timeout {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		if err := m.Close(ctx, id); err != nil {
			m.logger.Warn("reap session", zap.String("conversation_id", id), zap.Error(err))
		}
	}
	return len(idle)
}

// Shutdown stops every session and waits for their loops, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	close(m.stopReaper)
	// 未启动回收协程时直接关闭 reaperDone
	m.reaperOnce.Do(func() { close(m.reaperDone) })
	<-m.reaperDone

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error { return s.close(gctx) })
	}
	err := g.Wait()
	m.reportActive(-int64(len(sessions)), 0)
	m.hub.Close()

	m.logger.Info("session manager stopped", zap.Int("sessions", len(sessions)), zap.Error(err))
	return err
}

// storeError maps persistence sentinels to API errors.
func storeError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return types.NewError(types.ErrNotFound, "conversation not found").WithCause(err)
	case errors.Is(err, persistence.ErrAlreadyExists):
		return types.NewError(types.ErrConflict, "conversation already exists").WithCause(err)
	case errors.Is(err, persistence.ErrInvalidInput):
		return types.NewError(types.ErrInvalidRequest, "invalid conversation").WithCause(err)
	case errors.Is(err, persistence.ErrStoreClosed):
		return types.NewError(types.ErrServiceUnavailable, "store is closed").WithCause(err)
	default:
		return types.NewError(types.ErrInternalError, "storage failure").WithCause(err)
	}
}
