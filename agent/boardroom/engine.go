package boardroom

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/perspectra/agent/boardroom/speaker"
	"github.com/BaSui01/perspectra/types"
)

const tracerName = "github.com/BaSui01/perspectra/agent/boardroom"

// Engine orchestrates one boardroom conversation. It owns the
// ConversationState and the canonical history; every method is safe for
// concurrent use.
type Engine struct {
	mu       sync.Mutex
	state    types.ConversationState
	problem  string
	history  []types.Message
	seen     map[string]struct{}
	interval time.Duration
	// anchor is where the next pacing wait starts; it also moves on
	// external messages, resume and failed turns.
	anchor time.Time
	sched  *scheduler

	onMessage MessageObserver
	onState   StateObserver
	queue     []event
	draining  bool

	gateway    ResponseGateway
	policy     SpeakerPolicy
	summarize  TopicSummarizer
	clock      func() time.Time
	newID      func() string
	genTimeout time.Duration
	metrics    Recorder
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewEngine creates an inactive engine.
func NewEngine(gateway ResponseGateway, opts ...Option) *Engine {
	e := &Engine{
		seen:      make(map[string]struct{}),
		interval:  DefaultSpeakingInterval,
		gateway:   gateway,
		policy:    speaker.New(speaker.DefaultConfig()),
		summarize: defaultTopic,
		clock:     time.Now,
		newID:     defaultID,
		metrics:   nopRecorder{},
		tracer:    otel.Tracer(tracerName),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetMessageObserver registers the message observer, replacing any previous one.
func (e *Engine) SetMessageObserver(fn MessageObserver) {
	e.mu.Lock()
	e.onMessage = fn
	e.mu.Unlock()
}

// SetStateObserver registers the state observer, replacing any previous one.
func (e *Engine) SetStateObserver(fn StateObserver) {
	e.mu.Lock()
	e.onState = fn
	e.mu.Unlock()
}

// Start begins a new session. It is a no-op while active and rejects an
// empty problem without touching state.
func (e *Engine) Start(problem string, seed []types.Message) error {
	trimmed := strings.TrimSpace(problem)
	if trimmed == "" {
		e.logger.Warn("start rejected: empty problem")
		return types.NewError(types.ErrInvalidConfig, "problem statement is required")
	}

	e.mu.Lock()
	if e.state.IsActive {
		e.mu.Unlock()
		return nil
	}

	now := e.clock()
	e.problem = trimmed
	e.history = make([]types.Message, 0, len(seed))
	e.seen = make(map[string]struct{}, len(seed))
	var lastSpeak time.Time
	for _, m := range seed {
		if !e.appendLocked(m) {
			continue
		}
		if m.Persona.IsAutonomous() && m.Timestamp.After(lastSpeak) {
			lastSpeak = m.Timestamp
		}
	}
	e.state = types.ConversationState{
		TopicFocus:    e.summarize(trimmed),
		IsActive:      true,
		LastSpeakTime: lastSpeak,
	}
	e.anchor = now

	e.sched = newScheduler(e, e.takeTurn)
	e.sched.start()
	e.metrics.RecordTransition(SchedulerIdle.String(), SchedulerRunning.String())
	e.enqueueStateLocked()
	e.mu.Unlock()

	e.logger.Info("conversation started",
		zap.Int("seed_messages", len(seed)),
		zap.Duration("interval", e.SpeakingInterval()),
	)
	e.drain()
	return nil
}

// Pause stops scheduling and cancels any in-flight turn. No-op unless running.
func (e *Engine) Pause() {
	e.mu.Lock()
	if !e.pauseLocked() {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.logger.Info("conversation paused")
	e.drain()
}

func (e *Engine) pauseLocked() bool {
	if !e.state.Running() {
		return false
	}
	e.state.PauseRequested = true
	e.state.CurrentSpeaker = types.PersonaNone
	e.sched.pause()
	e.metrics.RecordTransition(SchedulerRunning.String(), SchedulerPaused.String())
	e.enqueueStateLocked()
	return true
}

// Resume continues a paused session after a full fresh interval.
func (e *Engine) Resume() {
	e.mu.Lock()
	if !e.state.Paused() {
		e.mu.Unlock()
		return
	}
	e.state.PauseRequested = false
	e.anchor = e.clock()
	e.sched.resume()
	e.metrics.RecordTransition(SchedulerPaused.String(), SchedulerRunning.String())
	e.enqueueStateLocked()
	e.mu.Unlock()

	e.logger.Info("conversation resumed")
	e.drain()
}

// Stop ends the session irrecoverably. Only a new Start begins another one.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.state.IsActive {
		e.mu.Unlock()
		return
	}
	from := SchedulerRunning
	if e.state.PauseRequested {
		from = SchedulerPaused
	}
	e.state.IsActive = false
	e.state.PauseRequested = false
	e.state.CurrentSpeaker = types.PersonaNone
	e.sched.stop()
	e.metrics.RecordTransition(from.String(), SchedulerStopped.String())
	e.enqueueStateLocked()
	e.mu.Unlock()

	e.logger.Info("conversation stopped")
	e.drain()
}

// Interrupt pauses an active session and injects a user message. It never
// consults the speaker policy and does not resume on its own.
func (e *Engine) Interrupt(msg types.Message) error {
	if msg.Persona != types.PersonaUser {
		return types.NewError(types.ErrInvalidRequest, "interrupt requires a user message")
	}

	e.mu.Lock()
	if msg.ID == "" {
		msg.ID = e.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = e.clock()
	}
	paused := e.pauseLocked()
	if e.appendLocked(msg) {
		e.anchor = e.clock()
		e.enqueueMessageLocked(msg)
	}
	e.mu.Unlock()

	e.logger.Info("user interrupt", zap.String("message_id", msg.ID), zap.Bool("paused", paused))
	e.drain()
	return nil
}

// AddMessage appends to the canonical history without changing state flags
// or notifying observers. Messages whose ID is already known are ignored,
// so observers may feed engine output straight back in.
func (e *Engine) AddMessage(msg types.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if msg.ID == "" {
		msg.ID = e.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = e.clock()
	}
	if e.appendLocked(msg) {
		e.anchor = e.clock()
	}
}

// SetSpeakingInterval changes the pacing from the next wait on.
func (e *Engine) SetSpeakingInterval(d time.Duration) error {
	if d <= 0 {
		e.logger.Warn("rejected speaking interval", zap.Duration("interval", d))
		return types.NewError(types.ErrInvalidConfig, "speaking interval must be positive")
	}
	e.mu.Lock()
	e.interval = d
	e.mu.Unlock()
	return nil
}

// SetTopicFocus replaces the current topic focus and notifies.
func (e *Engine) SetTopicFocus(topic string) {
	e.mu.Lock()
	e.state.TopicFocus = strings.TrimSpace(topic)
	e.enqueueStateLocked()
	e.mu.Unlock()
	e.drain()
}

// State returns a snapshot of the conversation state.
func (e *Engine) State() types.ConversationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// History returns a copy of the canonical history.
func (e *Engine) History() []types.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.CloneMessages(e.history)
}

// Problem returns the problem statement of the current session.
func (e *Engine) Problem() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.problem
}

// SpeakingInterval returns the configured pacing interval.
func (e *Engine) SpeakingInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// SchedulerState reports the state of the current scheduling loop.
func (e *Engine) SchedulerState() SchedulerState {
	e.mu.Lock()
	s := e.sched
	e.mu.Unlock()
	if s == nil {
		return SchedulerIdle
	}
	return s.State()
}

// Done is closed once the current session's loop has exited.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sched == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return e.sched.done
}

func (e *Engine) appendLocked(msg types.Message) bool {
	if _, dup := e.seen[msg.ID]; dup {
		return false
	}
	e.seen[msg.ID] = struct{}{}
	e.history = append(e.history, msg)
	return true
}

// pacer

func (e *Engine) pacingAnchor() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.LastSpeakTime.After(e.anchor) {
		return e.state.LastSpeakTime
	}
	return e.anchor
}

func (e *Engine) currentInterval() time.Duration {
	return e.SpeakingInterval()
}

func (e *Engine) now() time.Time {
	return e.clock()
}

// takeTurn runs one select, generate, apply cycle. ctx is cancelled by
// pause and stop; a cancelled turn never emits.
func (e *Engine) takeTurn(ctx context.Context) {
	e.mu.Lock()
	if ctx.Err() != nil || !e.state.Running() {
		e.mu.Unlock()
		return
	}
	round := e.state.ConversationRound
	req := GenerateRequest{
		Problem:    e.problem,
		History:    types.CloneMessages(e.history),
		TopicFocus: e.state.TopicFocus,
		Round:      round,
	}
	req.Persona = e.policy.Select(req.History, round, req.TopicFocus)
	if !req.Persona.IsAutonomous() {
		e.mu.Unlock()
		e.logger.Error("speaker policy returned a non-autonomous persona", zap.String("persona", req.Persona.String()))
		return
	}
	e.state.CurrentSpeaker = req.Persona
	e.enqueueStateLocked()
	e.mu.Unlock()
	e.drain()

	started := e.clock()
	resp, err := e.generate(ctx, req)
	elapsed := e.clock().Sub(started)

	e.mu.Lock()
	if ctx.Err() != nil {
		e.mu.Unlock()
		e.metrics.RecordTurn(string(req.Persona), OutcomeCancelled, elapsed)
		e.logger.Debug("turn cancelled", zap.String("persona", string(req.Persona)), zap.Int("round", round))
		return
	}

	now := e.clock()
	if err != nil {
		e.state.CurrentSpeaker = types.PersonaNone
		e.anchor = now
		e.enqueueStateLocked()
		e.mu.Unlock()

		e.metrics.RecordTurn(string(req.Persona), OutcomeFailed, elapsed)
		e.logger.Warn("turn skipped", zap.Error(err))
		e.drain()
		return
	}

	msg := types.Message{
		ID:          e.newID(),
		Content:     resp.Content,
		Persona:     req.Persona,
		Timestamp:   now,
		FactChecked: resp.FactChecked,
	}
	e.appendLocked(msg)
	e.state.LastSpeakTime = now
	e.state.ConversationRound++
	e.state.CurrentSpeaker = types.PersonaNone
	e.anchor = now
	e.enqueueMessageLocked(msg)
	e.enqueueStateLocked()
	e.mu.Unlock()

	e.metrics.RecordTurn(string(req.Persona), OutcomeSuccess, elapsed)
	e.logger.Debug("turn completed",
		zap.String("persona", string(req.Persona)),
		zap.Int("round", round+1),
		zap.Duration("latency", elapsed),
	)
	e.drain()
}

func (e *Engine) generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	ctx, span := e.tracer.Start(ctx, "boardroom.turn",
		trace.WithAttributes(
			attribute.String("boardroom.persona", string(req.Persona)),
			attribute.Int("boardroom.round", req.Round),
		),
	)
	defer span.End()

	if e.genTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.genTimeout)
		defer cancel()
	}

	resp, err := Generate(ctx, e.gateway, req)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) {
			span.SetStatus(codes.Error, "generation timeout")
		} else {
			span.SetStatus(codes.Error, "generation failed")
		}
		return nil, err
	}
	span.SetAttributes(attribute.Bool("boardroom.fact_checked", resp.FactChecked))
	return resp, nil
}
