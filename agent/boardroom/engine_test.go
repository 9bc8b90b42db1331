package boardroom_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/perspectra/agent/boardroom"
	"github.com/BaSui01/perspectra/agent/boardroom/speaker"
	"github.com/BaSui01/perspectra/testutil"
	"github.com/BaSui01/perspectra/testutil/mocks"
	"github.com/BaSui01/perspectra/types"
)

const waitFor = 2 * time.Second

type turnRecord struct {
	persona string
	outcome string
}

// fakeRecorder 记录引擎上报的指标
type fakeRecorder struct {
	mu               sync.Mutex
	turns            []turnRecord
	transitions      []string
	observerFailures map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{observerFailures: map[string]int{}}
}

func (r *fakeRecorder) RecordTurn(persona, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, turnRecord{persona: persona, outcome: outcome})
}

func (r *fakeRecorder) RecordTransition(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

func (r *fakeRecorder) RecordObserverFailure(observer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observerFailures[observer]++
}

func (r *fakeRecorder) outcomes(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.turns {
		if t.outcome == outcome {
			n++
		}
	}
	return n
}

func (r *fakeRecorder) failures(observer string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observerFailures[observer]
}

// countingPolicy 统计 Select 调用次数
type countingPolicy struct {
	mu    sync.Mutex
	inner boardroom.SpeakerPolicy
	calls int
}

func (p *countingPolicy) Select(history []types.Message, round int, topic string) types.PersonaType {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.inner.Select(history, round, topic)
}

func (p *countingPolicy) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newEngine(t *testing.T, gw boardroom.ResponseGateway, opts ...boardroom.Option) *boardroom.Engine {
	t.Helper()
	opts = append([]boardroom.Option{
		boardroom.WithLogger(zaptest.NewLogger(t)),
		boardroom.WithSpeakingInterval(time.Millisecond),
	}, opts...)
	e := boardroom.NewEngine(gw, opts...)
	t.Cleanup(e.Stop)
	return e
}

// pauseAfter 在第 n 条消息送达时暂停引擎，保证恰好产生 n 条消息
func pauseAfter(e *boardroom.Engine, rec *mocks.ObserverRecorder, n int) {
	e.SetMessageObserver(func(msg types.Message) error {
		_ = rec.OnMessage(msg)
		e.AddMessage(msg)
		if rec.MessageCount() >= n {
			e.Pause()
		}
		return nil
	})
	e.SetStateObserver(rec.OnState)
}

func TestEngine_StartInitialisesState(t *testing.T) {
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, mocks.NewScriptedGateway(), boardroom.WithSpeakingInterval(time.Hour))
	rec.Attach(e)

	require.NoError(t, e.Start("X", nil))

	s := e.State()
	assert.True(t, s.IsActive)
	assert.False(t, s.PauseRequested)
	assert.Equal(t, 0, s.ConversationRound)
	assert.Equal(t, "X", s.TopicFocus)
	assert.Equal(t, "X", e.Problem())
	assert.Equal(t, boardroom.SchedulerRunning, e.SchedulerState())

	last, ok := rec.LastState()
	require.True(t, ok)
	assert.True(t, last.IsActive)
}

func TestEngine_StartRejectsEmptyProblem(t *testing.T) {
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, mocks.NewScriptedGateway())
	rec.Attach(e)

	for _, problem := range []string{"", "   \n"} {
		err := e.Start(problem, nil)
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
	}
	assert.False(t, e.State().IsActive)
	assert.Empty(t, rec.States())
	assert.Equal(t, boardroom.SchedulerIdle, e.SchedulerState())
}

func TestEngine_StartWhileActiveIsNoop(t *testing.T) {
	e := newEngine(t, mocks.NewScriptedGateway(), boardroom.WithSpeakingInterval(time.Hour))

	require.NoError(t, e.Start("first", testutil.SeedHistory(2)))
	require.NoError(t, e.Start("second", nil))

	assert.Equal(t, "first", e.State().TopicFocus)
	assert.Len(t, e.History(), 2)
}

func TestEngine_SeedHistoryIsDeduplicated(t *testing.T) {
	e := newEngine(t, mocks.NewScriptedGateway(), boardroom.WithSpeakingInterval(time.Hour))
	seed := testutil.SeedHistory(3)
	seed = append(seed, seed[1])

	require.NoError(t, e.Start("X", seed))
	assert.Equal(t, []string{"seed-0", "seed-1", "seed-2"}, testutil.MessageIDs(e.History()))
	assert.Equal(t, seed[2].Timestamp, e.State().LastSpeakTime)
}

func TestEngine_TopicSummarizer(t *testing.T) {
	e := newEngine(t, mocks.NewScriptedGateway(),
		boardroom.WithSpeakingInterval(time.Hour),
		boardroom.WithTopicSummarizer(func(p string) string { return "focus: " + p }),
	)
	require.NoError(t, e.Start("pricing", nil))
	assert.Equal(t, "focus: pricing", e.State().TopicFocus)

	e.SetTopicFocus("  churn  ")
	assert.Equal(t, "churn", e.State().TopicFocus)
}

// 端到端：1ms 间隔、空种子、5 个成功回合
func TestEngine_FiveTurnsEndToEnd(t *testing.T) {
	gw := mocks.NewScriptedGateway()
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, gw)
	pauseAfter(e, rec, 5)

	require.NoError(t, e.Start("Should we expand into Europe?", nil))
	testutil.AssertEventuallyTrue(t, func() bool { return e.State().Paused() }, waitFor)

	history := e.History()
	require.Len(t, history, 5)
	assert.Equal(t, testutil.MessageIDs(history), testutil.MessageIDs(rec.Messages()))
	assert.Equal(t, 5, e.State().ConversationRound)
	assert.Equal(t, 5, gw.CallCount())

	policy := speaker.New(speaker.DefaultConfig())
	for i, m := range history {
		want := policy.Select(history[:i], i, "Should we expand into Europe?")
		assert.Equal(t, want, m.Persona, "turn %d", i)
		if i > 0 {
			assert.NotEqual(t, history[i-1].Persona, m.Persona, "turn %d repeats", i)
		}
	}
	assert.Contains(t, testutil.Personas(history), types.PersonaModerator)

	// 每条消息后的状态快照轮次依次为 1..5
	var rounds []int
	for _, s := range rec.States() {
		if len(rounds) == 0 || rounds[len(rounds)-1] != s.ConversationRound {
			rounds = append(rounds, s.ConversationRound)
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, rounds)

	for i, call := range gw.Calls() {
		assert.Equal(t, i, call.Round)
		assert.Len(t, call.History, i)
		assert.Equal(t, "Should we expand into Europe?", call.Problem)
	}
}

func TestEngine_MessageObserverBeforeStateObserver(t *testing.T) {
	var mu sync.Mutex
	var order []string
	e := newEngine(t, mocks.NewScriptedGateway())
	e.SetMessageObserver(func(types.Message) error {
		mu.Lock()
		order = append(order, "message")
		mu.Unlock()
		e.Pause()
		return nil
	})
	e.SetStateObserver(func(s types.ConversationState) error {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case s.CurrentSpeaker != types.PersonaNone:
			order = append(order, "speaker")
		case s.ConversationRound == 1 && !s.PauseRequested:
			order = append(order, "turn")
		case s.PauseRequested:
			order = append(order, "paused")
		default:
			order = append(order, "start")
		}
		return nil
	})

	require.NoError(t, e.Start("X", nil))
	testutil.AssertEventuallyTrue(t, func() bool { return e.State().Paused() }, waitFor)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start", "speaker", "message", "turn", "paused"}, order)
}

func TestEngine_PauseCancelsInFlightGeneration(t *testing.T) {
	gw := mocks.NewBlockingGateway()
	gw.IgnoreCancel = true
	metrics := newFakeRecorder()
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, gw, boardroom.WithMetrics(metrics))
	rec.Attach(e)

	require.NoError(t, e.Start("X", nil))
	req := <-gw.Started()
	assert.Equal(t, req.Persona, e.State().CurrentSpeaker)

	e.Pause()
	s := e.State()
	assert.True(t, s.PauseRequested)
	assert.Equal(t, types.PersonaNone, s.CurrentSpeaker)

	gw.Release("late answer")
	testutil.AssertEventuallyTrue(t, func() bool { return metrics.outcomes(boardroom.OutcomeCancelled) == 1 }, waitFor)

	assert.Zero(t, rec.MessageCount())
	assert.Empty(t, e.History())
	assert.Equal(t, 0, e.State().ConversationRound)
}

func TestEngine_PauseDuringWaitSkipsTurn(t *testing.T) {
	gw := mocks.NewScriptedGateway()
	e := newEngine(t, gw, boardroom.WithSpeakingInterval(50*time.Millisecond))

	require.NoError(t, e.Start("X", nil))
	e.Pause()
	time.Sleep(100 * time.Millisecond)

	assert.Zero(t, gw.CallCount())
	assert.Equal(t, boardroom.SchedulerPaused, e.SchedulerState())
}

func TestEngine_ResumeSchedulesFreshTurn(t *testing.T) {
	gw := mocks.NewBlockingGateway()
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, gw)
	rec.Attach(e)

	require.NoError(t, e.Start("X", nil))
	first := <-gw.Started()
	e.Pause()
	e.Resume()
	assert.False(t, e.State().PauseRequested)

	second := <-gw.Started()
	assert.Equal(t, first.Round, second.Round)
	gw.Release("resumed point")

	testutil.AssertEventuallyTrue(t, func() bool { return rec.MessageCount() == 1 }, waitFor)
	assert.Equal(t, "resumed point", rec.Messages()[0].Content)
	assert.Equal(t, 1, e.State().ConversationRound)
}

func TestEngine_InvalidTransitionsAreNoops(t *testing.T) {
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, mocks.NewScriptedGateway(), boardroom.WithSpeakingInterval(time.Hour))
	rec.Attach(e)

	e.Pause()
	e.Resume()
	e.Stop()
	assert.Empty(t, rec.States())

	require.NoError(t, e.Start("X", nil))
	e.Resume()
	assert.Len(t, rec.States(), 1)

	e.Pause()
	e.Pause()
	assert.Len(t, rec.States(), 2)
}

func TestEngine_StopThenResumeHasNoEffect(t *testing.T) {
	e := newEngine(t, mocks.NewScriptedGateway(), boardroom.WithSpeakingInterval(time.Hour))

	require.NoError(t, e.Start("X", nil))
	e.Pause()
	e.Stop()
	e.Resume()

	s := e.State()
	assert.False(t, s.IsActive)
	assert.False(t, s.PauseRequested)
	assert.Equal(t, types.PersonaNone, s.CurrentSpeaker)

	select {
	case <-e.Done():
	case <-time.After(waitFor):
		t.Fatal("scheduler loop did not exit after stop")
	}
	assert.Equal(t, boardroom.SchedulerStopped, e.SchedulerState())
}

func TestEngine_StopCancelsInFlightGeneration(t *testing.T) {
	gw := mocks.NewBlockingGateway()
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, gw)
	rec.Attach(e)

	require.NoError(t, e.Start("X", nil))
	<-gw.Started()
	e.Stop()

	select {
	case <-e.Done():
	case <-time.After(waitFor):
		t.Fatal("scheduler loop did not exit after stop")
	}
	assert.Zero(t, rec.MessageCount())
	assert.False(t, e.State().IsActive)
}

func TestEngine_RestartAfterStop(t *testing.T) {
	gw := mocks.NewScriptedGateway()
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, gw)
	pauseAfter(e, rec, 2)

	require.NoError(t, e.Start("first", nil))
	testutil.AssertEventuallyTrue(t, func() bool { return e.State().Paused() }, waitFor)
	e.Stop()
	require.NoError(t, e.SetSpeakingInterval(time.Hour))

	require.NoError(t, e.Start("second", testutil.SeedHistory(1)))
	s := e.State()
	assert.True(t, s.IsActive)
	assert.Equal(t, 0, s.ConversationRound)
	assert.Equal(t, "second", s.TopicFocus)
	assert.Len(t, e.History(), 1)
}

func TestEngine_FailedTurnsAreSkipped(t *testing.T) {
	gw := mocks.NewScriptedGateway().WithSteps(
		mocks.Step{Err: errors.New("network down")},
		mocks.Step{Content: "   "},
		mocks.Step{Content: "finally"},
	)
	metrics := newFakeRecorder()
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, gw, boardroom.WithMetrics(metrics))
	pauseAfter(e, rec, 1)

	require.NoError(t, e.Start("X", nil))
	testutil.AssertEventuallyTrue(t, func() bool { return e.State().Paused() }, waitFor)

	assert.Equal(t, 3, gw.CallCount())
	assert.Equal(t, 2, metrics.outcomes(boardroom.OutcomeFailed))
	assert.Equal(t, 1, metrics.outcomes(boardroom.OutcomeSuccess))

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "finally", msgs[0].Content)
	s := e.State()
	assert.Equal(t, 1, s.ConversationRound)
	assert.Equal(t, msgs[0].Timestamp, s.LastSpeakTime)

	// 失败回合会清除当前发言者并通知
	cleared := 0
	for _, st := range rec.States() {
		if st.IsActive && st.CurrentSpeaker == types.PersonaNone && st.ConversationRound == 0 {
			cleared++
		}
	}
	assert.GreaterOrEqual(t, cleared, 3)
}

func TestEngine_GenerationTimeoutSkipsTurn(t *testing.T) {
	metrics := newFakeRecorder()
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, mocks.NewBlockingGateway(),
		boardroom.WithMetrics(metrics),
		boardroom.WithGenerationTimeout(5*time.Millisecond),
	)
	rec.Attach(e)

	require.NoError(t, e.Start("X", nil))
	testutil.AssertEventuallyTrue(t, func() bool { return metrics.outcomes(boardroom.OutcomeFailed) >= 1 }, waitFor)
	e.Pause()

	assert.Zero(t, rec.MessageCount())
	assert.Equal(t, 0, e.State().ConversationRound)
	assert.True(t, e.State().IsActive)
}

func TestEngine_InterruptPausesAndDelivers(t *testing.T) {
	gw := mocks.NewBlockingGateway()
	policy := &countingPolicy{inner: speaker.New(speaker.DefaultConfig())}
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, gw, boardroom.WithPolicy(policy))
	rec.Attach(e)

	require.NoError(t, e.Start("X", nil))
	<-gw.Started()
	selects := policy.count()

	userMsg := types.NewUserMessage("u-1", "What about regulation?")
	require.NoError(t, e.Interrupt(userMsg))

	s := e.State()
	assert.True(t, s.PauseRequested)
	assert.True(t, s.IsActive)
	testutil.AssertEventuallyTrue(t, func() bool { return rec.MessageCount() == 1 }, waitFor)

	got := rec.Messages()[0]
	assert.Equal(t, "u-1", got.ID)
	assert.Equal(t, types.PersonaUser, got.Persona)
	assert.Equal(t, selects, policy.count())
	assert.Equal(t, []string{"u-1"}, testutil.MessageIDs(e.History()))
	assert.Equal(t, 0, s.ConversationRound)

	// 重复的中断消息不会再次送达
	require.NoError(t, e.Interrupt(userMsg))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, rec.MessageCount())
}

func TestEngine_InterruptWhilePausedOrInactive(t *testing.T) {
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, mocks.NewScriptedGateway(), boardroom.WithSpeakingInterval(time.Hour))
	rec.Attach(e)

	require.NoError(t, e.Interrupt(types.Message{Persona: types.PersonaUser, Content: "before start"}))
	assert.False(t, e.State().IsActive)
	assert.Equal(t, 1, rec.MessageCount())
	assert.NotEmpty(t, rec.Messages()[0].ID)

	require.NoError(t, e.Start("X", nil))
	e.Pause()
	require.NoError(t, e.Interrupt(types.NewUserMessage("u-2", "while paused")))
	assert.True(t, e.State().PauseRequested)
	assert.Equal(t, 2, rec.MessageCount())
}

func TestEngine_InterruptRejectsNonUserMessage(t *testing.T) {
	e := newEngine(t, mocks.NewScriptedGateway(), boardroom.WithSpeakingInterval(time.Hour))
	require.NoError(t, e.Start("X", nil))

	err := e.Interrupt(testutil.NewMessage("m", types.PersonaModerator, "sneaky"))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	assert.False(t, e.State().PauseRequested)
	assert.Empty(t, e.History())
}

func TestEngine_AddMessageDeduplicatesSilently(t *testing.T) {
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, mocks.NewScriptedGateway())
	rec.Attach(e)

	m := testutil.NewMessage("ext-1", types.PersonaAnalyticalThinker, "manual click")
	e.AddMessage(m)
	e.AddMessage(m)
	e.AddMessage(types.Message{Persona: types.PersonaUser, Content: "no id"})

	history := e.History()
	require.Len(t, history, 2)
	assert.Equal(t, "ext-1", history[0].ID)
	assert.NotEmpty(t, history[1].ID)
	assert.False(t, history[1].Timestamp.IsZero())
	assert.Zero(t, rec.MessageCount())
	assert.Empty(t, rec.States())
	assert.Equal(t, 0, e.State().ConversationRound)
}

func TestEngine_SetSpeakingInterval(t *testing.T) {
	e := newEngine(t, mocks.NewScriptedGateway())

	for _, d := range []time.Duration{0, -time.Second} {
		err := e.SetSpeakingInterval(d)
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
	}
	assert.Equal(t, time.Millisecond, e.SpeakingInterval())

	require.NoError(t, e.SetSpeakingInterval(2500*time.Millisecond))
	assert.Equal(t, 2500*time.Millisecond, e.SpeakingInterval())
}

func TestEngine_IntervalChangeAppliesToNextWait(t *testing.T) {
	gw := mocks.NewScriptedGateway()
	e := newEngine(t, gw, boardroom.WithSpeakingInterval(300*time.Millisecond))
	require.NoError(t, e.Start("Open a second warehouse?", nil))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.SetSpeakingInterval(time.Millisecond))

	// 当前等待仍按 300ms 计
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, gw.CallCount())

	assert.Eventually(t, func() bool { return gw.CallCount() >= 1 }, 2*time.Second, 5*time.Millisecond)
	// 之后的等待使用新间隔
	assert.Eventually(t, func() bool { return gw.CallCount() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestEngine_DefaultInterval(t *testing.T) {
	e := boardroom.NewEngine(nil)
	assert.Equal(t, boardroom.DefaultSpeakingInterval, e.SpeakingInterval())
	assert.Equal(t, boardroom.SchedulerIdle, e.SchedulerState())

	select {
	case <-e.Done():
	default:
		t.Fatal("Done should be closed before any session starts")
	}
}

func TestEngine_ObserverFailuresAreIsolated(t *testing.T) {
	metrics := newFakeRecorder()
	var mu sync.Mutex
	delivered := 0
	e := newEngine(t, mocks.NewScriptedGateway(), boardroom.WithMetrics(metrics))
	e.SetMessageObserver(func(types.Message) error {
		mu.Lock()
		delivered++
		n := delivered
		mu.Unlock()
		switch n {
		case 1:
			panic("renderer exploded")
		case 2:
			return errors.New("persist failed")
		default:
			e.Pause()
			return nil
		}
	})

	require.NoError(t, e.Start("X", nil))
	testutil.AssertEventuallyTrue(t, func() bool { return e.State().Paused() }, waitFor)

	assert.Equal(t, 3, e.State().ConversationRound)
	assert.Equal(t, 2, metrics.failures("message"))
}

func TestEngine_ObserverReplaceSemantics(t *testing.T) {
	first := mocks.NewObserverRecorder()
	second := mocks.NewObserverRecorder()
	e := newEngine(t, mocks.NewScriptedGateway(), boardroom.WithSpeakingInterval(time.Hour))

	first.Attach(e)
	second.Attach(e)
	require.NoError(t, e.Start("X", nil))
	require.NoError(t, e.Interrupt(types.NewUserMessage("u", "hi")))

	assert.Empty(t, first.States())
	assert.Zero(t, first.MessageCount())
	assert.NotEmpty(t, second.States())
	assert.Equal(t, 1, second.MessageCount())
}

func TestEngine_InjectedClockAndIDs(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, mocks.NewScriptedGateway(),
		boardroom.WithClock(func() time.Time { return fixed }),
		boardroom.WithIDGenerator(func() string { n++; return "id-" + string(rune('0'+n)) }),
	)
	pauseAfter(e, rec, 1)

	require.NoError(t, e.Start("X", nil))
	testutil.AssertEventuallyTrue(t, func() bool { return e.State().Paused() }, waitFor)

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "id-1", msgs[0].ID)
	assert.Equal(t, fixed, msgs[0].Timestamp)
	assert.Equal(t, fixed, e.State().LastSpeakTime)
}

func TestEngine_ModeratorFactCheckFlagPropagates(t *testing.T) {
	rec := mocks.NewObserverRecorder()
	e := newEngine(t, mocks.NewScriptedGateway())
	pauseAfter(e, rec, 4)

	require.NoError(t, e.Start("X", nil))
	testutil.AssertEventuallyTrue(t, func() bool { return e.State().Paused() }, waitFor)

	for _, m := range rec.Messages() {
		assert.Equal(t, m.Persona == types.PersonaModerator, m.FactChecked, m.Persona)
	}
}
