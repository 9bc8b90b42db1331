package boardroom

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/perspectra/types"
)

// DefaultSpeakingInterval matches the default pacing of the boardroom UI.
const DefaultSpeakingInterval = 3 * time.Second

// SpeakerPolicy decides who speaks next. Implementations must be pure.
type SpeakerPolicy interface {
	Select(history []types.Message, round int, topicFocus string) types.PersonaType
}

// TopicSummarizer derives the initial topic focus from a problem statement.
type TopicSummarizer func(problem string) string

// Recorder receives engine telemetry. internal/metrics.Collector satisfies it.
type Recorder interface {
	RecordTurn(persona string, outcome string, duration time.Duration)
	RecordTransition(from, to string)
	RecordObserverFailure(observer string)
}

// Turn outcomes reported to Recorder.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

type nopRecorder struct{}

func (nopRecorder) RecordTurn(string, string, time.Duration) {}
func (nopRecorder) RecordTransition(string, string)          {}
func (nopRecorder) RecordObserverFailure(string)             {}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger.With(zap.String("component", "boardroom_engine"))
		}
	}
}

// WithPolicy replaces the default speaker policy.
func WithPolicy(p SpeakerPolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithClock sets the time source used for timestamps and pacing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.clock = now
		}
	}
}

// WithMetrics sets the telemetry recorder.
func WithMetrics(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.metrics = r
		}
	}
}

// WithTracer sets the tracer used for turn spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithIDGenerator sets how message IDs are minted.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// WithTopicSummarizer sets how the initial topic focus is derived.
func WithTopicSummarizer(fn TopicSummarizer) Option {
	return func(e *Engine) {
		if fn != nil {
			e.summarize = fn
		}
	}
}

// WithGenerationTimeout bounds each gateway call. Zero disables the bound.
func WithGenerationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.genTimeout = d
		}
	}
}

// WithSpeakingInterval sets the initial interval. Non-positive values are ignored.
func WithSpeakingInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

func defaultTopic(problem string) string {
	return strings.TrimSpace(problem)
}

func defaultID() string {
	return uuid.NewString()
}
