package boardroom

import (
	"fmt"
	"runtime/debug"

	"github.com/BaSui01/perspectra/types"
	"go.uber.org/zap"
)

// MessageObserver receives every emitted or injected message exactly once.
type MessageObserver func(msg types.Message) error

// StateObserver receives a snapshot after every state mutation.
type StateObserver func(state types.ConversationState) error

type eventKind int

const (
	eventMessage eventKind = iota
	eventState
)

func (k eventKind) String() string {
	if k == eventMessage {
		return "message"
	}
	return "state"
}

type event struct {
	kind    eventKind
	message types.Message
	state   types.ConversationState
}

// enqueueStateLocked records a snapshot of the current state. Caller holds e.mu.
func (e *Engine) enqueueStateLocked() {
	e.queue = append(e.queue, event{kind: eventState, state: e.state})
}

// enqueueMessageLocked records a message for delivery. Caller holds e.mu.
func (e *Engine) enqueueMessageLocked(msg types.Message) {
	e.queue = append(e.queue, event{kind: eventMessage, message: msg})
}

// drain delivers queued events in order. Only one goroutine drains at a
// time; calls made from inside an observer only enqueue and return.
func (e *Engine) drain() {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	for len(e.queue) > 0 {
		ev := e.queue[0]
		e.queue[0] = event{}
		e.queue = e.queue[1:]
		onMessage, onState := e.onMessage, e.onState
		e.mu.Unlock()

		e.deliver(ev, onMessage, onState)

		e.mu.Lock()
	}
	e.queue = nil
	e.draining = false
	e.mu.Unlock()
}

func (e *Engine) deliver(ev event, onMessage MessageObserver, onState StateObserver) {
	var err error
	switch ev.kind {
	case eventMessage:
		if onMessage == nil {
			return
		}
		err = e.safeCall(ev.kind, func() error { return onMessage(ev.message) })
	case eventState:
		if onState == nil {
			return
		}
		err = e.safeCall(ev.kind, func() error { return onState(ev.state) })
	}
	if err != nil {
		e.metrics.RecordObserverFailure(ev.kind.String())
		e.logger.Warn("observer failed",
			zap.String("observer", ev.kind.String()),
			zap.Error(err),
		)
	}
}

// safeCall turns an observer panic into an error.
func (e *Engine) safeCall(kind eventKind, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("observer panicked",
				zap.String("observer", kind.String()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return fn()
}
