package boardroom

import (
	"context"
	"sync"
	"time"
)

// SchedulerState is the lifecycle of one scheduling loop.
type SchedulerState int

const (
	SchedulerIdle SchedulerState = iota
	SchedulerRunning
	SchedulerPaused
	SchedulerStopped
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerIdle:
		return "idle"
	case SchedulerRunning:
		return "running"
	case SchedulerPaused:
		return "paused"
	case SchedulerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// pacer supplies the timing inputs of the wait step.
type pacer interface {
	// pacingAnchor is the instant the next wait is measured from.
	pacingAnchor() time.Time
	currentInterval() time.Duration
	now() time.Time
}

// scheduler drives timed turns on a single goroutine. Every wait and turn
// runs under a step context that pause and stop cancel.
type scheduler struct {
	mu     sync.Mutex
	state  SchedulerState
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	pace pacer
	turn func(ctx context.Context)
}

func newScheduler(pace pacer, turn func(ctx context.Context)) *scheduler {
	return &scheduler{
		state: SchedulerIdle,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		pace:  pace,
		turn:  turn,
	}
}

// State returns the current scheduler state.
func (s *scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// start launches the loop. Only valid from Idle.
func (s *scheduler) start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SchedulerIdle {
		return false
	}
	s.state = SchedulerRunning
	go s.run()
	return true
}

func (s *scheduler) pause() bool {
	return s.transition(SchedulerRunning, SchedulerPaused)
}

func (s *scheduler) resume() bool {
	return s.transition(SchedulerPaused, SchedulerRunning)
}

// stop is terminal. An Idle scheduler closes done immediately since no loop runs.
func (s *scheduler) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case SchedulerStopped:
		return false
	case SchedulerIdle:
		s.state = SchedulerStopped
		close(s.done)
		return true
	}
	s.state = SchedulerStopped
	s.cancelStepLocked()
	s.signalLocked()
	return true
}

func (s *scheduler) transition(from, to SchedulerState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	s.cancelStepLocked()
	s.signalLocked()
	return true
}

func (s *scheduler) cancelStepLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *scheduler) signalLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *scheduler) run() {
	defer close(s.done)
	for {
		ctx, ok := s.nextStep()
		if !ok {
			return
		}
		if s.wait(ctx) {
			s.turn(ctx)
		}
		s.endStep(ctx)
	}
}

// nextStep blocks while paused and returns a fresh step context once running.
func (s *scheduler) nextStep() (context.Context, bool) {
	for {
		s.mu.Lock()
		switch s.state {
		case SchedulerStopped:
			s.mu.Unlock()
			return nil, false
		case SchedulerRunning:
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			s.mu.Unlock()
			return ctx, true
		}
		s.mu.Unlock()
		<-s.wake
	}
}

func (s *scheduler) endStep(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// 仅释放本步骤的 context；暂停/停止时已被置空
	if s.cancel != nil && ctx.Err() == nil {
		s.cancel()
		s.cancel = nil
	}
}

// wait sleeps until anchor+interval. The interval is captured once per step;
// a message that moves the anchor during the wait extends it.
func (s *scheduler) wait(ctx context.Context) bool {
	interval := s.pace.currentInterval()
	anchor := s.pace.pacingAnchor()
	for {
		if remaining := anchor.Add(interval).Sub(s.pace.now()); remaining > 0 {
			if !sleepCtx(ctx, remaining) {
				return false
			}
		} else if ctx.Err() != nil {
			return false
		}
		next := s.pace.pacingAnchor()
		if !next.After(anchor) {
			return true
		}
		anchor = next
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
