package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/perspectra/types"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestHub_PublishRoutesByConversation(t *testing.T) {
	h := NewHub(4, zaptest.NewLogger(t))
	a := h.Subscribe("a")
	b := h.Subscribe("b")

	msg := types.NewUserMessage("m1", "hello")
	h.Publish(Event{Type: EventMessage, ConversationID: "a", Message: &msg})

	ev := recv(t, a)
	assert.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, "m1", ev.Message.ID)
	assert.False(t, ev.Timestamp.IsZero())

	select {
	case <-b.Events():
		t.Fatal("b should not receive a's events")
	default:
	}
	assert.Equal(t, 1, h.Subscribers("a"))
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	h := NewHub(2, nil)
	sub := h.Subscribe("c")
	for i := 0; i < 5; i++ {
		h.Publish(Event{Type: EventState, ConversationID: "c"})
	}
	assert.Equal(t, uint64(3), sub.Dropped())
	assert.Len(t, sub.Events(), 2)
}

func TestHub_CancelIsIdempotent(t *testing.T) {
	h := NewHub(1, nil)
	sub := h.Subscribe("c")
	sub.Cancel()
	sub.Cancel()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers("c"))
	h.Publish(Event{Type: EventState, ConversationID: "c"})
}

func TestHub_CloseConversation(t *testing.T) {
	h := NewHub(4, nil)
	sub := h.Subscribe("c")
	other := h.Subscribe("d")

	h.CloseConversation("c")
	ev := recv(t, sub)
	assert.Equal(t, EventClosed, ev.Type)
	_, ok := <-sub.Events()
	assert.False(t, ok)

	assert.Equal(t, 1, h.Subscribers("d"))
	h.Close()
	_, ok = <-other.Events()
	assert.False(t, ok)

	late := h.Subscribe("d")
	_, ok = <-late.Events()
	assert.False(t, ok)
	late.Cancel()
}

func TestHub_CancelRacesCloseConversation(t *testing.T) {
	h := NewHub(1, nil)
	for round := 0; round < 200; round++ {
		subs := make([]*Subscription, 16)
		for i := range subs {
			subs[i] = h.Subscribe("c")
		}

		var wg sync.WaitGroup
		for _, sub := range subs {
			wg.Add(1)
			go func(s *Subscription) {
				defer wg.Done()
				s.Cancel()
			}(sub)
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Publish(Event{Type: EventState, ConversationID: "c"})
		}()
		go func() {
			defer wg.Done()
			h.CloseConversation("c")
		}()
		wg.Wait()

		for _, sub := range subs {
			for range sub.Events() {
			}
		}
		require.Equal(t, 0, h.Subscribers("c"))
	}
}
