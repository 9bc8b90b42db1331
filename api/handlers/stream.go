package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/perspectra/agent/session"
	"github.com/BaSui01/perspectra/api"
)

// EventSnapshot is the type of the first frame sent on a new stream.
const EventSnapshot = "snapshot"

type streamConfig struct {
	originPatterns []string
	writeTimeout   time.Duration
	pingInterval   time.Duration
}

func defaultStreamConfig() streamConfig {
	return streamConfig{
		writeTimeout: 10 * time.Second,
		pingInterval: 30 * time.Second,
	}
}

// HandleEvents upgrades to a websocket and streams the conversation's
// message and state events. The first frame is a snapshot of the current
// state; the stream ends with a "closed" frame when the session is unloaded.
// Client frames are ignored.
// @Summary 会话事件流
// @Tags 会话
// @Success 101 {object} api.StreamEvent
// @Security ApiKeyAuth
// @Router /api/v1/conversations/{id}/events [get]
func (h *ConversationHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	// 升级后的连接不受服务器读写超时约束
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.stream.originPatterns,
	})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	sub := s.Subscribe()
	defer sub.Cancel()

	ctx := conn.CloseRead(r.Context())
	log := h.logger.With(zap.String("conversation_id", s.ID()))
	log.Debug("event stream opened")

	state := s.State()
	if err := h.send(ctx, conn, api.StreamEvent{
		Type:           EventSnapshot,
		ConversationID: s.ID(),
		State:          &state,
		Timestamp:      time.Now(),
	}); err != nil {
		return
	}

	ticker := time.NewTicker(h.stream.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("event stream closed by client")
			return

		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "conversation unloaded")
				return
			}
			frame := api.StreamEvent{
				Type:           string(ev.Type),
				ConversationID: ev.ConversationID,
				Message:        ev.Message,
				State:          ev.State,
				Dropped:        sub.Dropped(),
				Timestamp:      ev.Timestamp,
			}
			if err := h.send(ctx, conn, frame); err != nil {
				log.Debug("event stream write failed", zap.Error(err))
				return
			}
			if ev.Type == session.EventClosed {
				conn.Close(websocket.StatusNormalClosure, "conversation closed")
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, h.stream.writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				log.Debug("event stream ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *ConversationHandler) send(ctx context.Context, conn *websocket.Conn, ev api.StreamEvent) error {
	wctx, cancel := context.WithTimeout(ctx, h.stream.writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}
