package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/perspectra/agent/persistence"
	"github.com/BaSui01/perspectra/agent/session"
	"github.com/BaSui01/perspectra/api"
	"github.com/BaSui01/perspectra/config"
	"github.com/BaSui01/perspectra/internal/ctxkeys"
	"github.com/BaSui01/perspectra/testutil"
	"github.com/BaSui01/perspectra/testutil/mocks"
	"github.com/BaSui01/perspectra/types"
)

const testUserHeader = "X-Test-User"

type apiFixture struct {
	t       *testing.T
	srv     *httptest.Server
	store   *persistence.MemoryStore
	gateway *mocks.ScriptedGateway
	manager *session.Manager
}

func testBounds() config.BoardroomConfig {
	b := config.DefaultBoardroomConfig()
	b.SpeakingInterval = 5 * time.Millisecond
	b.MinInterval = time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.IntervalStep = 500 * time.Millisecond
	b.GenerationTimeout = time.Second
	return b
}

func newAPIFixture(t *testing.T, gw *mocks.ScriptedGateway) *apiFixture {
	t.Helper()
	if gw == nil {
		gw = mocks.NewScriptedGateway()
	}
	store := persistence.NewMemoryStore()
	logger := zaptest.NewLogger(t)
	manager := session.NewManager(store, gw, testBounds(), session.WithLogger(logger))

	mux := http.NewServeMux()
	NewConversationHandler(manager, logger).Register(mux)

	// 测试中用请求头模拟认证中间件
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := r.Header.Get(testUserHeader); u != "" {
			r = r.WithContext(ctxkeys.WithUserID(r.Context(), u))
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})
	return &apiFixture{t: t, srv: srv, store: store, gateway: gw, manager: manager}
}

func (f *apiFixture) do(method, path, user string, body any) (int, Response) {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(f.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	var out Response
	require.NoError(f.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// decodeData 把 Response.Data 重新解码为具体类型
func decodeData[T any](t *testing.T, resp Response) T {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (f *apiFixture) create(user, problem string) api.Conversation {
	f.t.Helper()
	status, resp := f.do(http.MethodPost, "/api/v1/conversations", user, api.CreateConversationRequest{Problem: problem})
	require.Equal(f.t, http.StatusCreated, status, "%+v", resp.Error)
	return decodeData[api.Conversation](f.t, resp)
}

func errCode(resp Response) string {
	if resp.Error == nil {
		return ""
	}
	return resp.Error.Code
}

func TestConversationHandler_Create(t *testing.T) {
	f := newAPIFixture(t, nil)

	status, resp := f.do(http.MethodPost, "/api/v1/conversations", "u1", api.CreateConversationRequest{
		Title:              "Berlin office",
		Problem:            "Should we open a Berlin office?",
		SpeakingIntervalMS: 1200,
	})
	require.Equal(t, http.StatusCreated, status)
	conv := decodeData[api.Conversation](t, resp)

	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "u1", conv.UserID)
	assert.Equal(t, "Berlin office", conv.Title)
	assert.Equal(t, "Should we open a Berlin office?", conv.TopicFocus)
	assert.Equal(t, int64(1000), conv.SpeakingIntervalMS, "snapped to 500ms step")
	require.NotNil(t, conv.State)
	assert.False(t, conv.State.IsActive)

	stored, err := f.store.Get(testutil.TestContext(t), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.UserID)
	assert.Equal(t, "Berlin office", stored.Title)
}

func TestConversationHandler_CreateRejectsBadInput(t *testing.T) {
	f := newAPIFixture(t, nil)

	status, resp := f.do(http.MethodPost, "/api/v1/conversations", "", api.CreateConversationRequest{Problem: "  "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(types.ErrInvalidRequest), errCode(resp))

	status, resp = f.do(http.MethodPost, "/api/v1/conversations", "", map[string]any{"problem": "x", "extra": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(types.ErrInvalidRequest), errCode(resp))

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/v1/conversations", strings.NewReader(`{"problem":"x"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	res, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestConversationHandler_ListIsScopedToCaller(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.create("alice", "first")
	f.create("alice", "second")
	f.create("bob", "other")

	status, resp := f.do(http.MethodGet, "/api/v1/conversations?limit=10", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	list := decodeData[api.ConversationList](t, resp)
	assert.Len(t, list.Conversations, 2)
	assert.Equal(t, 10, list.Limit)
	for _, c := range list.Conversations {
		assert.Equal(t, "alice", c.UserID)
	}

	status, resp = f.do(http.MethodGet, "/api/v1/conversations?limit=abc", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(types.ErrInvalidRequest), errCode(resp))
}

func TestConversationHandler_GetHidesOtherUsers(t *testing.T) {
	f := newAPIFixture(t, nil)
	conv := f.create("alice", "private")

	status, resp := f.do(http.MethodGet, "/api/v1/conversations/"+conv.ID, "alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, conv.ID, decodeData[api.Conversation](t, resp).ID)

	status, resp = f.do(http.MethodGet, "/api/v1/conversations/"+conv.ID, "mallory", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(types.ErrNotFound), errCode(resp))

	status, _ = f.do(http.MethodGet, "/api/v1/conversations/does-not-exist", "alice", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestConversationHandler_Lifecycle(t *testing.T) {
	f := newAPIFixture(t, nil)
	conv := f.create("", "Hire a CTO?")
	base := "/api/v1/conversations/" + conv.ID

	// 未开始时不能暂停
	status, resp := f.do(http.MethodPost, base+"/pause", "", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(types.ErrInvalidTransition), errCode(resp))

	status, resp = f.do(http.MethodPost, base+"/start", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decodeData[api.StateResponse](t, resp).State.IsActive)

	testutil.AssertEventuallyTrue(t, func() bool {
		msgs, _ := f.store.ListMessages(context.Background(), conv.ID)
		return len(msgs) >= 2
	}, 5*time.Second)

	status, resp = f.do(http.MethodPost, base+"/pause", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decodeData[api.StateResponse](t, resp).State.Paused())

	status, _ = f.do(http.MethodPost, base+"/resume", "", nil)
	require.Equal(t, http.StatusOK, status)

	status, resp = f.do(http.MethodPost, base+"/stop", "", nil)
	require.Equal(t, http.StatusOK, status)
	st := decodeData[api.StateResponse](t, resp)
	assert.False(t, st.State.IsActive)
	assert.GreaterOrEqual(t, st.MessageCount, 2)

	status, _ = f.do(http.MethodPost, base+"/stop", "", nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestConversationHandler_PostMessageAndHistory(t *testing.T) {
	f := newAPIFixture(t, nil)
	conv := f.create("", "Price increase?")
	base := "/api/v1/conversations/" + conv.ID

	status, resp := f.do(http.MethodPost, base+"/messages", "", api.PostMessageRequest{Content: "What about churn?"})
	require.Equal(t, http.StatusCreated, status)
	msg := decodeData[types.Message](t, resp)
	assert.Equal(t, types.PersonaUser, msg.Persona)
	assert.Equal(t, "What about churn?", msg.Content)

	status, resp = f.do(http.MethodPost, base+"/messages", "", api.PostMessageRequest{Content: " "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(types.ErrInvalidRequest), errCode(resp))

	status, resp = f.do(http.MethodGet, base+"/messages", "", nil)
	require.Equal(t, http.StatusOK, status)
	list := decodeData[api.MessageList](t, resp)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, msg.ID, list.Messages[0].ID)
}

func TestConversationHandler_Respond(t *testing.T) {
	f := newAPIFixture(t, nil)
	conv := f.create("", "Rewrite in Go?")
	base := "/api/v1/conversations/" + conv.ID

	status, resp := f.do(http.MethodPost, base+"/respond", "", api.RespondRequest{Persona: "moderator"})
	require.Equal(t, http.StatusCreated, status, "%+v", resp.Error)
	msg := decodeData[types.Message](t, resp)
	assert.Equal(t, types.PersonaModerator, msg.Persona)
	assert.Equal(t, "moderator point 1", msg.Content)
	assert.True(t, msg.FactChecked)

	status, resp = f.do(http.MethodPost, base+"/respond", "", api.RespondRequest{Persona: "user"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(types.ErrInvalidRequest), errCode(resp))

	status, _ = f.do(http.MethodPost, base+"/respond", "", api.RespondRequest{Persona: "ceo"})
	assert.Equal(t, http.StatusBadRequest, status)

	msgs, err := f.store.ListMessages(testutil.TestContext(t), conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestConversationHandler_RespondGenerationFailure(t *testing.T) {
	f := newAPIFixture(t, mocks.NewScriptedGateway().WithError(errors.New("provider down")))
	conv := f.create("", "Go public?")

	status, resp := f.do(http.MethodPost, "/api/v1/conversations/"+conv.ID+"/respond", "", api.RespondRequest{Persona: "system1"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, string(types.ErrGenerationFailed), errCode(resp))
}

func TestConversationHandler_IntervalAndState(t *testing.T) {
	f := newAPIFixture(t, nil)
	conv := f.create("", "Four-day week?")
	base := "/api/v1/conversations/" + conv.ID

	status, resp := f.do(http.MethodPut, base+"/interval", "", api.IntervalRequest{SpeakingIntervalMS: 1740})
	require.Equal(t, http.StatusOK, status)
	iv := decodeData[api.IntervalResponse](t, resp)
	assert.Equal(t, int64(1500), iv.SpeakingIntervalMS)
	assert.Equal(t, int64(2000), iv.MaxMS)
	assert.Equal(t, int64(500), iv.StepMS)

	status, resp = f.do(http.MethodPut, base+"/interval", "", api.IntervalRequest{SpeakingIntervalMS: 60000})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(2000), decodeData[api.IntervalResponse](t, resp).SpeakingIntervalMS)

	status, resp = f.do(http.MethodGet, base+"/state", "", nil)
	require.Equal(t, http.StatusOK, status)
	st := decodeData[api.StateResponse](t, resp)
	assert.Equal(t, conv.ID, st.ConversationID)
	assert.Equal(t, int64(2000), st.SpeakingIntervalMS)
	assert.Equal(t, types.PersonaNone, st.State.CurrentSpeaker)
}

func TestConversationHandler_Delete(t *testing.T) {
	f := newAPIFixture(t, nil)
	conv := f.create("alice", "Sunset the v1 API?")
	path := "/api/v1/conversations/" + conv.ID

	status, _ := f.do(http.MethodDelete, path, "bob", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(http.MethodDelete, path, "alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, f.manager.Active())

	_, err := f.store.Get(testutil.TestContext(t), conv.ID)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	status, _ = f.do(http.MethodGet, path, "alice", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestConversationHandler_Personas(t *testing.T) {
	f := newAPIFixture(t, nil)

	status, resp := f.do(http.MethodGet, "/api/v1/personas", "", nil)
	require.Equal(t, http.StatusOK, status)
	list := decodeData[[]api.Persona](t, resp)
	require.Len(t, list, 5)
	assert.Equal(t, types.PersonaFastThinker, list[0].Type)
	assert.Equal(t, types.PersonaUser, list[4].Type)
	assert.False(t, list[4].Autonomous)
	for _, p := range list {
		assert.Equal(t, p.Type == types.PersonaModerator, p.UsesSearch, p.Type)
	}
}

func TestConversationHandler_EventStream(t *testing.T) {
	f := newAPIFixture(t, nil)
	conv := f.create("alice", "Acquire the competitor?")

	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/v1/conversations/" + conv.ID + "/events"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{testUserHeader: []string{"alice"}},
	})
	require.NoError(t, err)
	defer conn.CloseNow()

	var ev api.StreamEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, EventSnapshot, ev.Type)
	require.NotNil(t, ev.State)
	assert.False(t, ev.State.IsActive)

	status, _ := f.do(http.MethodPost, "/api/v1/conversations/"+conv.ID+"/respond", "alice", api.RespondRequest{Persona: "system2"})
	require.Equal(t, http.StatusCreated, status)

	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, string(session.EventMessage), ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, types.PersonaAnalyticalThinker, ev.Message.Persona)

	status, _ = f.do(http.MethodDelete, "/api/v1/conversations/"+conv.ID, "alice", nil)
	require.Equal(t, http.StatusOK, status)

	// 删除后流以 closed 帧结束
	for {
		err := wsjson.Read(ctx, conn, &ev)
		if err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
	}
	assert.Equal(t, string(session.EventClosed), ev.Type)
}

func TestConversationHandler_EventStreamRequiresOwner(t *testing.T) {
	f := newAPIFixture(t, nil)
	conv := f.create("alice", "Layoffs?")

	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/v1/conversations/" + conv.ID + "/events"
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
