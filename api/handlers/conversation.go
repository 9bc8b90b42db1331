package handlers

import (
	"net/http"
	"strconv"

	"github.com/BaSui01/perspectra/agent/persistence"
	"github.com/BaSui01/perspectra/agent/session"
	"github.com/BaSui01/perspectra/api"
	"github.com/BaSui01/perspectra/internal/ctxkeys"
	"github.com/BaSui01/perspectra/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🗣️ 会话接口 Handler
// =============================================================================

// ConversationHandler exposes boardroom sessions over HTTP.
type ConversationHandler struct {
	manager *session.Manager
	logger  *zap.Logger
	stream  streamConfig
}

// ConversationOption configures a ConversationHandler.
type ConversationOption func(*ConversationHandler)

// WithOriginPatterns sets the websocket origins accepted besides same-host.
func WithOriginPatterns(patterns ...string) ConversationOption {
	return func(h *ConversationHandler) {
		h.stream.originPatterns = append([]string(nil), patterns...)
	}
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(manager *session.Manager, logger *zap.Logger, opts ...ConversationOption) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ConversationHandler{
		manager: manager,
		logger:  logger.With(zap.String("component", "conversation_handler")),
		stream:  defaultStreamConfig(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts every conversation route on mux.
func (h *ConversationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/conversations", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/conversations", h.HandleList)
	mux.HandleFunc("GET /api/v1/conversations/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", h.HandleDelete)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", h.HandleMessages)
	mux.HandleFunc("POST /api/v1/conversations/{id}/messages", h.HandlePostMessage)
	mux.HandleFunc("POST /api/v1/conversations/{id}/start", h.HandleStart)
	mux.HandleFunc("POST /api/v1/conversations/{id}/pause", h.HandlePause)
	mux.HandleFunc("POST /api/v1/conversations/{id}/resume", h.HandleResume)
	mux.HandleFunc("POST /api/v1/conversations/{id}/stop", h.HandleStop)
	mux.HandleFunc("POST /api/v1/conversations/{id}/respond", h.HandleRespond)
	mux.HandleFunc("PUT /api/v1/conversations/{id}/interval", h.HandleInterval)
	mux.HandleFunc("GET /api/v1/conversations/{id}/state", h.HandleState)
	mux.HandleFunc("GET /api/v1/conversations/{id}/events", h.HandleEvents)
	mux.HandleFunc("GET /api/v1/personas", HandlePersonas)
}

// HandleCreate 创建会话
// @Summary 创建会话
// @Tags 会话
// @Accept json
// @Produce json
// @Param request body api.CreateConversationRequest true "创建请求"
// @Success 201 {object} api.Conversation
// @Failure 400 {object} Response "无效请求"
// @Security ApiKeyAuth
// @Router /api/v1/conversations [post]
func (h *ConversationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.CreateConversationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	userID, _ := ctxkeys.UserID(r.Context())
	s, err := h.manager.Create(r.Context(), session.CreateRequest{
		UserID:             userID,
		Title:              req.Title,
		Problem:            req.Problem,
		SpeakingIntervalMS: req.SpeakingIntervalMS,
		AutoStart:          req.AutoStart,
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusCreated, conversationView(s))
}

// HandleList 列出当前用户的会话，最新的在前
// @Summary 会话列表
// @Tags 会话
// @Produce json
// @Param limit query int false "每页数量"
// @Param offset query int false "偏移量"
// @Success 200 {object} api.ConversationList
// @Security ApiKeyAuth
// @Router /api/v1/conversations [get]
func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	userID, _ := ctxkeys.UserID(r.Context())
	list, err := h.manager.List(r.Context(), userID, opts)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	out := api.ConversationList{
		Conversations: make([]api.Conversation, 0, len(list)),
		Limit:         opts.Limit,
		Offset:        opts.Offset,
	}
	for _, c := range list {
		out.Conversations = append(out.Conversations, toAPIConversation(*c, nil))
	}
	WriteSuccess(w, r, out)
}

// HandleGet 获取会话详情
func (h *ConversationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, r, conversationView(s))
}

// HandleDelete 删除会话及其消息
func (h *ConversationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.manager.Delete(r.Context(), s.ID()); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.logger.Info("conversation deleted", zap.String("conversation_id", s.ID()))
	WriteSuccess(w, r, map[string]any{"id": s.ID(), "deleted": true})
}

// HandleMessages 返回按时间排序的消息记录
func (h *ConversationHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	history := s.History()
	if history == nil {
		history = []types.Message{}
	}
	WriteSuccess(w, r, api.MessageList{ConversationID: s.ID(), Messages: history})
}

// HandlePostMessage 用户发言。会话自动进行时会打断并暂停讨论
// @Summary 用户发言
// @Tags 会话
// @Accept json
// @Produce json
// @Param request body api.PostMessageRequest true "消息"
// @Success 201 {object} types.Message
// @Security ApiKeyAuth
// @Router /api/v1/conversations/{id}/messages [post]
func (h *ConversationHandler) HandlePostMessage(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req api.PostMessageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	msg, err := s.PostUserMessage(req.Content)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusCreated, msg)
}

// HandleStart 开始自动讨论
func (h *ConversationHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*session.Session).Start)
}

// HandlePause 暂停讨论
func (h *ConversationHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*session.Session).Pause)
}

// HandleResume 恢复讨论
func (h *ConversationHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*session.Session).Resume)
}

// HandleStop 结束讨论，历史记录保留
func (h *ConversationHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*session.Session).Stop)
}

func (h *ConversationHandler) transition(w http.ResponseWriter, r *http.Request, op func(*session.Session) error) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := op(s); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, stateView(s))
}

// HandleRespond 手动请求指定角色发言一次（仅在未自动进行时）
// @Summary 角色发言
// @Tags 会话
// @Accept json
// @Produce json
// @Param request body api.RespondRequest true "角色"
// @Success 201 {object} types.Message
// @Failure 409 {object} Response "会话正在进行"
// @Failure 502 {object} Response "生成失败"
// @Security ApiKeyAuth
// @Router /api/v1/conversations/{id}/respond [post]
func (h *ConversationHandler) HandleRespond(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req api.RespondRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	p, err := types.ParsePersona(req.Persona)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	msg, err := s.Respond(r.Context(), p)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusCreated, msg)
}

// HandleInterval 调整发言间隔，返回修正后的实际值
func (h *ConversationHandler) HandleInterval(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req api.IntervalRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	applied, err := s.SetSpeakingInterval(r.Context(), req.SpeakingIntervalMS)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	bounds := h.manager.Bounds()
	WriteSuccess(w, r, api.IntervalResponse{
		SpeakingIntervalMS: applied.Milliseconds(),
		MinMS:              bounds.MinInterval.Milliseconds(),
		MaxMS:              bounds.MaxInterval.Milliseconds(),
		StepMS:             bounds.IntervalStep.Milliseconds(),
	})
}

// HandleState 返回会话当前状态快照
func (h *ConversationHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, r, stateView(s))
}

// lookup 加载会话并校验归属；不属于调用者的会话按不存在处理
func (h *ConversationHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, r, types.ErrInvalidRequest, "conversation id is required", h.logger)
		return nil, false
	}
	s, err := h.manager.Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return nil, false
	}
	caller, _ := ctxkeys.UserID(r.Context())
	if s.Conversation().UserID != caller {
		WriteErrorMessage(w, r, types.ErrNotFound, "conversation not found", h.logger)
		return nil, false
	}
	return s, true
}

func listOptions(r *http.Request) (persistence.ListOptions, error) {
	var opts persistence.ListOptions
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return opts, types.NewError(types.ErrInvalidRequest, "invalid "+name+" parameter")
		}
		*dst = v
	}
	if opts.Limit == 0 {
		opts.Limit = 50
	}
	if opts.Limit > 200 {
		opts.Limit = 200
	}
	return opts, nil
}

func conversationView(s *session.Session) api.Conversation {
	state := s.State()
	return toAPIConversation(s.Conversation(), &state)
}

func toAPIConversation(c persistence.Conversation, state *types.ConversationState) api.Conversation {
	return api.Conversation{
		ID:                 c.ID,
		UserID:             c.UserID,
		Title:              c.Title,
		Problem:            c.Problem,
		TopicFocus:         c.TopicFocus,
		SpeakingIntervalMS: c.SpeakingInterval.Milliseconds(),
		State:              state,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func stateView(s *session.Session) api.StateResponse {
	return api.StateResponse{
		ConversationID:     s.ID(),
		State:              s.State(),
		SpeakingIntervalMS: s.SpeakingInterval().Milliseconds(),
		MessageCount:       len(s.History()),
	}
}
