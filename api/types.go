package api

import (
	"time"

	"github.com/BaSui01/perspectra/types"
)

// =============================================================================
// 会话类型
// =============================================================================

// CreateConversationRequest 创建会话请求
// @Description 创建董事会会话
type CreateConversationRequest struct {
	// 会话标题，为空时取问题首行
	Title string `json:"title,omitempty" example:"EU expansion"`
	// 讨论的问题
	Problem string `json:"problem" example:"Should we expand into the EU market?" binding:"required"`
	// 发言间隔（毫秒），0 表示使用默认值
	SpeakingIntervalMS int64 `json:"speaking_interval_ms,omitempty" example:"3000"`
	// 创建后立即开始自动讨论
	AutoStart bool `json:"auto_start,omitempty"`
}

// Conversation 会话信息
// @Description 会话元数据与当前状态
type Conversation struct {
	ID                 string                   `json:"id"`
	UserID             string                   `json:"user_id,omitempty"`
	Title              string                   `json:"title"`
	Problem            string                   `json:"problem"`
	TopicFocus         string                   `json:"topic_focus"`
	SpeakingIntervalMS int64                    `json:"speaking_interval_ms"`
	State              *types.ConversationState `json:"state,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

// ConversationList 会话列表
type ConversationList struct {
	Conversations []Conversation `json:"conversations"`
	Limit         int            `json:"limit"`
	Offset        int            `json:"offset"`
}

// MessageList 消息列表，按时间顺序
type MessageList struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []types.Message `json:"messages"`
}

// PostMessageRequest 用户发言；会话进行中时会打断当前发言者
type PostMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// RespondRequest 手动请求某个角色发言
type RespondRequest struct {
	Persona string `json:"persona" example:"system2" binding:"required"`
}

// IntervalRequest 调整发言间隔
type IntervalRequest struct {
	SpeakingIntervalMS int64 `json:"speaking_interval_ms" example:"5000" binding:"required"`
}

// IntervalResponse 返回实际生效的间隔（已按范围与步长修正）
type IntervalResponse struct {
	SpeakingIntervalMS int64 `json:"speaking_interval_ms"`
	MinMS              int64 `json:"min_ms"`
	MaxMS              int64 `json:"max_ms"`
	StepMS             int64 `json:"step_ms"`
}

// StateResponse 会话状态
type StateResponse struct {
	ConversationID     string                  `json:"conversation_id"`
	State              types.ConversationState `json:"state"`
	SpeakingIntervalMS int64                   `json:"speaking_interval_ms"`
	MessageCount       int                     `json:"message_count"`
}

// Persona 角色信息
type Persona struct {
	types.PersonaDetails
	Autonomous bool `json:"autonomous"`
	UsesSearch bool `json:"uses_search"`
}

// =============================================================================
// 流事件
// =============================================================================

// StreamEvent 是 websocket 上发送的一帧
type StreamEvent struct {
	Type           string                   `json:"type"`
	ConversationID string                   `json:"conversation_id"`
	Message        *types.Message           `json:"message,omitempty"`
	State          *types.ConversationState `json:"state,omitempty"`
	Dropped        uint64                   `json:"dropped,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
}
