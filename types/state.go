package types

import "time"

// ConversationState is a snapshot of the engine's mutable turn state.
type ConversationState struct {
	CurrentSpeaker    PersonaType `json:"current_speaker"`
	ConversationRound int         `json:"conversation_round"`
	TopicFocus        string      `json:"topic_focus"`
	IsActive          bool        `json:"is_active"`
	PauseRequested    bool        `json:"pause_requested"`
	LastSpeakTime     time.Time   `json:"last_speak_time"`
}

// Paused reports whether an active conversation is currently paused.
func (s ConversationState) Paused() bool {
	return s.IsActive && s.PauseRequested
}

// Running reports whether autonomous turns are being scheduled.
func (s ConversationState) Running() bool {
	return s.IsActive && !s.PauseRequested
}
