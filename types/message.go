// Package types provides core types used across perspectra.
// This package has ZERO dependencies on other perspectra packages to avoid circular imports.
package types

import "time"

// Message is one entry of a boardroom conversation.
type Message struct {
	ID          string      `json:"id"`
	Content     string      `json:"content"`
	Persona     PersonaType `json:"persona"`
	Timestamp   time.Time   `json:"timestamp"`
	FactChecked bool        `json:"fact_checked"`
}

// NewUserMessage creates a human-authored message stamped with now.
func NewUserMessage(id, content string) Message {
	return Message{
		ID:        id,
		Content:   content,
		Persona:   PersonaUser,
		Timestamp: time.Now(),
	}
}

// IsUser reports whether the message was written by the human participant.
func (m Message) IsUser() bool {
	return m.Persona == PersonaUser
}

// CloneMessages returns a copy of msgs that shares no backing array.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Role represents the role of a chat-completion participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single prompt entry sent to a language model.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
