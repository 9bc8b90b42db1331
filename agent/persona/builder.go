package persona

import (
	"fmt"
	"strings"

	"github.com/BaSui01/perspectra/agent/boardroom"
	"github.com/BaSui01/perspectra/types"
)

// DefaultHistoryTokens bounds the transcript portion of a prompt.
const DefaultHistoryTokens = 3000

// messageOverhead approximates role and separator tokens per chat message.
const messageOverhead = 4

// Builder turns a generation request into chat-completion messages.
type Builder struct {
	counter       types.TokenCounter
	historyTokens int
}

// NewBuilder creates a Builder. A nil counter uses the character estimator;
// a non-positive budget uses DefaultHistoryTokens.
func NewBuilder(counter types.TokenCounter, historyTokens int) *Builder {
	if counter == nil {
		counter = types.NewEstimateTokenizer()
	}
	if historyTokens <= 0 {
		historyTokens = DefaultHistoryTokens
	}
	return &Builder{counter: counter, historyTokens: historyTokens}
}

// Build renders the prompt. The persona's own earlier messages become
// assistant turns; everyone else speaks as a labelled user turn. When the
// transcript exceeds the budget the oldest messages are dropped.
func (b *Builder) Build(req boardroom.GenerateRequest) ([]types.ChatMessage, error) {
	system := SystemPrompt(req.Persona)
	if system == "" {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("no prompt for persona %q", req.Persona))
	}

	out := []types.ChatMessage{
		{Role: types.RoleSystem, Content: system},
		{Role: types.RoleUser, Content: b.briefing(req)},
	}
	out = append(out, b.transcript(req.Persona, req.History)...)
	out = append(out, types.ChatMessage{Role: types.RoleUser, Content: instruction(req)})
	return mergeConsecutive(out), nil
}

func (b *Builder) briefing(req boardroom.GenerateRequest) string {
	var sb strings.Builder
	sb.WriteString("Problem under discussion: ")
	sb.WriteString(req.Problem)
	if req.TopicFocus != "" && req.TopicFocus != req.Problem {
		sb.WriteString("\nCurrent focus: ")
		sb.WriteString(req.TopicFocus)
	}
	return sb.String()
}

func (b *Builder) transcript(self types.PersonaType, history []types.Message) []types.ChatMessage {
	budget := b.historyTokens
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := b.counter.CountTokens(label(history[i])) + messageOverhead
		if cost > budget {
			break
		}
		budget -= cost
		start = i
	}

	out := make([]types.ChatMessage, 0, len(history)-start)
	for _, m := range history[start:] {
		if m.Persona == self {
			out = append(out, types.ChatMessage{Role: types.RoleAssistant, Content: m.Content})
			continue
		}
		out = append(out, types.ChatMessage{Role: types.RoleUser, Content: label(m)})
	}
	return out
}

func label(m types.Message) string {
	return types.PersonaInfo(m.Persona).Name + ": " + m.Content
}

func instruction(req boardroom.GenerateRequest) string {
	name := types.PersonaInfo(req.Persona).Name
	if UsesSearch(req.Persona) {
		return fmt.Sprintf("As the %s, respond to the discussion so far. Fact-check any claims that were made.", name)
	}
	return fmt.Sprintf("As the %s, respond to the discussion so far.", name)
}

// mergeConsecutive joins adjacent messages with the same role; chat APIs
// reject two user turns in a row.
func mergeConsecutive(msgs []types.ChatMessage) []types.ChatMessage {
	out := make([]types.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role && m.Role != types.RoleSystem {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
