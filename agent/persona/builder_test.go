package persona

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/perspectra/agent/boardroom"
	"github.com/BaSui01/perspectra/types"
)

func TestSystemPrompt_AllAutonomousPersonas(t *testing.T) {
	for _, p := range types.AutonomousPersonas() {
		assert.NotEmpty(t, SystemPrompt(p), p)
	}
	assert.Empty(t, SystemPrompt(types.PersonaUser))
	assert.True(t, UsesSearch(types.PersonaModerator))
	assert.False(t, UsesSearch(types.PersonaFastThinker))
}

func TestBuilder_RolesAndOrdering(t *testing.T) {
	b := NewBuilder(nil, 0)
	req := boardroom.GenerateRequest{
		Persona:    types.PersonaAnalyticalThinker,
		Problem:    "Launch in Q3?",
		TopicFocus: "supply chain",
		History: []types.Message{
			{ID: "1", Persona: types.PersonaFastThinker, Content: "Love it"},
			{ID: "2", Persona: types.PersonaAnalyticalThinker, Content: "Need data"},
			{ID: "3", Persona: types.PersonaUser, Content: "Budget is tight"},
		},
	}

	msgs, err := b.Build(req)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, types.RoleUser, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "Launch in Q3?")
	assert.Contains(t, msgs[1].Content, "Current focus: supply chain")
	assert.Contains(t, msgs[1].Content, "System-1 Thinker: Love it")

	assert.Equal(t, types.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "Need data", msgs[2].Content)

	assert.Equal(t, types.RoleUser, msgs[3].Role)
	assert.Contains(t, msgs[3].Content, "You: Budget is tight")
	assert.Contains(t, msgs[3].Content, "As the System-2 Thinker")
}

func TestBuilder_ModeratorInstructionAsksForFactCheck(t *testing.T) {
	msgs, err := NewBuilder(nil, 0).Build(boardroom.GenerateRequest{
		Persona: types.PersonaModerator,
		Problem: "X",
	})
	require.NoError(t, err)
	assert.Contains(t, msgs[len(msgs)-1].Content, "Fact-check")
}

func TestBuilder_TrimsOldestHistory(t *testing.T) {
	history := make([]types.Message, 0, 20)
	for i := 0; i < 20; i++ {
		history = append(history, types.Message{
			ID:      string(rune('a' + i)),
			Persona: types.PersonaFastThinker,
			Content: strings.Repeat("word ", 20),
		})
	}
	history[19].Content = "newest point"

	b := NewBuilder(types.NewEstimateTokenizer(), 60)
	msgs, err := b.Build(boardroom.GenerateRequest{
		Persona: types.PersonaDevilsAdvocate,
		Problem: "X",
		History: history,
	})
	require.NoError(t, err)

	joined := ""
	for _, m := range msgs {
		joined += m.Content
	}
	assert.Contains(t, joined, "newest point")
	assert.Less(t, strings.Count(joined, "word"), 20*20)
}

func TestBuilder_RejectsUnknownPersona(t *testing.T) {
	_, err := NewBuilder(nil, 0).Build(boardroom.GenerateRequest{Persona: types.PersonaUser})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}
