package types

// TokenCounter is the minimal token counting contract used for prompt budgeting.
type TokenCounter interface {
	CountTokens(text string) int
}

// EstimateTokenizer provides a simple character-based token estimation.
type EstimateTokenizer struct {
	msgOverhead int
}

// NewEstimateTokenizer creates a new EstimateTokenizer.
func NewEstimateTokenizer() *EstimateTokenizer {
	return &EstimateTokenizer{msgOverhead: 4}
}

// CountTokens counts tokens in text.
func (t *EstimateTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	var chineseCount, otherCount int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			chineseCount++
		} else {
			otherCount++
		}
	}
	tokens := float64(chineseCount)/1.5 + float64(otherCount)/4.0
	if tokens < 1 {
		return 1
	}
	return int(tokens)
}

// CountChatTokens counts tokens of a prompt message including role overhead.
func (t *EstimateTokenizer) CountChatTokens(msg ChatMessage) int {
	return t.msgOverhead + t.CountTokens(msg.Content)
}
