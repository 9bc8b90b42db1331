package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/perspectra/types"
)

func TestTiktokenCounter_Empty(t *testing.T) {
	c := NewTiktokenCounter("", zaptest.NewLogger(t))
	assert.Equal(t, 0, c.CountTokens(""))
	assert.Equal(t, "cl100k_base", c.encoding)
}

func TestTiktokenCounter_UnknownEncodingFallsBack(t *testing.T) {
	c := NewTiktokenCounter("no-such-encoding", zaptest.NewLogger(t))
	text := "Revenue grew 40% according to the latest report."

	assert.Equal(t, types.NewEstimateTokenizer().CountTokens(text), c.CountTokens(text))
	// 第二次调用不再尝试加载
	assert.Equal(t, c.CountTokens(text), c.CountTokens(text))
	assert.Nil(t, c.enc)
}

var _ types.TokenCounter = (*TiktokenCounter)(nil)
