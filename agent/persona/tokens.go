package persona

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/BaSui01/perspectra/types"
)

// TiktokenCounter counts tokens with a tiktoken encoding. The encoding is
// loaded lazily; if it cannot be loaded the character estimator is used.
type TiktokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback *types.EstimateTokenizer
	logger   *zap.Logger
}

// NewTiktokenCounter creates a counter; an empty encoding means cl100k_base.
func NewTiktokenCounter(encoding string, logger *zap.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenCounter{
		encoding: encoding,
		fallback: types.NewEstimateTokenizer(),
		logger:   logger.With(zap.String("component", "token_counter")),
	}
}

func (c *TiktokenCounter) init() {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.logger.Warn("tiktoken unavailable, using estimator",
				zap.String("encoding", c.encoding),
				zap.Error(err),
			)
			return
		}
		c.enc = enc
	})
}

// CountTokens implements types.TokenCounter.
func (c *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	c.init()
	if c.enc == nil {
		return c.fallback.CountTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}
