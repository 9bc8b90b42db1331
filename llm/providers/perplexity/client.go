package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/perspectra/internal/tlsutil"
	"github.com/BaSui01/perspectra/types"
)

// CompletionRequest is one chat completion call.
type CompletionRequest struct {
	Messages []types.ChatMessage
	// Search switches to the search model with monthly recency and the
	// configured domain filter.
	Search bool
}

// Completion is the parsed result.
type Completion struct {
	Model     string
	Content   string
	Citations []string
	Usage     Usage
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatRequest struct {
	Model               string              `json:"model"`
	Messages            []types.ChatMessage `json:"messages"`
	Temperature         float64             `json:"temperature"`
	MaxTokens           int                 `json:"max_tokens"`
	SearchRecencyFilter string              `json:"search_recency_filter,omitempty"`
	SearchDomainFilter  []string            `json:"search_domain_filter,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Usage     Usage    `json:"usage"`
}

// Recorder receives per-request LLM metrics. internal/metrics.Collector satisfies it.
type Recorder interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// Client talks to the Perplexity chat completions endpoint.
type Client struct {
	cfg      Config
	client   *http.Client
	limiter  *rate.Limiter
	recorder Recorder
	logger   *zap.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the TLS-hardened default client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.client = c
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

// WithRecorder reports every request to r.
func WithRecorder(r Recorder) ClientOption {
	return func(cl *Client) { cl.recorder = r }
}

// NewClient builds a client. An empty API key is rejected.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "perplexity api key is required").
			WithProvider(providerName)
	}
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:    cfg,
		client: tlsutil.NewHTTPClient(tlsutil.ClientOptions{Timeout: cfg.Timeout}),
		logger: zap.NewNop(),
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("provider", providerName))
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// Complete sends one chat completion request.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if len(req.Messages) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "messages are required").WithProvider(providerName)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("perplexity rate limiter: %w", err)
		}
	}

	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    req.Messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if req.Search {
		body.Model = c.cfg.SearchModel
		body.SearchRecencyFilter = recencyMonth
		body.SearchDomainFilter = c.cfg.SearchDomainFilter
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	out, err := c.do(httpReq, body.Model)
	if c.recorder != nil {
		status := "success"
		if err != nil {
			status = string(types.GetErrorCode(err))
			if status == "" {
				status = "error"
			}
		}
		var usage Usage
		if out != nil {
			usage = out.Usage
		}
		c.recorder.RecordLLMRequest(providerName, body.Model, status, time.Since(start), usage.PromptTokens, usage.CompletionTokens)
	}
	if err != nil {
		return nil, err
	}

	c.logger.Debug("perplexity completion",
		zap.String("model", out.Model),
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)))

	return &Completion{
		Model:     out.Model,
		Content:   out.Choices[0].Message.Content,
		Citations: out.Citations,
		Usage:     out.Usage,
	}, nil
}

func (c *Client) do(httpReq *http.Request, model string) (*chatResponse, error) {
	ctx := httpReq.Context()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, types.NewError(types.ErrUpstreamError, err.Error()).
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(providerName)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		c.logger.Warn("perplexity request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("model", model),
			zap.String("error", msg))
		return nil, mapHTTPError(resp.StatusCode, msg)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode response").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithProvider(providerName)
	}
	if len(out.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "no choices returned").
			WithCause(errNoChoices).
			WithHTTPStatus(http.StatusBadGateway).
			WithProvider(providerName)
	}
	return &out, nil
}

var errNoChoices = errors.New("perplexity: empty choices")
