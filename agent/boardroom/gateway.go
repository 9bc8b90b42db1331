package boardroom

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/perspectra/types"
)

// ErrEmptyResponse is returned when a gateway succeeds with blank content.
var ErrEmptyResponse = errors.New("boardroom: empty response")

// errNoGateway is returned for every turn of an engine built without a gateway.
var errNoGateway = errors.New("boardroom: no response gateway configured")

// GenerateRequest is what a persona needs to produce its next message.
type GenerateRequest struct {
	Persona    types.PersonaType `json:"persona"`
	Problem    string            `json:"problem"`
	History    []types.Message   `json:"history"`
	TopicFocus string            `json:"topic_focus"`
	Round      int               `json:"round"`
}

// GenerateResponse is the body a persona produced.
type GenerateResponse struct {
	Content     string `json:"content"`
	FactChecked bool   `json:"fact_checked"`
}

// ResponseGateway generates persona messages. Implementations may be slow
// and must honour ctx cancellation.
type ResponseGateway interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// GatewayFunc adapts a function to ResponseGateway.
type GatewayFunc func(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

// Generate implements ResponseGateway.
func (f GatewayFunc) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	return f(ctx, req)
}

// GenerationError describes a skipped turn.
type GenerationError struct {
	Persona types.PersonaType
	Round   int
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s (round %d): %v", e.Persona, e.Round, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Generate calls gw and normalises its outcome. Any failure, including a
// nil or blank response, is returned as *GenerationError.
func Generate(ctx context.Context, gw ResponseGateway, req GenerateRequest) (*GenerateResponse, error) {
	if gw == nil {
		return nil, &GenerationError{Persona: req.Persona, Round: req.Round, Err: errNoGateway}
	}
	resp, err := gw.Generate(ctx, req)
	if err != nil {
		return nil, &GenerationError{Persona: req.Persona, Round: req.Round, Err: err}
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, &GenerationError{Persona: req.Persona, Round: req.Round, Err: ErrEmptyResponse}
	}
	return resp, nil
}
