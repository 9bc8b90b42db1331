package perplexity

import (
	"context"
	"strings"

	"github.com/BaSui01/perspectra/agent/boardroom"
	"github.com/BaSui01/perspectra/agent/persona"
)

// Completer is the subset of Client the gateway needs.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Gateway implements boardroom.ResponseGateway on top of Perplexity.
type Gateway struct {
	completer Completer
	builder   *persona.Builder
}

// NewGateway wires a completer with a prompt builder. A nil builder uses
// the estimate tokenizer with the default history budget.
func NewGateway(completer Completer, builder *persona.Builder) *Gateway {
	if builder == nil {
		builder = persona.NewBuilder(nil, persona.DefaultHistoryTokens)
	}
	return &Gateway{completer: completer, builder: builder}
}

// Generate implements boardroom.ResponseGateway.
func (g *Gateway) Generate(ctx context.Context, req boardroom.GenerateRequest) (*boardroom.GenerateResponse, error) {
	msgs, err := g.builder.Build(req)
	if err != nil {
		return nil, err
	}
	search := persona.UsesSearch(req.Persona)
	out, err := g.completer.Complete(ctx, CompletionRequest{Messages: msgs, Search: search})
	if err != nil {
		return nil, err
	}
	return &boardroom.GenerateResponse{
		Content:     strings.TrimSpace(out.Content),
		FactChecked: search,
	}, nil
}

var _ boardroom.ResponseGateway = (*Gateway)(nil)
