package rewrite

import (
	"context"

	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/pkg/gemini"
)

// Gemini rewrites through the Gemini generateContent API.
type Gemini struct {
	client gemini.Client
	params model.RewriteParams
}

// NewGemini creates a Gemini rewriter.
func NewGemini(client gemini.Client, params model.RewriteParams) *Gemini {
	params.Provider = "gemini"
	return &Gemini{client: client, params: params}
}

// Name implements Rewriter.
func (g *Gemini) Name() string { return "gemini" }

// Params implements Rewriter.
func (g *Gemini) Params() model.RewriteParams { return g.params }

// Rewrite implements Rewriter.
func (g *Gemini) Rewrite(ctx context.Context, content string) (*Response, error) {
	budget := g.params.ThinkingBudget
	resp, err := g.client.GenerateContent(ctx, gemini.Request{
		Model:             g.params.Model,
		Text:              content,
		SystemInstruction: g.params.SystemInstruction,
		Temperature:       g.params.Temperature,
		ThinkingBudget:    &budget,
		MaxOutputTokens:   g.params.MaxOutputTokens,
	})
	if err != nil {
		return nil, err
	}
	return &Response{
		Text:         resp.Text,
		FinishReason: resp.FinishReason,
		Usage: model.TokenUsage{
			InputTokens:    resp.Usage.PromptTokens,
			OutputTokens:   resp.Usage.CandidatesTokens,
			ThinkingTokens: resp.Usage.ThoughtsTokens,
			TotalTokens:    resp.Usage.TotalTokens,
		},
		Raw: resp.Raw,
	}, nil
}
