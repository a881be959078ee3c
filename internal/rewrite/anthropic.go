package rewrite

import (
	"context"
	"encoding/json"

	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/pkg/anthropic"
)

// defaultClaudeMaxTokens is used when no output cap is configured; the
// Messages API requires one.
const defaultClaudeMaxTokens = 8192

// Anthropic rewrites through the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	params model.RewriteParams
}

// NewAnthropic creates an Anthropic rewriter.
func NewAnthropic(client anthropic.Client, params model.RewriteParams) *Anthropic {
	params.Provider = "anthropic"
	return &Anthropic{client: client, params: params}
}

// Name implements Rewriter.
func (a *Anthropic) Name() string { return "anthropic" }

// Params implements Rewriter.
func (a *Anthropic) Params() model.RewriteParams { return a.params }

// Rewrite implements Rewriter.
func (a *Anthropic) Rewrite(ctx context.Context, content string) (*Response, error) {
	maxTokens := int64(a.params.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}
	temp := a.params.Temperature

	req := anthropic.MessageRequest{
		Model:       a.params.Model,
		MaxTokens:   maxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: content}},
		Temperature: &temp,
	}
	if a.params.SystemInstruction != "" {
		req.System = []anthropic.SystemBlock{{Text: a.params.SystemInstruction}}
	}

	resp, err := a.client.CreateMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(resp)
	in := int(resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens)
	out := int(resp.Usage.OutputTokens)
	return &Response{
		Text:         resp.Text(),
		FinishReason: normalizeStopReason(resp.StopReason),
		Usage: model.TokenUsage{
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  in + out,
		},
		Raw: raw,
	}, nil
}

// normalizeStopReason maps Anthropic stop reasons onto finish reasons.
func normalizeStopReason(reason string) string {
	switch reason {
	case "":
		return ""
	case "end_turn", "stop_sequence":
		return model.FinishReasonStop
	case "max_tokens":
		return model.FinishReasonMaxTokens
	case "refusal":
		return model.FinishReasonSafety
	default:
		return model.FinishReasonOther
	}
}
