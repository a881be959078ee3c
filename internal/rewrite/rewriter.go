// Package rewrite sends extracted documents to a language model and
// normalizes the reply.
package rewrite

import (
	"context"
	"encoding/json"

	"github.com/sells-group/distill-cli/internal/model"
)

// Response is a rewritten document and how generation finished.
type Response struct {
	Text string
	// FinishReason uses the Gemini vocabulary (see model.FinishAccepted).
	FinishReason string
	Usage        model.TokenUsage
	Raw          json.RawMessage
}

// Rewriter rewrites one document per call.
type Rewriter interface {
	Name() string
	// Params describes the request parameters, for diagnostics.
	Params() model.RewriteParams
	Rewrite(ctx context.Context, content string) (*Response, error)
}
