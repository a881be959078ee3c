package extract

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/distill-cli/pkg/tavily"
)

// Tavily extracts a whole batch with a single Tavily /extract request.
type Tavily struct {
	client tavily.Client
	depth  string
}

// NewTavily creates a Tavily extractor. depth is "basic" or "advanced".
func NewTavily(client tavily.Client, depth string) *Tavily {
	if depth == "" {
		depth = "basic"
	}
	return &Tavily{client: client, depth: depth}
}

// Name implements Extractor.
func (t *Tavily) Name() string { return "tavily" }

// Extract implements Extractor.
func (t *Tavily) Extract(ctx context.Context, urls []string) (*Result, error) {
	resp, err := t.client.Extract(ctx, tavily.ExtractRequest{
		URLs:         urls,
		ExtractDepth: t.depth,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, eris.New("tavily: empty response")
	}

	out := &Result{
		ResponseTime: time.Duration(resp.ResponseTime * float64(time.Second)),
	}
	for _, r := range resp.Results {
		raw, _ := json.Marshal(r)
		out.Succeeded = append(out.Succeeded, Page{
			URL:     r.URL,
			Title:   r.Title,
			Content: r.RawContent,
			Raw:     raw,
		})
	}
	for _, f := range resp.FailedResults {
		out.Failed = append(out.Failed, Failure{URL: f.URL, Reason: string(f.Error)})
	}
	return out, nil
}
