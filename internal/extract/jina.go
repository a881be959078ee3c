package extract

import (
	"context"
	"encoding/json"

	"github.com/sells-group/distill-cli/pkg/jina"
)

// Jina extracts each URL of a batch through the Jina Reader.
type Jina struct {
	client   jina.Client
	parallel int
}

// NewJina creates a Jina extractor reading up to parallel URLs at once.
func NewJina(client jina.Client, parallel int) *Jina {
	return &Jina{client: client, parallel: parallel}
}

// Name implements Extractor.
func (j *Jina) Name() string { return "jina" }

// Extract implements Extractor.
func (j *Jina) Extract(ctx context.Context, urls []string) (*Result, error) {
	return fanOut(ctx, j.Name(), urls, j.parallel, func(ctx context.Context, u string) (Page, error) {
		resp, err := j.client.Read(ctx, u)
		if err != nil {
			return Page{}, err
		}
		if resp.Data.Content == "" {
			return Page{}, ErrEmptyPage
		}
		raw, _ := json.Marshal(resp)
		return Page{
			URL:     u,
			Title:   resp.Data.Title,
			Content: resp.Data.Content,
			Raw:     raw,
		}, nil
	})
}
