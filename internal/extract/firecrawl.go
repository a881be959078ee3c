package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/distill-cli/pkg/firecrawl"
)

// Firecrawl extracts a batch with one Firecrawl batch-scrape job and polls it
// to completion.
type Firecrawl struct {
	client firecrawl.Client
	poll   []firecrawl.PollOption
}

// NewFirecrawl creates a Firecrawl extractor.
func NewFirecrawl(client firecrawl.Client, poll ...firecrawl.PollOption) *Firecrawl {
	return &Firecrawl{client: client, poll: poll}
}

// Name implements Extractor.
func (f *Firecrawl) Name() string { return "firecrawl" }

// Extract implements Extractor.
func (f *Firecrawl) Extract(ctx context.Context, urls []string) (*Result, error) {
	start := time.Now()

	resp, err := f.client.BatchScrape(ctx, firecrawl.BatchScrapeRequest{
		URLs:            urls,
		OnlyMainContent: true,
		IgnoreInvalid:   true,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success || resp.ID == "" {
		return nil, eris.New("firecrawl: batch scrape was not accepted")
	}

	status, err := firecrawl.PollBatchScrape(ctx, f.client, resp.ID, f.poll...)
	if err != nil {
		return nil, err
	}

	out := &Result{}
	for _, u := range resp.InvalidURLs {
		out.Failed = append(out.Failed, Failure{URL: u, Reason: "invalid url"})
	}
	for _, d := range status.Data {
		u := d.Metadata.SourceURL
		if u == "" {
			u = d.Metadata.URL
		}
		switch {
		case d.Metadata.Error != "":
			out.Failed = append(out.Failed, Failure{URL: u, Reason: d.Metadata.Error})
		case d.Metadata.StatusCode >= 400:
			out.Failed = append(out.Failed, Failure{URL: u, Reason: fmt.Sprintf("status %d", d.Metadata.StatusCode)})
		case strings.TrimSpace(d.Markdown) == "":
			out.Failed = append(out.Failed, Failure{URL: u, Reason: ErrEmptyPage.Error()})
		default:
			raw, _ := json.Marshal(d)
			out.Succeeded = append(out.Succeeded, Page{
				URL:     u,
				Title:   d.Metadata.Title,
				Content: d.Markdown,
				Raw:     raw,
			})
		}
	}
	out.ResponseTime = time.Since(start)
	return out, nil
}
