// Package extract turns batches of URLs into page content through one of
// several extraction backends.
package extract

import (
	"context"
	"encoding/json"
	"time"
)

// Page is the extracted content of one URL.
type Page struct {
	URL     string          `json:"url"`
	Title   string          `json:"title,omitempty"`
	Content string          `json:"content"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// Failure is a URL the backend could not extract, with the backend's reason.
type Failure struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Result is the outcome of one batch. A URL appears in at most one of
// Succeeded and Failed.
type Result struct {
	Succeeded    []Page        `json:"succeeded"`
	Failed       []Failure     `json:"failed"`
	ResponseTime time.Duration `json:"response_time"`
}

// Extractor fetches a batch of URLs. A returned error means the whole batch
// failed; per-URL failures are reported in Result.Failed.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, urls []string) (*Result, error)
}
