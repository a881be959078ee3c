package pipeline

import (
	"context"
	"sync"

	"github.com/sells-group/distill-cli/internal/extract"
	"github.com/sells-group/distill-cli/internal/governor"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/rewrite"
)

type fakeExtractor struct {
	fn func(ctx context.Context, urls []string) (*extract.Result, error)
}

func (f *fakeExtractor) Name() string { return "fake" }

func (f *fakeExtractor) Extract(ctx context.Context, urls []string) (*extract.Result, error) {
	return f.fn(ctx, urls)
}

// echoExtractor succeeds for every URL with the URL as content.
func echoExtractor() *fakeExtractor {
	return &fakeExtractor{fn: func(_ context.Context, urls []string) (*extract.Result, error) {
		res := &extract.Result{}
		for _, u := range urls {
			res.Succeeded = append(res.Succeeded, extract.Page{URL: u, Content: "raw " + u})
		}
		return res, nil
	}}
}

type fakeRewriter struct {
	fn func(ctx context.Context, content string) (*rewrite.Response, error)
}

func (f *fakeRewriter) Name() string { return "fake" }
func (f *fakeRewriter) Params() model.RewriteParams {
	return model.RewriteParams{Provider: "fake", Model: "fake-1"}
}

func (f *fakeRewriter) Rewrite(ctx context.Context, content string) (*rewrite.Response, error) {
	return f.fn(ctx, content)
}

// upperRewriter completes every document.
func upperRewriter() *fakeRewriter {
	return &fakeRewriter{fn: func(_ context.Context, content string) (*rewrite.Response, error) {
		return &rewrite.Response{
			Text:         "clean " + content,
			FinishReason: model.FinishReasonStop,
			Usage:        model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		}, nil
	}}
}

func openGovernor(limit int) *governor.Governor {
	return governor.New(governor.Config{
		Limits: map[governor.Provider]governor.Limits{
			governor.ProviderExtraction: {MaxCalls: limit, MaxErrors: limit},
			governor.ProviderRewrite:    {MaxCalls: limit, MaxErrors: limit},
		},
		Allow: map[governor.Provider]bool{
			governor.ProviderExtraction: true,
			governor.ProviderRewrite:    true,
		},
	})
}

func runConfig(batch, parallel int) model.RunConfig {
	return model.RunConfig{
		BatchSize:          batch,
		ExtractionParallel: parallel,
		RewriteParallel:    parallel,
		Separator:          DefaultSeparator,
		Filename:           "out.md",
	}
}

type recordSink struct {
	mu    sync.Mutex
	ts    []Transition
	calls []governor.Provider
}

func (s *recordSink) Submit(ts ...Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ts = append(s.ts, ts...)
}

func (s *recordSink) Called(p governor.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, p)
}

// last returns the final requested transition per job.
func (s *recordSink) last() map[string]Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Transition)
	for _, t := range s.ts {
		out[t.JobID] = t
	}
	return out
}

func queued(urls ...string) []model.Job {
	jobs := make([]model.Job, len(urls))
	for i, u := range urls {
		jobs[i] = model.Job{ID: u, URL: u, Status: model.JobStatusReadyForExtraction}
	}
	return jobs
}
