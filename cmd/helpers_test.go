package main

import (
	"context"
	"strings"
	"testing"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/extract"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/pipeline"
	"github.com/sells-group/distill-cli/internal/rewrite"
)

type stubExtractor struct {
	// release, when set, blocks every call until closed.
	release chan struct{}
}

func (s *stubExtractor) Name() string { return "stub" }

func (s *stubExtractor) Extract(_ context.Context, urls []string) (*extract.Result, error) {
	if s.release != nil {
		<-s.release
	}
	res := &extract.Result{}
	for _, u := range urls {
		res.Succeeded = append(res.Succeeded, extract.Page{URL: u, Content: "raw " + u})
	}
	return res, nil
}

type stubRewriter struct{}

func (stubRewriter) Name() string { return "stub" }
func (stubRewriter) Params() model.RewriteParams {
	return model.RewriteParams{Provider: "stub", Model: "stub-1"}
}

func (stubRewriter) Rewrite(_ context.Context, content string) (*rewrite.Response, error) {
	return &rewrite.Response{
		Text:         strings.ToUpper(content),
		FinishReason: model.FinishReasonStop,
		Usage:        model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

// testConfig returns a valid configuration using the local extractor.
func testConfig() *config.Config {
	c := &config.Config{}
	c.Extraction = config.ExtractionConfig{Provider: config.ExtractorLocal, Allow: true, TimeoutSecs: 5}
	c.Rewrite = config.RewriteConfig{Provider: config.RewriterGemini, Allow: true, TimeoutSecs: 5}
	c.Gemini = config.GeminiConfig{Key: "gemini-key", Model: "gemini-2.5-flash"}
	c.Tavily.Depth = "basic"
	c.Limits = config.LimitsConfig{ExtractionCalls: 100, ExtractionErrors: 10, RewriteCalls: 100, RewriteErrors: 10, TripScope: "all"}
	c.Pipeline = config.PipelineConfig{BatchSize: 2, ExtractionParallel: 1, RewriteParallel: 2}
	c.Output = config.OutputConfig{Separator: `\n\n---\n\n`, Filename: "out.md"}
	c.Server.CORSOrigins = []string{"*"}
	return c
}

func newTestOrchestrator(t *testing.T, c *config.Config, ext extract.Extractor) *pipeline.Orchestrator {
	t.Helper()
	return pipeline.New(ext, stubRewriter{}, newGovernor(c, nil))
}
