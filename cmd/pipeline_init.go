package main

import (
	"context"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/config"
	"github.com/sells-group/distill-cli/internal/cost"
	"github.com/sells-group/distill-cli/internal/extract"
	"github.com/sells-group/distill-cli/internal/governor"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/pipeline"
	"github.com/sells-group/distill-cli/internal/rewrite"
	"github.com/sells-group/distill-cli/internal/store"
	anthropicpkg "github.com/sells-group/distill-cli/pkg/anthropic"
	"github.com/sells-group/distill-cli/pkg/firecrawl"
	"github.com/sells-group/distill-cli/pkg/gemini"
	"github.com/sells-group/distill-cli/pkg/jina"
	"github.com/sells-group/distill-cli/pkg/tavily"
)

// pipelineEnv holds the store, governor, and orchestrator needed by the
// run and serve commands.
type pipelineEnv struct {
	Store        store.Store
	Governor     *governor.Governor
	Orchestrator *pipeline.Orchestrator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline opens the settings store, restores the kill-switch flags,
// and builds the extraction and rewrite providers. Callers should defer
// env.Close().
func initPipeline(ctx context.Context, c *config.Config) (*pipelineEnv, error) {
	st, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	gov := newGovernor(c, st)
	if err := gov.Load(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load kill switch flags")
	}

	ext, err := buildExtractor(c)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	rw := buildRewriter(ctx, c)

	calc := cost.NewCalculator(c.Pricing)
	orch := pipeline.New(ext, rw, gov,
		pipeline.WithCost(calc.ForRun(c.Extraction.Provider, c.Tavily.Depth)),
	)

	zap.L().Info("pipeline initialized",
		zap.String("extractor", ext.Name()),
		zap.String("rewriter", rw.Name()),
		zap.String("store", c.Store.Driver),
	)

	return &pipelineEnv{Store: st, Governor: gov, Orchestrator: orch}, nil
}

func newGovernor(c *config.Config, st governor.FlagStore) *governor.Governor {
	return governor.New(governor.Config{
		Limits: c.GovernorLimits(),
		Scope:  governor.TripScope(c.Limits.TripScope),
		Allow:  c.GovernorAllow(),
		Issues: c.ProviderIssues,
		Store:  st,
	})
}

// buildExtractor returns the configured extraction backend wrapped in its
// client-side rate limit.
func buildExtractor(c *config.Config) (extract.Extractor, error) {
	var ext extract.Extractor
	switch c.Extraction.Provider {
	case config.ExtractorTavily:
		client := tavily.NewClient(c.Tavily.Key,
			tavily.WithBaseURL(c.Tavily.BaseURL),
			tavily.WithRetryPolicy(c.TavilyRetryPolicy()),
			tavily.WithAttemptTimeout(c.ExtractionTimeout()),
		)
		ext = extract.NewTavily(client, c.Tavily.Depth)
	case config.ExtractorJina:
		client := jina.NewClient(c.Jina.Key,
			jina.WithBaseURL(c.Jina.BaseURL),
			jina.WithHTTPClient(&http.Client{Timeout: c.ExtractionTimeout()}),
		)
		ext = extract.NewJina(client, c.Pipeline.BatchSize)
	case config.ExtractorFirecrawl:
		client := firecrawl.NewClient(c.Firecrawl.Key, firecrawl.WithBaseURL(c.Firecrawl.BaseURL))
		ext = extract.NewFirecrawl(client,
			firecrawl.WithPollInterval(time.Duration(c.Firecrawl.PollIntervalSecs)*time.Second),
			firecrawl.WithPollTimeout(time.Duration(c.Firecrawl.PollTimeoutSecs)*time.Second),
		)
	case config.ExtractorLocal:
		ext = extract.NewLocal(c.Pipeline.BatchSize,
			extract.WithLocalHTTPClient(&http.Client{Timeout: c.ExtractionTimeout()}),
		)
	default:
		return nil, eris.Errorf("unknown extraction provider %q", c.Extraction.Provider)
	}
	return extract.WithRateLimit(ext, c.Extraction.RateLimit, c.Extraction.Burst), nil
}

// buildRewriter returns the configured rewrite provider behind the timeout
// race and retry wrapper. A provider that cannot be constructed, typically
// for a missing key, is replaced by one that fails every call; the governor
// refuses those calls before they are made.
func buildRewriter(ctx context.Context, c *config.Config) rewrite.Rewriter {
	params := c.RewriteParams()

	var rw rewrite.Rewriter
	switch c.Rewrite.Provider {
	case config.RewriterAnthropic:
		var opts []option.RequestOption
		if c.Anthropic.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(c.Anthropic.BaseURL))
		}
		rw = rewrite.NewAnthropic(anthropicpkg.NewClient(c.Anthropic.Key, opts...), params)
	case config.RewriterGemini:
		client, err := gemini.NewClient(ctx, c.Gemini.Key, c.Gemini.BaseURL)
		if err != nil {
			zap.L().Warn("gemini client unavailable", zap.Error(err))
			rw = unavailableRewriter{params: params, err: err}
		} else {
			rw = rewrite.NewGemini(client, params)
		}
	default:
		rw = unavailableRewriter{params: params, err: eris.Errorf("unknown rewrite provider %q", c.Rewrite.Provider)}
	}

	rw = rewrite.WithRateLimit(rw, c.Rewrite.RateLimit, c.Rewrite.Burst)
	return rewrite.NewTimed(rw, rewrite.TimedOptions{
		Timeout:   time.Duration(c.Rewrite.TimeoutSecs) * time.Second,
		Retries:   c.Rewrite.Retries,
		RetryBase: time.Duration(c.Rewrite.RetryBaseSecs) * time.Second,
	})
}

type unavailableRewriter struct {
	params model.RewriteParams
	err    error
}

func (u unavailableRewriter) Name() string { return u.params.Provider }
func (u unavailableRewriter) Params() model.RewriteParams { return u.params }
func (u unavailableRewriter) Rewrite(context.Context, string) (*rewrite.Response, error) {
	return nil, u.err
}

// lockReason returns why new runs are refused, or "" when the application
// is unlocked.
func lockReason(c *config.Config, gov *governor.Governor) string {
	snap := gov.Snapshot()
	if snap.Locked() {
		return snap.Message
	}
	if issues := c.Validate(); len(issues) > 0 {
		return issues[0]
	}
	for _, p := range governor.Providers() {
		u := snap.Usage(p)
		if !u.Enabled {
			return governor.LockMessage
		}
		if !u.Allowed {
			return string(p) + " calls are disabled in configuration"
		}
	}
	return ""
}
