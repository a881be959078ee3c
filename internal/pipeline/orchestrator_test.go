package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distill-cli/internal/extract"
	"github.com/sells-group/distill-cli/internal/governor"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/rewrite"
)

func waitDone(t *testing.T, o *Orchestrator) *model.RunResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := o.Wait(ctx)
	require.NoError(t, err)
	return res
}

func statuses(res *model.RunResult) []model.JobStatus {
	out := make([]model.JobStatus, len(res.Jobs))
	for i, j := range res.Jobs {
		out[i] = j.Status
	}
	return out
}

func TestOrchestrator_HappyPath(t *testing.T) {
	t.Parallel()

	o := New(echoExtractor(), upperRewriter(), openGovernor(100),
		WithCost(func(r *model.RunResult) float64 { return float64(r.Usage.TotalTokens) / 1000 }))

	first, err := o.Start(context.Background(), []string{" u1 ", "u2", "", "u1", "u3"}, runConfig(2, 2))
	require.NoError(t, err)
	assert.Equal(t, model.RunStateRunning, first.State)
	require.Len(t, first.Jobs, 3)
	assert.NotEmpty(t, first.RunID)

	res := waitDone(t, o)
	assert.Equal(t, model.RunStateFinished, res.State)
	assert.Equal(t, []model.JobStatus{model.JobStatusCompleted, model.JobStatusCompleted, model.JobStatusCompleted}, statuses(res))
	assert.Equal(t, "clean raw u1\n\n---\n\nclean raw u2\n\n---\n\nclean raw u3", res.Output)
	assert.Equal(t, model.RunCalls{Extraction: 2, Rewrite: 3}, res.Calls)
	assert.Equal(t, 45, res.Usage.TotalTokens)
	assert.InDelta(t, 0.045, res.EstimatedCost, 1e-9)
	assert.Equal(t, 3, res.Counts[model.JobStatusCompleted])
	assert.Equal(t, 3, res.OutputStats.Lines)
	require.NotNil(t, res.FinishedAt)
	assert.Equal(t, 45, o.Usage().TotalTokens)
	assert.Equal(t, "out.md", res.Config.Filename)
	assert.Equal(t, model.RewriteParams{Provider: "fake", Model: "fake-1"}, res.Config.Rewrite)

	for _, j := range res.Jobs {
		assert.NotEmpty(t, j.ID)
		assert.Empty(t, j.Error)
	}
}

func TestOrchestrator_RejectedFinishScenario(t *testing.T) {
	t.Parallel()

	rw := &fakeRewriter{fn: func(_ context.Context, content string) (*rewrite.Response, error) {
		if strings.HasSuffix(content, "u2") {
			return &rewrite.Response{Text: "partial", FinishReason: model.FinishReasonSafety}, nil
		}
		return &rewrite.Response{Text: "ok " + content, FinishReason: model.FinishReasonUnspecified}, nil
	}}
	o := New(echoExtractor(), rw, openGovernor(100))
	_, err := o.Start(context.Background(), []string{"u1", "u2", "u3"}, runConfig(3, 3))
	require.NoError(t, err)

	res := waitDone(t, o)
	assert.Equal(t, []model.JobStatus{model.JobStatusCompleted, model.JobStatusError, model.JobStatusCompleted}, statuses(res))
	assert.Contains(t, res.Jobs[1].Error, model.FinishReasonSafety)
	assert.Empty(t, res.Jobs[1].ProcessedContent)
	assert.Equal(t, 1, strings.Count(res.Output, DefaultSeparator))
	assert.Equal(t, "ok raw u1"+DefaultSeparator+"ok raw u3", res.Output)
}

func TestOrchestrator_BatchNetworkError(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{fn: func(_ context.Context, urls []string) (*extract.Result, error) {
		if urls[0] == "u1" {
			return nil, errors.New("connection reset by peer")
		}
		return echoExtractor().fn(context.Background(), urls)
	}}
	o := New(ext, upperRewriter(), openGovernor(100))
	_, err := o.Start(context.Background(), []string{"u1", "u2", "u3"}, runConfig(2, 1))
	require.NoError(t, err)

	res := waitDone(t, o)
	assert.Equal(t, []model.JobStatus{model.JobStatusError, model.JobStatusError, model.JobStatusCompleted}, statuses(res))
	assert.Equal(t, "connection reset by peer", res.Jobs[0].Error)
	assert.Equal(t, "connection reset by peer", res.Jobs[1].Error)
	assert.Empty(t, res.Jobs[0].RawContent)
	assert.Equal(t, 1, res.Calls.Rewrite)
}

func TestOrchestrator_StopDuringRewrite(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	rw := &fakeRewriter{fn: func(_ context.Context, content string) (*rewrite.Response, error) {
		if strings.HasSuffix(content, "u1") || strings.HasSuffix(content, "u2") {
			return &rewrite.Response{
				Text:         "done " + content,
				FinishReason: model.FinishReasonStop,
				Usage:        model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
			}, nil
		}
		<-release
		return &rewrite.Response{
			Text:         "late",
			FinishReason: model.FinishReasonStop,
			Usage:        model.TokenUsage{InputTokens: 100, OutputTokens: 100, TotalTokens: 200},
		}, nil
	}}
	o := New(echoExtractor(), rw, openGovernor(100))
	_, err := o.Start(context.Background(), []string{"u1", "u2", "u3", "u4", "u5"}, runConfig(5, 5))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cur, _ := o.Current()
		return cur.Counts[model.JobStatusCompleted] == 2 && cur.Counts[model.JobStatusProcessingLLM] == 3
	}, 5*time.Second, 5*time.Millisecond)

	res, err := o.Stop()
	require.NoError(t, err)
	assert.Equal(t, model.RunStateAborted, res.State)
	assert.Equal(t, 2, res.Counts[model.JobStatusCompleted])
	assert.Equal(t, 3, res.Counts[model.JobStatusError])
	for _, j := range res.Jobs[2:] {
		assert.Equal(t, ReasonAborted, j.Error)
	}
	assert.Equal(t, "done raw u1"+DefaultSeparator+"done raw u2", res.Output)
	assert.Equal(t, 30, res.Usage.TotalTokens)
	assert.Equal(t, 30, o.Usage().TotalTokens)

	// Late results are dropped and a second stop changes nothing.
	close(release)
	time.Sleep(20 * time.Millisecond)
	again, err := o.Stop()
	require.NoError(t, err)
	assert.Equal(t, res, again)
	cur, err := o.Current()
	require.NoError(t, err)
	assert.Equal(t, statuses(res), statuses(cur))
	assert.Equal(t, 30, o.Usage().TotalTokens, "late results add no usage")
}

func TestOrchestrator_StopBeforeExtraction(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	ext := &fakeExtractor{fn: func(_ context.Context, urls []string) (*extract.Result, error) {
		<-release
		return echoExtractor().fn(context.Background(), urls)
	}}
	o := New(ext, upperRewriter(), openGovernor(100))
	_, err := o.Start(context.Background(), []string{"u1", "u2", "u3"}, runConfig(1, 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cur, _ := o.Current()
		return cur.Counts[model.JobStatusExtracting] == 1 && cur.Calls.Extraction == 1
	}, 5*time.Second, 5*time.Millisecond)

	res, err := o.Stop()
	require.NoError(t, err)
	close(release)
	assert.Equal(t, 3, res.Counts[model.JobStatusError])
	assert.Empty(t, res.Output)
	assert.Equal(t, 1, res.Calls.Extraction)
}

func TestOrchestrator_KillSwitchDuringRun(t *testing.T) {
	t.Parallel()

	gov := governor.New(governor.Config{
		Limits: map[governor.Provider]governor.Limits{
			governor.ProviderExtraction: {MaxCalls: 10, MaxErrors: 10},
			governor.ProviderRewrite:    {MaxCalls: 2, MaxErrors: 10},
		},
		Allow: map[governor.Provider]bool{governor.ProviderExtraction: true, governor.ProviderRewrite: true},
		Scope: governor.TripScopeAll,
	})
	o := New(echoExtractor(), upperRewriter(), gov)
	_, err := o.Start(context.Background(), []string{"u1", "u2", "u3", "u4"}, runConfig(4, 1))
	require.NoError(t, err)

	res := waitDone(t, o)
	assert.Equal(t, 2, res.Counts[model.JobStatusCompleted])
	assert.Equal(t, 2, res.Counts[model.JobStatusError])
	assert.Contains(t, res.Jobs[2].Error, "kill switch")
	assert.Contains(t, res.Jobs[3].Error, "disabled")
	assert.False(t, gov.Snapshot().Usage(governor.ProviderExtraction).Allowed, "trip scope all disables extraction too")

	require.NoError(t, o.ResetUsage(context.Background()))
	assert.Zero(t, o.Usage().TotalTokens)
	snap := gov.Snapshot()
	assert.False(t, snap.Locked())
	for _, p := range governor.Providers() {
		assert.Zero(t, snap.Usage(p).Calls)
		assert.Zero(t, snap.Usage(p).Errors)
		assert.True(t, snap.Usage(p).Allowed)
	}
}

func TestOrchestrator_StartErrors(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	ext := &fakeExtractor{fn: func(_ context.Context, urls []string) (*extract.Result, error) {
		<-release
		return &extract.Result{}, nil
	}}
	o := New(ext, upperRewriter(), openGovernor(100))

	_, err := o.Current()
	assert.ErrorIs(t, err, ErrNoRun)
	_, err = o.Stop()
	assert.ErrorIs(t, err, ErrNoRun)
	_, err = o.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNoRun)

	_, err = o.Start(context.Background(), []string{" ", ""}, runConfig(1, 1))
	assert.ErrorIs(t, err, ErrNoURLs)

	_, err = o.Start(context.Background(), []string{"u1"}, runConfig(1, 1))
	require.NoError(t, err)
	_, err = o.Start(context.Background(), []string{"u2"}, runConfig(1, 1))
	assert.ErrorIs(t, err, ErrRunActive)
}

func TestOrchestrator_NewRunReplacesJobSet(t *testing.T) {
	t.Parallel()

	o := New(echoExtractor(), upperRewriter(), openGovernor(100))
	_, err := o.Start(context.Background(), []string{"u1"}, runConfig(1, 1))
	require.NoError(t, err)
	first := waitDone(t, o)

	_, err = o.Start(context.Background(), []string{"u2", "u3"}, runConfig(1, 1))
	require.NoError(t, err)
	second := waitDone(t, o)

	assert.NotEqual(t, first.RunID, second.RunID)
	require.Len(t, second.Jobs, 2)
	assert.Equal(t, "u2", second.Jobs[0].URL)
	assert.Equal(t, 30, second.Usage.TotalTokens, "per-run usage starts from zero")
	assert.Equal(t, 45, o.Usage().TotalTokens, "global usage survives across runs")
}

func TestOrchestrator_WaitContextDone(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	ext := &fakeExtractor{fn: func(context.Context, []string) (*extract.Result, error) {
		<-release
		return &extract.Result{}, nil
	}}
	o := New(ext, upperRewriter(), openGovernor(100))
	_, err := o.Start(context.Background(), []string{"u1"}, runConfig(1, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res, err := o.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, model.RunStateRunning, res.State)
}
