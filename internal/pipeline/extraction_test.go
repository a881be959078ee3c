package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distill-cli/internal/extract"
	"github.com/sells-group/distill-cli/internal/governor"
	"github.com/sells-group/distill-cli/internal/model"
)

func TestExtractionStage_Partition(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{fn: func(_ context.Context, urls []string) (*extract.Result, error) {
		assert.Equal(t, []string{"https://a.com", "https://b.com/", "https://c.com", "https://d.com"}, urls)
		return &extract.Result{
			Succeeded: []extract.Page{
				{URL: "https://a.com", Content: "alpha", Raw: []byte(`{"a":1}`)},
				{URL: "https://b.com", Content: "beta"},
			},
			Failed:       []extract.Failure{{URL: "https://c.com", Reason: "robots"}},
			ResponseTime: time.Second,
		}, nil
	}}
	sink := &recordSink{}
	stage := NewExtractionStage(ext, openGovernor(10), 10, 1, true)

	stage.Run(context.Background(), queued("https://a.com", "https://b.com/", "https://c.com", "https://d.com"), sink)

	last := sink.last()
	a := last["https://a.com"]
	assert.Equal(t, model.JobStatusReadyForLLM, a.To)
	job := model.Job{}
	a.Apply(&job)
	assert.Equal(t, "alpha", job.RawContent)
	assert.Equal(t, &model.ContentStats{Lines: 1, Bytes: 5}, job.RawStats)
	require.NotNil(t, job.Debug)
	assert.JSONEq(t, `{"a":1}`, string(job.Debug.ExtractionResult))
	assert.Equal(t, time.Second, job.Debug.ExtractionResponseTime)

	assert.Equal(t, model.JobStatusReadyForLLM, last["https://b.com/"].To, "trailing slash falls back")

	assert.Equal(t, model.JobStatusError, last["https://c.com"].To)
	assert.Equal(t, "robots", last["https://c.com"].Reason)

	assert.Equal(t, model.JobStatusError, last["https://d.com"].To)
	assert.Equal(t, ReasonExtractionFailed, last["https://d.com"].Reason)

	assert.Equal(t, []governor.Provider{governor.ProviderExtraction}, sink.calls)
}

func TestExtractionStage_MarksExtractingFirst(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	stage := NewExtractionStage(echoExtractor(), openGovernor(10), 2, 1, false)
	stage.Run(context.Background(), queued("u1", "u2", "u3"), sink)

	require.Len(t, sink.ts, 6)
	assert.Equal(t, model.JobStatusExtracting, sink.ts[0].To)
	assert.Equal(t, model.JobStatusExtracting, sink.ts[1].To)
	assert.Equal(t, model.JobStatusReadyForLLM, sink.ts[2].To)
	assert.Len(t, sink.calls, 2, "one call per batch")
}

func TestExtractionStage_BatchError(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{fn: func(context.Context, []string) (*extract.Result, error) {
		return nil, errors.New("dial tcp: network unreachable")
	}}
	sink := &recordSink{}
	gov := openGovernor(10)
	NewExtractionStage(ext, gov, 5, 1, false).Run(context.Background(), queued("u1", "u2"), sink)

	for _, id := range []string{"u1", "u2"} {
		tr := sink.last()[id]
		assert.Equal(t, model.JobStatusError, tr.To)
		assert.Equal(t, "dial tcp: network unreachable", tr.Reason)
	}
	assert.Equal(t, 1, gov.Snapshot().Usage(governor.ProviderExtraction).Errors)
}

func TestExtractionStage_GovernorRefusal(t *testing.T) {
	t.Parallel()

	gov := governor.New(governor.Config{
		Limits: map[governor.Provider]governor.Limits{governor.ProviderExtraction: {MaxCalls: 1, MaxErrors: 1}},
		Allow:  map[governor.Provider]bool{governor.ProviderExtraction: false},
	})
	called := false
	ext := &fakeExtractor{fn: func(context.Context, []string) (*extract.Result, error) {
		called = true
		return &extract.Result{}, nil
	}}
	sink := &recordSink{}
	NewExtractionStage(ext, gov, 5, 1, false).Run(context.Background(), queued("u1"), sink)

	assert.False(t, called)
	tr := sink.last()["u1"]
	assert.Equal(t, model.JobStatusError, tr.To)
	assert.Contains(t, tr.Reason, "disabled")
	assert.Empty(t, sink.calls)
}

func TestExtractionStage_DiscardsAfterStop(t *testing.T) {
	t.Parallel()

	stop, cancel := context.WithCancel(context.Background())
	ext := &fakeExtractor{fn: func(ctx context.Context, urls []string) (*extract.Result, error) {
		cancel()
		assert.NoError(t, ctx.Err(), "in-flight call is not cancelled")
		return &extract.Result{Succeeded: []extract.Page{{URL: urls[0], Content: "x"}}}, nil
	}}
	sink := &recordSink{}
	NewExtractionStage(ext, openGovernor(10), 1, 1, false).Run(stop, queued("u1", "u2"), sink)

	// Only the first batch was admitted and its result was dropped.
	require.Len(t, sink.ts, 1)
	assert.Equal(t, model.JobStatusExtracting, sink.ts[0].To)
}

func TestExtractionStage_NothingQueued(t *testing.T) {
	t.Parallel()

	sink := &recordSink{}
	jobs := []model.Job{{ID: "x", URL: "x", Status: model.JobStatusReadyForLLM}}
	NewExtractionStage(echoExtractor(), openGovernor(10), 0, 1, false).Run(context.Background(), jobs, sink)
	assert.Empty(t, sink.ts)
}
