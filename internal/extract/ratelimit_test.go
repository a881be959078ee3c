package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distill-cli/pkg/tavily"
)

func TestWithRateLimit_Disabled(t *testing.T) {
	t.Parallel()

	ext := NewTavily(&mockTavilyClient{}, "")
	assert.Same(t, ext, WithRateLimit(ext, 0, 1))
}

func TestWithRateLimit_Delegates(t *testing.T) {
	t.Parallel()

	client := &mockTavilyClient{}
	client.On("Extract", mock.Anything, mock.Anything).Return(&tavily.ExtractResponse{
		Results: []tavily.Result{{URL: "https://a.com", RawContent: "a"}},
	}, nil)

	ext := WithRateLimit(NewTavily(client, ""), 1000, 5)
	assert.Equal(t, "tavily", ext.Name())

	res, err := ext.Extract(context.Background(), []string{"https://a.com"})
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 1)
}

func TestWithRateLimit_CancelledContext(t *testing.T) {
	t.Parallel()

	client := &mockTavilyClient{}
	ext := WithRateLimit(NewTavily(client, ""), 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ext.Extract(ctx, []string{"https://a.com"})
	require.ErrorIs(t, err, context.Canceled)
	client.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}
