package extract

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/distill-cli/pkg/firecrawl"
	"github.com/sells-group/distill-cli/pkg/jina"
	"github.com/sells-group/distill-cli/pkg/tavily"
)

// --- Tavily Mock ---

type mockTavilyClient struct {
	mock.Mock
}

func (m *mockTavilyClient) Extract(ctx context.Context, req tavily.ExtractRequest) (*tavily.ExtractResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tavily.ExtractResponse), args.Error(1)
}

// --- Jina Mock ---

type mockJinaClient struct {
	mock.Mock
}

func (m *mockJinaClient) Read(ctx context.Context, targetURL string) (*jina.ReadResponse, error) {
	args := m.Called(ctx, targetURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.ReadResponse), args.Error(1)
}

// --- Firecrawl Mock ---

type mockFirecrawlClient struct {
	mock.Mock
}

func (m *mockFirecrawlClient) BatchScrape(ctx context.Context, req firecrawl.BatchScrapeRequest) (*firecrawl.BatchScrapeResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*firecrawl.BatchScrapeResponse), args.Error(1)
}

func (m *mockFirecrawlClient) GetBatchScrapeStatus(ctx context.Context, id string) (*firecrawl.BatchScrapeStatusResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*firecrawl.BatchScrapeStatusResponse), args.Error(1)
}
