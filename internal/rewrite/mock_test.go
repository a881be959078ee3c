package rewrite

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/pkg/anthropic"
	"github.com/sells-group/distill-cli/pkg/gemini"
)

// --- Gemini Mock ---

type mockGeminiClient struct {
	mock.Mock
}

func (m *mockGeminiClient) GenerateContent(ctx context.Context, req gemini.Request) (*gemini.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gemini.Response), args.Error(1)
}

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// scripted replays a fixed sequence of outcomes, one per call.
type scripted struct {
	mu    sync.Mutex
	steps []func(ctx context.Context) (*Response, error)
	calls int
}

func (s *scripted) Name() string                { return "scripted" }
func (s *scripted) Params() model.RewriteParams { return model.RewriteParams{Provider: "scripted", Model: "m"} }

func (s *scripted) Rewrite(ctx context.Context, _ string) (*Response, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i](ctx)
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
