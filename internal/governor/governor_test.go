package governor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFlags struct {
	mu    sync.Mutex
	flags map[string]bool
	sets  int
	err   error
}

func (f *fakeFlags) GetProviderFlags(_ context.Context) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.flags))
	for k, v := range f.flags {
		out[k] = v
	}
	return out, f.err
}

func (f *fakeFlags) SetProviderFlags(_ context.Context, flags map[string]bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.err != nil {
		return f.err
	}
	f.flags = flags
	return nil
}

func testConfig(maxCalls, maxErrors int, scope TripScope) Config {
	return Config{
		Limits: map[Provider]Limits{
			ProviderExtraction: {MaxCalls: maxCalls, MaxErrors: maxErrors},
			ProviderRewrite:    {MaxCalls: maxCalls, MaxErrors: maxErrors},
		},
		Scope: scope,
		Allow: map[Provider]bool{ProviderExtraction: true, ProviderRewrite: true},
	}
}

func TestAuthorize_CallLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := New(testConfig(3, 10, TripScopeSingle))

	for i := 0; i < 3; i++ {
		tk, err := g.Authorize(ctx, ProviderExtraction)
		require.NoError(t, err)
		// Outcome does not matter for the call limit.
		if i == 1 {
			tk.Done(errors.New("boom"))
		} else {
			tk.Done(nil)
		}
	}

	_, err := g.Authorize(ctx, ProviderExtraction)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCallLimit)
	assert.Contains(t, err.Error(), "kill switch")

	// Tripped provider stays disabled.
	_, err = g.Authorize(ctx, ProviderExtraction)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestAuthorize_ErrorLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := New(testConfig(100, 2, TripScopeSingle))

	for i := 0; i < 2; i++ {
		tk, err := g.Authorize(ctx, ProviderRewrite)
		require.NoError(t, err)
		tk.Done(errors.New("failed"))
	}

	_, err := g.Authorize(ctx, ProviderRewrite)
	assert.ErrorIs(t, err, ErrErrorLimit)

	snap := g.Snapshot()
	assert.Equal(t, 2, snap.Usage(ProviderRewrite).Calls)
	assert.Equal(t, 2, snap.Usage(ProviderRewrite).Errors)
}

func TestTripScope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("all disables every provider", func(t *testing.T) {
		t.Parallel()
		g := New(testConfig(1, 10, TripScopeAll))
		_, err := g.Authorize(ctx, ProviderExtraction)
		require.NoError(t, err)
		_, err = g.Authorize(ctx, ProviderExtraction)
		require.Error(t, err)

		assert.False(t, g.Snapshot().Usage(ProviderExtraction).Allowed)
		assert.False(t, g.Snapshot().Usage(ProviderRewrite).Allowed)
		_, err = g.Authorize(ctx, ProviderRewrite)
		assert.ErrorIs(t, err, ErrDisabled)

		snap := g.Snapshot()
		assert.True(t, snap.Tripped)
		assert.True(t, snap.Locked())
		assert.Equal(t, LockMessage, snap.Message)
	})

	t.Run("single leaves others enabled", func(t *testing.T) {
		t.Parallel()
		g := New(testConfig(1, 10, TripScopeSingle))
		_, _ = g.Authorize(ctx, ProviderExtraction)
		_, err := g.Authorize(ctx, ProviderExtraction)
		require.Error(t, err)

		assert.False(t, g.Snapshot().Usage(ProviderExtraction).Allowed)
		assert.True(t, g.Snapshot().Usage(ProviderRewrite).Allowed)
		_, err = g.Authorize(ctx, ProviderRewrite)
		assert.NoError(t, err)
	})

	t.Run("empty scope defaults to all", func(t *testing.T) {
		t.Parallel()
		g := New(testConfig(1, 1, ""))
		assert.Equal(t, TripScopeAll, g.Snapshot().Scope)
	})
}

func TestTicketDone_CountsOnce(t *testing.T) {
	t.Parallel()
	g := New(testConfig(10, 10, TripScopeAll))

	tk, err := g.Authorize(context.Background(), ProviderRewrite)
	require.NoError(t, err)
	tk.Done(errors.New("a"))
	tk.Done(errors.New("b"))

	assert.Equal(t, 1, g.Snapshot().Usage(ProviderRewrite).Errors)
}

func TestAuthorize_ConfigDisabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig(10, 10, TripScopeAll)
	cfg.Allow[ProviderRewrite] = false
	g := New(cfg)

	_, err := g.Authorize(context.Background(), ProviderRewrite)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Equal(t, 0, g.Snapshot().Usage(ProviderRewrite).Calls)
	assert.False(t, g.Snapshot().Tripped)
}

func TestAuthorize_ValidationIssues(t *testing.T) {
	t.Parallel()
	cfg := testConfig(10, 10, TripScopeAll)
	missing := true
	cfg.Issues = func(p Provider) []string {
		if p == ProviderExtraction && missing {
			return []string{"Tavily API Key is missing."}
		}
		return nil
	}
	g := New(cfg)

	_, err := g.Authorize(context.Background(), ProviderExtraction)
	assert.ErrorIs(t, err, ErrDisabled)

	snap := g.Snapshot()
	assert.True(t, snap.Locked())
	assert.Equal(t, "Tavily API Key is missing.", snap.Message)
	assert.False(t, snap.Usage(ProviderExtraction).Allowed)
	assert.True(t, snap.Usage(ProviderRewrite).Allowed)
}

func TestAuthorize_UnknownProvider(t *testing.T) {
	t.Parallel()
	g := New(testConfig(10, 10, TripScopeAll))
	_, err := g.Authorize(context.Background(), Provider("ocr"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestAuthorize_Concurrent(t *testing.T) {
	t.Parallel()
	g := New(testConfig(50, 1000, TripScopeSingle))

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Authorize(context.Background(), ProviderExtraction); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, granted)
	assert.Equal(t, 50, g.Snapshot().Usage(ProviderExtraction).Calls)
}

func TestReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &fakeFlags{}
	cfg := testConfig(1, 1, TripScopeAll)
	cfg.Store = store
	g := New(cfg)

	tk, err := g.Authorize(ctx, ProviderRewrite)
	require.NoError(t, err)
	tk.Done(errors.New("x"))
	_, err = g.Authorize(ctx, ProviderRewrite)
	require.Error(t, err)
	assert.Equal(t, map[string]bool{"extraction": false, "rewrite": false}, store.flags)

	require.NoError(t, g.Reset(ctx))

	snap := g.Snapshot()
	for _, u := range snap.Providers {
		assert.Equal(t, 0, u.Calls)
		assert.Equal(t, 0, u.Errors)
		assert.True(t, u.Allowed)
	}
	assert.False(t, snap.Tripped)
	assert.Empty(t, snap.Message)
	assert.Equal(t, map[string]bool{"extraction": true, "rewrite": true}, store.flags)
}

func TestReset_KeepsInvalidProviderBlocked(t *testing.T) {
	t.Parallel()
	cfg := testConfig(1, 1, TripScopeAll)
	cfg.Issues = func(p Provider) []string {
		if p == ProviderRewrite {
			return []string{"Gemini API Key is missing."}
		}
		return nil
	}
	g := New(cfg)
	require.NoError(t, g.Reset(context.Background()))

	assert.True(t, g.Snapshot().Usage(ProviderExtraction).Allowed)
	assert.False(t, g.Snapshot().Usage(ProviderRewrite).Allowed)
}

func TestReset_StoreError(t *testing.T) {
	t.Parallel()
	cfg := testConfig(1, 1, TripScopeAll)
	cfg.Store = &fakeFlags{err: errors.New("disk full")}
	g := New(cfg)

	err := g.Reset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("persisted trip survives restart", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(10, 10, TripScopeAll)
		cfg.Store = &fakeFlags{flags: map[string]bool{"extraction": false, "rewrite": true}}
		g := New(cfg)
		require.NoError(t, g.Load(ctx))

		assert.False(t, g.Snapshot().Usage(ProviderExtraction).Allowed)
		assert.True(t, g.Snapshot().Usage(ProviderRewrite).Allowed)
		assert.Equal(t, LockMessage, g.Snapshot().Message)
	})

	t.Run("no store", func(t *testing.T) {
		t.Parallel()
		g := New(testConfig(10, 10, TripScopeAll))
		require.NoError(t, g.Load(ctx))
		assert.True(t, g.Snapshot().Usage(ProviderExtraction).Allowed)
	})

	t.Run("store error", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(10, 10, TripScopeAll)
		cfg.Store = &fakeFlags{err: errors.New("locked")}
		g := New(cfg)
		assert.Error(t, g.Load(ctx))
	})
}
