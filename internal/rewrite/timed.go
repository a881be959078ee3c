package rewrite

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/resilience"
)

// DefaultRetryBase is the unit of the linear backoff between retries.
const DefaultRetryBase = 2 * time.Second

// TimedOptions configures NewTimed.
type TimedOptions struct {
	// Timeout abandons an attempt that has not answered in time. Zero
	// disables the race.
	Timeout time.Duration
	// Retries is the number of retries after the first attempt, shared by
	// rate limits and timeouts.
	Retries int
	// RetryBase is the backoff unit: the n-th retry waits RetryBase*n.
	RetryBase time.Duration
}

type timed struct {
	Rewriter
	opts TimedOptions
}

// NewTimed wraps r so every attempt races a client-side timeout and rate
// limits or timeouts are retried with linear backoff. Abandoned attempts
// keep running but their results are dropped.
func NewTimed(r Rewriter, opts TimedOptions) Rewriter {
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &timed{Rewriter: r, opts: opts}
}

func (t *timed) Params() model.RewriteParams {
	p := t.Rewriter.Params()
	p.TimeoutSecs = int(t.opts.Timeout / time.Second)
	p.Retries = t.opts.Retries
	return p
}

func (t *timed) Rewrite(ctx context.Context, content string) (*Response, error) {
	cfg := resilience.RetryConfig{
		Budgets: map[resilience.Class]resilience.Policy{
			resilience.ClassTransient: {
				Retries: t.opts.Retries,
				Delay:   t.opts.RetryBase,
				Backoff: resilience.BackoffLinear,
			},
		},
		Classify: classify,
		OnRetry:  resilience.RetryLogger(t.Name(), "rewrite"),
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Response, error) {
		return resilience.Abandon(ctx, t.opts.Timeout, func(ctx context.Context) (*Response, error) {
			return t.Rewriter.Rewrite(ctx, content)
		})
	})
}

// classify retries rate limits and timeouts from one shared budget.
func classify(err error) resilience.Class {
	if resilience.StatusOf(err) == http.StatusTooManyRequests {
		return resilience.ClassTransient
	}
	var te *resilience.TimeoutError
	if errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ClassTransient
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "timeout") {
		return resilience.ClassTransient
	}
	return resilience.ClassFatal
}
