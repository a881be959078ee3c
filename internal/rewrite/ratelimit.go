package rewrite

import (
	"context"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	Rewriter
	limiter *rate.Limiter
}

// WithRateLimit paces requests to at most rps per second with the given
// burst. A non-positive rps returns r unchanged.
func WithRateLimit(r Rewriter, rps float64, burst int) Rewriter {
	if rps <= 0 {
		return r
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{Rewriter: r, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimited) Rewrite(ctx context.Context, content string) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Rewriter.Rewrite(ctx, content)
}
