package extract

import (
	"context"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	Extractor
	limiter *rate.Limiter
}

// WithRateLimit paces batch requests to at most rps per second with the
// given burst. A non-positive rps returns ext unchanged.
func WithRateLimit(ext Extractor, rps float64, burst int) Extractor {
	if rps <= 0 {
		return ext
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{Extractor: ext, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimited) Extract(ctx context.Context, urls []string) (*Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Extractor.Extract(ctx, urls)
}
