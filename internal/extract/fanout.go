package extract

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/distill-cli/internal/resilience"
)

// ErrBlocked marks a page refused by anti-bot protection.
var ErrBlocked = eris.New("blocked")

// ErrEmptyPage marks a page with too little content to be useful.
var ErrEmptyPage = eris.New("empty page")

type fetchFunc func(ctx context.Context, url string) (Page, error)

// fanOut runs fetch over urls with at most limit in flight. Results keep
// input order. The batch fails only when every URL failed at the transport
// level, which usually means the backend itself is unreachable.
func fanOut(ctx context.Context, name string, urls []string, limit int, fetch fetchFunc) (*Result, error) {
	if limit < 1 {
		limit = 1
	}
	start := time.Now()

	pages := make([]*Page, len(urls))
	errs := make([]error, len(urls))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, u := range urls {
		g.Go(func() error {
			p, err := fetch(ctx, u)
			if err != nil {
				errs[i] = err
				return nil
			}
			if p.URL == "" {
				p.URL = u
			}
			pages[i] = &p
			return nil
		})
	}
	_ = g.Wait()

	out := &Result{ResponseTime: time.Since(start)}
	transport := 0
	for i, u := range urls {
		if pages[i] != nil {
			out.Succeeded = append(out.Succeeded, *pages[i])
			continue
		}
		if isTransport(errs[i]) {
			transport++
		}
		out.Failed = append(out.Failed, Failure{URL: u, Reason: errs[i].Error()})
	}

	if len(urls) > 0 && transport == len(urls) {
		return nil, eris.Wrapf(errs[0], "%s: all %d urls failed", name, len(urls))
	}
	return out, nil
}

func isTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBlocked) || errors.Is(err, ErrEmptyPage) {
		return false
	}
	return resilience.StatusOf(err) == 0
}
