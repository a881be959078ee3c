package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/extract"
	"github.com/sells-group/distill-cli/internal/governor"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/runner"
)

// ExtractionStage moves queued jobs through the extraction provider in
// fixed-size batches.
type ExtractionStage struct {
	ext       extract.Extractor
	gov       *governor.Governor
	batchSize int
	parallel  int
	debug     bool
}

// NewExtractionStage creates an ExtractionStage.
func NewExtractionStage(ext extract.Extractor, gov *governor.Governor, batchSize, parallel int, debug bool) *ExtractionStage {
	if batchSize < 1 {
		batchSize = 1
	}
	return &ExtractionStage{ext: ext, gov: gov, batchSize: batchSize, parallel: parallel, debug: debug}
}

// Run extracts every job in READY_FOR_EXTRACTION. Batches not yet admitted
// when stop is cancelled are left untouched.
func (s *ExtractionStage) Run(stop context.Context, jobs []model.Job, sink Sink) {
	queued := lo.Filter(jobs, func(j model.Job, _ int) bool {
		return j.Status == model.JobStatusReadyForExtraction
	})
	if len(queued) == 0 {
		return
	}
	batches := lo.Chunk(queued, s.batchSize)
	zap.L().Debug("extraction: stage started",
		zap.String("provider", s.ext.Name()),
		zap.Int("jobs", len(queued)),
		zap.Int("batches", len(batches)),
	)
	runner.Run(stop, batches, s.parallel, func(batch []model.Job) {
		s.process(stop, batch, sink)
	})
}

func (s *ExtractionStage) process(stop context.Context, batch []model.Job, sink Sink) {
	log := zap.L().With(zap.String("stage", "extraction"), zap.String("provider", s.ext.Name()))
	sink.Submit(moveAll(batch, model.JobStatusExtracting, "")...)

	ticket, err := s.gov.Authorize(stop, governor.ProviderExtraction)
	if err != nil {
		log.Warn("extraction: call refused", zap.Error(err))
		sink.Submit(moveAll(batch, model.JobStatusError, err.Error())...)
		return
	}
	sink.Called(governor.ProviderExtraction)

	urls := lo.Map(batch, func(j model.Job, _ int) string { return j.URL })
	start := time.Now()
	res, err := s.ext.Extract(context.WithoutCancel(stop), urls)
	ticket.Done(err)

	if stop.Err() != nil {
		log.Debug("extraction: result discarded after stop", zap.Int("urls", len(urls)))
		return
	}
	if err != nil {
		log.Warn("extraction: batch failed",
			zap.Int("urls", len(urls)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Error(err),
		)
		sink.Submit(moveAll(batch, model.JobStatusError, err.Error())...)
		return
	}

	sink.Submit(s.partition(batch, res)...)
}

// partition maps a batch result back onto jobs. URLs match exactly first,
// then ignoring a trailing slash, since providers sometimes normalize it.
func (s *ExtractionStage) partition(batch []model.Job, res *extract.Result) []Transition {
	pages := make(map[string]extract.Page, len(res.Succeeded)*2)
	for _, p := range res.Succeeded {
		pages[p.URL] = p
		if _, ok := pages[trimSlash(p.URL)]; !ok {
			pages[trimSlash(p.URL)] = p
		}
	}
	failures := make(map[string]string, len(res.Failed)*2)
	for _, f := range res.Failed {
		failures[f.URL] = f.Reason
		if _, ok := failures[trimSlash(f.URL)]; !ok {
			failures[trimSlash(f.URL)] = f.Reason
		}
	}

	ts := make([]Transition, 0, len(batch))
	for _, j := range batch {
		if p, ok := lookup(pages, j.URL); ok {
			ts = append(ts, s.succeeded(j, p, res.ResponseTime))
			continue
		}
		reason, ok := lookup(failures, j.URL)
		if !ok || reason == "" {
			reason = ReasonExtractionFailed
		}
		ts = append(ts, Transition{JobID: j.ID, To: model.JobStatusError, Reason: reason})
	}
	return ts
}

func (s *ExtractionStage) succeeded(j model.Job, p extract.Page, took time.Duration) Transition {
	debug := s.debug
	return Transition{
		JobID: j.ID,
		To:    model.JobStatusReadyForLLM,
		Apply: func(job *model.Job) {
			job.RawContent = p.Content
			stats := model.StatsOf(p.Content)
			job.RawStats = &stats
			if debug {
				job.Debug = &model.JobDebug{
					ExtractionResult:       p.Raw,
					ExtractionResponseTime: took,
				}
			}
		},
	}
}

func lookup[V any](m map[string]V, url string) (V, bool) {
	if v, ok := m[url]; ok {
		return v, true
	}
	v, ok := m[trimSlash(url)]
	return v, ok
}

func trimSlash(url string) string {
	return strings.TrimRight(url, "/")
}
