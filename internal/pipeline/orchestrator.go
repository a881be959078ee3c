// Package pipeline runs URL jobs through extraction and rewriting and
// assembles the combined output document.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/extract"
	"github.com/sells-group/distill-cli/internal/governor"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/rewrite"
)

var (
	// ErrNoURLs is returned by Start when no usable URL remains.
	ErrNoURLs = eris.New("no urls to process")
	// ErrRunActive is returned by Start while another run is in progress.
	ErrRunActive = eris.New("a run is already in progress")
	// ErrNoRun is returned when no run has been started.
	ErrNoRun = eris.New("no run has been started")
)

// CostFunc estimates the cost of a run from its snapshot.
type CostFunc func(*model.RunResult) float64

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCost sets the run cost estimator.
func WithCost(fn CostFunc) Option {
	return func(o *Orchestrator) {
		o.costOf = fn
	}
}

// Orchestrator owns the current run and the token usage accumulated across
// runs.
type Orchestrator struct {
	ext    extract.Extractor
	rw     rewrite.Rewriter
	gov    *governor.Governor
	costOf CostFunc

	mu      sync.Mutex
	current *run
	usage   model.TokenUsage
}

// New creates an Orchestrator.
func New(ext extract.Extractor, rw rewrite.Rewriter, gov *governor.Governor, opts ...Option) *Orchestrator {
	o := &Orchestrator{ext: ext, rw: rw, gov: gov}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Governor returns the usage governor gating every remote call.
func (o *Orchestrator) Governor() *governor.Governor { return o.gov }

// Start builds a fresh JobSet from urls and begins extraction. The returned
// snapshot is the run's initial state.
func (o *Orchestrator) Start(ctx context.Context, urls []string, cfg model.RunConfig) (*model.RunResult, error) {
	urls = NormalizeURLs(urls)
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	cfg.Rewrite = o.rw.Params()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil && !o.current.snapshot.Load().Done() {
		return nil, ErrRunActive
	}

	now := time.Now()
	jobs := make([]model.Job, len(urls))
	index := make(map[string]int, len(urls))
	for i, u := range urls {
		jobs[i] = model.Job{
			ID:        uuid.NewString(),
			URL:       u,
			Status:    model.JobStatusReadyForExtraction,
			UpdatedAt: now,
		}
		index[jobs[i].ID] = i
	}

	id := uuid.NewString()
	stop, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		id:          id,
		cfg:         cfg,
		extract:     NewExtractionStage(o.ext, o.gov, cfg.BatchSize, cfg.ExtractionParallel, cfg.Debug),
		rewrite:     NewRewriteStage(o.rw, o.gov, cfg.RewriteParallel, cfg.Debug),
		onCompleted: o.addUsage,
		costOf:      o.costOf,
		stop:        stop,
		cancel:      cancel,
		events:      make(chan event),
		done:        make(chan struct{}),
		jobs:        jobs,
		index:       index,
		started:     now,
		log:         zap.L().With(zap.String("run_id", id)),
	}
	r.publish(model.RunStateRunning, "")
	o.current = r

	r.log.Info("pipeline: run started",
		zap.Int("jobs", len(jobs)),
		zap.String("extractor", o.ext.Name()),
		zap.String("rewriter", o.rw.Name()),
		zap.Int("batch_size", cfg.BatchSize),
	)
	go r.loop()
	return r.snapshot.Load(), nil
}

// Stop aborts the current run: admissions stop, unfinished jobs become
// ERROR, and completed jobs are joined into a partial output. Stopping a
// finished run returns its final snapshot unchanged.
func (o *Orchestrator) Stop() (*model.RunResult, error) {
	r := o.run()
	if r == nil {
		return nil, ErrNoRun
	}
	reply := make(chan struct{})
	select {
	case r.events <- stopEvent{reply: reply}:
		<-reply
	case <-r.done:
	}
	<-r.done
	return r.snapshot.Load(), nil
}

// Current returns the latest snapshot of the current run.
func (o *Orchestrator) Current() (*model.RunResult, error) {
	r := o.run()
	if r == nil {
		return nil, ErrNoRun
	}
	return r.snapshot.Load(), nil
}

// Wait blocks until the current run ends or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) (*model.RunResult, error) {
	r := o.run()
	if r == nil {
		return nil, ErrNoRun
	}
	select {
	case <-r.done:
		return r.snapshot.Load(), nil
	case <-ctx.Done():
		return r.snapshot.Load(), ctx.Err()
	}
}

// Usage returns token usage accumulated since the last reset.
func (o *Orchestrator) Usage() model.TokenUsage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.usage
}

// ResetUsage zeroes the token counters and resets the governor.
func (o *Orchestrator) ResetUsage(ctx context.Context) error {
	o.mu.Lock()
	o.usage = model.TokenUsage{}
	o.mu.Unlock()
	if err := o.gov.Reset(ctx); err != nil {
		return eris.Wrap(err, "pipeline: reset governor")
	}
	return nil
}

func (o *Orchestrator) run() *run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

func (o *Orchestrator) addUsage(j model.Job) {
	if j.Metrics == nil {
		return
	}
	o.mu.Lock()
	o.usage.Add(j.Metrics.Usage)
	o.mu.Unlock()
}
