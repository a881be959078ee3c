package pipeline

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/governor"
	"github.com/sells-group/distill-cli/internal/model"
)

type stageKind int

const (
	stageExtraction stageKind = iota
	stageRewrite
)

func (k stageKind) String() string {
	if k == stageExtraction {
		return "extraction"
	}
	return "rewrite"
}

type event interface{ isEvent() }

type transitionsEvent struct{ ts []Transition }

type calledEvent struct{ p governor.Provider }

type stageDoneEvent struct{ stage stageKind }

type stopEvent struct{ reply chan struct{} }

func (transitionsEvent) isEvent() {}
func (calledEvent) isEvent()      {}
func (stageDoneEvent) isEvent()   {}
func (stopEvent) isEvent()        {}

// run is one execution over a JobSet. Its event loop is the only writer of
// jobs; everyone else reads the published snapshot.
type run struct {
	id      string
	cfg     model.RunConfig
	extract *ExtractionStage
	rewrite *RewriteStage

	onCompleted func(model.Job)
	costOf      CostFunc

	stop   context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}

	// Loop-owned state.
	jobs          []model.Job
	index         map[string]int
	calls         model.RunCalls
	usage         model.TokenUsage
	extractActive bool
	rewriteActive bool
	started       time.Time

	snapshot atomic.Pointer[model.RunResult]
	log      *zap.Logger
}

// Submit implements Sink.
func (r *run) Submit(ts ...Transition) {
	if len(ts) == 0 {
		return
	}
	r.send(transitionsEvent{ts: ts})
}

// Called implements Sink.
func (r *run) Called(p governor.Provider) {
	r.send(calledEvent{p: p})
}

// send delivers ev unless the loop has already exited.
func (r *run) send(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *run) loop() {
	defer close(r.done)
	defer r.cancel()

	r.activate(stageExtraction)

	for ev := range r.events {
		switch ev := ev.(type) {
		case transitionsEvent:
			r.apply(ev.ts)
		case calledEvent:
			if ev.p == governor.ProviderExtraction {
				r.calls.Extraction++
			} else {
				r.calls.Rewrite++
			}
		case stageDoneEvent:
			if ev.stage == stageExtraction {
				r.extractActive = false
			} else {
				r.rewriteActive = false
			}
			r.log.Debug("pipeline: stage idle", zap.String("stage", ev.stage.String()))
		case stopEvent:
			r.abort()
			close(ev.reply)
			return
		}

		r.schedule()
		if r.finished() {
			r.finish(model.RunStateFinished)
			return
		}
		r.publish(model.RunStateRunning, "")
	}
}

func (r *run) apply(ts []Transition) {
	next := slices.Clone(r.jobs)
	now := time.Now()
	changed := false
	for _, t := range ts {
		i, ok := r.index[t.JobID]
		if !ok {
			continue
		}
		job := &next[i]
		if !model.CanTransition(job.Status, t.To) {
			r.log.Debug("pipeline: transition dropped",
				zap.String("job_id", job.ID),
				zap.String("from", string(job.Status)),
				zap.String("to", string(t.To)),
			)
			continue
		}
		job.Status = t.To
		job.UpdatedAt = now
		if t.To == model.JobStatusError {
			job.Error = t.Reason
			job.ProcessedContent = ""
		}
		if t.Apply != nil {
			t.Apply(job)
		}
		if t.To == model.JobStatusError {
			r.log.Warn("pipeline: job failed",
				zap.String("job_id", job.ID),
				zap.String("url", job.URL),
				zap.String("reason", job.Error),
			)
		}
		if t.To == model.JobStatusCompleted {
			if job.Metrics != nil {
				r.usage.Add(job.Metrics.Usage)
			}
			if r.onCompleted != nil {
				r.onCompleted(*job)
			}
		}
		changed = true
	}
	if changed {
		r.jobs = next
	}
}

// schedule activates idle stages that have work. Rewriting starts as soon
// as any job is ready, while later batches are still extracting.
func (r *run) schedule() {
	if !r.extractActive && r.any(model.JobStatusReadyForExtraction) {
		r.activate(stageExtraction)
	}
	if !r.rewriteActive && r.any(model.JobStatusReadyForLLM) && !r.any(model.JobStatusProcessingLLM) {
		r.activate(stageRewrite)
	}
}

func (r *run) activate(k stageKind) {
	jobs := r.jobs
	if k == stageExtraction {
		r.extractActive = true
	} else {
		r.rewriteActive = true
	}
	r.log.Debug("pipeline: stage active", zap.String("stage", k.String()))
	go func() {
		if k == stageExtraction {
			r.extract.Run(r.stop, jobs, r)
		} else {
			r.rewrite.Run(r.stop, jobs, r)
		}
		r.send(stageDoneEvent{stage: k})
	}()
}

func (r *run) any(s model.JobStatus) bool {
	return lo.ContainsBy(r.jobs, func(j model.Job) bool { return j.Status == s })
}

func (r *run) finished() bool {
	if len(r.jobs) == 0 || r.extractActive || r.rewriteActive {
		return false
	}
	return lo.EveryBy(r.jobs, func(j model.Job) bool { return j.Status.Terminal() })
}

// abort cancels admissions and fails every job that has not finished.
func (r *run) abort() {
	r.cancel()
	r.extractActive = false
	r.rewriteActive = false

	var ts []Transition
	for _, j := range r.jobs {
		if !j.Status.Terminal() {
			ts = append(ts, Transition{JobID: j.ID, To: model.JobStatusError, Reason: ReasonAborted})
		}
	}
	r.apply(ts)
	r.finish(model.RunStateAborted)
}

func (r *run) finish(state model.RunState) {
	out := JoinOutput(r.jobs, r.cfg.Separator)
	r.publish(state, out)
	res := r.snapshot.Load()
	r.log.Info("pipeline: run "+string(state),
		zap.Int("completed", res.Counts[model.JobStatusCompleted]),
		zap.Int("failed", res.Counts[model.JobStatusError]),
		zap.Int("extraction_calls", res.Calls.Extraction),
		zap.Int("rewrite_calls", res.Calls.Rewrite),
		zap.Int64("duration_ms", time.Since(r.started).Milliseconds()),
	)
}

func (r *run) publish(state model.RunState, output string) {
	res := &model.RunResult{
		RunID:     r.id,
		State:     state,
		Config:    r.cfg,
		Jobs:      r.jobs,
		Counts:    model.CountByStatus(r.jobs),
		Usage:     r.usage,
		Calls:     r.calls,
		StartedAt: r.started,
	}
	for _, j := range r.jobs {
		if j.Status == model.JobStatusCompleted && j.ProcessedStats != nil {
			res.OutputStats.Add(*j.ProcessedStats)
		}
	}
	if state != model.RunStateRunning {
		now := time.Now()
		res.FinishedAt = &now
		res.Output = output
	}
	if r.costOf != nil {
		res.EstimatedCost = r.costOf(res)
	}
	r.snapshot.Store(res)
}
