package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/sells-group/distill-cli/internal/governor"
	"github.com/sells-group/distill-cli/internal/model"
	"github.com/sells-group/distill-cli/internal/rewrite"
	"github.com/sells-group/distill-cli/internal/runner"
)

// RewriteStage sends extracted jobs to the rewrite provider, one job per
// call.
type RewriteStage struct {
	rw       rewrite.Rewriter
	gov      *governor.Governor
	parallel int
	debug    bool
}

// NewRewriteStage creates a RewriteStage.
func NewRewriteStage(rw rewrite.Rewriter, gov *governor.Governor, parallel int, debug bool) *RewriteStage {
	return &RewriteStage{rw: rw, gov: gov, parallel: parallel, debug: debug}
}

// Run rewrites every job in READY_FOR_LLM. It does nothing while any job is
// still PROCESSING_LLM, so a re-entered stage never admits a job twice.
func (s *RewriteStage) Run(stop context.Context, jobs []model.Job, sink Sink) {
	if lo.ContainsBy(jobs, func(j model.Job) bool { return j.Status == model.JobStatusProcessingLLM }) {
		return
	}
	ready := lo.Filter(jobs, func(j model.Job, _ int) bool {
		return j.Status == model.JobStatusReadyForLLM
	})
	if len(ready) == 0 {
		return
	}
	runner.Run(stop, ready, s.parallel, func(j model.Job) {
		s.process(stop, j, sink)
	})
}

func (s *RewriteStage) process(stop context.Context, j model.Job, sink Sink) {
	log := zap.L().With(
		zap.String("stage", "rewrite"),
		zap.String("provider", s.rw.Name()),
		zap.String("job_id", j.ID),
		zap.String("url", j.URL),
	)
	sink.Submit(Transition{JobID: j.ID, To: model.JobStatusProcessingLLM})

	ticket, err := s.gov.Authorize(stop, governor.ProviderRewrite)
	if err != nil {
		log.Warn("rewrite: call refused", zap.Error(err))
		sink.Submit(Transition{JobID: j.ID, To: model.JobStatusError, Reason: err.Error()})
		return
	}
	sink.Called(governor.ProviderRewrite)

	start := time.Now()
	resp, err := s.rw.Rewrite(context.WithoutCancel(stop), j.RawContent)
	ticket.Done(err)
	took := time.Since(start)

	if stop.Err() != nil {
		log.Debug("rewrite: result discarded after stop")
		return
	}
	if err != nil {
		log.Warn("rewrite: failed", zap.Int64("duration_ms", took.Milliseconds()), zap.Error(err))
		sink.Submit(Transition{JobID: j.ID, To: model.JobStatusError, Reason: err.Error(), Apply: s.debugApply(resp)})
		return
	}
	if !model.FinishAccepted(resp.FinishReason) {
		log.Warn("rewrite: rejected finish reason", zap.String("finish_reason", resp.FinishReason))
		sink.Submit(Transition{
			JobID:  j.ID,
			To:     model.JobStatusError,
			Reason: fmt.Sprintf("rewrite stopped early: finish reason %s", resp.FinishReason),
			Apply: func(job *model.Job) {
				job.Metrics = &model.JobMetrics{FinishReason: resp.FinishReason, Usage: resp.Usage}
				s.debugApply(resp)(job)
			},
		})
		return
	}

	log.Debug("rewrite: completed", zap.Int64("duration_ms", took.Milliseconds()))
	sink.Submit(Transition{
		JobID: j.ID,
		To:    model.JobStatusCompleted,
		Apply: func(job *model.Job) {
			job.ProcessedContent = resp.Text
			stats := model.StatsOf(resp.Text)
			job.ProcessedStats = &stats
			if job.RawStats == nil {
				raw := model.StatsOf(job.RawContent)
				job.RawStats = &raw
			}
			job.RewriteDuration = took
			job.Metrics = &model.JobMetrics{FinishReason: resp.FinishReason, Usage: resp.Usage}
			s.debugApply(resp)(job)
		},
	})
}

// debugApply records the request parameters and raw response in debug mode.
func (s *RewriteStage) debugApply(resp *rewrite.Response) func(*model.Job) {
	return func(job *model.Job) {
		if !s.debug {
			return
		}
		d := model.JobDebug{}
		if job.Debug != nil {
			d = *job.Debug
		}
		params := s.rw.Params()
		d.RewriteRequest = &params
		if resp != nil {
			d.RewriteResponse = resp.Raw
		}
		job.Debug = &d
	}
}
