package model

import "time"

// RunConfig is the snapshot of settings a run executes with. It is taken
// once at run start and never mutated while the run is active.
type RunConfig struct {
	BatchSize          int           `json:"batch_size"`
	ExtractionParallel int           `json:"extraction_parallel"`
	RewriteParallel    int           `json:"rewrite_parallel"`
	Separator          string        `json:"separator"`
	Filename           string        `json:"filename"`
	Debug              bool          `json:"debug"`
	Rewrite            RewriteParams `json:"rewrite"` // parameters of the rewriter the run started with
}

// RunState is the lifecycle of a run.
type RunState string

const (
	RunStateRunning  RunState = "running"
	RunStateFinished RunState = "finished"
	RunStateAborted  RunState = "aborted"
)

// RunCalls counts remote calls a run made per provider.
type RunCalls struct {
	Extraction int `json:"extraction"`
	Rewrite    int `json:"rewrite"`
}

// RunResult is a snapshot of a run, final once State is not running.
type RunResult struct {
	RunID         string            `json:"run_id"`
	State         RunState          `json:"state"`
	Config        RunConfig         `json:"config"`
	Jobs          []Job             `json:"jobs"`
	Counts        map[JobStatus]int `json:"counts"`
	Output        string            `json:"output,omitempty"`
	OutputStats   ContentStats      `json:"output_stats"`
	Usage         TokenUsage        `json:"usage"`
	Calls         RunCalls          `json:"calls"`
	EstimatedCost float64           `json:"estimated_cost"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
}

// Done reports whether the run has stopped.
func (r *RunResult) Done() bool {
	return r.State != RunStateRunning
}
