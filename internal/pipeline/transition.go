package pipeline

import (
	"github.com/sells-group/distill-cli/internal/governor"
	"github.com/sells-group/distill-cli/internal/model"
)

// ReasonAborted is recorded on jobs forced to ERROR by Stop.
const ReasonAborted = "aborted by operator"

// ReasonExtractionFailed is recorded on jobs the extraction provider neither
// returned nor reported as failed.
const ReasonExtractionFailed = "extraction failed"

// Transition asks the job owner to move one job to a new status. Apply, if
// set, fills in job fields and runs only when the move is accepted.
type Transition struct {
	JobID  string
	To     model.JobStatus
	Reason string
	Apply  func(*model.Job)
}

// Sink receives the state changes produced by a stage.
type Sink interface {
	// Submit requests transitions. Moves that are not legal from a job's
	// current status are dropped.
	Submit(ts ...Transition)
	// Called records one authorized remote call.
	Called(p governor.Provider)
}

func moveAll(jobs []model.Job, to model.JobStatus, reason string) []Transition {
	ts := make([]Transition, len(jobs))
	for i, j := range jobs {
		ts[i] = Transition{JobID: j.ID, To: to, Reason: reason}
	}
	return ts
}
