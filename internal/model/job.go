package model

import (
	"encoding/json"
	"time"
)

// JobStatus represents a job's position in the extraction/rewrite state machine.
type JobStatus string

const (
	JobStatusReadyForExtraction JobStatus = "ready_for_extraction"
	JobStatusExtracting         JobStatus = "extracting"
	JobStatusReadyForLLM        JobStatus = "ready_for_llm"
	JobStatusProcessingLLM      JobStatus = "processing_llm"
	JobStatusCompleted          JobStatus = "completed"
	JobStatusError              JobStatus = "error"
)

// AllJobStatuses returns every status in pipeline order, ERROR last.
func AllJobStatuses() []JobStatus {
	return []JobStatus{
		JobStatusReadyForExtraction,
		JobStatusExtracting,
		JobStatusReadyForLLM,
		JobStatusProcessingLLM,
		JobStatusCompleted,
		JobStatusError,
	}
}

// Terminal reports whether no further transition can leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// next returns the single forward successor of s, or "" for terminal states.
func (s JobStatus) next() JobStatus {
	switch s {
	case JobStatusReadyForExtraction:
		return JobStatusExtracting
	case JobStatusExtracting:
		return JobStatusReadyForLLM
	case JobStatusReadyForLLM:
		return JobStatusProcessingLLM
	case JobStatusProcessingLLM:
		return JobStatusCompleted
	default:
		return ""
	}
}

// Label returns the operator-facing description of the status.
func (s JobStatus) Label() string {
	switch s {
	case JobStatusReadyForExtraction:
		return "Queued"
	case JobStatusExtracting:
		return "Extracting..."
	case JobStatusReadyForLLM:
		return "Ready for LLM"
	case JobStatusProcessingLLM:
		return "Processing LLM..."
	case JobStatusCompleted:
		return "Completed"
	case JobStatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// CanTransition reports whether a job may move from one status to another.
// Forward moves are one step at a time; ERROR is reachable from every
// non-terminal status and nothing leaves a terminal status.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == JobStatusError {
		return true
	}
	return from.next() == to
}

// Job is one URL's progress through the pipeline.
type Job struct {
	ID               string        `json:"id"`
	URL              string        `json:"url"`
	Status           JobStatus     `json:"status"`
	RawContent       string        `json:"raw_content,omitempty"`
	ProcessedContent string        `json:"processed_content,omitempty"`
	Error            string        `json:"error,omitempty"`
	Metrics          *JobMetrics   `json:"metrics,omitempty"`
	RawStats         *ContentStats `json:"raw_stats,omitempty"`
	ProcessedStats   *ContentStats `json:"processed_stats,omitempty"`
	RewriteDuration  time.Duration `json:"rewrite_duration,omitempty"`
	Debug            *JobDebug     `json:"debug,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// JobMetrics records how the rewrite provider finished a job.
type JobMetrics struct {
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        TokenUsage `json:"usage"`
}

// JobDebug holds raw provider payloads, populated only in debug mode.
type JobDebug struct {
	ExtractionResult       json.RawMessage `json:"extraction_result,omitempty"`
	ExtractionResponseTime time.Duration   `json:"extraction_response_time,omitempty"`
	RewriteRequest         *RewriteParams  `json:"rewrite_request,omitempty"`
	RewriteResponse        json.RawMessage `json:"rewrite_response,omitempty"`
}

// RewriteParams describes the parameters sent with a rewrite request.
type RewriteParams struct {
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	Temperature       float64 `json:"temperature"`
	SystemInstruction string  `json:"system_instruction"`
	ThinkingBudget    int     `json:"thinking_budget"`
	MaxOutputTokens   int     `json:"max_output_tokens"`
	TimeoutSecs       int     `json:"timeout_secs"`
	Retries           int     `json:"retries"`
}

// Finish reasons in the normalized (Gemini) vocabulary.
const (
	FinishReasonStop        = "STOP"
	FinishReasonUnspecified = "FINISH_REASON_UNSPECIFIED"
	FinishReasonMaxTokens   = "MAX_TOKENS"
	FinishReasonSafety      = "SAFETY"
	FinishReasonOther       = "OTHER"
)

// FinishAccepted reports whether a rewrite finish reason counts as success.
// An absent reason is accepted alongside explicit normal completion.
func FinishAccepted(reason string) bool {
	switch reason {
	case "", FinishReasonStop, FinishReasonUnspecified:
		return true
	default:
		return false
	}
}

// CountByStatus tallies jobs per status.
func CountByStatus(jobs []Job) map[JobStatus]int {
	counts := make(map[JobStatus]int, len(AllJobStatuses()))
	for _, j := range jobs {
		counts[j.Status]++
	}
	return counts
}
