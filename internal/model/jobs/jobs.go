package jobs

import (
	"time"
)

// JobStatus represents the lifecycle state of a download job.
type JobStatus string

// JobStatuses for the download job.
const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCanceled  JobStatus = "CANCELED"
)

// ToString converts the JobStatus to its string representation.
func (s JobStatus) ToString() string {
	return string(s)
}

// IsTerminal reports whether the status is terminal (will no longer change).
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// validTransitions is the job state machine. Terminal states have no
// outgoing transitions.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:  {JobStatusRunning, JobStatusCanceled},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCanceled},
}

// IsValidTransition reports whether from -> to is a legal state change.
func IsValidTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrorClass is the best-effort classification of a terminal failure.
type ErrorClass string

// ErrorClasses for failed jobs. The classification is advisory, derived
// from the tool's exit code and captured output.
const (
	ErrorClassAuth               ErrorClass = "AUTH"
	ErrorClassContentUnavailable ErrorClass = "CONTENT_UNAVAILABLE"
	ErrorClassNetwork            ErrorClass = "NETWORK"
	ErrorClassTimeout            ErrorClass = "TIMEOUT"
	ErrorClassSpawnFailed        ErrorClass = "SPAWN_FAILED"
	ErrorClassCanceled           ErrorClass = "CANCELED"
	ErrorClassUnknown            ErrorClass = "UNKNOWN"
)

// ToString converts the ErrorClass to its string representation.
func (c ErrorClass) ToString() string {
	return string(c)
}

// SubmitJobRequest holds the validated, immutable parameters supplied by the
// client at submission time.
type SubmitJobRequest struct {
	Target         string `json:"target"`
	Format         string `json:"format,omitempty"`
	OutputTemplate string `json:"output_template,omitempty"`
	Priority       int    `json:"priority,omitempty"`
}

// Progress is the latest known structured progress of a job.
type Progress struct {
	Stage         string  `json:"stage,omitempty"`
	Percent       float64 `json:"percent"`
	Indeterminate bool    `json:"indeterminate,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// ExitInfo is populated only once a job reaches a terminal state.
type ExitInfo struct {
	ExitCode   int        `json:"exit_code"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
	Summary    string     `json:"summary,omitempty"`
}

// JobSnapshot is a point-in-time, read-only copy of a job record as exposed
// over the API. Timestamps are RFC3339Nano strings, empty until set.
type JobSnapshot struct {
	ID          string           `json:"id"`
	Request     SubmitJobRequest `json:"request"`
	Status      JobStatus        `json:"status"`
	Progress    Progress         `json:"progress"`
	ExitInfo    *ExitInfo        `json:"exit_info,omitempty"`
	Destination string           `json:"destination,omitempty"`
	CreatedAt   string           `json:"created_at"`
	StartedAt   string           `json:"started_at,omitempty"`
	EndedAt     string           `json:"ended_at,omitempty"`
	FirstSeq    uint64           `json:"first_seq"`
	LastSeq     uint64           `json:"last_seq"`
}

// FormatTime formats a timestamp for snapshots, mapping the zero time to "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
