package jobs

import "time"

// EventKind discriminates the payload of a JobEvent.
type EventKind string

// EventKinds emitted on a job's stream.
const (
	EventKindProgress EventKind = "progress"
	EventKindLog      EventKind = "log"
	EventKindState    EventKind = "state"
	// EventKindGap marks that older events were evicted from the replay
	// buffer; the subscriber should re-fetch a snapshot to resynchronize.
	EventKindGap EventKind = "gap"
)

// LogStream identifies which stream of the external tool a log line came from.
type LogStream string

// LogStreams of the external tool.
const (
	LogStreamStdout LogStream = "stdout"
	LogStreamStderr LogStream = "stderr"
)

// JobEvent is the unit stored and distributed by the broadcast hub. The
// sequence number is assigned by the hub at append time and is the ordering
// authority, not the timestamp.
type JobEvent struct {
	JobID       string         `json:"job_id"`
	SequenceNum uint64         `json:"sequence_num"`
	Timestamp   time.Time      `json:"timestamp"`
	Kind        EventKind      `json:"kind"`
	Terminal    bool           `json:"terminal,omitempty"`
	Progress    *ProgressEvent `json:"progress,omitempty"`
	Log         *LogEvent      `json:"log,omitempty"`
	State       *StateEvent    `json:"state,omitempty"`
}

// ProgressEvent is the payload of a structured progress event. NonMonotonic
// is set when the percent regressed within the same stage; upstream tools
// are not contractually monotonic, so regressions are flagged rather than
// rejected.
type ProgressEvent struct {
	Stage         string  `json:"stage,omitempty"`
	Percent       float64 `json:"percent"`
	Indeterminate bool    `json:"indeterminate,omitempty"`
	Message       string  `json:"message,omitempty"`
	NonMonotonic  bool    `json:"non_monotonic,omitempty"`
}

// LogEvent is the payload of a raw log line event.
type LogEvent struct {
	Stream LogStream `json:"stream"`
	Line   string    `json:"line"`
}

// StateEvent is the payload of a state change event.
type StateEvent struct {
	Status     JobStatus  `json:"status"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
	Summary    string     `json:"summary,omitempty"`
}
