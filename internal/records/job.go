package records

import "time"

// JobStatus represents the lifecycle state of a scraper job.
type JobStatus string

// Job status values. StatusRateLimited is only ever logged; it is never stored
// as a job's status.
const (
	StatusIdle        JobStatus = "idle"
	StatusRunning     JobStatus = "running"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusRateLimited JobStatus = "rate_limited"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Options controls which phases a job runs and how much it fetches.
type Options struct {
	Properties    bool       `json:"properties" mapstructure:"properties"`
	Documents     bool       `json:"documents" mapstructure:"documents"`
	CourtCases    bool       `json:"court_cases" mapstructure:"court_cases"`
	Professionals bool       `json:"professionals" mapstructure:"professionals"`
	From          *time.Time `json:"from,omitempty" mapstructure:"from"`
	To            *time.Time `json:"to,omitempty" mapstructure:"to"`
	MaxRecords    int        `json:"max_records" mapstructure:"max_records"`
}

// AllPhases returns options with every phase enabled and no caps.
func AllPhases() Options {
	return Options{Properties: true, Documents: true, CourtCases: true, Professionals: true}
}

// JobError is one entry in a job's ordered error list.
type JobError struct {
	Message string    `json:"message"`
	Context string    `json:"context,omitempty"`
	At      time.Time `json:"at"`
}

// JobCounters tracks per-job record outcomes.
type JobCounters struct {
	RecordsProcessed int `json:"records_processed"`
	RecordsCreated   int `json:"records_created"`
	RecordsUpdated   int `json:"records_updated"`
	RecordsRejected  int `json:"records_rejected"`
}

// JobResult is the immutable snapshot a job returns once it reaches a terminal
// state.
type JobResult struct {
	JobID          string      `json:"job_id"`
	JurisdictionID string      `json:"jurisdiction_id"`
	Status         JobStatus   `json:"status"`
	Counters       JobCounters `json:"counters"`
	Errors         []JobError  `json:"errors"`
	StartedAt      time.Time   `json:"started_at"`
	CompletedAt    time.Time   `json:"completed_at"`
	Options        Options     `json:"options"`
}

// Clone returns a deep copy so callers can never mutate a stored result.
func (r JobResult) Clone() JobResult {
	out := r
	out.Errors = append([]JobError(nil), r.Errors...)
	return out
}
