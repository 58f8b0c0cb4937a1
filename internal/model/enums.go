package model

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusError     JobStatus = "error"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a sink: once reached, the job is
// never mutated again except by eviction.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusError, JobStatusCancelled:
		return true
	}
	return false
}

// Active reports whether the status counts against single-flight admission.
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// Quality levels
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

var ValidQualities = []Quality{QualityHigh, QualityMedium, QualityLow}
