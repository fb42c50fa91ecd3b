package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// DefaultTitle is stored when a job is created without a title.
const DefaultTitle = "Untitled"

// Valid reports whether s is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusInProgress, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for completed and failed jobs.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) String() string {
	return string(s)
}

// CanTransition reports whether a job may move from one status to another.
// Staying in a non-terminal status is allowed so progress can advance.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to.Valid()
	case JobStatusInProgress:
		return to == JobStatusInProgress || to.IsTerminal()
	default:
		return false
	}
}

// Job is one tracked request to fetch a remote resource into a downloadable artifact.
type Job struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner"`
	SourceURL      string    `json:"sourceUrl"`
	Title          string    `json:"title"`
	Thumbnail      string    `json:"thumbnail"`
	SelectedFormat string    `json:"selectedFormat"`
	Status         JobStatus `json:"status"`
	Progress       int       `json:"progress"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	Error          string    `json:"error,omitempty"`
}

// State returns the mutable part of the job.
func (j Job) State() JobState {
	return JobState{Status: j.Status, Progress: j.Progress, Error: j.Error}
}

// JobState holds the only fields that change after creation. Stores use it
// both as the compare-and-set expectation and as the replacement value.
type JobState struct {
	Status   JobStatus
	Progress int
	Error    string
}
