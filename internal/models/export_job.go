package models

import (
	"time"
)

// ExportStatus is the lifecycle state of an export job.
// pending -> running -> completed | failed, never backwards.
type ExportStatus string

const (
	ExportStatusPending   ExportStatus = "pending"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusCompleted ExportStatus = "completed"
	ExportStatusFailed    ExportStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed
func (s ExportStatus) IsTerminal() bool {
	return s == ExportStatusCompleted || s == ExportStatusFailed
}

// CanTransitionTo reports whether moving from s to next is legal.
// Staying in the same non-terminal state counts as legal so partial updates
// that repeat the current status are harmless.
func (s ExportStatus) CanTransitionTo(next ExportStatus) bool {
	switch s {
	case ExportStatusPending:
		return next == ExportStatusPending || next == ExportStatusRunning || next.IsTerminal()
	case ExportStatusRunning:
		return next == ExportStatusRunning || next.IsTerminal()
	default:
		return false
	}
}

// Severity tags a job log line
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEntry is one user-visible line in a job's log stream. Immutable once appended.
type LogEntry struct {
	Timestamp string   `json:"timestamp"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// ProgressStats is the progress snapshot published to observers
type ProgressStats struct {
	TasksProcessed    int       `json:"tasksProcessed"`
	TotalTasks        int       `json:"totalTasks"`
	CommentsProcessed int       `json:"commentsProcessed"`
	ActiveRequests    int       `json:"activeRequests"`
	StartTime         time.Time `json:"startTime"`
}

// ExportOptions is the caller's selection for one export run
type ExportOptions struct {
	OrganizationID     string `json:"organizationId"`
	ProjectID          string `json:"projectId"`
	ImportToLinear     bool   `json:"importToLinear"`
	LinearTeamID       string `json:"linearTeamId,omitempty"`
	TestMode           bool   `json:"testMode"`
	SkipDuplicateCheck bool   `json:"skipDuplicateCheck"`
	OnlyNotDoneTasks   bool   `json:"onlyNotDoneTasks"`
}

// ExportJob is the in-memory record of one export/migration run.
// Credentials are excluded from every serialized form.
type ExportJob struct {
	ID              string        `json:"id"`
	Status          ExportStatus  `json:"status"`
	Options         ExportOptions `json:"options"`
	ProductiveToken string        `json:"-"`
	LinearAPIKey    string        `json:"-"`
	Logs            []LogEntry    `json:"logs"`
	Progress        ProgressStats `json:"progress"`
	ResultKey       string        `json:"-"`
	Error           string        `json:"error,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	ShouldStop      bool          `json:"shouldStop"`
}

// Clone returns a deep copy safe to hand to readers
func (j *ExportJob) Clone() *ExportJob {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Logs = make([]LogEntry, len(j.Logs))
	copy(clone.Logs, j.Logs)
	return &clone
}

// JobPatch is a shallow partial update. Nil fields are left untouched.
type JobPatch struct {
	Status    *ExportStatus
	Progress  *ProgressStats
	ResultKey *string
	Error     *string
}

// ProgressDelta carries counter increments and gauge settings from concurrent workers.
// Counters are added; ActiveRequests and TotalTasks replace the current value when non-nil.
type ProgressDelta struct {
	TasksProcessed    int
	CommentsProcessed int
	ActiveRequests    *int
	TotalTasks        *int
}

// JobStatusResponse is the polling fallback payload
type JobStatusResponse struct {
	ID       string        `json:"id"`
	Status   ExportStatus  `json:"status"`
	Logs     []LogEntry    `json:"logs"`
	Progress ProgressStats `json:"progress"`
	Error    string        `json:"error,omitempty"`
}

// JobSummary is the list view of a job, without logs
type JobSummary struct {
	ID        string        `json:"id"`
	Status    ExportStatus  `json:"status"`
	ProjectID string        `json:"projectId"`
	Progress  ProgressStats `json:"progress"`
	CreatedAt time.Time     `json:"createdAt"`
}

// StatusResponse builds the polling payload from a job
func (j *ExportJob) StatusResponse() JobStatusResponse {
	logs := make([]LogEntry, len(j.Logs))
	copy(logs, j.Logs)
	return JobStatusResponse{
		ID:       j.ID,
		Status:   j.Status,
		Logs:     logs,
		Progress: j.Progress,
		Error:    j.Error,
	}
}

// Summary builds the list view of a job
func (j *ExportJob) Summary() JobSummary {
	return JobSummary{
		ID:        j.ID,
		Status:    j.Status,
		ProjectID: j.Options.ProjectID,
		Progress:  j.Progress,
		CreatedAt: j.CreatedAt,
	}
}
