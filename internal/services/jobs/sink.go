package jobs

import (
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskferry/internal/common"
	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

const logTimestampLayout = "15:04:05"

// JobSink appends user-visible log lines to a job and mirrors them to the
// process logger at the matching level
type JobSink struct {
	registry interfaces.JobRegistry
	jobID    string
	logger   arbor.ILogger
	clock    common.Clock
	location *time.Location
}

var _ interfaces.LogSink = (*JobSink)(nil)

// NewJobSink creates a sink for one job. Timestamps are rendered in location
// (local time when nil).
func NewJobSink(registry interfaces.JobRegistry, jobID string, logger arbor.ILogger, clock common.Clock, location *time.Location) *JobSink {
	if clock == nil {
		clock = common.SystemClock{}
	}
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = common.GetLogger()
	}
	return &JobSink{
		registry: registry,
		jobID:    jobID,
		logger:   logger.WithCorrelationId(jobID),
		clock:    clock,
		location: location,
	}
}

// Log implements interfaces.LogSink
func (s *JobSink) Log(severity models.Severity, message string) {
	entry := models.LogEntry{
		Timestamp: s.clock.Now().In(s.location).Format(logTimestampLayout),
		Message:   message,
		Severity:  severity,
	}

	// A swept job just stops collecting lines
	_ = s.registry.AppendLog(s.jobID, entry)

	switch severity {
	case models.SeverityError:
		s.logger.Error().Str("job_id", s.jobID).Msg(message)
	case models.SeverityWarning:
		s.logger.Warn().Str("job_id", s.jobID).Msg(message)
	default:
		s.logger.Info().Str("job_id", s.jobID).Str("severity", string(severity)).Msg(message)
	}
}
