package interfaces

import (
	"errors"

	"github.com/ternarybob/taskferry/internal/models"
)

var (
	// ErrJobNotFound is returned for unknown or swept job IDs
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a status change would leave a terminal state
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrResultNotFound is returned when no export payload is stored under a key
	ErrResultNotFound = errors.New("result not found")
)

// JobRegistry is the in-memory store of export jobs.
// Reads return copies; the job's own processing routine is the only writer
// of status, progress and logs.
type JobRegistry interface {
	Create(job *models.ExportJob) error
	Get(id string) (*models.ExportJob, error)
	List() []*models.ExportJob
	Update(id string, patch models.JobPatch) (*models.ExportJob, error)
	AppendLog(id string, entry models.LogEntry) error
	AddProgress(id string, delta models.ProgressDelta) error
	Stop(id string) error
	ShouldStop(id string) bool
	Delete(id string) error
}

// ResultStorage keeps serialized export payloads keyed by job ID
type ResultStorage interface {
	SaveResult(jobID string, payload []byte) (string, error)
	GetResult(key string) ([]byte, error)
	DeleteResult(key string) error
	Close() error
}
