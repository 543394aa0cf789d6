// Package jobs holds the in-memory export job registry, its retention sweep
// and the snapshot broadcaster that feeds progress streams.
package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskferry/internal/common"
	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

// Registry is the process-wide, mutex-guarded map of export jobs.
// Every read returns a deep copy so observers never race with the writer.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*models.ExportJob
	clock  common.Clock
	logger arbor.ILogger
}

var _ interfaces.JobRegistry = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry(clock common.Clock, logger arbor.ILogger) *Registry {
	if clock == nil {
		clock = common.SystemClock{}
	}
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Registry{
		jobs:   make(map[string]*models.ExportJob),
		clock:  clock,
		logger: logger,
	}
}

// Create stores a new job. Missing id, status and creation time are filled in.
func (r *Registry) Create(job *models.ExportJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == "" {
		job.ID = common.NewJobID()
	}
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = models.ExportStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = r.clock.Now()
	}
	if job.Logs == nil {
		job.Logs = []models.LogEntry{}
	}

	r.jobs[job.ID] = job.Clone()

	r.logger.Debug().
		Str("job_id", job.ID).
		Str("project_id", job.Options.ProjectID).
		Msg("Export job registered")

	return nil
}

// Get returns a copy of the job
func (r *Registry) Get(id string) (*models.ExportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns copies of all jobs, newest first
func (r *Registry) List() []*models.ExportJob {
	r.mu.RLock()
	out := make([]*models.ExportJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Update applies a shallow partial update. A status change that would leave
// a terminal state returns ErrInvalidTransition and changes nothing.
func (r *Registry) Update(id string, patch models.JobPatch) (*models.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}

	if patch.Status != nil && !job.Status.CanTransitionTo(*patch.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", interfaces.ErrInvalidTransition, job.Status, *patch.Status)
	}

	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Progress != nil {
		job.Progress = *patch.Progress
	}
	if patch.ResultKey != nil {
		job.ResultKey = *patch.ResultKey
	}
	if patch.Error != nil {
		job.Error = *patch.Error
	}
	clampProgress(&job.Progress)

	return job.Clone(), nil
}

// AppendLog adds a log line to the end of the job's log
func (r *Registry) AppendLog(id string, entry models.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return interfaces.ErrJobNotFound
	}
	job.Logs = append(job.Logs, entry)
	return nil
}

// AddProgress merges a delta: counters are added, gauges are replaced.
// Safe for concurrent siblings within a chunk.
func (r *Registry) AddProgress(id string, delta models.ProgressDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return interfaces.ErrJobNotFound
	}

	job.Progress.TasksProcessed += delta.TasksProcessed
	job.Progress.CommentsProcessed += delta.CommentsProcessed
	if delta.ActiveRequests != nil {
		job.Progress.ActiveRequests = *delta.ActiveRequests
	}
	if delta.TotalTasks != nil {
		job.Progress.TotalTasks = *delta.TotalTasks
	}
	clampProgress(&job.Progress)
	return nil
}

// Start moves a pending job to running and stamps the start time
func (r *Registry) Start(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return interfaces.ErrJobNotFound
	}
	if !job.Status.CanTransitionTo(models.ExportStatusRunning) {
		return fmt.Errorf("%w: %s -> %s", interfaces.ErrInvalidTransition, job.Status, models.ExportStatusRunning)
	}
	job.Status = models.ExportStatusRunning
	job.Progress.StartTime = r.clock.Now()
	return nil
}

// Complete marks the job completed with its stored result and brings
// tasksProcessed level with totalTasks
func (r *Registry) Complete(id, resultKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return interfaces.ErrJobNotFound
	}
	if !job.Status.CanTransitionTo(models.ExportStatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", interfaces.ErrInvalidTransition, job.Status, models.ExportStatusCompleted)
	}

	job.Status = models.ExportStatusCompleted
	job.ResultKey = resultKey
	job.Progress.TasksProcessed = job.Progress.TotalTasks
	job.Progress.ActiveRequests = 0
	return nil
}

// Fail marks the job failed with a fatal message
func (r *Registry) Fail(id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return interfaces.ErrJobNotFound
	}
	if !job.Status.CanTransitionTo(models.ExportStatusFailed) {
		return fmt.Errorf("%w: %s -> %s", interfaces.ErrInvalidTransition, job.Status, models.ExportStatusFailed)
	}

	job.Status = models.ExportStatusFailed
	job.Error = message
	job.Progress.ActiveRequests = 0
	return nil
}

// Stop sets the cooperative stop flag
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return interfaces.ErrJobNotFound
	}
	job.ShouldStop = true
	return nil
}

// ShouldStop reports the stop flag. A job that no longer exists reports
// true so its workers wind down after a sweep.
func (r *Registry) ShouldStop(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return true
	}
	return job.ShouldStop
}

// Delete removes the job
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return interfaces.ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}

// Expired returns jobs created more than retention ago or flagged stopped
func (r *Registry) Expired(retention time.Duration) []*models.ExportJob {
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.ExportJob
	for _, job := range r.jobs {
		if job.ShouldStop || now.Sub(job.CreatedAt) > retention {
			out = append(out, job.Clone())
		}
	}
	return out
}

func clampProgress(p *models.ProgressStats) {
	if p.TotalTasks > 0 && p.TasksProcessed > p.TotalTasks {
		p.TasksProcessed = p.TotalTasks
	}
	if p.TasksProcessed < 0 {
		p.TasksProcessed = 0
	}
	if p.ActiveRequests < 0 {
		p.ActiveRequests = 0
	}
}
