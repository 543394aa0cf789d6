package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

const (
	// DefaultStreamInterval is the registry poll interval for observers
	DefaultStreamInterval = 500 * time.Millisecond

	// DefaultStreamLinger is how long a stream stays open after a terminal status
	DefaultStreamLinger = time.Second
)

// Snapshot types
const (
	SnapshotInit   = "init"
	SnapshotUpdate = "update"
)

// Snapshot is one message pushed to an observer
type Snapshot struct {
	Type string            `json:"type"`
	Job  *models.ExportJob `json:"job"`
}

// EmitFunc delivers a snapshot to an observer. An error ends the stream.
type EmitFunc func(Snapshot) error

// JobReader is the read side of the registry
type JobReader interface {
	Get(id string) (*models.ExportJob, error)
}

// Broadcaster streams registry snapshots for one job to an observer
type Broadcaster struct {
	jobs     JobReader
	interval time.Duration
	linger   time.Duration
	logger   arbor.ILogger
}

// NewBroadcaster creates a broadcaster. Zero durations use the defaults.
func NewBroadcaster(jobs JobReader, interval, linger time.Duration, logger arbor.ILogger) *Broadcaster {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	if linger <= 0 {
		linger = DefaultStreamLinger
	}
	return &Broadcaster{
		jobs:     jobs,
		interval: interval,
		linger:   linger,
		logger:   logger,
	}
}

// Stream emits an init snapshot, then an update snapshot on every poll.
// It returns nil shortly after the job reaches a terminal status,
// ErrJobNotFound as soon as the job disappears, and ctx.Err() when the
// observer goes away. The poll ticker is always released.
func (b *Broadcaster) Stream(ctx context.Context, jobID string, emit EmitFunc) error {
	job, err := b.jobs.Get(jobID)
	if err != nil {
		return interfaces.ErrJobNotFound
	}
	if err := emit(Snapshot{Type: SnapshotInit, Job: job}); err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return b.lingerThenClose(ctx)
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			job, err := b.jobs.Get(jobID)
			if err != nil {
				if errors.Is(err, interfaces.ErrJobNotFound) {
					b.logger.Debug().Str("job_id", jobID).Msg("Job vanished while streaming")
				}
				return interfaces.ErrJobNotFound
			}
			if err := emit(Snapshot{Type: SnapshotUpdate, Job: job}); err != nil {
				return err
			}
			if job.Status.IsTerminal() {
				return b.lingerThenClose(ctx)
			}
		}
	}
}

func (b *Broadcaster) lingerThenClose(ctx context.Context) error {
	timer := time.NewTimer(b.linger)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
