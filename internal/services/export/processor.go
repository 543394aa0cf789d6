// Package export drives an export job: it fetches the project's tasks, runs
// them through enrichment and optional replication in bounded chunks, and
// stores the resulting CSV.
package export

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/taskferry/internal/common"
	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

const (
	// DefaultReplicationWidth is the chunk width when importing into Linear
	DefaultReplicationWidth = 5

	// DefaultEnrichmentWidth is the chunk width for read-only passes
	DefaultEnrichmentWidth = 10

	// DefaultChunkDelay is the pause between chunks
	DefaultChunkDelay = 300 * time.Millisecond
)

// ErrJobStopped is the item error for work skipped after a stop request
var ErrJobStopped = errors.New("job stopped")

// ItemFunc processes one task. A returned error is logged and isolated to
// the item.
type ItemFunc func(ctx context.Context, task models.Task) (models.ExportRecord, error)

// ChunkFunc runs after a chunk has fully settled, before the next one starts
type ChunkFunc func(ctx context.Context, results []ItemResult)

// ItemResult is the outcome of one task
type ItemResult struct {
	Task   models.Task
	Record models.ExportRecord
	Err    error
}

// ProgressTracker is the part of the registry the processor reports to
type ProgressTracker interface {
	AddProgress(id string, delta models.ProgressDelta) error
	ShouldStop(id string) bool
}

// Processor runs tasks through an ItemFunc in fixed-size concurrent chunks.
// Chunks run strictly one after another.
type Processor struct {
	tracker    ProgressTracker
	width      int
	chunkDelay time.Duration
	clock      common.Clock
	logger     arbor.ILogger
}

// NewProcessor creates a processor. A non-positive width uses DefaultReplicationWidth.
func NewProcessor(tracker ProgressTracker, width int, chunkDelay time.Duration, clock common.Clock, logger arbor.ILogger) *Processor {
	if width <= 0 {
		width = DefaultReplicationWidth
	}
	if clock == nil {
		clock = common.SystemClock{}
	}
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Processor{
		tracker:    tracker,
		width:      width,
		chunkDelay: chunkDelay,
		clock:      clock,
		logger:     logger,
	}
}

// Width returns the chunk width
func (p *Processor) Width() int {
	return p.width
}

// Run processes tasks and returns one result per task in input order.
//
// Before each chunk the active-request gauge is set to the chunk size;
// after it settles the gauge returns to zero and tasksProcessed grows by the
// chunk size. after, when non-nil, runs once per chunk. Each item checks the
// job's stop flag before doing any work.
func (p *Processor) Run(ctx context.Context, jobID string, tasks []models.Task, handle ItemFunc, after ChunkFunc, sink interfaces.LogSink) []ItemResult {
	if sink == nil {
		sink = interfaces.DiscardSink
	}

	results := make([]ItemResult, len(tasks))
	for i, task := range tasks {
		results[i].Task = task
	}

	for start := 0; start < len(tasks); start += p.width {
		end := start + p.width
		if end > len(tasks) {
			end = len(tasks)
		}

		if err := ctx.Err(); err != nil {
			for i := start; i < len(tasks); i++ {
				results[i].Err = err
			}
			break
		}

		if start > 0 && p.chunkDelay > 0 {
			if err := p.clock.Sleep(ctx, p.chunkDelay); err != nil {
				for i := start; i < len(tasks); i++ {
					results[i].Err = err
				}
				break
			}
		}

		size := end - start
		p.report(jobID, models.ProgressDelta{ActiveRequests: &size})

		var g errgroup.Group
		for i := start; i < end; i++ {
			idx := i
			g.Go(func() error {
				results[idx].Record, results[idx].Err = p.runItem(ctx, jobID, results[idx].Task, handle)
				return nil
			})
		}
		_ = g.Wait()

		zero := 0
		p.report(jobID, models.ProgressDelta{ActiveRequests: &zero, TasksProcessed: size})

		for i := start; i < end; i++ {
			if err := results[i].Err; err != nil {
				severity := models.SeverityError
				if errors.Is(err, ErrJobStopped) {
					severity = models.SeverityWarning
				}
				sink.Log(severity, fmt.Sprintf("Task %s failed: %v", taskLabel(results[i].Task), err))
			}
		}

		if after != nil {
			after(ctx, results[start:end])
		}

		p.logger.Debug().
			Str("job_id", jobID).
			Int("chunk_start", start).
			Int("chunk_size", size).
			Msg("Chunk settled")
	}

	return results
}

func (p *Processor) runItem(ctx context.Context, jobID string, task models.Task, handle ItemFunc) (record models.ExportRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("job_id", jobID).
				Str("task_id", task.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic while processing task")
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if p.tracker.ShouldStop(jobID) {
		return models.ExportRecord{}, ErrJobStopped
	}
	return handle(ctx, task)
}

func (p *Processor) report(jobID string, delta models.ProgressDelta) {
	if err := p.tracker.AddProgress(jobID, delta); err != nil {
		p.logger.Debug().Err(err).Str("job_id", jobID).Msg("Progress update dropped")
	}
}

func taskLabel(task models.Task) string {
	if task.Number != "" {
		return "#" + task.Number
	}
	return task.ID
}
