package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/taskferry/internal/common"
	"github.com/ternarybob/taskferry/internal/models"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []models.LogEntry
}

func (s *recordingSink) Log(severity models.Severity, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, models.LogEntry{Severity: severity, Message: message})
}

func (s *recordingSink) count(severity models.Severity, contains string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Severity == severity && strings.Contains(e.Message, contains) {
			n++
		}
	}
	return n
}

// progressRecorder keeps every delta in arrival order
type progressRecorder struct {
	mu     sync.Mutex
	deltas []models.ProgressDelta
	stop   bool
}

func (p *progressRecorder) AddProgress(_ string, delta models.ProgressDelta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deltas = append(p.deltas, delta)
	return nil
}

func (p *progressRecorder) ShouldStop(string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop
}

func (p *progressRecorder) activeGauges() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int
	for _, d := range p.deltas {
		if d.ActiveRequests != nil {
			out = append(out, *d.ActiveRequests)
		}
	}
	return out
}

func (p *progressRecorder) processed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, d := range p.deltas {
		total += d.TasksProcessed
	}
	return total
}

func makeTasks(n int) []models.Task {
	tasks := make([]models.Task, n)
	for i := range tasks {
		tasks[i] = models.Task{ID: fmt.Sprintf("t%d", i+1), Number: fmt.Sprintf("%d", i+1), Title: fmt.Sprintf("Task %d", i+1)}
	}
	return tasks
}

func echo(_ context.Context, task models.Task) (models.ExportRecord, error) {
	return models.ExportRecord{TaskID: task.ID, Title: task.Title}, nil
}

func TestProcessor_ChunkGaugesAndPacing(t *testing.T) {
	clock := common.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	tracker := &progressRecorder{}
	p := NewProcessor(tracker, 5, 300*time.Millisecond, clock, common.GetLogger())

	var chunks [][]string
	after := func(_ context.Context, results []ItemResult) {
		ids := make([]string, 0, len(results))
		for _, r := range results {
			ids = append(ids, r.Task.ID)
		}
		chunks = append(chunks, ids)
	}

	results := p.Run(context.Background(), "job-1", makeTasks(12), echo, after, nil)

	require.Len(t, results, 12)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, fmt.Sprintf("t%d", i+1), r.Record.TaskID)
	}

	assert.Equal(t, []int{5, 0, 5, 0, 2, 0}, tracker.activeGauges())
	assert.Equal(t, 12, tracker.processed())
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 300 * time.Millisecond}, clock.Sleeps())
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"t11", "t12"}, chunks[2])
}

func TestProcessor_ChunkIsBoundedAndJoined(t *testing.T) {
	tracker := &progressRecorder{}
	p := NewProcessor(tracker, 3, 0, common.NewManualClock(time.Now()), common.GetLogger())

	var mu sync.Mutex
	inFlight, peak := 0, 0
	handle := func(ctx context.Context, task models.Task) (models.ExportRecord, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return echo(ctx, task)
	}

	p.Run(context.Background(), "job-1", makeTasks(10), handle, nil, nil)
	assert.LessOrEqual(t, peak, 3)
	assert.Equal(t, 10, tracker.processed())
}

func TestProcessor_FailureIsolation(t *testing.T) {
	tracker := &progressRecorder{}
	sink := &recordingSink{}
	p := NewProcessor(tracker, 5, 0, common.NewManualClock(time.Now()), common.GetLogger())

	handle := func(ctx context.Context, task models.Task) (models.ExportRecord, error) {
		switch task.ID {
		case "t2":
			return models.ExportRecord{}, errors.New("upstream exploded")
		case "t3":
			panic("nil map write")
		}
		return echo(ctx, task)
	}

	results := p.Run(context.Background(), "job-1", makeTasks(4), handle, nil, sink)

	require.Len(t, results, 4)
	assert.NoError(t, results[0].Err)
	assert.EqualError(t, results[1].Err, "upstream exploded")
	assert.ErrorContains(t, results[2].Err, "panic: nil map write")
	assert.NoError(t, results[3].Err)
	assert.Equal(t, "t4", results[3].Record.TaskID)

	assert.Equal(t, 1, sink.count(models.SeverityError, "Task #2 failed"))
	assert.Equal(t, 1, sink.count(models.SeverityError, "Task #3 failed"))
	assert.Equal(t, 4, tracker.processed())
}

func TestProcessor_StopFlagSkipsWork(t *testing.T) {
	tracker := &progressRecorder{stop: true}
	sink := &recordingSink{}
	p := NewProcessor(tracker, 5, 0, common.NewManualClock(time.Now()), common.GetLogger())

	called := false
	handle := func(ctx context.Context, task models.Task) (models.ExportRecord, error) {
		called = true
		return echo(ctx, task)
	}

	results := p.Run(context.Background(), "job-1", makeTasks(3), handle, nil, sink)

	assert.False(t, called)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, ErrJobStopped)
	}
	assert.Equal(t, 3, sink.count(models.SeverityWarning, "job stopped"))
}

func TestProcessor_CancelledContext(t *testing.T) {
	tracker := &progressRecorder{}
	p := NewProcessor(tracker, 2, 0, common.NewManualClock(time.Now()), common.GetLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := p.Run(ctx, "job-1", makeTasks(3), echo, nil, nil)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Empty(t, tracker.activeGauges())
}

func TestProcessor_DefaultWidth(t *testing.T) {
	p := NewProcessor(&progressRecorder{}, 0, 0, nil, nil)
	assert.Equal(t, DefaultReplicationWidth, p.Width())
}
