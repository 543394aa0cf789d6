package jobs

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/taskferry/internal/common"
	"github.com/ternarybob/taskferry/internal/interfaces"
	"github.com/ternarybob/taskferry/internal/models"
)

func intPtr(v int) *int { return &v }

func newTestRegistry(start time.Time) (*Registry, *common.ManualClock) {
	clock := common.NewManualClock(start)
	return NewRegistry(clock, common.GetLogger()), clock
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r, clock := newTestRegistry(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))

	job := &models.ExportJob{ProductiveToken: "secret", Options: models.ExportOptions{ProjectID: "p1"}}
	require.NoError(t, r.Create(job))

	assert.NotEmpty(t, job.ID)
	got, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusPending, got.Status)
	assert.Equal(t, clock.Now(), got.CreatedAt)
	assert.Equal(t, "secret", got.ProductiveToken)

	// Returned copies are detached from the stored job
	got.Logs = append(got.Logs, models.LogEntry{Message: "x"})
	again, _ := r.Get(job.ID)
	assert.Empty(t, again.Logs)

	assert.Error(t, r.Create(&models.ExportJob{ID: job.ID}))

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}

func TestRegistry_StatusTransitions(t *testing.T) {
	r, _ := newTestRegistry(time.Now())
	require.NoError(t, r.Create(&models.ExportJob{ID: "j1"}))

	running := models.ExportStatusRunning
	_, err := r.Update("j1", models.JobPatch{Status: &running})
	require.NoError(t, err)

	require.NoError(t, r.Complete("j1", "result-key"))

	// Exactly one terminal transition
	assert.ErrorIs(t, r.Fail("j1", "late failure"), interfaces.ErrInvalidTransition)
	_, err = r.Update("j1", models.JobPatch{Status: &running})
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)
	completed := models.ExportStatusCompleted
	_, err = r.Update("j1", models.JobPatch{Status: &completed})
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)

	job, _ := r.Get("j1")
	assert.Equal(t, models.ExportStatusCompleted, job.Status)
	assert.Equal(t, "result-key", job.ResultKey)
	assert.Empty(t, job.Error)
}

func TestRegistry_StartStampsStartTime(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	r, clock := newTestRegistry(start)
	require.NoError(t, r.Create(&models.ExportJob{ID: "j1"}))

	clock.Advance(5 * time.Second)
	require.NoError(t, r.Start("j1"))

	job, _ := r.Get("j1")
	assert.Equal(t, models.ExportStatusRunning, job.Status)
	assert.Equal(t, start.Add(5*time.Second), job.Progress.StartTime)
}

func TestRegistry_AddProgressConcurrent(t *testing.T) {
	r, _ := newTestRegistry(time.Now())
	require.NoError(t, r.Create(&models.ExportJob{ID: "j1"}))
	require.NoError(t, r.AddProgress("j1", models.ProgressDelta{TotalTasks: intPtr(100)}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.AddProgress("j1", models.ProgressDelta{CommentsProcessed: 2})
		}()
	}
	wg.Wait()

	job, _ := r.Get("j1")
	assert.Equal(t, 100, job.Progress.CommentsProcessed)
}

func TestRegistry_ClampsTasksProcessed(t *testing.T) {
	r, _ := newTestRegistry(time.Now())
	require.NoError(t, r.Create(&models.ExportJob{ID: "j1"}))

	require.NoError(t, r.AddProgress("j1", models.ProgressDelta{TotalTasks: intPtr(3), TasksProcessed: 5}))

	job, _ := r.Get("j1")
	assert.Equal(t, 3, job.Progress.TasksProcessed)

	_, err := r.Update("j1", models.JobPatch{Progress: &models.ProgressStats{TotalTasks: 2, TasksProcessed: 9}})
	require.NoError(t, err)
	job, _ = r.Get("j1")
	assert.Equal(t, 2, job.Progress.TasksProcessed)
}

func TestRegistry_StopAndShouldStop(t *testing.T) {
	r, _ := newTestRegistry(time.Now())
	require.NoError(t, r.Create(&models.ExportJob{ID: "j1"}))

	assert.False(t, r.ShouldStop("j1"))
	require.NoError(t, r.Stop("j1"))
	assert.True(t, r.ShouldStop("j1"))

	// Vanished jobs stop their workers
	assert.True(t, r.ShouldStop("missing"))
	assert.ErrorIs(t, r.Stop("missing"), interfaces.ErrJobNotFound)
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	r, clock := newTestRegistry(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Create(&models.ExportJob{ID: fmt.Sprintf("j%d", i)}))
		clock.Advance(time.Minute)
	}

	jobs := r.List()
	require.Len(t, jobs, 3)
	assert.Equal(t, "j2", jobs[0].ID)
	assert.Equal(t, "j0", jobs[2].ID)

	require.NoError(t, r.Delete("j1"))
	assert.Len(t, r.List(), 2)
	assert.ErrorIs(t, r.Delete("j1"), interfaces.ErrJobNotFound)
}
