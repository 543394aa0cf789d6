package jobs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/taskferry/internal/common"
	"github.com/ternarybob/taskferry/internal/models"
)

type fakeResults struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeResults) SaveResult(jobID string, payload []byte) (string, error) { return jobID, nil }
func (f *fakeResults) GetResult(key string) ([]byte, error)                   { return nil, nil }
func (f *fakeResults) Close() error                                           { return nil }
func (f *fakeResults) DeleteResult(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func TestSweeper_RemovesExpiredAndStopped(t *testing.T) {
	r, clock := newTestRegistry(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	results := &fakeResults{}

	require.NoError(t, r.Create(&models.ExportJob{ID: "old"}))
	require.NoError(t, r.Start("old"))
	require.NoError(t, r.Complete("old", "old-result"))

	clock.Advance(23 * time.Hour)
	require.NoError(t, r.Create(&models.ExportJob{ID: "fresh"}))
	require.NoError(t, r.Create(&models.ExportJob{ID: "stopped"}))
	require.NoError(t, r.Stop("stopped"))

	clock.Advance(2 * time.Hour)

	sweeper := NewSweeper(r, results, 24*time.Hour, "", common.GetLogger())
	assert.Equal(t, 2, sweeper.Sweep())

	_, err := r.Get("fresh")
	assert.NoError(t, err)
	_, err = r.Get("old")
	assert.Error(t, err)
	_, err = r.Get("stopped")
	assert.Error(t, err)
	assert.Equal(t, []string{"old-result"}, results.deleted)
}

func TestSweeper_StartStop(t *testing.T) {
	r, _ := newTestRegistry(time.Now())
	sweeper := NewSweeper(r, nil, 0, "@every 1h", common.GetLogger())

	require.NoError(t, sweeper.Start())
	assert.Error(t, sweeper.Start())
	sweeper.Stop()
	sweeper.Stop()
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	r, _ := newTestRegistry(time.Now())
	sweeper := NewSweeper(r, nil, 0, "not a schedule", common.GetLogger())
	assert.Error(t, sweeper.Start())
}
