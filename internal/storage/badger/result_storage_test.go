package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/taskferry/internal/common"
	"github.com/ternarybob/taskferry/internal/interfaces"
)

func newTestResultStorage(t *testing.T) *ResultStorage {
	t.Helper()
	logger := common.GetLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{})
	require.NoError(t, err)
	storage := NewResultStorage(db, logger)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestResultStorage_SaveGetDelete(t *testing.T) {
	storage := newTestResultStorage(t)

	key, err := storage.SaveResult("job-1", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, "result:job-1", key)

	payload, err := storage.GetResult(key)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(payload))

	// Saving again replaces the payload
	_, err = storage.SaveResult("job-1", []byte("x\n"))
	require.NoError(t, err)
	payload, _ = storage.GetResult(key)
	assert.Equal(t, "x\n", string(payload))

	require.NoError(t, storage.DeleteResult(key))
	_, err = storage.GetResult(key)
	assert.ErrorIs(t, err, interfaces.ErrResultNotFound)

	assert.NoError(t, storage.DeleteResult(key))
}

func TestResultStorage_OnDisk(t *testing.T) {
	logger := common.GetLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	storage := NewResultStorage(db, logger)
	defer storage.Close()

	key, err := storage.SaveResult("job-2", []byte("ok"))
	require.NoError(t, err)
	payload, err := storage.GetResult(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), payload)
}
