package badger

import (
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/taskferry/internal/interfaces"
)

const resultKeyPrefix = "result:"

// storedResult is the persisted form of one job's CSV payload
type storedResult struct {
	Key       string `badgerhold:"key"`
	JobID     string `badgerhold:"index"`
	Payload   []byte
	Size      int
	CreatedAt time.Time
}

// ResultStorage implements interfaces.ResultStorage on badgerhold
type ResultStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.ResultStorage = (*ResultStorage)(nil)

// NewResultStorage creates a result store on db
func NewResultStorage(db *BadgerDB, logger arbor.ILogger) *ResultStorage {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

// SaveResult stores the payload for a job, replacing any earlier one, and
// returns the key to reference it by
func (s *ResultStorage) SaveResult(jobID string, payload []byte) (string, error) {
	key := resultKeyPrefix + jobID
	record := storedResult{
		Key:       key,
		JobID:     jobID,
		Payload:   payload,
		Size:      len(payload),
		CreatedAt: time.Now(),
	}

	if err := s.db.Store().Upsert(key, &record); err != nil {
		return "", fmt.Errorf("failed to save result for job %s: %w", jobID, err)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Int("bytes", len(payload)).
		Msg("Export result stored")

	return key, nil
}

// GetResult returns a stored payload
func (s *ResultStorage) GetResult(key string) ([]byte, error) {
	var record storedResult
	err := s.db.Store().Get(key, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return record.Payload, nil
}

// DeleteResult removes a stored payload. Missing keys are not an error.
func (s *ResultStorage) DeleteResult(key string) error {
	err := s.db.Store().Delete(key, storedResult{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	return nil
}

// Close closes the underlying store
func (s *ResultStorage) Close() error {
	return s.db.Close()
}
