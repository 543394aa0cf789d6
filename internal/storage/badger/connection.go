// Package badger stores serialized export results in a badgerhold store,
// in memory by default.
package badger

import (
	"fmt"
	"os"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/taskferry/internal/common"
)

// BadgerDB manages the Badger database connection
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig
}

// NewBadgerDB opens the store. An empty path opens an in-memory store.
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	options := badgerhold.DefaultOptions
	options.Logger = &storeLogger{logger: logger}

	if config.Path == "" {
		options.InMemory = true
		options.Dir = ""
		options.ValueDir = ""
		logger.Debug().Msg("Opening in-memory Badger store")
	} else {
		if err := os.MkdirAll(config.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		options.Dir = config.Path
		options.ValueDir = config.Path
		logger.Debug().Str("path", config.Path).Msg("Opening Badger database connection")
	}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &BadgerDB{
		store:  store,
		logger: logger,
		config: config,
	}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Close closes the database connection
func (b *BadgerDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}

// storeLogger routes badger's internal logging through arbor. Badger is
// chatty at info level, so info is demoted to debug.
type storeLogger struct {
	logger arbor.ILogger
}

var _ badgerdb.Logger = (*storeLogger)(nil)

func (l *storeLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (l *storeLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (l *storeLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (l *storeLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf("badger: "+strings.TrimSpace(format), args...)
}
