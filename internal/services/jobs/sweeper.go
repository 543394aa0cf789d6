package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskferry/internal/interfaces"
)

const (
	// DefaultRetention is how long a job is kept after creation
	DefaultRetention = 24 * time.Hour

	// DefaultSweepSchedule runs the sweep every ten minutes
	DefaultSweepSchedule = "@every 10m"
)

// Sweeper periodically removes expired or stopped jobs and their stored results
type Sweeper struct {
	registry  *Registry
	results   interfaces.ResultStorage
	retention time.Duration
	schedule  string
	logger    arbor.ILogger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a sweeper. results may be nil.
func NewSweeper(registry *Registry, results interfaces.ResultStorage, retention time.Duration, schedule string, logger arbor.ILogger) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		registry:  registry,
		results:   results,
		retention: retention,
		schedule:  schedule,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start registers the sweep on its schedule and starts the cron runner
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("failed to add sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("retention", s.retention).
		Msg("Job sweeper started")

	return nil
}

// Stop halts the cron runner and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Job sweeper stopped")
}

// Sweep deletes every expired or stopped job and returns how many were removed
func (s *Sweeper) Sweep() int {
	removed := 0

	for _, job := range s.registry.Expired(s.retention) {
		if err := s.registry.Delete(job.ID); err != nil {
			continue
		}
		if job.ResultKey != "" && s.results != nil {
			if err := s.results.DeleteResult(job.ResultKey); err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to delete stored result")
			}
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Swept export jobs")
	}
	return removed
}
