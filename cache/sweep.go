package cache

import (
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// Sweeper drives a Cache's incremental garbage collection on a cron
// schedule, the background counterpart to the synchronous IncrGC call
// Connection makes at every transaction boundary (_flush_invalidations in
// spec.md §4.6). Grounded on the teacher's job scheduler
// (internal/storage/scheduler.go), which wraps the same robfig/cron.Cron
// for periodic maintenance work.
type Sweeper struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	logger  *log.Logger
}

// NewSweeper builds a Sweeper that has not yet been started.
func NewSweeper(logger *log.Logger) *Sweeper {
	return &Sweeper{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
}

// Start schedules c.IncrGC() to run on spec (a six-field cron expression
// with a leading seconds field, e.g. "*/30 * * * * *" for every 30
// seconds, or a descriptor such as "@every 5m") and starts the scheduler
// goroutine. Calling Start twice replaces the previous schedule.
func (s *Sweeper) Start(spec string, c Cache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	id, err := s.cron.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil && s.logger != nil {
				s.logger.Printf("cache sweep panic: %v", r)
			}
		}()
		c.IncrGC()
	})
	if err != nil {
		return fmt.Errorf("godbconn/cache: schedule sweep: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	return nil
}

// Stop halts the background sweep and waits for any in-flight run to
// finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	<-c.Stop().Done()
}
