// Package scheduler provides the background trigger for offline queue drains.
//
// Queue writers call RegisterWake, which never blocks; the scheduler turns
// wakes into drains on its own goroutine. It also drains on a fixed interval
// and prunes expired cache entries once a day.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/storysync/internal/logging"
	"github.com/kimhsiao/storysync/internal/sync/queue"
)

// Drainer replays the offline queue.
type Drainer interface {
	Drain(ctx context.Context) (queue.DrainResult, error)
}

// Cleaner removes expired cached content.
type Cleaner interface {
	CleanupExpiredCache(ctx context.Context) error
}

// Config holds scheduler configuration.
type Config struct {
	DrainInterval   time.Duration // periodic drain (default: 5 minutes)
	CleanupInterval time.Duration // cache cleanup (default: 24 hours)
	DrainTimeout    time.Duration // bound on a single drain (default: 5 minutes)
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		DrainInterval:   5 * time.Minute,
		CleanupInterval: 24 * time.Hour,
		DrainTimeout:    5 * time.Minute,
	}
}

// Status is a snapshot of the scheduler.
type Status struct {
	IsRunning       bool              `json:"isRunning"`
	LastDrainTime   *time.Time        `json:"lastDrainTime,omitempty"`
	LastDrain       queue.DrainResult `json:"lastDrain"`
	LastCleanupTime *time.Time        `json:"lastCleanupTime,omitempty"`
	Wakes           map[string]int    `json:"wakes"`
}

// Scheduler manages background drains.
type Scheduler struct {
	cfg    Config
	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu              sync.RWMutex
	isRunning       bool
	wakes           map[string]int
	lastDrainTime   time.Time
	lastDrain       queue.DrainResult
	lastCleanupTime time.Time
}

// New creates a Scheduler. Zero config fields take the defaults.
func New(cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = def.DrainInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &Scheduler{
		cfg:    cfg,
		wakeCh: make(chan struct{}, 1),
		wakes:  make(map[string]int),
	}
}

// RegisterWake asks for a drain as soon as possible. Wakes registered while
// a drain is pending coalesce into it; wakes registered before Start are
// served once the scheduler starts.
func (s *Scheduler) RegisterWake(tag string) {
	s.mu.Lock()
	s.wakes[tag]++
	s.mu.Unlock()

	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
	logging.Debug("Background wake registered", map[string]interface{}{"tag": tag})
}

// Start starts the background loops. cleaner may be nil.
func (s *Scheduler) Start(ctx context.Context, drainer Drainer, cleaner Cleaner) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.drainLoop(ctx, drainer)

	if cleaner != nil {
		s.wg.Add(1)
		go s.cleanupLoop(ctx, cleaner)
	}

	logging.Info("Background scheduler started", map[string]interface{}{
		"drain_interval":   s.cfg.DrainInterval.String(),
		"cleanup_interval": s.cfg.CleanupInterval.String(),
	})
}

// Stop stops the background loops and waits for a running drain to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background scheduler stopped", nil)
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context, drainer Drainer, cleaner Cleaner) error {
	s.Start(ctx, drainer, cleaner)
	<-ctx.Done()
	s.Stop()
	return nil
}

// drainLoop serves wakes and the periodic drain. Drains run inline, so
// this loop never overlaps drains of its own.
func (s *Scheduler) drainLoop(ctx context.Context, drainer Drainer) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.wakeCh:
			s.drain(ctx, drainer, "wake")
		case <-ticker.C:
			s.drain(ctx, drainer, "periodic")
		}
	}
}

func (s *Scheduler) cleanupLoop(ctx context.Context, cleaner Cleaner) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := cleaner.CleanupExpiredCache(ctx); err != nil {
				logging.Error("Scheduled cache cleanup failed", err, nil)
				continue
			}
			s.mu.Lock()
			s.lastCleanupTime = time.Now()
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) drain(ctx context.Context, drainer Drainer, trigger string) {
	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.DrainTimeout)
	defer cancel()

	result, err := drainer.Drain(drainCtx)
	if err != nil {
		logging.Error("Background drain failed", err, map[string]interface{}{
			"trigger": trigger,
		})
		return
	}
	if result.Skipped {
		logging.Debug("Background drain skipped", map[string]interface{}{
			"trigger": trigger,
			"reason":  result.Reason,
		})
		return
	}

	s.mu.Lock()
	s.lastDrainTime = time.Now()
	s.lastDrain = result
	s.mu.Unlock()
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		IsRunning: s.isRunning,
		LastDrain: s.lastDrain,
		Wakes:     make(map[string]int, len(s.wakes)),
	}
	for tag, n := range s.wakes {
		status.Wakes[tag] = n
	}
	if !s.lastDrainTime.IsZero() {
		t := s.lastDrainTime
		status.LastDrainTime = &t
	}
	if !s.lastCleanupTime.IsZero() {
		t := s.lastCleanupTime
		status.LastCleanupTime = &t
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
