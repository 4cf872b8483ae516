/*
scheduler.go - Automated accrual and carry-forward scheduler

PURPOSE:
  Periodically runs the monthly accrual and yearly carry-forward jobs.
  Both jobs are idempotent (guarded by job run records), so the check
  interval only controls how soon after a period boundary they fire.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Carry-forward runs before accrual so January's credit lands on top
    of the carried opening balance
  - Skipped periods are cheap: each job consults its run records first

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewScheduler(accrual, carryForward, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunAccrual / RunCarryForward endpoints (manual triggers)
  - leave/accrual.go: Job implementations
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// Scheduler handles automated accrual and carry-forward runs.
type Scheduler struct {
	Accrual       *leave.AccrualJob
	CarryForward  *leave.CarryForwardJob
	CheckInterval time.Duration
	Enabled       bool

	logger *zap.Logger
	clock  func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a new scheduler.
func NewScheduler(accrual *leave.AccrualJob, carryForward *leave.CarryForwardJob, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Accrual:       accrual,
		CarryForward:  carryForward,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		logger:        logger.Named("scheduler"),
		clock:         time.Now,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.logger.Info("scheduler started", zap.Duration("check_interval", s.CheckInterval))
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.logger.Info("scheduler stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.checkAndProcess()

	for {
		select {
		case <-s.ticker.C:
			s.checkAndProcess()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) checkAndProcess() {
	ctx := context.Background()
	now := s.clock()

	// Carry-forward first: in January the new-year opening must be in
	// place before the month's accrual is credited.
	cfSummary, err := s.CarryForward.Run(ctx, now)
	if err != nil {
		s.logger.Error("carry-forward run failed", zap.Error(err))
	} else if cfSummary.TypesCarried > 0 || cfSummary.TypesFailed > 0 {
		s.logger.Info("carry-forward completed",
			zap.Int("from_year", cfSummary.FromYear),
			zap.Int("to_year", cfSummary.ToYear),
			zap.Int("types_carried", cfSummary.TypesCarried),
			zap.Int("types_skipped", cfSummary.TypesSkipped),
			zap.Int("types_failed", cfSummary.TypesFailed),
			zap.Int("rows_carried", cfSummary.RowsCarried))
	}

	acSummary, err := s.Accrual.Run(ctx, now)
	if err != nil {
		s.logger.Error("accrual run failed", zap.Error(err))
	} else if acSummary.TypesCredited > 0 || acSummary.TypesFailed > 0 {
		s.logger.Info("accrual completed",
			zap.Int("year", acSummary.Year),
			zap.Int("month", acSummary.Month),
			zap.Int("types_credited", acSummary.TypesCredited),
			zap.Int("types_skipped", acSummary.TypesSkipped),
			zap.Int("types_failed", acSummary.TypesFailed),
			zap.Int("rows_credited", acSummary.RowsCredited))
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (s *Scheduler) RunNow() {
	s.checkAndProcess()
}

// NextRunTime returns when the next scheduled check will occur.
func (s *Scheduler) NextRunTime() time.Time {
	return s.clock().Add(s.CheckInterval)
}
