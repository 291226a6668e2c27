/*
scheduler.go - Automated quarter-end interest posting

PURPOSE:
  Periodically posts interest for the quarter that just ended, for every
  active product on the quarterly minimum-balance method that has not been
  posted yet.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Targets the quarter before the one containing "now"
  - Skips a product once any batch exists for the quarter, reversed or
    not: a reversal is an operator decision and is never re-posted
    automatically
  - Concurrent instances are safe: the engine's lock and the batch
    uniqueness constraint turn a lost race into a skip

CONFIGURATION:
  - SCHEDULER_ENABLED:  Whether the scheduler is started (default: false)
  - SCHEDULER_INTERVAL: How often to check (default: 1 hour)
  - SCHEDULER_ACTOR:    Audit actor recorded on posted batches

USAGE:
  scheduler := NewQuarterEndScheduler(store, engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunInterest endpoint (manual posting)
  - interest/batch.go: Run
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/interest"
)

// QuarterEndReport summarizes one scheduler pass.
type QuarterEndReport struct {
	Quarter string
	Posted  []string          // product codes
	Skipped []string          // already posted or lost a race
	Failed  map[string]string // product code -> error
}

// QuarterEndScheduler posts ended quarters automatically.
type QuarterEndScheduler struct {
	Store         bank.Store
	Engine        *interest.Engine
	CheckInterval time.Duration
	Actor         string
	Enabled       bool

	logger *slog.Logger
	now    func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQuarterEndScheduler creates a new scheduler.
func NewQuarterEndScheduler(store bank.Store, engine *interest.Engine, logger *slog.Logger) *QuarterEndScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuarterEndScheduler{
		Store:         store,
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Actor:         "system:quarter-end",
		Enabled:       true,
		logger:        logger.With(slog.String("component", "scheduler")),
		now:           time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *QuarterEndScheduler) WithNow(now func() time.Time) *QuarterEndScheduler {
	if now != nil {
		s.now = now
	}
	return s
}

// Start begins the scheduler.
func (s *QuarterEndScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.logger.Info("scheduler started", slog.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (s *QuarterEndScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.logger.Info("scheduler stopped")
	}
}

func (s *QuarterEndScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunOnce performs one pass and reports what it did.
func (s *QuarterEndScheduler) RunOnce(ctx context.Context) QuarterEndReport {
	report := QuarterEndReport{Failed: map[string]string{}}

	quarter, err := bank.PreviousQuarter(bank.QuarterFor(s.now()))
	if err != nil {
		s.logger.Error("resolve previous quarter", slog.Any("error", err))
		return report
	}
	report.Quarter = quarter

	products, err := s.Store.ListProducts(ctx)
	if err != nil {
		s.logger.Error("list products", slog.Any("error", err))
		return report
	}

	for _, p := range products {
		if !p.Active || p.InterestMethod != bank.MethodQuarterlyMinBalance {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		_, err := s.Store.LatestBatch(ctx, p.Code, quarter)
		switch {
		case err == nil:
			report.Skipped = append(report.Skipped, p.Code)
			continue
		case !errors.Is(err, bank.ErrBatchNotFound):
			report.Failed[p.Code] = err.Error()
			s.logger.Error("check batch", slog.String("product", p.Code), slog.Any("error", err))
			continue
		}

		summary, err := s.Engine.Run(ctx, p.Code, quarter, s.Actor)
		switch {
		case err == nil:
			report.Posted = append(report.Posted, p.Code)
			s.logger.Info("quarter posted",
				slog.String("product", p.Code),
				slog.String("quarter", quarter),
				slog.Int("accounts", summary.Batch.AccountCount),
				slog.String("total", summary.Batch.TotalInterest.StringFixed(2)))
		case errors.Is(err, bank.ErrBatchAlreadyActive), errors.Is(err, bank.ErrOperationInProgress):
			// Another instance got there first.
			report.Skipped = append(report.Skipped, p.Code)
		default:
			report.Failed[p.Code] = err.Error()
			s.logger.Error("quarter posting failed",
				slog.String("product", p.Code),
				slog.String("quarter", quarter),
				slog.Any("error", err))
		}
	}

	if len(report.Posted) > 0 || len(report.Failed) > 0 {
		s.logger.Info("scheduler pass complete",
			slog.String("quarter", quarter),
			slog.Int("posted", len(report.Posted)),
			slog.Int("skipped", len(report.Skipped)),
			slog.Int("failed", len(report.Failed)))
	}
	return report
}
