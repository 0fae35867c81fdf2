/*
scheduler.go - Automated period rollover

PURPOSE:
  Periodically checks whether the active period has elapsed under the
  program's schedule and advances it as rewards.SystemIdentity.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Asks the engine whether the period is due (Engine.PeriodDue)
  - A due period is closed at its scheduled boundary, which becomes the
    start of the next one. One tick advances at most one period; a server
    that was down for several periods catches up one period per tick
    without shifting later boundaries
  - Manual schedules are never due, so the scheduler is idle for them

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewPeriodScheduler(engine)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: AdvancePeriod endpoint (manual rollover)
  - rewards/period.go: Rollover policy
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/warp/contributor-rewards/generic"
	"github.com/warp/contributor-rewards/rewards"
)

// PeriodScheduler handles time-triggered period rollover.
type PeriodScheduler struct {
	Engine        *rewards.Engine
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPeriodScheduler creates a new scheduler.
func NewPeriodScheduler(engine *rewards.Engine) *PeriodScheduler {
	return &PeriodScheduler{
		Engine:        engine,
		CheckInterval: time.Minute,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (ps *PeriodScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if ps.ticker != nil {
		return
	}

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.stop = make(chan bool)
	ps.wg.Add(1)

	go ps.run()

	log.Printf("[Scheduler] Started with check interval: %v", ps.CheckInterval)
}

// Stop stops the scheduler and waits for a running check to finish.
func (ps *PeriodScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker != nil {
		ps.ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		ps.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (ps *PeriodScheduler) run() {
	defer ps.wg.Done()

	// Run immediately on start
	ps.checkAndAdvance(context.Background())

	for {
		select {
		case <-ps.ticker.C:
			ps.checkAndAdvance(context.Background())
		case <-ps.stop:
			return
		}
	}
}

// checkAndAdvance advances the period if it is due. It returns the summary
// of the closed period, or nil when nothing was advanced.
func (ps *PeriodScheduler) checkAndAdvance(ctx context.Context) *rewards.PeriodSummary {
	due, err := ps.Engine.PeriodDue(ctx)
	if err != nil {
		if !errors.Is(err, generic.ErrNotInitialized) {
			log.Printf("[Scheduler] Error checking period: %v", err)
		}
		return nil
	}
	if !due {
		return nil
	}

	summary, err := ps.Engine.AdvancePeriod(ctx, rewards.SystemIdentity)
	if err != nil {
		log.Printf("[Scheduler] Error advancing period: %v", err)
		return nil
	}
	log.Printf("[Scheduler] Closed period %d: points=%d, distributed=%d, remainder=%d",
		summary.Period, summary.TotalPoints, summary.Distributed, summary.Remainder)
	return summary
}

// RunNow triggers an immediate check (for testing/admin).
func (ps *PeriodScheduler) RunNow(ctx context.Context) *rewards.PeriodSummary {
	return ps.checkAndAdvance(ctx)
}

