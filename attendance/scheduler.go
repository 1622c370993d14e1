/*
scheduler.go - Automatic month-close attendance freeze

PURPOSE:
  Periodically freezes the attendance of the month that just closed for a
  fixed set of tenants, so payroll finds snapshots without an operator
  calling the freeze endpoint.

DESIGN:
  - Background goroutine with a configurable check interval
  - The closed period is the one before the period containing Clock.Now()
  - Each (tenant, period) is frozen once per process; restarts freeze again,
    which is harmless because snapshots are upserted
  - Periods already locked by a payroll run are skipped silently

USAGE:
  sched := attendance.NewFreezeScheduler(svc, []generic.TenantID{"acme"}, time.Hour)
  sched.Start(ctx)
  // ... later
  sched.Stop()

SEE ALSO:
  - service.go: Freeze
  - cmd/server/main.go: wiring from config
*/
package attendance

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
)

// FreezeScheduler freezes the previous period of each tenant on a timer.
type FreezeScheduler struct {
	Service       *Service
	Tenants       []generic.TenantID
	CheckInterval time.Duration

	mu     sync.Mutex
	done   map[generic.TenantID]generic.Period
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFreezeScheduler(svc *Service, tenants []generic.TenantID, interval time.Duration) *FreezeScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &FreezeScheduler{
		Service:       svc,
		Tenants:       tenants,
		CheckInterval: interval,
		done:          make(map[generic.TenantID]generic.Period),
	}
}

// Start runs a first check immediately, then one per interval until Stop or
// until ctx is cancelled.
func (fs *FreezeScheduler) Start(ctx context.Context) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.cancel != nil {
		return
	}
	ctx, fs.cancel = context.WithCancel(ctx)

	fs.wg.Add(1)
	go fs.run(ctx)

	fs.Service.Logger.Info("freeze scheduler started",
		zap.Duration("interval", fs.CheckInterval),
		zap.Int("tenants", len(fs.Tenants)))
}

// Stop cancels the loop and waits for an in-flight check to finish.
func (fs *FreezeScheduler) Stop() {
	fs.mu.Lock()
	cancel := fs.cancel
	fs.cancel = nil
	fs.mu.Unlock()

	if cancel != nil {
		cancel()
		fs.wg.Wait()
		fs.Service.Logger.Info("freeze scheduler stopped")
	}
}

func (fs *FreezeScheduler) run(ctx context.Context) {
	defer fs.wg.Done()

	ticker := time.NewTicker(fs.CheckInterval)
	defer ticker.Stop()

	fs.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			fs.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow checks every tenant once and returns the number of freezes done.
func (fs *FreezeScheduler) RunNow(ctx context.Context) int {
	closed := generic.PeriodOf(fs.Service.Clock.Now()).Previous()

	var frozen int
	for _, tenantID := range fs.Tenants {
		if ctx.Err() != nil {
			return frozen
		}
		if fs.alreadyDone(tenantID, closed) {
			continue
		}

		res, err := fs.Service.Freeze(ctx, tenantID, closed)
		switch {
		case errors.Is(err, generic.ErrPeriodLocked):
			fs.markDone(tenantID, closed)
		case err != nil:
			fs.Service.Logger.Error("scheduled freeze failed",
				zap.String("tenant", string(tenantID)),
				zap.String("period", closed.String()),
				zap.Error(err))
		default:
			// Employees that failed are retried on the next tick.
			if len(res.Failed) == 0 {
				fs.markDone(tenantID, closed)
			}
			frozen++
		}
	}
	return frozen
}

func (fs *FreezeScheduler) alreadyDone(tenantID generic.TenantID, p generic.Period) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.done[tenantID] == p
}

func (fs *FreezeScheduler) markDone(tenantID generic.TenantID, p generic.Period) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.done[tenantID] = p
}
