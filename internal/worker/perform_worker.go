// Package worker runs the periodic perform loop that delivers due
// mailings, plus the consumer draining the asynchronous delivery queue.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/drip-engine/internal/drip"
	"github.com/ignite/drip-engine/internal/pkg/distlock"
	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// PerformWorker periodically performs every enabled campaign. A
// distributed lock keeps concurrent workers from scanning the same due
// window; the per-mailing claim lease guards individual rows.
type PerformWorker struct {
	engine    *drip.Engine
	lock      distlock.DistLock
	interval  time.Duration
	campaigns []string

	totalCycles int64
	totalErrors int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewPerformWorker creates a perform worker. A nil lock disables
// cross-worker serialization; campaigns restricts the run to the named
// slugs, with nil meaning every registered campaign.
func NewPerformWorker(engine *drip.Engine, lock distlock.DistLock, interval time.Duration, campaigns []string) *PerformWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PerformWorker{
		engine:    engine,
		lock:      lock,
		interval:  interval,
		campaigns: campaigns,
	}
}

// Start begins the perform loop.
func (w *PerformWorker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	logger.Info("perform worker starting", "interval", w.interval.String())

	w.wg.Add(1)
	go w.loop()
}

// Stop gracefully stops the worker, waiting up to 30 seconds for the
// in-flight cycle to finish.
func (w *PerformWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("perform worker stopped",
			"cycles", atomic.LoadInt64(&w.totalCycles),
			"errors", atomic.LoadInt64(&w.totalErrors))
	case <-time.After(30 * time.Second):
		logger.Warn("perform worker stop timed out")
	}
}

func (w *PerformWorker) loop() {
	defer w.wg.Done()

	// First cycle immediately, then on the ticker.
	w.cycle()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.cycle()
		}
	}
}

func (w *PerformWorker) cycle() {
	if w.lock != nil {
		acquired, err := w.lock.Acquire(w.ctx)
		if err != nil {
			logger.Error("perform lock acquire failed", "error", err.Error())
			atomic.AddInt64(&w.totalErrors, 1)
			return
		}
		if !acquired {
			logger.Debug("perform lock held elsewhere, skipping cycle")
			return
		}
		defer func() {
			if err := w.lock.Release(w.ctx); err != nil {
				logger.Warn("perform lock release failed", "error", err.Error())
			}
		}()
	}

	start := time.Now()
	err := w.engine.PerformAll(w.ctx, w.campaigns...)
	atomic.AddInt64(&w.totalCycles, 1)
	if err != nil {
		atomic.AddInt64(&w.totalErrors, 1)
		logger.Error("perform cycle finished with failures",
			"error", err.Error(),
			"elapsed", time.Since(start).String())
		return
	}
	logger.Debug("perform cycle complete", "elapsed", time.Since(start).String())
}

// Stats reports cycle and error counts.
func (w *PerformWorker) Stats() (cycles, errors int64) {
	return atomic.LoadInt64(&w.totalCycles), atomic.LoadInt64(&w.totalErrors)
}
