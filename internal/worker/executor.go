package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"wallet-service/internal/usecase"

	"go.uber.org/zap"
)

// Config carries the loop cadence knobs.
type Config struct {
	// Interval is the base sleep between batches.
	Interval time.Duration
	// StartupJitterMax desynchronizes replicas started together.
	StartupJitterMax time.Duration
	// LoopJitterMax spreads each iteration's wakeup.
	LoopJitterMax time.Duration
	// BatchLimit caps transactions settled per iteration.
	BatchLimit int
}

// Executor drives the settlement engine: each iteration settles due
// withdrawals, then runs a reconciliation sweep over whatever the batch left
// behind.
type Executor struct {
	executor *usecase.ExecutorUsecase
	recon    *usecase.ReconciliationUsecase
	cfg      Config
	logger   *zap.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(executor *usecase.ExecutorUsecase, recon *usecase.ReconciliationUsecase, cfg Config, logger *zap.Logger) *Executor {
	return &Executor{
		executor: executor,
		recon:    recon,
		cfg:      cfg,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    sleepCtx,
	}
}

// Run loops until ctx is canceled.
func (e *Executor) Run(ctx context.Context) error {
	if jitter := e.jitter(e.cfg.StartupJitterMax); jitter > 0 {
		e.logger.Info("executor startup jitter", zap.Duration("jitter", jitter))
		if err := e.sleep(ctx, jitter); err != nil {
			return err
		}
	}

	e.logger.Info("executor loop started",
		zap.Duration("interval", e.cfg.Interval),
		zap.Int("batch_limit", e.cfg.BatchLimit))

	for {
		if err := e.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				e.logger.Info("executor loop stopped")
				return ctx.Err()
			}
			// Transient store or gateway trouble; the next iteration
			// retries with a fresh batch.
			e.logger.Error("executor iteration failed", zap.Error(err))
		}

		delay := e.cfg.Interval + e.jitter(e.cfg.LoopJitterMax)
		if err := e.sleep(ctx, delay); err != nil {
			e.logger.Info("executor loop stopped")
			return err
		}
	}
}

// RunOnce performs a single settle-then-reconcile pass. Exposed for the
// one-shot executor mode.
func (e *Executor) RunOnce(ctx context.Context) error {
	if _, err := e.executor.ExecuteDue(ctx, e.cfg.BatchLimit); err != nil {
		return err
	}
	_, err := e.recon.Run(ctx, e.cfg.BatchLimit)
	return err
}

func (e *Executor) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Duration(e.rng.Float64() * float64(max))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
