package reservation

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/marketplace-checkout/internal/logger"
	"github.com/ariefcatur/marketplace-checkout/internal/metrics"
)

// Locker is a lease shared by every reclaimer instance.
type Locker interface {
	Acquire(ctx context.Context) (token string, ok bool, err error)
	Release(ctx context.Context, token string) error
}

// Sweeper runs CleanupExpiredReservations at most once at a time: in-process
// callers share one run, other processes are kept out by Lock. A run that
// finds the lock taken releases nothing and returns 0.
type Sweeper struct {
	Service   *Service
	Lock      Locker // nil runs without a distributed lock
	BatchSize int
	Log       *zap.Logger

	group singleflight.Group
}

func (w *Sweeper) log() *zap.Logger {
	if w.Log == nil {
		return zap.NewNop()
	}
	return w.Log
}

func (w *Sweeper) Run(ctx context.Context) (int, error) {
	v, err, shared := w.group.Do("sweep", func() (any, error) {
		return w.run(ctx)
	})
	if shared {
		w.log().Debug("joined in-flight sweep")
	}
	n, _ := v.(int)
	return n, err
}

func (w *Sweeper) run(ctx context.Context) (int, error) {
	if w.Lock != nil {
		token, ok, err := w.Lock.Acquire(ctx)
		if err != nil {
			metrics.SweepRun("failed", 0)
			return 0, err
		}
		if !ok {
			metrics.SweepRun("skipped", 0)
			w.log().Info("sweep skipped, lock held by another instance")
			return 0, nil
		}
		defer func() {
			// The lease outlives a cancelled run; release on a fresh context.
			if err := w.Lock.Release(context.WithoutCancel(ctx), token); err != nil {
				w.log().Warn("release sweep lock", logger.Err(err))
			}
		}()
	}

	n, err := w.Service.CleanupExpiredReservations(ctx, w.BatchSize)
	if err != nil {
		metrics.SweepRun("failed", n)
		return n, err
	}
	metrics.SweepRun("ok", n)
	return n, nil
}
