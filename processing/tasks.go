package processing

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// counterSweep recounts everything in deferred counter mode. The sweeper applies its own interval.
type counterSweep struct {
	sweeper Sweeper
}

func (t *counterSweep) getName() string {
	return "counter-sweep"
}

func (t *counterSweep) shouldHandle() bool {
	return t.sweeper.Deferred()
}

func (t *counterSweep) process(ctx context.Context, _ *zap.Logger) error {
	ran, err := t.sweeper.Sweep(ctx, false)
	if err != nil {
		return err
	}
	if !ran {
		return errSkipped
	}
	return nil
}

type batchCleanup struct {
	cleaner   Cleaner
	olderThan time.Duration
}

func (t *batchCleanup) getName() string {
	return "batch-cleanup"
}

func (t *batchCleanup) shouldHandle() bool {
	return true
}

func (t *batchCleanup) process(ctx context.Context, log *zap.Logger) error {
	removed, err := t.cleaner.CleanupStale(ctx, t.olderThan)
	if err != nil {
		return err
	}
	if removed == 0 {
		return errSkipped
	}
	log.Info("stale batch jobs removed", zap.Int("jobs", removed))
	return nil
}
