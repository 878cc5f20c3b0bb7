// Package processing runs periodic maintenance next to the server: the deferred counter sweep
// and the cleanup of abandoned batch jobs.
package processing

import (
	"context"
	"errors"
	"gallery/logging"
	"gallery/metrics"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultInterval   = 10 * time.Minute
	DefaultStaleAfter = 24 * time.Hour
)

type processingTask interface {
	getName() string
	shouldHandle() bool
	process(ctx context.Context, log *zap.Logger) error
}

type Sweeper interface {
	Deferred() bool
	Sweep(ctx context.Context, force bool) (bool, error)
}

type Cleaner interface {
	CleanupStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration // Batch jobs untouched for this long are dropped
	Sweeper    Sweeper
	Cleaner    Cleaner
	Logger     *zap.Logger
}

type Runner struct {
	db    *gorm.DB
	cfg   Config
	log   *zap.Logger
	tasks map[string]processingTask
	now   func() time.Time
}

// errSkipped lets a task that ran report that it had nothing to do
var errSkipped = errors.New("skipped")

func New(db *gorm.DB, cfg Config) (*Runner, error) {
	if err := db.AutoMigrate(&ProcessingTask{}); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	r := &Runner{
		db:    db,
		cfg:   cfg,
		log:   logging.OrNop(cfg.Logger),
		tasks: map[string]processingTask{},
		now:   time.Now,
	}
	if cfg.Sweeper != nil {
		r.registerTask(&counterSweep{sweeper: cfg.Sweeper})
	}
	if cfg.Cleaner != nil {
		r.registerTask(&batchCleanup{cleaner: cfg.Cleaner, olderThan: cfg.StaleAfter})
	}
	return r, nil
}

func (r *Runner) registerTask(t processingTask) {
	r.tasks[t.getName()] = t
}

// RunOnce runs every registered task in name order and returns their statuses
func (r *Runner) RunOnce(ctx context.Context) map[string]int {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	statusMap := map[string]int{}
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		task := r.tasks[name]
		current := ProcessingTask{Name: name, Status: Skipped}
		var err error
		if task.shouldHandle() {
			start := time.Now()
			err = task.process(ctx, r.log.With(zap.String("task", name)))
			switch {
			case errors.Is(err, errSkipped):
				err = nil
			case err != nil:
				current.Status = Failed
				current.Error = err.Error()
			default:
				current.Status = Done
			}
			r.log.Debug("maintenance task finished",
				zap.String("task", name),
				zap.String("status", statusLabel(current.Status)),
				zap.Duration("took", time.Since(start)))
		}
		if err != nil {
			r.log.Error("maintenance task failed", zap.String("task", name), zap.Error(err))
		}
		metrics.MaintenanceRunsTotal.WithLabelValues(name, statusLabel(current.Status)).Inc()
		statusMap[name] = current.Status
		if saveErr := r.save(ctx, current); saveErr != nil {
			r.log.Warn("cannot store maintenance status", zap.String("task", name), zap.Error(saveErr))
		}
	}
	return statusMap
}

func (r *Runner) save(ctx context.Context, current ProcessingTask) error {
	current.RunAt = r.now().Unix()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ProcessingTask{}).Where("name = ?", current.Name).Updates(map[string]interface{}{
			"status": current.Status,
			"run_at": current.RunAt,
			"runs":   gorm.Expr("runs + 1"),
			"error":  current.Error,
		})
		if res.Error != nil || res.RowsAffected > 0 {
			return res.Error
		}
		current.Runs = 1
		return tx.Create(&current).Error
	})
}

// Statuses returns the stored outcome of the last run of every task
func (r *Runner) Statuses(ctx context.Context) ([]ProcessingTask, error) {
	result := []ProcessingTask{}
	err := r.db.WithContext(ctx).Order("name").Find(&result).Error
	return result, err
}

// Start runs the tasks every interval until ctx is done
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	r.log.Info("maintenance started", zap.Duration("interval", r.cfg.Interval), zap.Int("tasks", len(r.tasks)))
	for {
		r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			r.log.Info("maintenance stopped")
			return
		case <-ticker.C:
		}
	}
}
