package schedule

import (
	"context"

	"github.com/goodtune/quotakeeper/internal/config"
	"github.com/goodtune/quotakeeper/internal/engine"
	"github.com/goodtune/quotakeeper/internal/reclaim"
)

// Runner is the set of engine operations driven on a schedule.
type Runner interface {
	ResetToday(ctx context.Context) (int, error)
	AccountAndReclaim(ctx context.Context) (engine.Stats, error)
	RunDeferred(ctx context.Context) (int, error)
	StopAtWindowEnd(ctx context.Context) (reclaim.Stats, error)
}

type namedJob struct {
	name string
	spec string
	job  Job
}

// Register adds the quota jobs described by cfg.
func Register(s *Scheduler, r Runner, cfg config.ScheduleConfig) error {
	jobs := []namedJob{
		{"reset", cfg.Reset, func(ctx context.Context) error {
			_, err := r.ResetToday(ctx)
			return err
		}},
		{"reconcile", cfg.Reconcile, func(ctx context.Context) error {
			_, err := r.AccountAndReclaim(ctx)
			return err
		}},
		{"deferred", cfg.Deferred, func(ctx context.Context) error {
			_, err := r.RunDeferred(ctx)
			return err
		}},
	}

	if cfg.WindowEndStopEnabled {
		jobs = append(jobs, namedJob{"window-end", cfg.WindowEndStop, func(ctx context.Context) error {
			_, err := r.StopAtWindowEnd(ctx)
			return err
		}})
	}

	for _, j := range jobs {
		if err := s.Add(j.name, j.spec, j.job); err != nil {
			return err
		}
	}
	return nil
}
