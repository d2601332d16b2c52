// Package schedule triggers the periodic quota jobs from cron specs
// evaluated in the configured local time zone.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// parser accepts standard five-field specs and descriptors like "@every 5m"
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether spec is a valid schedule.
func Validate(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Entry describes a registered job.
type Entry struct {
	Name string
	Spec string
	Next time.Time
}

// Scheduler runs named jobs on cron schedules. A job still running when its
// next tick arrives is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[cron.EntryID]Entry
}

// New creates a scheduler evaluating specs in loc.
func New(loc *time.Location, logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[cron.EntryID]Entry),
	}
}

// Add registers job under name.
func (s *Scheduler) Add(name, spec string, job Job) error {
	log := s.logger.With().Str("job", name).Logger()
	cl := cronLogger{logger: log}

	run := cron.FuncJob(func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Scheduled job failed")
			return
		}
		log.Debug().Dur("elapsed", time.Since(start)).Msg("Scheduled job complete")
	})

	id, err := s.cron.AddJob(spec, cron.NewChain(cron.SkipIfStillRunning(cl)).Then(run))
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	s.mu.Lock()
	s.entries[id] = Entry{Name: name, Spec: spec}
	s.mu.Unlock()

	log.Info().Str("spec", spec).Msg("Job scheduled")
	return nil
}

// Entries lists registered jobs with their next run time.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, ce := range s.cron.Entries() {
		e, ok := s.entries[ce.ID]
		if !ok {
			continue
		}
		e.Next = ce.Next
		out = append(out, e)
	}
	return out
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops scheduling new runs, cancels the jobs' context and waits for
// running jobs to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		s.logger.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
