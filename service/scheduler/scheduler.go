// Package scheduler runs the periodic maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"loyalty/util/errs"
	"loyalty/util/metrics"

	"github.com/robfig/cron/v3"
)

type Job struct {
	Name string
	// Spec is a standard cron expression or descriptor such as "@every 1h".
	Spec string
	Run  func(ctx context.Context) error
}

type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// cronLogger routes cron's own logging into slog.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}

func New(log *slog.Logger, jobs ...Job) (*Scheduler, error) {
	cl := cronLogger{log: log.With("component", "scheduler")}
	s := &Scheduler{
		log: log,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.Spec, func() { s.run(j) }); err != nil {
			return nil, errs.Wrap(errs.ConfigInvalid, err, "invalid schedule", errs.Details{"job": j.Name, "spec": j.Spec})
		}
	}
	return s, nil
}

// Start begins running jobs. They stop when ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run(j Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := j.Run(ctx)
	d := time.Since(start)
	metrics.RecordJob(j.Name, err == nil, d)
	if err != nil {
		s.log.Error("job failed", "job", j.Name, "duration_ms", d.Milliseconds(), "err", err)
		return
	}
	s.log.Info("job finished", "job", j.Name, "duration_ms", d.Milliseconds())
}
