// Package jobs runs periodic maintenance against the store.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const pruneTimeout = 30 * time.Second

type Pruner interface {
	PruneNotifications(ctx context.Context, readBefore time.Time) (int64, error)
}

type Scheduler struct {
	log       *zap.Logger
	cron      *cron.Cron
	store     Pruner
	retention time.Duration
	now       func() time.Time
}

// NewScheduler registers notification pruning on the given cron schedule.
// Read notifications older than retention are deleted on each run.
func NewScheduler(logger *zap.Logger, store Pruner, retention time.Duration, schedule string) (*Scheduler, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}

	logger = logger.Named("jobs")
	cl := cronLogger{logger.Sugar()}
	s := &Scheduler{
		log:       logger,
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		store:     store,
		retention: retention,
		now:       time.Now,
	}

	if _, err := s.cron.AddFunc(schedule, s.PruneNotifications); err != nil {
		return nil, fmt.Errorf("schedule notification pruning %q: %w", schedule, err)
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.log.Info("starting scheduler", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop prevents new runs and waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) PruneNotifications() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.retention)
	n, err := s.store.PruneNotifications(ctx, cutoff)
	if err != nil {
		s.log.Error("failed to prune notifications", zap.Time("cutoff", cutoff), zap.Error(err))
		return
	}

	s.log.Info("pruned notifications", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
