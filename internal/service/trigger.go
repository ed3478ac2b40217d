package service

import (
	"context"
	"errors"
	"time"

	"github.com/septivank/energy-consumption-notifier/internal/mq"
	"go.uber.org/zap"
)

type runner interface {
	Run(ctx context.Context) (*RunReport, error)
}

// TriggerHandler turns run requests from the trigger queue into runs. A
// request that arrives during an active run is acknowledged and dropped.
func TriggerHandler(n runner, logger *zap.Logger) mq.MessageHandler {
	return func(ctx context.Context, body []byte) error {
		cmd, err := mq.DecodeRunRequested(body)
		if err != nil {
			return err
		}

		reqLogger := logger.With(zap.String("request_id", cmd.RequestID), zap.String("requested_by", cmd.RequestedBy))
		report, err := n.Run(ctx)
		if errors.Is(err, ErrRunInProgress) {
			reqLogger.Info("run already in progress, ignoring trigger")
			return nil
		}
		if err != nil {
			return err
		}

		reqLogger.Info("triggered run completed", zap.String("run_id", report.RunID))
		return nil
	}
}

// Scheduler starts a run every interval until its context is cancelled
type Scheduler struct {
	runner     runner
	interval   time.Duration
	runOnStart bool
	logger     *zap.Logger
	done       chan struct{}
}

// NewScheduler creates a new scheduler
func NewScheduler(n runner, interval time.Duration, runOnStart bool, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:     n,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start launches the ticker loop in the background
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	go func() {
		defer close(s.done)

		if s.runOnStart {
			s.tick(ctx)
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Done is closed once the loop has exited
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info("previous run still active, skipping tick")
	case err != nil:
		s.logger.Error("scheduled run failed", zap.Error(err))
	}
}
