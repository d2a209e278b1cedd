package reconcile

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/exchange_backend/models"
	"bitbucket.org/mmdatafocus/exchange_backend/utils"
)

// PassScheduler runs the two reconciliation cadences as independent periodic
// jobs. The fast loop picks up fresh submissions and anomalies; the slow loop
// only watches matched contracts for settlement. Per-scope locks make it safe
// to run on every instance.
type PassScheduler struct {
	Orchestrator *Orchestrator
	Logger       *logrus.Logger
	FastInterval time.Duration
	SlowInterval time.Duration
}

func NewPassScheduler(orchestrator *Orchestrator, logger *logrus.Logger) *PassScheduler {
	return &PassScheduler{
		Orchestrator: orchestrator,
		Logger:       logger,
		FastInterval: orchestrator.settings.FastInterval,
		SlowInterval: orchestrator.settings.SlowInterval,
	}
}

// Run blocks until ctx is cancelled.
func (s *PassScheduler) Run(ctx context.Context) {
	if s == nil || s.Orchestrator == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.loop(ctx, models.ReconcilePassFast, s.FastInterval)
	s.loop(ctx, models.ReconcilePassSlow, s.SlowInterval)
}

func (s *PassScheduler) loop(ctx context.Context, pass string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		s.runOnce(ctx, pass)
	}
}

func (s *PassScheduler) runOnce(ctx context.Context, pass string) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.WithFields(logrus.Fields{"pass": pass, "panic": r}).Error("reconciliation pass panicked")
		}
	}()

	passCtx := utils.SetSkipScopeGuardInContext(ctx)
	var run *models.ReconcileRun
	var err error
	if pass == models.ReconcilePassSlow {
		run, err = s.Orchestrator.RunSlowPass(passCtx, models.ReconcileTriggeredSchedule, false)
	} else {
		run, err = s.Orchestrator.RunFastPass(passCtx, models.ReconcileTriggeredSchedule, false)
	}
	if err != nil {
		s.Logger.WithField("pass", pass).WithError(err).Error("reconciliation pass failed")
		return
	}
	s.Logger.WithFields(logrus.Fields{
		"pass":        pass,
		"runId":       run.ID,
		"status":      run.Status,
		"ordersSeen":  run.OrdersSeen,
		"transitions": run.Transitions,
	}).Info("reconciliation pass finished")
}
