package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/exchange_backend/config"
	"bitbucket.org/mmdatafocus/exchange_backend/models"
	"bitbucket.org/mmdatafocus/exchange_backend/notify"
	"bitbucket.org/mmdatafocus/exchange_backend/reconcile"
	"bitbucket.org/mmdatafocus/exchange_backend/utils"
)

// reconcile-runner executes one reconciliation pass and exits. Meant for
// cron-style schedulers and operator one-offs; the long-running service runs
// its own pass loops.
func main() {
	pass := flag.String("pass", models.ReconcilePassFast, "pass to run: fast or slow")
	forceRefresh := flag.Bool("force-refresh", false, "bypass the registry's not-modified optimization")
	flag.Parse()

	logger := config.GetLogger()
	if *pass != models.ReconcilePassFast && *pass != models.ReconcilePassSlow {
		logger.WithField("pass", *pass).Fatal("pass must be fast or slow")
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	}

	gateway, err := reconcile.NewRegistryGateway()
	if err != nil {
		logger.WithError(err).Fatal("registry gateway configuration invalid")
	}

	emitter := notify.NewMultiEmitter(logger,
		notify.NewInAppBackend(db),
		notify.NewWebhookBackend(),
		notify.NewPubSubBackend(),
	)
	orchestrator := reconcile.NewOrchestrator(
		reconcile.NewGormStore(db),
		gateway,
		reconcile.NewRedisScratch(),
		emitter,
		reconcile.NewRedisPassLocker(),
		config.LoadEngineSettings(),
		logger,
	)

	ctx := utils.SetSkipScopeGuardInContext(sigCtx)

	var run *models.ReconcileRun
	if *pass == models.ReconcilePassSlow {
		run, err = orchestrator.RunSlowPass(ctx, models.ReconcileTriggeredSchedule, *forceRefresh)
	} else {
		run, err = orchestrator.RunFastPass(ctx, models.ReconcileTriggeredSchedule, *forceRefresh)
	}
	if err != nil {
		logger.WithField("pass", *pass).WithError(err).Fatal("pass failed")
	}

	logger.WithFields(logrus.Fields{
		"pass":        run.Pass,
		"runId":       run.ID,
		"status":      run.Status,
		"ordersSeen":  run.OrdersSeen,
		"transitions": run.Transitions,
		"errors":      run.ErrorCount,
	}).Info("pass finished")

	if run.Status == models.ReconcileRunStatusFailed {
		os.Exit(1)
	}
}
