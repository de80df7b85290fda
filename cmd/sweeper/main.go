package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/db"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/task"
	"licensing-controlplane/services/approval"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/notification"
	"licensing-controlplane/services/owner"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		task.Client,
		task.Server,
		fx.Provide(provideSnowflakeNode),
		audit.Module,
		owner.Module,
		notification.Module,
		notification.WorkerModule,
		approval.Module,
		fx.Invoke(
			registerHandlers,
			runSweepScheduler,
		),
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func registerHandlers(mux *asynq.ServeMux, approvals *approval.Service, notifications *notification.Handler) {
	mux.HandleFunc(approval.TaskExpirySweep, approvals.HandleExpirySweep)
	mux.HandleFunc(notification.TaskNotificationDispatch, notifications.HandleDispatchTask)
}

// runSweepScheduler enqueues the expiry sweep on a fixed interval. Multiple
// sweeper instances may race to enqueue; the sweep itself is idempotent, so
// duplicate tasks are wasted work at worst.
func runSweepScheduler(lc fx.Lifecycle, cfg *config.Config, enqueuer task.Enqueuer) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)

				ticker := time.NewTicker(cfg.Approval.SweepInterval)
				defer ticker.Stop()

				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if _, err := enqueuer.Enqueue(approval.NewExpirySweepTask()); err != nil {
							zap.L().Error("failed to enqueue expiry sweep", zap.Error(err))
						}
					}
				}
			}()

			zap.L().Info("approval expiry sweep scheduler started",
				zap.Duration("interval", cfg.Approval.SweepInterval),
			)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}
