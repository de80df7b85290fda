package approval

import (
	"context"
	"time"

	"licensing-controlplane/pkg/config"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TaskExpirySweep = "approval:expiry:sweep"

// NewExpirySweepTask builds the periodic sweep task enqueued by the scheduler.
func NewExpirySweepTask() *asynq.Task {
	return asynq.NewTask(TaskExpirySweep, nil,
		asynq.MaxRetry(1),
		asynq.Timeout(60*time.Second),
		asynq.Queue("low"),
	)
}

// HandleExpirySweep runs one sweep: overdue requests expire, requests inside
// the warn window trigger an expiring-soon notification. The sweep is
// idempotent, so a retried or duplicated task is harmless.
func (s *Service) HandleExpirySweep(ctx context.Context, t *asynq.Task) error {
	expired, err := s.ExpireDue(ctx)
	if err != nil {
		zap.L().Error("approval expiry sweep failed", zap.Error(err))
		return err
	}

	warned, err := s.WarnExpiring(ctx, config.Active(s.config).Approval.ExpiryWarnWindow)
	if err != nil {
		zap.L().Error("approval expiry warning sweep failed", zap.Error(err))
		return err
	}

	zap.L().Info("approval expiry sweep finished",
		zap.Int("expired", expired),
		zap.Int("warned", warned),
	)
	return nil
}
