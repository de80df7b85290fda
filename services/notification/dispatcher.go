package notification

import (
	"context"
	"encoding/json"
	"time"

	"licensing-controlplane/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Event string

const (
	EventApprovalSubmitted    Event = "approval.submitted"
	EventApprovalApproved     Event = "approval.approved"
	EventApprovalRejected     Event = "approval.rejected"
	EventApprovalExpiringSoon Event = "approval.expiring_soon"
	EventApprovalExpired      Event = "approval.expired"
)

const TaskNotificationDispatch = "notification:dispatch"

// Notification is a request to notify recipients about an approval event.
// Delivery mechanics (email, webhook) live outside this system.
type Notification struct {
	Event      Event     `json:"event"`
	LicenseID  string    `json:"license_id"`
	ApprovalID string    `json:"approval_id"`
	Recipients []string  `json:"recipients"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

type asynqDispatcher struct {
	enqueuer task.Enqueuer
}

type DispatcherParams struct {
	fx.In
	Enqueuer task.Enqueuer
}

// NewDispatcher returns a Dispatcher that hands notifications off to the
// background queue. Dispatch failures are reported but must never abort the
// licensing operation that produced the event.
func NewDispatcher(p DispatcherParams) Dispatcher {
	return &asynqDispatcher{enqueuer: p.Enqueuer}
}

func (d *asynqDispatcher) Dispatch(ctx context.Context, n Notification) error {
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now()
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}

	_, err = d.enqueuer.Enqueue(
		asynq.NewTask(TaskNotificationDispatch, payload),
		asynq.Queue("default"),
		asynq.MaxRetry(3),
	)
	if err != nil {
		zap.L().Error("failed to enqueue notification",
			zap.String("event", string(n.Event)),
			zap.String("approval_id", n.ApprovalID),
			zap.Error(err),
		)
		return err
	}

	return nil
}
