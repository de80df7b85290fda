package notification_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"licensing-controlplane/services/notification"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type enqueuerMock struct {
	enqueueFunc func(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func (e *enqueuerMock) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return e.enqueueFunc(task, opts...)
}

func TestDispatchEnqueuesTask(t *testing.T) {
	var captured *asynq.Task
	mock := &enqueuerMock{
		enqueueFunc: func(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
			captured = task
			return &asynq.TaskInfo{}, nil
		},
	}

	d := notification.NewDispatcher(notification.DispatcherParams{Enqueuer: mock})

	err := d.Dispatch(context.Background(), notification.Notification{
		Event:      notification.EventApprovalSubmitted,
		LicenseID:  "lic-1",
		ApprovalID: "apr-1",
		Recipients: []string{"owner-1", "user-a"},
	})
	require.NoError(t, err)
	require.NotNil(t, captured)
	require.Equal(t, notification.TaskNotificationDispatch, captured.Type())

	var payload notification.Notification
	require.NoError(t, json.Unmarshal(captured.Payload(), &payload))
	require.Equal(t, notification.EventApprovalSubmitted, payload.Event)
	require.Equal(t, "lic-1", payload.LicenseID)
	require.Equal(t, []string{"owner-1", "user-a"}, payload.Recipients)
	require.False(t, payload.OccurredAt.IsZero())
}

func TestHandleDispatchTask(t *testing.T) {
	h := notification.NewHandler()

	payload, err := json.Marshal(notification.Notification{
		Event:      notification.EventApprovalApproved,
		LicenseID:  "lic-1",
		Recipients: []string{"user-1"},
	})
	require.NoError(t, err)

	task := asynq.NewTask(notification.TaskNotificationDispatch, payload)
	require.NoError(t, h.HandleDispatchTask(context.Background(), task))

	bad := asynq.NewTask(notification.TaskNotificationDispatch, []byte("{not json"))
	require.Error(t, h.HandleDispatchTask(context.Background(), bad))
}
