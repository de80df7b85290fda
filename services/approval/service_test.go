package approval_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/services/approval"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/notification"
	"licensing-controlplane/services/owner"
	"licensing-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type dispatcherMock struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (d *dispatcherMock) Dispatch(_ context.Context, n notification.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return nil
}

func (d *dispatcherMock) events() []notification.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]notification.Event, 0, len(d.sent))
	for _, n := range d.sent {
		out = append(out, n.Event)
	}
	return out
}

type fixture struct {
	db       *gorm.DB
	svc      *approval.Service
	owners   *owner.Service
	notifier *dispatcherMock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t)
	node := testutil.NewNode(t)

	cfg := &config.Config{}
	cfg.Approval.DefaultTimeoutDays = 7
	cfg.Approval.ExpiryWarnWindow = 24 * time.Hour

	owners := owner.NewService(owner.ServiceParams{DB: db, Node: node})
	recorder := audit.NewRecorder(audit.RecorderParams{DB: db, Node: node})
	notifier := &dispatcherMock{}

	svc := approval.NewService(approval.ServiceParams{
		DB:       db,
		Node:     node,
		Config:   cfg,
		Owners:   owners,
		Audit:    recorder,
		Notifier: notifier,
	})

	return &fixture{db: db, svc: svc, owners: owners, notifier: notifier}
}

func submit(t *testing.T, f *fixture) *approval.LicenseApproval {
	t.Helper()

	request, err := f.svc.Submit(context.Background(), approval.SubmitParams{
		LicenseID:   "lic-1",
		OwnerID:     "owner-1",
		RequestedBy: "user-1",
		Type:        approval.TypeCreation,
		Priority:    approval.PriorityHigh,
	})
	require.NoError(t, err)
	return request
}

func TestSubmitUsesOwnerTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.owners.UpdateSettings(ctx, "owner-1", owner.Settings{
		ApprovalTimeoutDays: 3,
		NotifyOnSubmitted:   true,
	}))

	before := time.Now()
	request := submit(t, f)
	after := time.Now()

	require.Equal(t, approval.StatusPending, request.Status)
	require.WithinRange(t, request.ExpiresAt, before.AddDate(0, 0, 3), after.AddDate(0, 0, 3))
	require.Contains(t, f.notifier.events(), notification.EventApprovalSubmitted)
}

func TestSubmitDefaults(t *testing.T) {
	f := newFixture(t)

	before := time.Now()
	request, err := f.svc.Submit(context.Background(), approval.SubmitParams{
		LicenseID:   "lic-1",
		OwnerID:     "owner-unseen",
		RequestedBy: "user-1",
		Type:        approval.TypeRenewal,
	})
	require.NoError(t, err)
	after := time.Now()

	require.Equal(t, approval.PriorityMedium, request.Priority)
	require.WithinRange(t, request.ExpiresAt, before.AddDate(0, 0, 7), after.AddDate(0, 0, 7))
}

func TestSubmitUnknownType(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), approval.SubmitParams{
		LicenseID:   "lic-1",
		RequestedBy: "user-1",
		Type:        approval.Type("deletion"),
	})
	require.Error(t, err)
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))
}

func TestProcessApproveExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := submit(t, f)

	resolved, err := f.svc.Process(ctx, approval.ProcessParams{
		ApprovalID:  request.ID,
		Decision:    approval.DecisionApprove,
		ProcessedBy: "owner-1",
	})
	require.NoError(t, err)
	require.Equal(t, approval.StatusApproved, resolved.Status)
	require.NotNil(t, resolved.ApprovedBy)
	require.Equal(t, "owner-1", *resolved.ApprovedBy)
	require.NotNil(t, resolved.ApprovedAt)
	require.Nil(t, resolved.RejectedBy)

	// The second resolution loses the conditional update.
	_, err = f.svc.Process(ctx, approval.ProcessParams{
		ApprovalID:  request.ID,
		Decision:    approval.DecisionReject,
		Reason:      "changed my mind",
		ProcessedBy: "owner-1",
	})
	require.Error(t, err)
	require.True(t, errutil.IsStatus(err, errutil.StatusUnprocessableEntity))

	reloaded, err := f.svc.Get(ctx, request.ID)
	require.NoError(t, err)
	require.Equal(t, approval.StatusApproved, reloaded.Status)

	var entries []audit.Entry
	require.NoError(t, f.db.Where("license_id = ?", "lic-1").Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, audit.ActionApproved, entries[0].Action)
}

func TestProcessConcurrentResolversRaceToOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := submit(t, f)

	const resolvers = 6

	errs := make([]error, resolvers)
	var wg sync.WaitGroup
	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Process(ctx, approval.ProcessParams{
				Decision:    approval.DecisionApprove,
				ApprovalID:  request.ID,
				ProcessedBy: "owner-1",
			})
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		require.True(t, errutil.IsStatus(err, errutil.StatusUnprocessableEntity))
	}
	require.Equal(t, 1, winners)

	// The losers left no trace: one resolution, one audit entry.
	reloaded, err := f.svc.Get(ctx, request.ID)
	require.NoError(t, err)
	require.Equal(t, approval.StatusApproved, reloaded.Status)

	var entries []audit.Entry
	require.NoError(t, f.db.Where("license_id = ?", "lic-1").Find(&entries).Error)
	require.Len(t, entries, 1)
}

func TestProcessReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := submit(t, f)

	resolved, err := f.svc.Process(ctx, approval.ProcessParams{
		ApprovalID:  request.ID,
		Decision:    approval.DecisionReject,
		Reason:      "insufficient seats",
		ProcessedBy: "owner-1",
	})
	require.NoError(t, err)
	require.Equal(t, approval.StatusRejected, resolved.Status)
	require.NotNil(t, resolved.RejectedBy)
	require.Equal(t, "owner-1", *resolved.RejectedBy)
	require.NotNil(t, resolved.RejectionReason)
	require.Equal(t, "insufficient seats", *resolved.RejectionReason)
	require.Nil(t, resolved.ApprovedBy)

	require.Contains(t, f.notifier.events(), notification.EventApprovalRejected)
}

func TestProcessUnknownApproval(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Process(context.Background(), approval.ProcessParams{
		ApprovalID:  "does-not-exist",
		Decision:    approval.DecisionApprove,
		ProcessedBy: "owner-1",
	})
	require.Error(t, err)
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))
}

func TestExpireDueIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := submit(t, f)

	require.NoError(t, f.db.Model(&approval.LicenseApproval{}).
		Where("id = ?", request.ID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)

	expired, err := f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	reloaded, err := f.svc.Get(ctx, request.ID)
	require.NoError(t, err)
	require.Equal(t, approval.StatusExpired, reloaded.Status)

	var entries []audit.Entry
	require.NoError(t, f.db.Where("license_id = ? AND action = ?", "lic-1", audit.ActionExpired).
		Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, "system", entries[0].PerformedBy)

	require.Contains(t, f.notifier.events(), notification.EventApprovalExpired)

	// A second sweep finds nothing left to claim.
	expired, err = f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, expired)
}

func TestExpireDueLeavesResolvedAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := submit(t, f)

	_, err := f.svc.Process(ctx, approval.ProcessParams{
		ApprovalID:  request.ID,
		Decision:    approval.DecisionApprove,
		ProcessedBy: "owner-1",
	})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&approval.LicenseApproval{}).
		Where("id = ?", request.ID).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)

	expired, err := f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, expired)
}

func TestWarnExpiringWarnsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := submit(t, f)

	require.NoError(t, f.db.Model(&approval.LicenseApproval{}).
		Where("id = ?", request.ID).
		Update("expires_at", time.Now().Add(time.Hour)).Error)

	warned, err := f.svc.WarnExpiring(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, warned)
	require.Contains(t, f.notifier.events(), notification.EventApprovalExpiringSoon)

	warned, err = f.svc.WarnExpiring(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, warned)
}

func TestQueueRequiresPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submit(t, f)

	require.NoError(t, f.db.Model(&owner.OwnerManagement{}).
		Where("owner_id = ?", "owner-1").
		Update("can_approve_licenses", false).Error)

	_, err := f.svc.Queue(ctx, "owner-1", approval.QueueFilter{})
	require.Error(t, err)
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))
}

func TestQueueFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := submit(t, f)

	_, err := f.svc.Submit(ctx, approval.SubmitParams{
		LicenseID:   "lic-2",
		OwnerID:     "owner-1",
		RequestedBy: "user-2",
		Type:        approval.TypeRevocation,
		Priority:    approval.PriorityLow,
	})
	require.NoError(t, err)

	queue, err := f.svc.Queue(ctx, "owner-1", approval.QueueFilter{
		Status: approval.StatusPending,
		Type:   approval.TypeCreation,
	})
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, request.ID, queue[0].ID)

	queue, err = f.svc.Queue(ctx, "owner-1", approval.QueueFilter{Status: approval.StatusPending})
	require.NoError(t, err)
	require.Len(t, queue, 2)
}
