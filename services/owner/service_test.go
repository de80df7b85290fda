package owner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/services/owner"
	"licensing-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newService(t *testing.T) (*owner.Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	return owner.NewService(owner.ServiceParams{
		DB:   db,
		Node: testutil.NewNode(t),
	}), db
}

func TestValidatePermissionProvisionsOnFirstUse(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	// A never-seen owner gets a permissive record, so the first call passes.
	require.NoError(t, svc.ValidatePermission(ctx, "owner-1", owner.CanCreateLicenses))
	require.NoError(t, svc.ValidatePermission(ctx, "owner-1", owner.CanApproveLicenses))
	require.NoError(t, svc.ValidatePermission(ctx, "owner-1", owner.CanViewAuditLogs))
}

func TestValidatePermissionDenied(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.ValidatePermission(ctx, "owner-1", owner.CanCreateLicenses))

	err := db.Model(&owner.OwnerManagement{}).
		Where("owner_id = ?", "owner-1").
		Update("can_revoke_licenses", false).Error
	require.NoError(t, err)

	err = svc.ValidatePermission(ctx, "owner-1", owner.CanRevokeLicenses)
	require.Error(t, err)
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))
	require.Contains(t, err.Error(), "canRevokeLicenses")

	// Unrelated permissions are unaffected.
	require.NoError(t, svc.ValidatePermission(ctx, "owner-1", owner.CanCreateLicenses))
}

func TestValidatePermissionUnknownPermission(t *testing.T) {
	svc, _ := newService(t)

	err := svc.ValidatePermission(context.Background(), "owner-1", owner.Permission("canDoAnything"))
	require.Error(t, err)
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))
}

func TestResolveSettingsDefaultsWithoutRecord(t *testing.T) {
	svc, _ := newService(t)

	settings, err := svc.ResolveSettings(context.Background(), "owner-absent")
	require.NoError(t, err)
	require.Equal(t, owner.DefaultApprovalTimeoutDays, settings.ApprovalTimeoutDays)
	require.True(t, settings.NotifyOnSubmitted)
	require.False(t, settings.AutoApprove)
}

func TestUpdateSettingsRoundTrip(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	err := svc.UpdateSettings(ctx, "owner-1", owner.Settings{
		AutoApprove:         true,
		AutoApproveMaxDays:  30,
		ApprovalTimeoutDays: 3,
		NotifyOnSubmitted:   false,
		NotifyOnResolved:    true,
	})
	require.NoError(t, err)

	settings, err := svc.ResolveSettings(ctx, "owner-1")
	require.NoError(t, err)
	require.True(t, settings.AutoApprove)
	require.Equal(t, 30, settings.AutoApproveMaxDays)
	require.Equal(t, 3, settings.ApprovalTimeoutDays)
	require.False(t, settings.NotifyOnSubmitted)
	require.True(t, settings.NotifyOnResolved)
}

func TestUpdateSettingsNormalizesTimeout(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.UpdateSettings(ctx, "owner-1", owner.Settings{ApprovalTimeoutDays: 0}))

	settings, err := svc.ResolveSettings(ctx, "owner-1")
	require.NoError(t, err)
	require.Equal(t, owner.DefaultApprovalTimeoutDays, settings.ApprovalTimeoutDays)
}

func TestDelegateAndRecipients(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Delegate(ctx, "owner-1", "user-a"))
	require.NoError(t, svc.Delegate(ctx, "owner-1", "user-b"))
	// Delegating twice is a no-op, not an error.
	require.NoError(t, svc.Delegate(ctx, "owner-1", "user-a"))

	recipients, err := svc.Recipients(ctx, "owner-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"owner-1", "user-a", "user-b"}, recipients)

	require.NoError(t, svc.RevokeDelegate(ctx, "owner-1", "user-a"))

	recipients, err = svc.Recipients(ctx, "owner-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"owner-1", "user-b"}, recipients)
}

func TestDelegatedUserActsWithOwnerPermissions(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Delegate(ctx, "owner-1", "user-2"))

	// user-2's own record denies creation, but owner-1's delegation covers it.
	require.NoError(t, svc.ValidatePermission(ctx, "user-2", owner.CanCreateLicenses))
	err := db.Model(&owner.OwnerManagement{}).
		Where("owner_id = ?", "user-2").
		Update("can_create_licenses", false).Error
	require.NoError(t, err)

	require.NoError(t, svc.ValidatePermission(ctx, "user-2", owner.CanCreateLicenses))

	// Delegation grants at most what the delegating owner holds.
	err = db.Model(&owner.OwnerManagement{}).
		Where("owner_id = ?", "owner-1").
		Update("can_revoke_licenses", false).Error
	require.NoError(t, err)
	err = db.Model(&owner.OwnerManagement{}).
		Where("owner_id = ?", "user-2").
		Update("can_revoke_licenses", false).Error
	require.NoError(t, err)

	err = svc.ValidatePermission(ctx, "user-2", owner.CanRevokeLicenses)
	require.Error(t, err)
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))

	// Revoking the delegation withdraws the inherited grant.
	require.NoError(t, svc.RevokeDelegate(ctx, "owner-1", "user-2"))

	err = svc.ValidatePermission(ctx, "user-2", owner.CanCreateLicenses)
	require.Error(t, err)
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))
}

func TestRevokeDelegateUnknownUser(t *testing.T) {
	svc, _ := newService(t)

	err := svc.RevokeDelegate(context.Background(), "owner-1", "user-z")
	require.Error(t, err)
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))
}

func TestRecipientsWithoutRecord(t *testing.T) {
	svc, _ := newService(t)

	recipients, err := svc.Recipients(context.Background(), "owner-absent")
	require.NoError(t, err)
	require.Equal(t, []string{"owner-absent"}, recipients)
}
