package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRecordRejectsUnknownAction(t *testing.T) {
	db := testutil.NewTestDB(t)
	recorder := audit.NewRecorder(audit.RecorderParams{DB: db, Node: testutil.NewNode(t)})

	err := recorder.Record(context.Background(), db, audit.Entry{
		LicenseID:   "lic-1",
		Action:      audit.Action("deleted"),
		PerformedBy: "owner-1",
	})
	require.Error(t, err)
}

func TestRecordAssignsIdentity(t *testing.T) {
	db := testutil.NewTestDB(t)
	recorder := audit.NewRecorder(audit.RecorderParams{DB: db, Node: testutil.NewNode(t)})
	ctx := context.Background()

	require.NoError(t, recorder.Record(ctx, db, audit.Entry{
		LicenseID:   "lic-1",
		Action:      audit.ActionCreated,
		PerformedBy: "owner-1",
		NewState:    audit.Snapshot(map[string]string{"status": "pending"}),
	}))

	var entry audit.Entry
	require.NoError(t, db.Where("license_id = ?", "lic-1").First(&entry).Error)
	require.NotEmpty(t, entry.ID)
	require.False(t, entry.CreatedAt.IsZero())
	require.Equal(t, "pending", entry.NewState["status"])
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	db := testutil.NewTestDB(t)
	recorder := audit.NewRecorder(audit.RecorderParams{DB: db, Node: testutil.NewNode(t)})
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := recorder.Record(ctx, tx, audit.Entry{
			LicenseID:   "lic-1",
			Action:      audit.ActionSuspended,
			PerformedBy: "owner-1",
		}); err != nil {
			return err
		}
		return errors.New("mutation failed")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&audit.Entry{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRecentScopesAndOrders(t *testing.T) {
	db := testutil.NewTestDB(t)
	recorder := audit.NewRecorder(audit.RecorderParams{DB: db, Node: testutil.NewNode(t)})
	ctx := context.Background()

	for _, action := range []audit.Action{audit.ActionCreated, audit.ActionActivated, audit.ActionRevoked} {
		require.NoError(t, recorder.Record(ctx, db, audit.Entry{
			LicenseID:   "lic-1",
			Action:      action,
			PerformedBy: "owner-1",
		}))
	}
	require.NoError(t, recorder.Record(ctx, db, audit.Entry{
		LicenseID:   "lic-2",
		Action:      audit.ActionCreated,
		PerformedBy: "owner-1",
	}))

	entries, err := recorder.Recent(ctx, "lic-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	entries, err = recorder.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestSnapshot(t *testing.T) {
	snap := audit.Snapshot(struct {
		Status string `json:"status"`
		Count  int    `json:"count"`
	}{Status: "active", Count: 3})

	require.Equal(t, "active", snap["status"])
	require.Equal(t, float64(3), snap["count"])

	require.Nil(t, audit.Snapshot(nil))
	require.Nil(t, audit.Snapshot(make(chan int)))
}
