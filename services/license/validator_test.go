package license_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"licensing-controlplane/services/license"
	"licensing-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func seedLicense(t *testing.T, db *gorm.DB, mutate func(*license.License)) *license.License {
	t.Helper()

	now := time.Now()
	lic := &license.License{
		ID:             "lic-" + t.Name(),
		CreatedAt:      now,
		UpdatedAt:      now,
		LicenseKey:     "ENT-OWNER-" + t.Name(),
		Type:           license.TypeEnterprise,
		Status:         license.StatusActive,
		ApprovalStatus: license.ApprovalApproved,
		IssuedTo:       "user-1",
		IssuedBy:       "owner-1",
		ValidFrom:      now.Add(-time.Hour),
		ValidUntil:     now.AddDate(0, 0, 30),
		Features:       datatypes.JSONMap{},
		Limits:         datatypes.JSONMap{},
	}
	if mutate != nil {
		mutate(lic)
	}
	require.NoError(t, db.Create(lic).Error)
	return lic
}

func TestValidateKeyNotFound(t *testing.T) {
	db := testutil.NewTestDB(t)
	v := license.NewValidator(db)

	res, err := v.ValidateKey(context.Background(), "ENT-NOPE-AAAA")
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, "license key not found", res.Reason)
	require.Nil(t, res.License)
}

func TestValidateKeyOrdering(t *testing.T) {
	db := testutil.NewTestDB(t)
	v := license.NewValidator(db)
	ctx := context.Background()

	// Unapproved wins over inactive and over an expired window.
	lic := seedLicense(t, db, func(l *license.License) {
		l.ApprovalStatus = license.ApprovalPending
		l.Status = license.StatusPending
		l.ValidUntil = time.Now().Add(-time.Hour)
	})

	res, err := v.ValidateKey(ctx, lic.LicenseKey)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, "license is not approved", res.Reason)

	// Approved but suspended reports the actual status before any window check.
	require.NoError(t, db.Model(lic).Updates(map[string]any{
		"approval_status": license.ApprovalApproved,
		"status":          license.StatusSuspended,
	}).Error)

	res, err = v.ValidateKey(ctx, lic.LicenseKey)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, "license is not active (status suspended)", res.Reason)

	// Active and approved: the temporal check finally applies.
	require.NoError(t, db.Model(lic).Update("status", license.StatusActive).Error)

	res, err = v.ValidateKey(ctx, lic.LicenseKey)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, "license has expired", res.Reason)
}

func TestValidateKeyNotYetValid(t *testing.T) {
	db := testutil.NewTestDB(t)
	v := license.NewValidator(db)

	lic := seedLicense(t, db, func(l *license.License) {
		l.ValidFrom = time.Now().Add(time.Hour)
		l.ValidUntil = time.Now().AddDate(0, 0, 30)
	})

	res, err := v.ValidateKey(context.Background(), lic.LicenseKey)
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, "license is not yet valid", res.Reason)
}

func TestValidateKeyValid(t *testing.T) {
	db := testutil.NewTestDB(t)
	v := license.NewValidator(db)

	lic := seedLicense(t, db, nil)

	res, err := v.ValidateKey(context.Background(), lic.LicenseKey)
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Empty(t, res.Reason)
	require.Equal(t, lic.ID, res.License.ID)
}

func TestValidateFeatures(t *testing.T) {
	db := testutil.NewTestDB(t)
	v := license.NewValidator(db)
	ctx := context.Background()

	lic := seedLicense(t, db, func(l *license.License) {
		l.Features = datatypes.JSONMap{
			"sso":       true,
			"audit":     false,
			"seats":     float64(25),
			"sandboxes": float64(0),
			"plan":      "enterprise",
		}
	})

	ok, err := v.ValidateFeatures(ctx, lic.LicenseKey, []string{"sso", "seats"})
	require.NoError(t, err)
	require.True(t, ok)

	for _, feature := range []string{"audit", "sandboxes", "plan", "missing"} {
		ok, err = v.ValidateFeatures(ctx, lic.LicenseKey, []string{"sso", feature})
		require.NoError(t, err)
		require.False(t, ok, "feature %s should not be granted", feature)
	}
}

func TestValidateFeaturesInvalidLicense(t *testing.T) {
	db := testutil.NewTestDB(t)
	v := license.NewValidator(db)

	lic := seedLicense(t, db, func(l *license.License) {
		l.Status = license.StatusRevoked
		l.Features = datatypes.JSONMap{"sso": true}
	})

	ok, err := v.ValidateFeatures(context.Background(), lic.LicenseKey, []string{"sso"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidateLimitsAccumulatesViolations(t *testing.T) {
	db := testutil.NewTestDB(t)
	v := license.NewValidator(db)

	lic := seedLicense(t, db, func(l *license.License) {
		l.Limits = datatypes.JSONMap{
			"activeWorkflows": float64(10),
			"totalUsers":      float64(5),
			"dataSizeMB":      float64(1024),
		}
	})

	res, err := v.ValidateLimits(context.Background(), lic.LicenseKey, license.Usage{
		ActiveWorkflows:      15,   // over
		ExecutionsThisPeriod: 9999, // unset limit, unbounded
		TotalUsers:           7,    // over
		DataSizeMB:           512,  // under
		RequestsPerMinute:    1000, // unset limit, unbounded
	})
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Len(t, res.Violations, 2)

	violated := map[string]license.LimitViolation{}
	for _, violation := range res.Violations {
		violated[violation.Limit] = violation
	}
	require.Equal(t, int64(10), violated["activeWorkflows"].Allowed)
	require.Equal(t, int64(15), violated["activeWorkflows"].Current)
	require.Equal(t, int64(5), violated["totalUsers"].Allowed)
	require.Equal(t, int64(7), violated["totalUsers"].Current)
}

func TestValidateLimitsAtBoundary(t *testing.T) {
	db := testutil.NewTestDB(t)
	v := license.NewValidator(db)

	lic := seedLicense(t, db, func(l *license.License) {
		l.Limits = datatypes.JSONMap{"totalUsers": float64(5)}
	})

	res, err := v.ValidateLimits(context.Background(), lic.LicenseKey, license.Usage{TotalUsers: 5})
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Empty(t, res.Violations)
}

func TestActiveLicenseForUser(t *testing.T) {
	db := testutil.NewTestDB(t)
	v := license.NewValidator(db)
	ctx := context.Background()

	lic, err := v.ActiveLicenseForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Nil(t, lic)

	// An expired active-status row does not count.
	seedLicense(t, db, func(l *license.License) {
		l.ID = "lic-expired"
		l.LicenseKey = "ENT-OWNER-EXPIRED"
		l.ValidUntil = time.Now().Add(-time.Hour)
	})

	lic, err = v.ActiveLicenseForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Nil(t, lic)

	usable := seedLicense(t, db, nil)

	lic, err = v.ActiveLicenseForUser(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, lic)
	require.Equal(t, usable.ID, lic.ID)
}

func TestUsageDaysUntilExpiryCeiling(t *testing.T) {
	db := testutil.NewTestDB(t)
	v := license.NewValidator(db)

	lic := seedLicense(t, db, func(l *license.License) {
		l.ValidUntil = time.Now().Add(36 * time.Hour)
		l.Limits = datatypes.JSONMap{"totalUsers": float64(5)}
	})

	info, err := v.Usage(context.Background(), lic.LicenseKey)
	require.NoError(t, err)
	require.Equal(t, 2, info.DaysUntilExpiry)
	require.Equal(t, int64(5), info.Limits["totalUsers"])
	require.Empty(t, info.ValidationError)
}

func TestUsageReportsInvalidLicense(t *testing.T) {
	db := testutil.NewTestDB(t)
	v := license.NewValidator(db)

	lic := seedLicense(t, db, func(l *license.License) {
		l.Status = license.StatusSuspended
	})

	info, err := v.Usage(context.Background(), lic.LicenseKey)
	require.NoError(t, err)
	require.Equal(t, license.StatusSuspended, info.Status)
	require.NotEmpty(t, info.ValidationError)
}
