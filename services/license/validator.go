package license

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"licensing-controlplane/pkg/repository"
)

// limit keys understood by ValidateLimits. Unset keys are unbounded.
const (
	LimitActiveWorkflows      = "activeWorkflows"
	LimitExecutionsThisPeriod = "executionsThisPeriod"
	LimitTotalUsers           = "totalUsers"
	LimitDataSizeMB           = "dataSizeMB"
	LimitRequestsPerMinute    = "requestsPerMinute"
)

var limitKeys = []string{
	LimitActiveWorkflows,
	LimitExecutionsThisPeriod,
	LimitTotalUsers,
	LimitDataSizeMB,
	LimitRequestsPerMinute,
}

// Usage is a point-in-time consumption snapshot reported by the caller.
type Usage struct {
	ActiveWorkflows      int64 `json:"activeWorkflows"`
	ExecutionsThisPeriod int64 `json:"executionsThisPeriod"`
	TotalUsers           int64 `json:"totalUsers"`
	DataSizeMB           int64 `json:"dataSizeMB"`
	RequestsPerMinute    int64 `json:"requestsPerMinute"`
}

func (u Usage) value(key string) int64 {
	switch key {
	case LimitActiveWorkflows:
		return u.ActiveWorkflows
	case LimitExecutionsThisPeriod:
		return u.ExecutionsThisPeriod
	case LimitTotalUsers:
		return u.TotalUsers
	case LimitDataSizeMB:
		return u.DataSizeMB
	case LimitRequestsPerMinute:
		return u.RequestsPerMinute
	default:
		return 0
	}
}

type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Reason  string   `json:"reason,omitempty"`
	License *License `json:"license,omitempty"`
}

type LimitViolation struct {
	Limit   string `json:"limit"`
	Allowed int64  `json:"allowed"`
	Current int64  `json:"current"`
}

type LimitResult struct {
	Valid      bool             `json:"valid"`
	Violations []LimitViolation `json:"violations,omitempty"`
}

// UsageInfo summarizes a license for the holder-facing status endpoint.
type UsageInfo struct {
	LicenseKey      string           `json:"license_key"`
	Type            LicenseType      `json:"license_type"`
	Status          Status           `json:"status"`
	ValidUntil      time.Time        `json:"valid_until"`
	DaysUntilExpiry int              `json:"days_until_expiry"`
	Features        map[string]any   `json:"features"`
	Limits          map[string]int64 `json:"limits"`
	ValidationError string           `json:"validation_error,omitempty"`
}

// Validator answers entitlement questions without ever mutating license
// rows; expiry is computed against the clock at call time.
type Validator struct {
	repo repository.Repository[License]
	now  func() time.Time
}

func NewValidator(db *gorm.DB) *Validator {
	return &Validator{
		repo: repository.ProvideStore[License](db),
		now:  time.Now,
	}
}

// ValidateKey checks a key end to end and reports the first failure in
// precedence order: unknown key, unapproved, inactive, outside validity
// window.
func (v *Validator) ValidateKey(ctx context.Context, key string) (*ValidationResult, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	lic, err := v.repo.FindOne(ctx, &License{LicenseKey: key})
	if err != nil {
		zapLog.Error("failed to look up license key", zap.Error(err))
		return nil, err
	}

	if lic == nil {
		return &ValidationResult{Valid: false, Reason: "license key not found"}, nil
	}

	if lic.ApprovalStatus != ApprovalApproved {
		return &ValidationResult{Valid: false, Reason: "license is not approved", License: lic}, nil
	}

	if lic.Status != StatusActive {
		return &ValidationResult{
			Valid:   false,
			Reason:  fmt.Sprintf("license is not active (status %s)", lic.Status),
			License: lic,
		}, nil
	}

	now := v.now()
	if now.Before(lic.ValidFrom) {
		return &ValidationResult{Valid: false, Reason: "license is not yet valid", License: lic}, nil
	}

	if now.After(lic.ValidUntil) {
		return &ValidationResult{Valid: false, Reason: "license has expired", License: lic}, nil
	}

	return &ValidationResult{Valid: true, License: lic}, nil
}

// ValidateFeatures reports whether every named feature is granted. Boolean
// true and numeric values above zero count as granted; a missing feature
// does not.
func (v *Validator) ValidateFeatures(ctx context.Context, key string, features []string) (bool, error) {
	res, err := v.ValidateKey(ctx, key)
	if err != nil {
		return false, err
	}

	if !res.Valid {
		return false, nil
	}

	for _, feature := range features {
		if !featureEnabled(res.License.Features[feature]) {
			return false, nil
		}
	}

	return true, nil
}

func featureEnabled(raw any) bool {
	switch val := raw.(type) {
	case bool:
		return val
	case float64:
		return val > 0
	case int:
		return val > 0
	case int64:
		return val > 0
	default:
		return false
	}
}

// ValidateLimits compares reported usage against every limit the license
// declares and returns all violations, not just the first.
func (v *Validator) ValidateLimits(ctx context.Context, key string, usage Usage) (*LimitResult, error) {
	res, err := v.ValidateKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if !res.Valid {
		return &LimitResult{Valid: false}, nil
	}

	out := &LimitResult{Valid: true}
	for _, name := range limitKeys {
		allowed, ok := limitValue(res.License.Limits[name])
		if !ok {
			continue
		}

		if current := usage.value(name); current > allowed {
			out.Valid = false
			out.Violations = append(out.Violations, LimitViolation{
				Limit:   name,
				Allowed: allowed,
				Current: current,
			})
		}
	}

	return out, nil
}

func limitValue(raw any) (int64, bool) {
	switch val := raw.(type) {
	case float64:
		return int64(val), true
	case int:
		return int64(val), true
	case int64:
		return val, true
	default:
		return 0, false
	}
}

// ActiveLicenseForUser returns the user's currently usable license, or nil
// when none passes validation.
func (v *Validator) ActiveLicenseForUser(ctx context.Context, userID string) (*License, error) {
	licenses, err := v.repo.Find(ctx, &License{IssuedTo: userID, Status: StatusActive})
	if err != nil {
		return nil, err
	}

	now := v.now()
	for _, lic := range licenses {
		if lic.ApprovalStatus != ApprovalApproved {
			continue
		}
		if now.Before(lic.ValidFrom) || now.After(lic.ValidUntil) {
			continue
		}
		return lic, nil
	}

	return nil, nil
}

// Usage returns the holder-facing summary for a validated key.
func (v *Validator) Usage(ctx context.Context, key string) (*UsageInfo, error) {
	res, err := v.ValidateKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if res.License == nil {
		return nil, nil
	}

	lic := res.License
	info := &UsageInfo{
		LicenseKey:      lic.LicenseKey,
		Type:            lic.Type,
		Status:          lic.Status,
		ValidUntil:      lic.ValidUntil,
		DaysUntilExpiry: daysUntil(v.now(), lic.ValidUntil),
		Features:        lic.Features,
		Limits:          map[string]int64{},
		ValidationError: res.Reason,
	}

	for _, name := range limitKeys {
		if allowed, ok := limitValue(lic.Limits[name]); ok {
			info.Limits[name] = allowed
		}
	}

	return info, nil
}

// daysUntil rounds up so a license expiring later today reports one day.
func daysUntil(now, until time.Time) int {
	remaining := until.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}
