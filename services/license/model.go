package license

import (
	"time"

	"gorm.io/datatypes"
)

type LicenseType string

const (
	TypeCommunity  LicenseType = "community"
	TypeTrial      LicenseType = "trial"
	TypeEnterprise LicenseType = "enterprise"
	TypeCustom     LicenseType = "custom"
)

func (t LicenseType) String() string {
	switch t {
	case TypeCommunity, TypeTrial, TypeEnterprise, TypeCustom:
		return string(t)
	default:
		return ""
	}
}

// KeyPrefix is the license-key segment identifying the type.
func (t LicenseType) KeyPrefix() string {
	switch t {
	case TypeCommunity:
		return "COM"
	case TypeTrial:
		return "TRL"
	case TypeEnterprise:
		return "ENT"
	case TypeCustom:
		return "CST"
	default:
		return "LIC"
	}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

func (s Status) String() string {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusExpired, StatusRevoked:
		return string(s)
	default:
		return ""
	}
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// License is the entitlement record. Rows are never deleted; revoked and
// expired licenses are retained for audit.
type License struct {
	ID              string            `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt       time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"column:updated_at" json:"updated_at"`
	LicenseKey      string            `gorm:"column:license_key;uniqueIndex" json:"license_key"`
	Type            LicenseType       `gorm:"column:license_type" json:"license_type"`
	Status          Status            `gorm:"column:status;index" json:"status"`
	ApprovalStatus  ApprovalStatus    `gorm:"column:approval_status" json:"approval_status"`
	IssuedTo        string            `gorm:"column:issued_to;index" json:"issued_to"`
	IssuedBy        string            `gorm:"column:issued_by" json:"issued_by"`
	ValidFrom       time.Time         `gorm:"column:valid_from" json:"valid_from"`
	ValidUntil      time.Time         `gorm:"column:valid_until" json:"valid_until"`
	Features        datatypes.JSONMap `gorm:"column:features" json:"features"`
	Limits          datatypes.JSONMap `gorm:"column:limits" json:"limits"`
	SubscriptionID  *string           `gorm:"column:subscription_id" json:"subscription_id,omitempty"`
	ParentLicenseID *string           `gorm:"column:parent_license_id;index" json:"parent_license_id,omitempty"`
	TemplateID      *string           `gorm:"column:template_id" json:"template_id,omitempty"`
	ActivatedAt     *time.Time        `gorm:"column:activated_at" json:"activated_at,omitempty"`
	SuspendedAt     *time.Time        `gorm:"column:suspended_at" json:"suspended_at,omitempty"`
	RevokedAt       *time.Time        `gorm:"column:revoked_at" json:"revoked_at,omitempty"`
}

func (License) TableName() string {
	return "licenses"
}

// LicenseTemplate holds reusable defaults for license creation. Inactive
// templates are never offered for new licenses but stay referenced by
// historical ones.
type LicenseTemplate struct {
	ID                  string            `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt           time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"column:updated_at" json:"updated_at"`
	Code                string            `gorm:"column:code;uniqueIndex" json:"code"`
	Name                string            `gorm:"column:name;uniqueIndex" json:"name"`
	Type                LicenseType       `gorm:"column:license_type" json:"license_type"`
	DefaultFeatures     datatypes.JSONMap `gorm:"column:default_features" json:"default_features"`
	DefaultLimits       datatypes.JSONMap `gorm:"column:default_limits" json:"default_limits"`
	DefaultValidityDays int               `gorm:"column:default_validity_days" json:"default_validity_days"`
	RequiresApproval    bool              `gorm:"column:requires_approval" json:"requires_approval"`
	IsActive            bool              `gorm:"column:is_active" json:"is_active"`
	CreatedBy           string            `gorm:"column:created_by" json:"created_by"`
}

func (LicenseTemplate) TableName() string {
	return "license_templates"
}
