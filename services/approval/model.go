package approval

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

func (s Status) String() string {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return string(s)
	default:
		return ""
	}
}

type Type string

const (
	TypeCreation     Type = "creation"
	TypeModification Type = "modification"
	TypeRenewal      Type = "renewal"
	TypeRevocation   Type = "revocation"
)

func (t Type) String() string {
	switch t {
	case TypeCreation, TypeModification, TypeRenewal, TypeRevocation:
		return string(t)
	default:
		return ""
	}
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) String() string {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return string(p)
	default:
		return ""
	}
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// LicenseApproval is a change-request against exactly one license. A request
// leaves pending exactly once: approved, rejected, or expired. Resolved rows
// are immutable.
type LicenseApproval struct {
	ID              string            `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt       time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"column:updated_at" json:"updated_at"`
	LicenseID       string            `gorm:"column:license_id;index" json:"license_id"`
	RequestedBy     string            `gorm:"column:requested_by" json:"requested_by"`
	Type            Type              `gorm:"column:approval_type" json:"approval_type"`
	RequestData     datatypes.JSONMap `gorm:"column:request_data" json:"request_data"`
	Status          Status            `gorm:"column:status;index" json:"status"`
	Priority        Priority          `gorm:"column:priority" json:"priority"`
	ApprovedBy      *string           `gorm:"column:approved_by" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time        `gorm:"column:approved_at" json:"approved_at,omitempty"`
	RejectedBy      *string           `gorm:"column:rejected_by" json:"rejected_by,omitempty"`
	RejectedAt      *time.Time        `gorm:"column:rejected_at" json:"rejected_at,omitempty"`
	RejectionReason *string           `gorm:"column:rejection_reason" json:"rejection_reason,omitempty"`
	ExpiresAt       time.Time         `gorm:"column:expires_at;index" json:"expires_at"`
	ExpiryWarnedAt  *time.Time        `gorm:"column:expiry_warned_at" json:"expiry_warned_at,omitempty"`
}

func (LicenseApproval) TableName() string {
	return "license_approvals"
}
