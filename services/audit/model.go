package audit

import (
	"time"

	"gorm.io/datatypes"
)

type Action string

const (
	ActionCreated   Action = "created"
	ActionActivated Action = "activated"
	ActionSuspended Action = "suspended"
	ActionRenewed   Action = "renewed"
	ActionRevoked   Action = "revoked"
	ActionModified  Action = "modified"
	ActionApproved  Action = "approved"
	ActionRejected  Action = "rejected"
	ActionExpired   Action = "expired"
)

func (a Action) String() string {
	switch a {
	case ActionCreated, ActionActivated, ActionSuspended, ActionRenewed,
		ActionRevoked, ActionModified, ActionApproved, ActionRejected, ActionExpired:
		return string(a)
	default:
		return ""
	}
}

// Entry is one immutable record of a state-changing action on a license. Rows
// are only ever inserted; there is no update or delete path.
type Entry struct {
	ID            string            `gorm:"column:id;primaryKey"`
	CreatedAt     time.Time         `gorm:"column:created_at"`
	LicenseID     string            `gorm:"column:license_id;index"`
	Action        Action            `gorm:"column:action"`
	PerformedBy   string            `gorm:"column:performed_by"`
	PreviousState datatypes.JSONMap `gorm:"column:previous_state"`
	NewState      datatypes.JSONMap `gorm:"column:new_state"`
	Reason        *string           `gorm:"column:reason"`
	RequestID     string            `gorm:"column:request_id"`
}

func (Entry) TableName() string {
	return "license_audit_log"
}
