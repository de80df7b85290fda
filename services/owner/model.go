package owner

import (
	"time"

	"github.com/lib/pq"
)

// Permission names an owner capability flag.
type Permission string

const (
	CanCreateLicenses      Permission = "canCreateLicenses"
	CanApproveLicenses     Permission = "canApproveLicenses"
	CanRevokeLicenses      Permission = "canRevokeLicenses"
	CanManageTemplates     Permission = "canManageTemplates"
	CanDelegatePermissions Permission = "canDelegatePermissions"
	CanViewAuditLogs       Permission = "canViewAuditLogs"
	CanManageSubscriptions Permission = "canManageSubscriptions"
)

func (p Permission) String() string {
	switch p {
	case CanCreateLicenses, CanApproveLicenses, CanRevokeLicenses,
		CanManageTemplates, CanDelegatePermissions, CanViewAuditLogs,
		CanManageSubscriptions:
		return string(p)
	default:
		return ""
	}
}

type Settings struct {
	AutoApprove         bool `gorm:"column:auto_approve" json:"auto_approve"`
	AutoApproveMaxDays  int  `gorm:"column:auto_approve_max_days" json:"auto_approve_max_days"`
	ApprovalTimeoutDays int  `gorm:"column:approval_timeout_days" json:"approval_timeout_days"`
	NotifyOnSubmitted   bool `gorm:"column:notify_on_submitted" json:"notify_on_submitted"`
	NotifyOnResolved    bool `gorm:"column:notify_on_resolved" json:"notify_on_resolved"`
}

// OwnerManagement is the per-owner governance record. At most one row exists
// per owner; it is provisioned lazily with every permission enabled.
type OwnerManagement struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
	OwnerID   string    `gorm:"column:owner_id;uniqueIndex" json:"owner_id"`

	CanCreateLicenses      bool `gorm:"column:can_create_licenses" json:"can_create_licenses"`
	CanApproveLicenses     bool `gorm:"column:can_approve_licenses" json:"can_approve_licenses"`
	CanRevokeLicenses      bool `gorm:"column:can_revoke_licenses" json:"can_revoke_licenses"`
	CanManageTemplates     bool `gorm:"column:can_manage_templates" json:"can_manage_templates"`
	CanDelegatePermissions bool `gorm:"column:can_delegate_permissions" json:"can_delegate_permissions"`
	CanViewAuditLogs       bool `gorm:"column:can_view_audit_logs" json:"can_view_audit_logs"`
	CanManageSubscriptions bool `gorm:"column:can_manage_subscriptions" json:"can_manage_subscriptions"`

	DelegatedUsers pq.StringArray `gorm:"column:delegated_users;type:text[]" json:"delegated_users"`

	Settings Settings `gorm:"embedded;embeddedPrefix:settings_" json:"settings"`
}

func (OwnerManagement) TableName() string {
	return "owner_management"
}

// DefaultApprovalTimeoutDays applies when no owner settings are resolvable.
const DefaultApprovalTimeoutDays = 7

func defaultRecord(ownerID string) *OwnerManagement {
	return &OwnerManagement{
		OwnerID:                ownerID,
		CanCreateLicenses:      true,
		CanApproveLicenses:     true,
		CanRevokeLicenses:      true,
		CanManageTemplates:     true,
		CanDelegatePermissions: true,
		CanViewAuditLogs:       true,
		CanManageSubscriptions: true,
		DelegatedUsers:         pq.StringArray{},
		Settings: Settings{
			ApprovalTimeoutDays: DefaultApprovalTimeoutDays,
			NotifyOnSubmitted:   true,
			NotifyOnResolved:    true,
		},
	}
}

func (m *OwnerManagement) has(p Permission) bool {
	switch p {
	case CanCreateLicenses:
		return m.CanCreateLicenses
	case CanApproveLicenses:
		return m.CanApproveLicenses
	case CanRevokeLicenses:
		return m.CanRevokeLicenses
	case CanManageTemplates:
		return m.CanManageTemplates
	case CanDelegatePermissions:
		return m.CanDelegatePermissions
	case CanViewAuditLogs:
		return m.CanViewAuditLogs
	case CanManageSubscriptions:
		return m.CanManageSubscriptions
	default:
		return false
	}
}
