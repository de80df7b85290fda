package license

import (
	"context"
	"fmt"
	"time"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/db/option"
	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/keygen"
	"licensing-controlplane/pkg/repository"
	"licensing-controlplane/services/approval"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/notification"
	"licensing-controlplane/services/owner"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxParentDepth bounds the ancestor walk for sub-licenses.
const maxParentDepth = 16

type Manager struct {
	db        *gorm.DB
	node      *snowflake.Node
	config    *config.Config
	owners    *owner.Service
	approvals *approval.Service
	audit     *audit.Recorder
	notifier  notification.Dispatcher
	repo      repository.Repository[License]
	templates repository.Repository[LicenseTemplate]
}

type ManagerParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Owners    *owner.Service
	Approvals *approval.Service
	Audit     *audit.Recorder
	Notifier  notification.Dispatcher `optional:"true"`
}

func NewManager(p ManagerParams) *Manager {
	return &Manager{
		db:        p.DB,
		node:      p.Node,
		config:    p.Config,
		owners:    p.Owners,
		approvals: p.Approvals,
		audit:     p.Audit,
		notifier:  p.Notifier,
		repo:      repository.ProvideStore[License](p.DB),
		templates: repository.ProvideStore[LicenseTemplate](p.DB),
	}
}

type CreateParams struct {
	Type            LicenseType
	IssuedTo        string
	IssuedBy        string
	ValidFrom       *time.Time
	ValidityDays    int
	Features        datatypes.JSONMap
	Limits          datatypes.JSONMap
	SubscriptionID  *string
	ParentLicenseID *string
	TemplateID      *string
	SkipApproval    bool
}

// Create issues a new license on behalf of an owner holding
// canCreateLicenses. The license is persisted pending; unless approval is
// skipped (explicitly, or via the owner's auto-approve settings) a creation
// change-request is opened in the same transaction.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*License, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	if err := validateCreate(p); err != nil {
		return nil, err
	}

	if err := m.owners.ValidatePermission(ctx, p.IssuedBy, owner.CanCreateLicenses); err != nil {
		return nil, err
	}

	merged, err := m.mergeTemplate(ctx, p)
	if err != nil {
		return nil, err
	}

	if p.ParentLicenseID != nil {
		if err := m.validateParent(ctx, *p.ParentLicenseID); err != nil {
			return nil, err
		}
	}

	skip := p.SkipApproval
	if !skip {
		settings, err := m.owners.ResolveSettings(ctx, p.IssuedBy)
		if err != nil {
			return nil, errutil.Internal("failed to resolve owner settings", err)
		}
		if settings.AutoApprove &&
			(settings.AutoApproveMaxDays <= 0 || merged.validityDays <= settings.AutoApproveMaxDays) {
			skip = true
		}
	}

	var (
		lic     *License
		request *approval.LicenseApproval
	)
	if err := m.db.Transaction(func(tx *gorm.DB) error {
		var err error
		lic, err = m.createInTx(ctx, tx, p, merged, skip)
		if err != nil {
			return err
		}

		if skip {
			return nil
		}

		request, err = m.approvals.SubmitInTx(ctx, tx, approval.SubmitParams{
			LicenseID:   lic.ID,
			OwnerID:     p.IssuedBy,
			RequestedBy: p.IssuedBy,
			Type:        approval.TypeCreation,
			RequestData: audit.Snapshot(lic),
			Priority:    priorityFor(p.Type),
		})
		return err
	}); err != nil {
		zapLog.Error("failed to create license", zap.Error(err))
		return nil, err
	}

	if request != nil {
		m.notifySubmitted(ctx, request, p.IssuedBy)
	}

	return lic, nil
}

type RequestParams struct {
	Type         LicenseType
	RequestedBy  string
	OwnerID      string
	ValidityDays int
	Features     datatypes.JSONMap
	Limits       datatypes.JSONMap
	TemplateID   *string
}

// SubmitRequest is the self-service path: any user may ask an owner for a
// license. A draft pending license is persisted together with its creation
// change-request; nothing is usable until the owner approves and the holder
// activates.
func (m *Manager) SubmitRequest(ctx context.Context, p RequestParams) (*License, *approval.LicenseApproval, error) {
	if p.RequestedBy == "" {
		return nil, nil, errutil.ValidationFailed("requested_by is required", nil)
	}
	if p.OwnerID == "" {
		return nil, nil, errutil.ValidationFailed("owner_id is required", nil)
	}

	createParams := CreateParams{
		Type:         p.Type,
		IssuedTo:     p.RequestedBy,
		IssuedBy:     p.OwnerID,
		ValidityDays: p.ValidityDays,
		Features:     p.Features,
		Limits:       p.Limits,
		TemplateID:   p.TemplateID,
	}

	if err := validateCreate(createParams); err != nil {
		return nil, nil, err
	}

	merged, err := m.mergeTemplate(ctx, createParams)
	if err != nil {
		return nil, nil, err
	}

	var (
		lic     *License
		request *approval.LicenseApproval
	)
	if err := m.db.Transaction(func(tx *gorm.DB) error {
		var err error
		lic, err = m.createInTx(ctx, tx, createParams, merged, false)
		if err != nil {
			return err
		}

		request, err = m.approvals.SubmitInTx(ctx, tx, approval.SubmitParams{
			LicenseID:   lic.ID,
			OwnerID:     p.OwnerID,
			RequestedBy: p.RequestedBy,
			Type:        approval.TypeCreation,
			RequestData: audit.Snapshot(lic),
			Priority:    priorityFor(p.Type),
		})
		return err
	}); err != nil {
		return nil, nil, err
	}

	m.notifySubmitted(ctx, request, p.OwnerID)

	return lic, request, nil
}

func validateCreate(p CreateParams) error {
	if p.Type.String() == "" {
		return errutil.ValidationFailed(fmt.Sprintf("unknown license type %q", string(p.Type)), nil)
	}
	if p.IssuedTo == "" {
		return errutil.ValidationFailed("issued_to is required", nil)
	}
	if p.IssuedBy == "" {
		return errutil.ValidationFailed("issued_by is required", nil)
	}
	if p.ValidityDays < 0 {
		return errutil.ValidationFailed("validity_days must not be negative", nil)
	}
	return nil
}

type mergedDefaults struct {
	features     datatypes.JSONMap
	limits       datatypes.JSONMap
	validityDays int
	templateID   *string
}

// mergeTemplate folds template defaults under the request's explicit values.
// Per-key request values always win.
func (m *Manager) mergeTemplate(ctx context.Context, p CreateParams) (mergedDefaults, error) {
	out := mergedDefaults{
		features:     p.Features,
		limits:       p.Limits,
		validityDays: p.ValidityDays,
		templateID:   p.TemplateID,
	}

	if p.TemplateID == nil {
		if out.validityDays == 0 {
			out.validityDays = config.Active(m.config).License.DefaultValidityDays
		}
		return out, nil
	}

	tpl, err := m.templates.FindOne(ctx, &LicenseTemplate{ID: *p.TemplateID})
	if err != nil {
		return out, errutil.Internal("failed to query license template", err)
	}
	if tpl == nil || !tpl.IsActive {
		return out, errutil.NotFound("license template not found", nil)
	}

	out.features = mergeMaps(tpl.DefaultFeatures, p.Features)
	out.limits = mergeMaps(tpl.DefaultLimits, p.Limits)
	if out.validityDays == 0 {
		out.validityDays = tpl.DefaultValidityDays
	}
	if out.validityDays == 0 {
		out.validityDays = config.Active(m.config).License.DefaultValidityDays
	}

	return out, nil
}

func mergeMaps(defaults, overrides datatypes.JSONMap) datatypes.JSONMap {
	if len(defaults) == 0 {
		return overrides
	}

	merged := datatypes.JSONMap{}
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// validateParent confirms the parent exists and that following the ancestor
// chain terminates without looping.
func (m *Manager) validateParent(ctx context.Context, parentID string) error {
	seen := map[string]bool{}
	current := parentID

	for depth := 0; depth < maxParentDepth; depth++ {
		if seen[current] {
			return errutil.ValidationFailed("parent license chain contains a cycle", nil)
		}
		seen[current] = true

		parent, err := m.repo.FindOne(ctx, &License{ID: current})
		if err != nil {
			return errutil.Internal("failed to query parent license", err)
		}
		if parent == nil {
			if current == parentID {
				return errutil.NotFound("parent license not found", nil)
			}
			return errutil.ValidationFailed("parent license chain is broken", nil)
		}

		if parent.ParentLicenseID == nil {
			return nil
		}
		current = *parent.ParentLicenseID
	}

	return errutil.ValidationFailed("parent license chain is too deep", nil)
}

func (m *Manager) createInTx(ctx context.Context, tx *gorm.DB, p CreateParams, merged mergedDefaults, skipApproval bool) (*License, error) {
	repo := m.repo.WithTrx(tx)

	key, err := m.uniqueKey(ctx, repo, p.Type, p.IssuedBy)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	validFrom := now
	if p.ValidFrom != nil {
		validFrom = *p.ValidFrom
	}

	approvalStatus := ApprovalPending
	if skipApproval {
		approvalStatus = ApprovalApproved
	}

	lic := &License{
		ID:              m.node.Generate().String(),
		CreatedAt:       now,
		UpdatedAt:       now,
		LicenseKey:      key,
		Type:            p.Type,
		Status:          StatusPending,
		ApprovalStatus:  approvalStatus,
		IssuedTo:        p.IssuedTo,
		IssuedBy:        p.IssuedBy,
		ValidFrom:       validFrom,
		ValidUntil:      validFrom.AddDate(0, 0, merged.validityDays),
		Features:        merged.features,
		Limits:          merged.limits,
		SubscriptionID:  p.SubscriptionID,
		ParentLicenseID: p.ParentLicenseID,
		TemplateID:      merged.templateID,
	}

	if err := repo.Create(ctx, lic); err != nil {
		return nil, errutil.Internal("failed to create license", err)
	}

	if err := m.audit.Record(ctx, tx, audit.Entry{
		LicenseID:   lic.ID,
		Action:      audit.ActionCreated,
		PerformedBy: p.IssuedBy,
		NewState:    audit.Snapshot(lic),
	}); err != nil {
		return nil, err
	}

	return lic, nil
}

// uniqueKey generates a key and re-checks uniqueness inside the caller's
// transaction, retrying on collision up to the configured bound.
func (m *Manager) uniqueKey(ctx context.Context, repo repository.Repository[License], t LicenseType, issuerID string) (string, error) {
	attempts := config.Active(m.config).License.KeyMaxAttempts

	for i := 0; i < attempts; i++ {
		key, err := keygen.LicenseKey(t.KeyPrefix(), issuerID)
		if err != nil {
			return "", errutil.Internal("failed to generate license key", err)
		}

		count, err := repo.Count(ctx, &License{LicenseKey: key})
		if err != nil {
			return "", errutil.Internal("failed to check license key uniqueness", err)
		}
		if count == 0 {
			return key, nil
		}
	}

	return "", errutil.Internal(
		fmt.Sprintf("failed to generate a unique license key after %d attempts", attempts), nil,
	)
}

func priorityFor(t LicenseType) approval.Priority {
	switch t {
	case TypeEnterprise, TypeCustom:
		return approval.PriorityHigh
	case TypeTrial:
		return approval.PriorityLow
	default:
		return approval.PriorityMedium
	}
}

// Activate puts an approved license into service. This is holder-driven:
// possession of the key suffices, no owner permission is checked.
func (m *Manager) Activate(ctx context.Context, licenseKey, actingUserID string) (*License, error) {
	lic, err := m.findByKey(ctx, licenseKey)
	if err != nil {
		return nil, err
	}

	if lic.ApprovalStatus != ApprovalApproved {
		return nil, errutil.InvalidState(
			fmt.Sprintf("license is not approved (approval status %s)", lic.ApprovalStatus), nil,
		)
	}

	now := time.Now()
	if now.Before(lic.ValidFrom) {
		return nil, errutil.ValidationFailed("license is not yet valid", nil)
	}
	if now.After(lic.ValidUntil) {
		return nil, errutil.ValidationFailed("license has expired", nil)
	}

	return m.transition(ctx, lic, transitionParams{
		action:      audit.ActionActivated,
		performedBy: actingUserID,
		fromStates:  []Status{StatusPending, StatusSuspended},
		updates: map[string]any{
			"status":       StatusActive,
			"activated_at": now,
			"suspended_at": nil,
		},
	})
}

// Renew extends a license's validity window. The extension is anchored at
// valid_until, or at now when the license has already lapsed, so renewing
// early never shortens the window. Suspended licenses come back active.
func (m *Manager) Renew(ctx context.Context, licenseID, ownerID string) (*License, error) {
	if err := m.owners.ValidatePermission(ctx, ownerID, owner.CanCreateLicenses); err != nil {
		return nil, err
	}

	lic, err := m.Get(ctx, licenseID)
	if err != nil {
		return nil, err
	}

	days := config.Active(m.config).License.RenewalDays
	if lic.TemplateID != nil {
		tpl, err := m.templates.FindOne(ctx, &LicenseTemplate{ID: *lic.TemplateID})
		if err != nil {
			return nil, errutil.Internal("failed to query license template", err)
		}
		if tpl != nil && tpl.DefaultValidityDays > 0 {
			days = tpl.DefaultValidityDays
		}
	}

	now := time.Now()
	base := lic.ValidUntil
	if base.Before(now) {
		base = now
	}

	return m.transition(ctx, lic, transitionParams{
		action:      audit.ActionRenewed,
		performedBy: ownerID,
		fromStates:  []Status{StatusActive, StatusSuspended, StatusExpired},
		updates: map[string]any{
			"status":       StatusActive,
			"valid_until":  base.AddDate(0, 0, days),
			"suspended_at": nil,
		},
	})
}

// Suspend takes an active license temporarily out of service.
func (m *Manager) Suspend(ctx context.Context, licenseID, ownerID, reason string) (*License, error) {
	if err := m.owners.ValidatePermission(ctx, ownerID, owner.CanRevokeLicenses); err != nil {
		return nil, err
	}

	lic, err := m.Get(ctx, licenseID)
	if err != nil {
		return nil, err
	}

	return m.transition(ctx, lic, transitionParams{
		action:      audit.ActionSuspended,
		performedBy: ownerID,
		reason:      reason,
		fromStates:  []Status{StatusActive},
		updates: map[string]any{
			"status":       StatusSuspended,
			"suspended_at": time.Now(),
		},
	})
}

// Revoke permanently terminates a license. There is no way back.
func (m *Manager) Revoke(ctx context.Context, licenseID, ownerID, reason string) (*License, error) {
	if err := m.owners.ValidatePermission(ctx, ownerID, owner.CanRevokeLicenses); err != nil {
		return nil, err
	}

	lic, err := m.Get(ctx, licenseID)
	if err != nil {
		return nil, err
	}

	return m.transition(ctx, lic, transitionParams{
		action:      audit.ActionRevoked,
		performedBy: ownerID,
		reason:      reason,
		fromStates:  []Status{StatusPending, StatusActive, StatusSuspended, StatusExpired},
		updates: map[string]any{
			"status":     StatusRevoked,
			"revoked_at": time.Now(),
		},
	})
}

type transitionParams struct {
	action      audit.Action
	performedBy string
	reason      string
	fromStates  []Status
	updates     map[string]any
}

// transition applies a guarded state change. The update is conditional on the
// row still being in one of fromStates, so concurrent transitions resolve to
// exactly one winner; the loser observes InvalidState with the actual status.
func (m *Manager) transition(ctx context.Context, lic *License, p transitionParams) (*License, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("license_id", lic.ID),
	)

	allowed := false
	for _, s := range p.fromStates {
		if lic.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, errutil.InvalidState(
			fmt.Sprintf("license cannot be %s from status %s", p.action, lic.Status), nil,
		)
	}

	p.updates["updated_at"] = time.Now()

	var updated *License
	if err := m.db.Transaction(func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).Model(&License{}).
			Where("id = ? AND status IN ?", lic.ID, p.fromStates).
			Updates(p.updates)
		if res.Error != nil {
			return errutil.Internal("failed to update license", res.Error)
		}
		if res.RowsAffected == 0 {
			return errutil.InvalidState(
				fmt.Sprintf("license cannot be %s from its current status", p.action), nil,
			)
		}

		var err error
		updated, err = m.repo.WithTrx(tx).FindOne(ctx, &License{ID: lic.ID})
		if err != nil || updated == nil {
			return errutil.Internal("failed to reload license", err)
		}

		var reason *string
		if p.reason != "" {
			reason = &p.reason
		}

		return m.audit.Record(ctx, tx, audit.Entry{
			LicenseID:     lic.ID,
			Action:        p.action,
			PerformedBy:   p.performedBy,
			PreviousState: audit.Snapshot(lic),
			NewState:      audit.Snapshot(updated),
			Reason:        reason,
		})
	}); err != nil {
		zapLog.Warn("license transition failed",
			zap.String("action", p.action.String()),
			zap.Error(err),
		)
		return nil, err
	}

	return updated, nil
}

// ProcessApproval resolves a creation change-request and, when approved,
// marks the underlying license approved in the same transaction. A rejected
// creation leaves the license pending with approval_status=rejected so the
// requester can see the outcome and resubmit.
func (m *Manager) ProcessApproval(ctx context.Context, approvalID string, decision approval.Decision, reason, ownerID string) (*approval.LicenseApproval, error) {
	if err := m.owners.ValidatePermission(ctx, ownerID, owner.CanApproveLicenses); err != nil {
		return nil, err
	}

	var resolved *approval.LicenseApproval
	if err := m.db.Transaction(func(tx *gorm.DB) error {
		var err error
		resolved, err = m.approvals.ProcessInTx(ctx, tx, approval.ProcessParams{
			ApprovalID:  approvalID,
			Decision:    decision,
			Reason:      reason,
			ProcessedBy: ownerID,
		})
		if err != nil {
			return err
		}

		if resolved.Type != approval.TypeCreation {
			return nil
		}

		licenseApproval := ApprovalApproved
		if decision == approval.DecisionReject {
			licenseApproval = ApprovalRejected
		}

		res := tx.WithContext(ctx).Model(&License{}).
			Where("id = ?", resolved.LicenseID).
			Updates(map[string]any{
				"approval_status": licenseApproval,
				"updated_at":      time.Now(),
			})
		if res.Error != nil {
			return errutil.Internal("failed to update license approval status", res.Error)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	m.notifyResolved(ctx, resolved, decision, reason)

	return resolved, nil
}

// Get loads one license by id.
func (m *Manager) Get(ctx context.Context, licenseID string) (*License, error) {
	lic, err := m.repo.FindOne(ctx, &License{ID: licenseID})
	if err != nil {
		return nil, errutil.Internal("failed to query license", err)
	}
	if lic == nil {
		return nil, errutil.NotFound("license not found", nil)
	}
	return lic, nil
}

func (m *Manager) findByKey(ctx context.Context, key string) (*License, error) {
	lic, err := m.repo.FindOne(ctx, &License{LicenseKey: key})
	if err != nil {
		return nil, errutil.Internal("failed to query license", err)
	}
	if lic == nil {
		return nil, errutil.NotFound("license not found", nil)
	}
	return lic, nil
}

type ListFilter struct {
	Status Status
	Type   LicenseType
	Page   pagination.Pagination
}

// List returns licenses issued by an owner, newest first, cursor-paginated.
func (m *Manager) List(ctx context.Context, ownerID string, filter ListFilter) ([]*License, *pagination.PageInfo, error) {
	limit := filter.Page.Limit
	if limit <= 0 {
		limit = 10
	}

	// Snowflake ids are creation-ordered, so the cursor keys on id alone.
	tx := m.db.WithContext(ctx).
		Where(&License{IssuedBy: ownerID, Status: filter.Status, Type: filter.Type}).
		Order("id DESC").
		Limit(limit + 1)

	if filter.Page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(filter.Page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		tx = tx.Where("id < ?", cursor.ID)
	}

	var licenses []*License
	if err := tx.Find(&licenses).Error; err != nil {
		return nil, nil, errutil.Internal("failed to list licenses", err)
	}

	trimmed, pageInfo := pagination.BuildCursorPageInfo(licenses, limit, func(l *License) pagination.Cursor {
		return pagination.Cursor{ID: l.ID}
	})
	return trimmed, pageInfo, nil
}

type Report struct {
	TotalLicenses    int64                 `json:"total_licenses"`
	ByStatus         map[Status]int64      `json:"by_status"`
	ByType           map[LicenseType]int64 `json:"by_type"`
	PendingApprovals int64                 `json:"pending_approvals"`
	RecentActivity   []*audit.Entry        `json:"recent_activity"`
}

// GenerateReport aggregates license counts, the approval backlog and recent
// audit activity for an owner holding canViewAuditLogs.
func (m *Manager) GenerateReport(ctx context.Context, ownerID string) (*Report, error) {
	if err := m.owners.ValidatePermission(ctx, ownerID, owner.CanViewAuditLogs); err != nil {
		return nil, err
	}

	report := &Report{
		ByStatus: map[Status]int64{},
		ByType:   map[LicenseType]int64{},
	}

	statuses := []Status{StatusPending, StatusActive, StatusSuspended, StatusExpired, StatusRevoked}
	types := []LicenseType{TypeCommunity, TypeTrial, TypeEnterprise, TypeCustom}

	// Each goroutine writes its own slot; the maps are filled after Wait.
	statusCounts := make([]int64, len(statuses))
	typeCounts := make([]int64, len(types))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		total, err := m.repo.Count(gctx, &License{})
		if err != nil {
			return err
		}
		report.TotalLicenses = total
		return nil
	})

	for i, status := range statuses {
		g.Go(func() error {
			count, err := m.repo.Count(gctx, &License{Status: status})
			if err != nil {
				return err
			}
			statusCounts[i] = count
			return nil
		})
	}

	for i, t := range types {
		g.Go(func() error {
			count, err := m.repo.Count(gctx, &License{Type: t})
			if err != nil {
				return err
			}
			typeCounts[i] = count
			return nil
		})
	}

	g.Go(func() error {
		return m.db.WithContext(gctx).Model(&approval.LicenseApproval{}).
			Where("status = ?", approval.StatusPending).
			Count(&report.PendingApprovals).Error
	})

	g.Go(func() error {
		entries, err := m.audit.Recent(gctx, "", 20)
		if err != nil {
			return err
		}
		report.RecentActivity = entries
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, errutil.Internal("failed to build license report", err)
	}

	for i, status := range statuses {
		report.ByStatus[status] = statusCounts[i]
	}
	for i, t := range types {
		report.ByType[t] = typeCounts[i]
	}

	return report, nil
}

type TemplateParams struct {
	Name                string
	Type                LicenseType
	DefaultFeatures     datatypes.JSONMap
	DefaultLimits       datatypes.JSONMap
	DefaultValidityDays int
	RequiresApproval    bool
}

// CreateTemplate registers a reusable license preset. The template code is
// slugged from its name.
func (m *Manager) CreateTemplate(ctx context.Context, ownerID string, p TemplateParams) (*LicenseTemplate, error) {
	if err := m.owners.ValidatePermission(ctx, ownerID, owner.CanManageTemplates); err != nil {
		return nil, err
	}

	if p.Name == "" {
		return nil, errutil.ValidationFailed("template name is required", nil)
	}
	if p.Type.String() == "" {
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown license type %q", string(p.Type)), nil)
	}

	existing, err := m.templates.FindOne(ctx, &LicenseTemplate{Name: p.Name})
	if err != nil {
		return nil, errutil.Internal("failed to query license templates", err)
	}
	if existing != nil {
		return nil, errutil.Conflict(fmt.Sprintf("license template %q already exists", p.Name), nil)
	}

	now := time.Now()
	tpl := &LicenseTemplate{
		ID:                  m.node.Generate().String(),
		CreatedAt:           now,
		UpdatedAt:           now,
		Code:                slug.Make(p.Name),
		Name:                p.Name,
		Type:                p.Type,
		DefaultFeatures:     p.DefaultFeatures,
		DefaultLimits:       p.DefaultLimits,
		DefaultValidityDays: p.DefaultValidityDays,
		RequiresApproval:    p.RequiresApproval,
		IsActive:            true,
		CreatedBy:           ownerID,
	}

	if err := m.templates.Create(ctx, tpl); err != nil {
		return nil, errutil.Conflict(fmt.Sprintf("license template %q already exists", p.Name), err)
	}

	return tpl, nil
}

// ListTemplates returns the active templates available for new licenses.
func (m *Manager) ListTemplates(ctx context.Context, ownerID string) ([]*LicenseTemplate, error) {
	if err := m.owners.ValidatePermission(ctx, ownerID, owner.CanManageTemplates); err != nil {
		return nil, err
	}

	return m.templates.Find(ctx, &LicenseTemplate{IsActive: true},
		option.WithSortBy(option.QuerySortBy{SortBy: "name", OrderBy: "ASC"}),
	)
}

func (m *Manager) notifySubmitted(ctx context.Context, request *approval.LicenseApproval, ownerID string) {
	if m.notifier == nil || request == nil {
		return
	}

	settings, err := m.owners.ResolveSettings(ctx, ownerID)
	if err != nil || !settings.NotifyOnSubmitted {
		return
	}

	recipients, err := m.owners.Recipients(ctx, ownerID)
	if err != nil {
		return
	}

	_ = m.notifier.Dispatch(ctx, notification.Notification{
		Event:      notification.EventApprovalSubmitted,
		LicenseID:  request.LicenseID,
		ApprovalID: request.ID,
		Recipients: recipients,
	})
}

func (m *Manager) notifyResolved(ctx context.Context, resolved *approval.LicenseApproval, decision approval.Decision, reason string) {
	if m.notifier == nil || resolved == nil {
		return
	}

	event := notification.EventApprovalApproved
	if decision == approval.DecisionReject {
		event = notification.EventApprovalRejected
	}

	_ = m.notifier.Dispatch(ctx, notification.Notification{
		Event:      event,
		LicenseID:  resolved.LicenseID,
		ApprovalID: resolved.ID,
		Recipients: []string{resolved.RequestedBy},
		Reason:     reason,
	})
}
