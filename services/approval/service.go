package approval

import (
	"context"
	"fmt"
	"time"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/db/option"
	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/repository"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/notification"
	"licensing-controlplane/services/owner"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	config   *config.Config
	owners   *owner.Service
	audit    *audit.Recorder
	notifier notification.Dispatcher
	repo     repository.Repository[LicenseApproval]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Owners   *owner.Service
	Audit    *audit.Recorder
	Notifier notification.Dispatcher `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		config:   p.Config,
		owners:   p.Owners,
		audit:    p.Audit,
		notifier: p.Notifier,
		repo:     repository.ProvideStore[LicenseApproval](p.DB),
	}
}

type SubmitParams struct {
	LicenseID   string
	OwnerID     string
	RequestedBy string
	Type        Type
	RequestData datatypes.JSONMap
	Priority    Priority
}

// SubmitInTx creates a pending change-request inside the caller's transaction.
// The deadline comes from the governing owner's approvalTimeoutDays setting,
// falling back to the configured default when no settings are resolvable.
func (s *Service) SubmitInTx(ctx context.Context, tx *gorm.DB, p SubmitParams) (*LicenseApproval, error) {
	if p.Type.String() == "" {
		return nil, errutil.BadRequest(fmt.Sprintf("unknown approval type %q", string(p.Type)), nil)
	}
	if p.Priority.String() == "" {
		p.Priority = PriorityMedium
	}

	timeoutDays := config.Active(s.config).Approval.DefaultTimeoutDays
	if p.OwnerID != "" {
		settings, err := s.owners.ResolveSettings(ctx, p.OwnerID)
		if err != nil {
			return nil, errutil.Internal("failed to resolve owner settings", err)
		}
		if settings.ApprovalTimeoutDays > 0 {
			timeoutDays = settings.ApprovalTimeoutDays
		}
	}

	now := time.Now()
	request := &LicenseApproval{
		ID:          s.node.Generate().String(),
		CreatedAt:   now,
		UpdatedAt:   now,
		LicenseID:   p.LicenseID,
		RequestedBy: p.RequestedBy,
		Type:        p.Type,
		RequestData: p.RequestData,
		Status:      StatusPending,
		Priority:    p.Priority,
		ExpiresAt:   now.AddDate(0, 0, timeoutDays),
	}

	if err := s.repo.WithTrx(tx).Create(ctx, request); err != nil {
		return nil, errutil.Internal("failed to create approval request", err)
	}

	return request, nil
}

// Submit opens a change-request in its own transaction and notifies the
// owner's recipients.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*LicenseApproval, error) {
	span := trace.SpanFromContext(ctx)

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	var request *LicenseApproval
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		request, err = s.SubmitInTx(ctx, tx, p)
		return err
	}); err != nil {
		zapLog.Error("failed to submit approval", zap.Error(err))
		return nil, err
	}

	s.notifySubmitted(ctx, request, p.OwnerID)

	return request, nil
}

func (s *Service) notifySubmitted(ctx context.Context, request *LicenseApproval, ownerID string) {
	if s.notifier == nil || ownerID == "" {
		return
	}

	settings, err := s.owners.ResolveSettings(ctx, ownerID)
	if err != nil || !settings.NotifyOnSubmitted {
		return
	}

	recipients, err := s.owners.Recipients(ctx, ownerID)
	if err != nil {
		return
	}

	_ = s.notifier.Dispatch(ctx, notification.Notification{
		Event:      notification.EventApprovalSubmitted,
		LicenseID:  request.LicenseID,
		ApprovalID: request.ID,
		Recipients: recipients,
	})
}

type ProcessParams struct {
	ApprovalID  string
	Decision    Decision
	Reason      string
	ProcessedBy string
}

// ProcessInTx resolves a pending request inside the caller's transaction.
// The terminal transition is guarded by a conditional update on
// status = pending, so two concurrent resolvers produce exactly one winner;
// the loser observes InvalidState.
func (s *Service) ProcessInTx(ctx context.Context, tx *gorm.DB, p ProcessParams) (*LicenseApproval, error) {
	repo := s.repo.WithTrx(tx)

	request, err := repo.FindOne(ctx, &LicenseApproval{ID: p.ApprovalID})
	if err != nil {
		return nil, errutil.Internal("failed to query approval", err)
	}
	if request == nil {
		return nil, errutil.NotFound("approval not found", nil)
	}

	now := time.Now()
	updates := map[string]any{"updated_at": now}

	switch p.Decision {
	case DecisionApprove:
		updates["status"] = StatusApproved
		updates["approved_by"] = p.ProcessedBy
		updates["approved_at"] = now
	case DecisionReject:
		updates["status"] = StatusRejected
		updates["rejected_by"] = p.ProcessedBy
		updates["rejected_at"] = now
		updates["rejection_reason"] = p.Reason
	default:
		return nil, errutil.BadRequest(fmt.Sprintf("unknown decision %q", string(p.Decision)), nil)
	}

	res := tx.WithContext(ctx).Model(&LicenseApproval{}).
		Where("id = ? AND status = ?", p.ApprovalID, StatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, errutil.Internal("failed to resolve approval", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errutil.InvalidState(
			fmt.Sprintf("approval is not pending (status %s)", request.Status), nil,
		)
	}

	resolved, err := repo.FindOne(ctx, &LicenseApproval{ID: p.ApprovalID})
	if err != nil || resolved == nil {
		return nil, errutil.Internal("failed to reload approval", err)
	}

	action := audit.ActionApproved
	if p.Decision == DecisionReject {
		action = audit.ActionRejected
	}

	var reason *string
	if p.Reason != "" {
		reason = &p.Reason
	}

	if err := s.audit.Record(ctx, tx, audit.Entry{
		LicenseID:     resolved.LicenseID,
		Action:        action,
		PerformedBy:   p.ProcessedBy,
		PreviousState: audit.Snapshot(request),
		NewState:      audit.Snapshot(resolved),
		Reason:        reason,
	}); err != nil {
		return nil, err
	}

	return resolved, nil
}

// Process resolves a pending request in its own transaction and notifies the
// requester and owner recipients.
func (s *Service) Process(ctx context.Context, p ProcessParams) (*LicenseApproval, error) {
	span := trace.SpanFromContext(ctx)

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("approval_id", p.ApprovalID),
	)

	var resolved *LicenseApproval
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		resolved, err = s.ProcessInTx(ctx, tx, p)
		return err
	}); err != nil {
		zapLog.Warn("failed to process approval", zap.Error(err))
		return nil, err
	}

	s.notifyResolved(ctx, resolved, p)

	return resolved, nil
}

func (s *Service) notifyResolved(ctx context.Context, resolved *LicenseApproval, p ProcessParams) {
	if s.notifier == nil {
		return
	}

	event := notification.EventApprovalApproved
	if p.Decision == DecisionReject {
		event = notification.EventApprovalRejected
	}

	_ = s.notifier.Dispatch(ctx, notification.Notification{
		Event:      event,
		LicenseID:  resolved.LicenseID,
		ApprovalID: resolved.ID,
		Recipients: []string{resolved.RequestedBy},
		Reason:     p.Reason,
	})
}

// ExpireDue transitions every pending request past its deadline to expired.
// Safe to run concurrently from multiple instances: each row is claimed with
// an update-where-still-pending, and claims lost to another sweeper are
// skipped silently.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := time.Now()

	var due []*LicenseApproval
	if err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", StatusPending, now).
		Limit(100).
		Find(&due).Error; err != nil {
		return 0, fmt.Errorf("failed to list due approvals: %w", err)
	}

	expired := 0
	for _, request := range due {
		claimed := false

		if err := s.db.Transaction(func(tx *gorm.DB) error {
			res := tx.WithContext(ctx).Model(&LicenseApproval{}).
				Where("id = ? AND status = ?", request.ID, StatusPending).
				Updates(map[string]any{
					"status":     StatusExpired,
					"updated_at": time.Now(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			claimed = true

			after := *request
			after.Status = StatusExpired

			return s.audit.Record(ctx, tx, audit.Entry{
				LicenseID:     request.LicenseID,
				Action:        audit.ActionExpired,
				PerformedBy:   "system",
				PreviousState: audit.Snapshot(request),
				NewState:      audit.Snapshot(&after),
			})
		}); err != nil {
			zap.L().Error("failed to expire approval",
				zap.String("approval_id", request.ID),
				zap.Error(err),
			)
			continue
		}

		if !claimed {
			continue
		}
		expired++

		if s.notifier != nil {
			_ = s.notifier.Dispatch(ctx, notification.Notification{
				Event:      notification.EventApprovalExpired,
				LicenseID:  request.LicenseID,
				ApprovalID: request.ID,
				Recipients: []string{request.RequestedBy},
			})
		}
	}

	if expired > 0 {
		zap.L().Info("expired overdue approvals", zap.Int("count", expired))
	}

	return expired, nil
}

// WarnExpiring notifies requesters about pending approvals closing within the
// warn window. Each request is warned at most once.
func (s *Service) WarnExpiring(ctx context.Context, window time.Duration) (int, error) {
	now := time.Now()

	var closing []*LicenseApproval
	if err := s.db.WithContext(ctx).
		Where("status = ? AND expiry_warned_at IS NULL AND expires_at > ? AND expires_at <= ?",
			StatusPending, now, now.Add(window)).
		Limit(100).
		Find(&closing).Error; err != nil {
		return 0, fmt.Errorf("failed to list closing approvals: %w", err)
	}

	warned := 0
	for _, request := range closing {
		res := s.db.WithContext(ctx).Model(&LicenseApproval{}).
			Where("id = ? AND status = ? AND expiry_warned_at IS NULL", request.ID, StatusPending).
			Update("expiry_warned_at", time.Now())
		if res.Error != nil || res.RowsAffected == 0 {
			continue
		}
		warned++

		if s.notifier != nil {
			_ = s.notifier.Dispatch(ctx, notification.Notification{
				Event:      notification.EventApprovalExpiringSoon,
				LicenseID:  request.LicenseID,
				ApprovalID: request.ID,
				Recipients: []string{request.RequestedBy},
			})
		}
	}

	return warned, nil
}

type QueueFilter struct {
	Status   Status
	Type     Type
	Priority Priority
	Page     pagination.Pagination
}

// Queue lists change-requests for an owner holding canApproveLicenses.
func (s *Service) Queue(ctx context.Context, ownerID string, filter QueueFilter) ([]*LicenseApproval, error) {
	if err := s.owners.ValidatePermission(ctx, ownerID, owner.CanApproveLicenses); err != nil {
		return nil, err
	}

	query := &LicenseApproval{
		Status:   filter.Status,
		Type:     filter.Type,
		Priority: filter.Priority,
	}

	if filter.Page.Limit <= 0 {
		filter.Page.Limit = 50
	}

	return s.repo.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{OrderBy: "DESC"}),
		option.ApplyPagination(filter.Page),
	)
}

// Get loads one approval by id.
func (s *Service) Get(ctx context.Context, approvalID string) (*LicenseApproval, error) {
	request, err := s.repo.FindOne(ctx, &LicenseApproval{ID: approvalID})
	if err != nil {
		return nil, errutil.Internal("failed to query approval", err)
	}
	if request == nil {
		return nil, errutil.NotFound("approval not found", nil)
	}
	return request, nil
}
