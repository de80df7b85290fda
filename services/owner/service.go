package owner

import (
	"context"
	"fmt"
	"time"

	"licensing-controlplane/pkg/db/option"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	repo repository.Repository[OwnerManagement]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		repo: repository.ProvideStore[OwnerManagement](p.DB),
	}
}

// ensure loads the owner record, provisioning a permissive default when none
// exists yet. A concurrent duplicate insert is tolerated by re-reading.
func (s *Service) ensure(ctx context.Context, ownerID string) (*OwnerManagement, error) {
	record, err := s.repo.FindOne(ctx, &OwnerManagement{OwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("failed to query owner record: %w", err)
	}
	if record != nil {
		return record, nil
	}

	record = defaultRecord(ownerID)
	record.ID = s.node.Generate().String()
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt

	if err := s.repo.Create(ctx, record); err != nil {
		// Lost the provisioning race; the winner's row is authoritative.
		existing, findErr := s.repo.FindOne(ctx, &OwnerManagement{OwnerID: ownerID})
		if findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to provision owner record: %w", err)
	}

	zap.L().Info("provisioned owner management record", zap.String("owner_id", ownerID))
	return record, nil
}

// ValidatePermission authorizes an owner-scoped operation. Absence of an
// owner record means "not yet provisioned", never "no permission".
func (s *Service) ValidatePermission(ctx context.Context, userID string, permission Permission) error {
	span := trace.SpanFromContext(ctx)

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("owner_id", userID),
	)

	if permission.String() == "" {
		return errutil.BadRequest(fmt.Sprintf("unknown permission %q", string(permission)), nil)
	}

	record, err := s.ensure(ctx, userID)
	if err != nil {
		zapLog.Error("failed to resolve owner record", zap.Error(err))
		return errutil.Internal("failed to resolve owner record", err)
	}

	if !record.has(permission) {
		granted, grantErr := s.delegatedGrant(ctx, userID, permission)
		if grantErr != nil {
			zapLog.Error("failed to resolve delegated permissions", zap.Error(grantErr))
			return errutil.Internal("failed to resolve delegated permissions", grantErr)
		}
		if !granted {
			zapLog.Warn("owner permission denied", zap.String("permission", permission.String()))
			return errutil.Forbidden(fmt.Sprintf("owner lacks permission %s", permission), nil)
		}
	}

	return nil
}

// delegatedGrant reports whether any owner has delegated to userID and holds
// the permission on their own record. Delegated users act with the
// delegating owner's permissions, never more.
func (s *Service) delegatedGrant(ctx context.Context, userID string, permission Permission) (bool, error) {
	query := s.db.WithContext(ctx).Model(&OwnerManagement{})
	if s.db.Dialector.Name() == "postgres" {
		query = query.Where("? = ANY(delegated_users)", userID)
	} else {
		// Non-array dialects store the list as its {a,b} literal; the LIKE is
		// a prefilter and membership is confirmed below.
		query = query.Where("delegated_users LIKE ?", "%"+userID+"%")
	}

	var records []*OwnerManagement
	if err := query.Find(&records).Error; err != nil {
		return false, fmt.Errorf("failed to query delegating owners: %w", err)
	}

	for _, record := range records {
		if !record.has(permission) {
			continue
		}
		for _, delegated := range record.DelegatedUsers {
			if delegated == userID {
				return true, nil
			}
		}
	}
	return false, nil
}

// ResolveSettings returns the owner's governance settings, falling back to
// defaults when the owner has no record yet. The read never provisions.
func (s *Service) ResolveSettings(ctx context.Context, ownerID string) (Settings, error) {
	record, err := s.repo.FindOne(ctx, &OwnerManagement{OwnerID: ownerID})
	if err != nil {
		return Settings{}, fmt.Errorf("failed to query owner settings: %w", err)
	}
	if record == nil {
		return defaultRecord(ownerID).Settings, nil
	}

	settings := record.Settings
	if settings.ApprovalTimeoutDays <= 0 {
		settings.ApprovalTimeoutDays = DefaultApprovalTimeoutDays
	}
	return settings, nil
}

// UpdateSettings replaces the owner's governance settings.
func (s *Service) UpdateSettings(ctx context.Context, ownerID string, settings Settings) error {
	record, err := s.ensure(ctx, ownerID)
	if err != nil {
		return errutil.Internal("failed to resolve owner record", err)
	}

	if settings.ApprovalTimeoutDays <= 0 {
		settings.ApprovalTimeoutDays = DefaultApprovalTimeoutDays
	}

	if err := s.repo.Update(ctx, record.ID, map[string]any{
		"settings_auto_approve":          settings.AutoApprove,
		"settings_auto_approve_max_days": settings.AutoApproveMaxDays,
		"settings_approval_timeout_days": settings.ApprovalTimeoutDays,
		"settings_notify_on_submitted":   settings.NotifyOnSubmitted,
		"settings_notify_on_resolved":    settings.NotifyOnResolved,
		"updated_at":                     time.Now(),
	}); err != nil {
		return errutil.Internal("failed to update owner settings", err)
	}

	return nil
}

// Delegate grants delegated access to userID under the owner's record. The
// list rewrite holds a row lock so two concurrent delegations cannot drop
// each other's entry.
func (s *Service) Delegate(ctx context.Context, ownerID, userID string) error {
	if err := s.ValidatePermission(ctx, ownerID, CanDelegatePermissions); err != nil {
		return err
	}

	if _, err := s.ensure(ctx, ownerID); err != nil {
		return errutil.Internal("failed to resolve owner record", err)
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)

		record, err := repo.FindOne(ctx, &OwnerManagement{OwnerID: ownerID}, option.LockingUpdate)
		if err != nil || record == nil {
			return fmt.Errorf("failed to lock owner record: %w", err)
		}

		for _, existing := range record.DelegatedUsers {
			if existing == userID {
				return nil
			}
		}

		return repo.Update(ctx, record.ID, map[string]any{
			"delegated_users": append(record.DelegatedUsers, userID),
			"updated_at":      time.Now(),
		})
	}); err != nil {
		return errutil.Internal("failed to delegate permissions", err)
	}

	zap.L().Info("delegated owner permissions",
		zap.String("owner_id", ownerID),
		zap.String("user_id", userID),
	)
	return nil
}

// RevokeDelegate removes userID from the owner's delegated users.
func (s *Service) RevokeDelegate(ctx context.Context, ownerID, userID string) error {
	if err := s.ValidatePermission(ctx, ownerID, CanDelegatePermissions); err != nil {
		return err
	}

	if _, err := s.ensure(ctx, ownerID); err != nil {
		return errutil.Internal("failed to resolve owner record", err)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)

		record, err := repo.FindOne(ctx, &OwnerManagement{OwnerID: ownerID}, option.LockingUpdate)
		if err != nil || record == nil {
			return fmt.Errorf("failed to lock owner record: %w", err)
		}

		delegated := record.DelegatedUsers[:0:0]
		for _, existing := range record.DelegatedUsers {
			if existing != userID {
				delegated = append(delegated, existing)
			}
		}

		if len(delegated) == len(record.DelegatedUsers) {
			return errutil.NotFound("delegated user not found", nil)
		}

		return repo.Update(ctx, record.ID, map[string]any{
			"delegated_users": delegated,
			"updated_at":      time.Now(),
		})
	})
	if err != nil {
		if errutil.IsStatus(err, errutil.StatusNotFound) {
			return err
		}
		return errutil.Internal("failed to revoke delegated permissions", err)
	}

	return nil
}

// Recipients resolves who should receive approval notifications for the owner.
func (s *Service) Recipients(ctx context.Context, ownerID string) ([]string, error) {
	record, err := s.repo.FindOne(ctx, &OwnerManagement{OwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("failed to query owner record: %w", err)
	}
	if record == nil {
		return []string{ownerID}, nil
	}

	recipients := append([]string{record.OwnerID}, record.DelegatedUsers...)
	return recipients, nil
}
