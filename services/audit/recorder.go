package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"licensing-controlplane/pkg/db/option"
	"licensing-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Recorder appends audit entries. Callers pass the transaction their own
// mutation runs in so the entry lands atomically with the state change.
type Recorder struct {
	db   *gorm.DB
	node *snowflake.Node
	repo repository.Repository[Entry]
}

type RecorderParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewRecorder(p RecorderParams) *Recorder {
	return &Recorder{
		db:   p.DB,
		node: p.Node,
		repo: repository.ProvideStore[Entry](p.DB),
	}
}

func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if entry.Action.String() == "" {
		return fmt.Errorf("audit: unknown action %q", string(entry.Action))
	}

	entry.ID = r.node.Generate().String()
	entry.CreatedAt = time.Now()

	if err := r.repo.WithTrx(tx).Create(ctx, &entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, optionally scoped to one license.
func (r *Recorder) Recent(ctx context.Context, licenseID string, limit int) ([]*Entry, error) {
	query := &Entry{}
	if licenseID != "" {
		query.LicenseID = licenseID
	}

	return r.repo.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{OrderBy: "DESC"}),
		option.WithLimit(limit),
	)
}

// Snapshot converts an entity into the JSON map stored in previous_state and
// new_state columns.
func Snapshot(v any) datatypes.JSONMap {
	if v == nil {
		return nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
