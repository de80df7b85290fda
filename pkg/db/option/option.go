package option

import (
	"licensing-controlplane/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a gorm query before execution.
type QueryOption func(tx *gorm.DB) *gorm.DB

type QuerySortBy struct {
	SortBy  string
	OrderBy string
}

// ApplyPagination limits the result set based on cursor pagination input.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		return tx.Limit(limit)
	}
}

// WithSortBy orders the result set. SortBy defaults to created_at.
func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		column := sort.SortBy
		if column == "" {
			column = "created_at"
		}
		order := "ASC"
		if sort.OrderBy == "DESC" {
			order = "DESC"
		}
		return tx.Order(column + " " + order)
	}
}

// WithLimit caps the number of rows returned.
func WithLimit(limit int) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if limit > 0 {
			return tx.Limit(limit)
		}
		return tx
	}
}

// LockingUpdate is a gorm scope acquiring a FOR UPDATE row lock. sqlite has
// no row locks and rejects the clause; its single writer serializes anyway.
func LockingUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
