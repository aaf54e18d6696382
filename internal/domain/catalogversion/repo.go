package catalogversion

import (
	"context"

	"github.com/ehr/refrange/internal/domain/refrange"
)

// Repository is the append-only version ledger.
type Repository interface {
	// Latest returns the highest version, or apperr.ErrNotFound when the
	// ledger is empty.
	Latest(ctx context.Context) (*CatalogVersion, error)
	GetByNumber(ctx context.Context, number int) (*CatalogVersion, error)
	// List returns versions newest first, without their snapshots.
	List(ctx context.Context, limit, offset int) ([]*CatalogVersion, int, error)
	Create(ctx context.Context, v *CatalogVersion) error
	// Lock serializes committers for the rest of the transaction in ctx.
	Lock(ctx context.Context) error
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Source loads the catalog content being versioned.
type Source interface {
	LoadParameters(ctx context.Context, f refrange.Filter) ([]*refrange.ParameterRanges, error)
	LoadAnalyses(ctx context.Context) ([]refrange.Analysis, error)
}
