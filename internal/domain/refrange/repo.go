package refrange

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the storage a reconciliation pass reads and mutates. The
// same interface serves the modern and the legacy table shapes.
type Repository interface {
	// LoadParameters returns every parameter selected by f with its
	// canonicalized ranges, ordered by analysis then parameter position.
	LoadParameters(ctx context.Context, f Filter) ([]*ParameterRanges, error)
	// LoadAnalyses returns every analysis, including those without
	// parameters, ordered by position then name.
	LoadAnalyses(ctx context.Context) ([]Analysis, error)
	// LoadRanges returns the current canonical ranges of one parameter.
	LoadRanges(ctx context.Context, parameterID uuid.UUID) ([]*ReferenceRange, error)
	Insert(ctx context.Context, r *ReferenceRange) error
	// Update rewrites the sex and age bounds of the row with r.ID.
	Update(ctx context.Context, r *ReferenceRange) error
	Delete(ctx context.Context, id uuid.UUID) error
	// WithTx runs fn in one transaction; any error rolls everything back.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
