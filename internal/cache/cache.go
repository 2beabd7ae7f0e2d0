package cache

import (
	"context"
	"time"

	"rasoipos/backend/internal/domain"
)

// TaxGroupCache holds the active tax group list per business. Entries are
// invalidated on every tax-group mutation and on bulk reassignment, so a
// hit is never older than the last configuration change plus the TTL.
type TaxGroupCache interface {
	Get(ctx context.Context, businessID string) ([]domain.TaxGroup, bool, error)
	Set(ctx context.Context, businessID string, groups []domain.TaxGroup, ttl time.Duration) error
	Invalidate(ctx context.Context, businessID string) error
}

type NoopTaxGroupCache struct{}

func (NoopTaxGroupCache) Get(_ context.Context, _ string) ([]domain.TaxGroup, bool, error) {
	return nil, false, nil
}

func (NoopTaxGroupCache) Set(_ context.Context, _ string, _ []domain.TaxGroup, _ time.Duration) error {
	return nil
}

func (NoopTaxGroupCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
