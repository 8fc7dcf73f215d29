package cache

import (
	"context"
	"time"

	"tokopos/backend/internal/domain"
)

// BalanceCache holds recently computed receivable/payable summaries. Entries
// expire by TTL; writers never invalidate explicitly, so a summary can lag a
// commit by at most the TTL.
type BalanceCache interface {
	Get(ctx context.Context, key string) (*domain.BalanceSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.BalanceSummary, ttl time.Duration) error
}

type NoopBalanceCache struct{}

func (NoopBalanceCache) Get(_ context.Context, _ string) (*domain.BalanceSummary, bool, error) {
	return nil, false, nil
}

func (NoopBalanceCache) Set(_ context.Context, _ string, _ *domain.BalanceSummary, _ time.Duration) error {
	return nil
}
