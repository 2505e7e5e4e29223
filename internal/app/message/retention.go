package message

import (
	"context"

	"relay/internal/metrics"

	"go.uber.org/zap"
)

// Retention keeps the live row count at or below Cap by evicting the oldest
// rows right after an insert.
type Retention struct {
	repo   Repository
	cap    int
	logger *zap.SugaredLogger
}

func NewRetention(repo Repository, cap int, logger *zap.Logger) *Retention {
	return &Retention{repo: repo, cap: cap, logger: logger.Sugar()}
}

func (p *Retention) Cap() int {
	return p.cap
}

// Enforce evicts oldest rows until at most Cap live rows remain. Eviction is
// oldest-first regardless of deleted state, so deleted rows at the head of the
// table go along with the live rows past the cap. The store counts and evicts
// in one step, so concurrent inserts never evict on a stale count. Errors are
// returned for logging only; the insert that triggered enforcement stays
// committed.
func (p *Retention) Enforce(ctx context.Context) (int64, error) {
	if p.cap <= 0 {
		return 0, nil
	}

	evicted, err := p.repo.TrimToCap(ctx, p.cap)
	if err != nil {
		return 0, err
	}

	if evicted > 0 {
		metrics.Evicted.Add(float64(evicted))
		p.logger.Debugw("Retention evicted messages", "evicted", evicted, "cap", p.cap)
	}
	return evicted, nil
}
