package enrichment

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ledgerTTL keeps yesterday's counter around for reporting before expiry.
const ledgerTTL = 48 * time.Hour

// Ledger tracks daily enrichment spend in Redis so the budget holds across
// processes. All instances share one counter per calendar day (UTC).
type Ledger struct {
	rdb    *redis.Client
	budget float64
	now    func() time.Time
}

// NewLedger wires a spend ledger. budget <= 0 disables the cap.
func NewLedger(rdb *redis.Client, budget float64) *Ledger {
	return &Ledger{rdb: rdb, budget: budget, now: time.Now}
}

func (l *Ledger) key() string {
	return "enrich:spend:" + l.now().UTC().Format("2006-01-02")
}

// Spent returns today's recorded spend.
func (l *Ledger) Spent(ctx context.Context) (float64, error) {
	v, err := l.rdb.Get(ctx, l.key()).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading spend ledger: %w", err)
	}
	return v, nil
}

// Remaining returns how much of today's budget is left. With no cap it
// returns +Inf semantics via a very large number; callers only compare.
func (l *Ledger) Remaining(ctx context.Context) (float64, error) {
	if l.budget <= 0 {
		return 1e18, nil
	}
	spent, err := l.Spent(ctx)
	if err != nil {
		return 0, err
	}
	return l.budget - spent, nil
}

// Reserve atomically adds cost to today's counter and reports whether the
// budget still holds. If the increment overshoots, it is rolled back and
// Reserve returns false.
func (l *Ledger) Reserve(ctx context.Context, cost float64) (bool, error) {
	if cost <= 0 {
		return true, nil
	}
	key := l.key()
	total, err := l.rdb.IncrByFloat(ctx, key, cost).Result()
	if err != nil {
		return false, fmt.Errorf("reserving spend: %w", err)
	}
	// First write of the day sets the expiry.
	l.rdb.Expire(ctx, key, ledgerTTL)

	if l.budget > 0 && total > l.budget {
		if err := l.rdb.IncrByFloat(ctx, key, -cost).Err(); err != nil {
			return false, fmt.Errorf("rolling back spend: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// Release refunds a reservation whose provider call produced no billable
// match.
func (l *Ledger) Release(ctx context.Context, cost float64) error {
	if cost <= 0 {
		return nil
	}
	if err := l.rdb.IncrByFloat(ctx, l.key(), -cost).Err(); err != nil {
		return fmt.Errorf("releasing spend: %w", err)
	}
	return nil
}
