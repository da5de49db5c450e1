// Package quota enforces the per-user daily usage limit with a lazy UTC
// day rollover; there is no background reset job.
package quota

import (
	"context"
	"log/slog"
	"time"
)

// Store is the persistence surface the gate needs. Records live in the
// users table; see internal/store.
type Store interface {
	GetUserQuota(ctx context.Context, userID int64) (count int, windowDate string, err error)
	SetUserQuota(ctx context.Context, userID int64, count int, windowDate string) error
	IncrementChatCount(ctx context.Context, userID int64) error
}

type Decision struct {
	Allowed   bool
	Remaining int
}

type Gate struct {
	store  Store
	limit  int
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, dailyLimit int, logger *slog.Logger) *Gate {
	if dailyLimit < 1 {
		dailyLimit = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:  store,
		limit:  dailyLimit,
		logger: logger,
		now:    time.Now,
	}
}

func (g *Gate) Limit() int {
	return g.limit
}

// Check reads the user's quota, resetting it first when the stored window
// date is earlier than the current UTC date. It never mutates the count;
// the caller must call Increment exactly once per delivered answer. The
// check and the increment are deliberately not atomic: concurrent turns
// from one user may both pass before either increments, and the minor
// overshoot is accepted. If the store is unreachable the gate fails open.
func (g *Gate) Check(ctx context.Context, userID int64) Decision {
	today := g.today()
	count, windowDate, err := g.store.GetUserQuota(ctx, userID)
	if err != nil {
		g.logger.Warn("quota lookup failed, failing open", "user_id", userID, "error", err)
		return Decision{Allowed: true, Remaining: g.limit}
	}
	if windowDate == "" || windowDate < today {
		if err := g.store.SetUserQuota(ctx, userID, 0, today); err != nil {
			g.logger.Warn("quota reset failed, failing open", "user_id", userID, "error", err)
		}
		return Decision{Allowed: true, Remaining: g.limit}
	}
	if count >= g.limit {
		return Decision{Allowed: false, Remaining: 0}
	}
	return Decision{Allowed: true, Remaining: g.limit - count}
}

// Increment records one consumed turn. Failures are logged, never surfaced;
// quota accounting must not block delivery of an already-produced answer.
func (g *Gate) Increment(ctx context.Context, userID int64) {
	if err := g.store.IncrementChatCount(ctx, userID); err != nil {
		g.logger.Warn("quota increment failed", "user_id", userID, "error", err)
	}
}

// today returns the current UTC calendar date; the YYYY-MM-DD form makes
// the windowDate comparison a plain string compare.
func (g *Gate) today() string {
	return g.now().UTC().Format("2006-01-02")
}
