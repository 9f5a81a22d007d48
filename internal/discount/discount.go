package discount

import (
	"context"
	"log/slog"
	"time"

	"matjar-bot/internal/repo"
)

// Store is the persistence slice the discount engine needs.
type Store interface {
	InsertDiscount(ctx context.Context, d repo.Discount) (*repo.Discount, error)
	GetDiscount(ctx context.Context, id int64) (*repo.Discount, error)
	ActiveDiscountsForUser(ctx context.Context, userID int64) ([]repo.Discount, error)
	SetDiscountActive(ctx context.Context, id int64, active bool) error
	EndDiscountNow(ctx context.Context, id int64, now time.Time) error
	InsertDiscountUse(ctx context.Context, discountID, userID, amount, saved int64) error
}

// Engine applies time-bounded percentage discounts. Discounts never stack:
// at most the single highest effective-active rule applies per user.
type Engine struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates the discount engine.
func New(store Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With("component", "discount"),
		now:    time.Now,
	}
}

// ActiveForUser returns the single highest-percent effective-active discount
// covering the user, or nil.
func (e *Engine) ActiveForUser(ctx context.Context, userID int64) (*repo.Discount, error) {
	rows, err := e.store.ActiveDiscountsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	var best *repo.Discount
	for i := range rows {
		d := rows[i]
		if !d.EffectiveActive(now) {
			continue
		}
		if best == nil || d.Percent > best.Percent {
			best = &rows[i]
		}
	}
	return best, nil
}

// Applied describes the discount used on one amount.
type Applied struct {
	DiscountID int64
	Percent    int
	Saved      int64
}

// Apply returns the amount after the user's best discount, flooring the
// result, together with what was applied. Without a discount the amount
// passes through unchanged.
func (e *Engine) Apply(ctx context.Context, userID, amount int64) (int64, *Applied, error) {
	best, err := e.ActiveForUser(ctx, userID)
	if err != nil {
		return amount, nil, err
	}
	if best == nil || best.Percent <= 0 {
		return amount, nil, nil
	}
	discounted := amount * int64(100-best.Percent) / 100
	return discounted, &Applied{
		DiscountID: best.ID,
		Percent:    best.Percent,
		Saved:      amount - discounted,
	}, nil
}

// RecordUse writes a discount_uses row after an order consumed a discount.
func (e *Engine) RecordUse(ctx context.Context, userID, amount int64, applied *Applied) error {
	if applied == nil {
		return nil
	}
	return e.store.InsertDiscountUse(ctx, applied.DiscountID, userID, amount, applied.Saved)
}

// Create stores a new discount starting now. A zero duration leaves the
// window open-ended.
func (e *Engine) Create(ctx context.Context, scope string, percent int, userID *int64, duration time.Duration, source string) (*repo.Discount, error) {
	now := e.now()
	d := repo.Discount{
		Scope:    scope,
		UserID:   userID,
		Percent:  percent,
		Active:   true,
		StartsAt: now,
		Source:   source,
	}
	if duration > 0 {
		ends := now.Add(duration)
		d.EndsAt = &ends
	}
	return e.store.InsertDiscount(ctx, d)
}

// CreateUntil stores a user discount with an explicit end instant; used by
// the referral engine so the grant expires with its goal.
func (e *Engine) CreateUntil(ctx context.Context, userID int64, percent int, endsAt time.Time, source string) (*repo.Discount, error) {
	d := repo.Discount{
		Scope:    repo.ScopeUser,
		UserID:   &userID,
		Percent:  percent,
		Active:   true,
		StartsAt: e.now(),
		EndsAt:   &endsAt,
		Source:   source,
	}
	return e.store.InsertDiscount(ctx, d)
}

// SetActive flips the active flag; the window is untouched, so time-boxed
// expiry stays authoritative.
func (e *Engine) SetActive(ctx context.Context, id int64, active bool) error {
	return e.store.SetDiscountActive(ctx, id, active)
}

// EndNow deactivates a discount and closes its window.
func (e *Engine) EndNow(ctx context.Context, id int64) error {
	return e.store.EndDiscountNow(ctx, id, e.now())
}
