package housekeeper

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"matjar-bot/internal/metrics"
)

// Store is the persistence slice the housekeeper needs.
type Store interface {
	DeleteOldPurchases(ctx context.Context, olderThan time.Time) (int64, error)
	DeleteStalePending(ctx context.Context, olderThan time.Time) (int64, error)
	ListWalletIDs(ctx context.Context) ([]int64, error)
	LastActivity(ctx context.Context, userID int64) (time.Time, error)
	DeleteWallet(ctx context.Context, userID int64) error
}

// Notifier enqueues wallet lifecycle notifications through the outbox.
type Notifier interface {
	Notify(ctx context.Context, userID int64, template string, payload map[string]string) error
}

// GoalExpirer lets the hourly pass retire stale referral goals.
type GoalExpirer interface {
	ExpireGoals(ctx context.Context) (int64, error)
}

// Config tunes the housekeeper.
type Config struct {
	RetentionHours int
	DeleteDays     int
	Location       *time.Location
}

// Housekeeper runs the hourly retention sweep and the daily
// wallet-inactivity lifecycle: notify at 27, 30 and 32 days of inactivity,
// delete at 33.
type Housekeeper struct {
	store    Store
	notifier Notifier
	goals    GoalExpirer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// New creates the housekeeper.
func New(store Store, notifier Notifier, goals GoalExpirer, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Housekeeper {
	if cfg.RetentionHours <= 0 {
		cfg.RetentionHours = 14
	}
	if cfg.DeleteDays <= 0 {
		cfg.DeleteDays = 33
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Housekeeper{
		store:    store,
		notifier: notifier,
		goals:    goals,
		metrics:  m,
		logger:   logger.With("component", "housekeeper"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run drives both cadences until ctx is cancelled: the retention sweep every
// hour and the inactivity pass at 06:00 local time.
func (h *Housekeeper) Run(ctx context.Context) {
	hourly := time.NewTicker(time.Hour)
	defer hourly.Stop()

	daily := time.NewTimer(h.untilNextDailyPass())
	defer daily.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hourly.C:
			h.safely(ctx, "retention", h.RetentionSweep)
		case <-daily.C:
			h.safely(ctx, "inactivity", h.InactivityPass)
			daily.Reset(h.untilNextDailyPass())
		}
	}
}

func (h *Housekeeper) untilNextDailyPass() time.Duration {
	now := h.now().In(h.cfg.Location)
	next := time.Date(now.Year(), now.Month(), now.Day(), 6, 0, 0, 0, h.cfg.Location)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

func (h *Housekeeper) safely(ctx context.Context, name string, pass func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("housekeeper pass panicked", "pass", name, "panic", r, "stack", string(debug.Stack()))
			if h.metrics != nil {
				h.metrics.Errors.WithLabelValues("housekeeper").Inc()
			}
		}
	}()
	pass(ctx)
}

// RetentionSweep deletes short-lived purchase rows and non-ads queue rows
// older than the retention window, and retires stale referral goals.
func (h *Housekeeper) RetentionSweep(ctx context.Context) {
	cutoff := h.now().Add(-time.Duration(h.cfg.RetentionHours) * time.Hour)

	purchases, err := h.store.DeleteOldPurchases(ctx, cutoff)
	if err != nil {
		h.logger.Error("retention: purchases sweep failed", "error", err)
	}
	pending, err := h.store.DeleteStalePending(ctx, cutoff)
	if err != nil {
		h.logger.Error("retention: pending sweep failed", "error", err)
	}
	var goals int64
	if h.goals != nil {
		if goals, err = h.goals.ExpireGoals(ctx); err != nil {
			h.logger.Error("retention: goal expiry failed", "error", err)
		}
	}
	if purchases+pending+goals > 0 {
		h.logger.Info("retention sweep done", "purchases", purchases, "pending", pending, "goals", goals)
	}
}

// InactivityPass walks every wallet and applies the notify-then-delete
// ladder. Deleted wallets stop producing notifications on later passes
// because the row no longer exists.
func (h *Housekeeper) InactivityPass(ctx context.Context) {
	ids, err := h.store.ListWalletIDs(ctx)
	if err != nil {
		h.logger.Error("inactivity: listing wallets failed", "error", err)
		return
	}

	now := h.now()
	for _, id := range ids {
		last, err := h.store.LastActivity(ctx, id)
		if err != nil {
			h.logger.Warn("inactivity: last activity lookup failed", "user_id", id, "error", err)
			continue
		}
		days := int(now.Sub(last) / (24 * time.Hour))
		switch {
		case days >= h.cfg.DeleteDays:
			if err := h.store.DeleteWallet(ctx, id); err != nil {
				h.logger.Error("inactivity: wallet deletion failed", "user_id", id, "error", err)
				continue
			}
			h.enqueue(ctx, id, "wallet_deleted")
			h.logger.Info("inactive wallet deleted", "user_id", id, "days_inactive", days)
		case days == 32:
			h.enqueue(ctx, id, "wallet_delete_0d")
		case days == 30:
			h.enqueue(ctx, id, "wallet_delete_3d")
		case days == 27:
			h.enqueue(ctx, id, "wallet_delete_6d")
		}
	}
}

func (h *Housekeeper) enqueue(ctx context.Context, userID int64, template string) {
	if err := h.notifier.Notify(ctx, userID, template, nil); err != nil {
		h.logger.Error("inactivity: notification enqueue failed", "user_id", userID, "template", template, "error", err)
	}
}
