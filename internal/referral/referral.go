package referral

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"matjar-bot/internal/metrics"
	"matjar-bot/internal/repo"

	"github.com/google/uuid"
)

// Store is the persistence slice the referral engine needs.
type Store interface {
	InsertReferralGoal(ctx context.Context, g repo.ReferralGoal) (*repo.ReferralGoal, error)
	LatestGoalForReferrer(ctx context.Context, referrerID int64) (*repo.ReferralGoal, error)
	GoalByToken(ctx context.Context, referrerID int64, token string) (*repo.ReferralGoal, error)
	MarkGoalSatisfied(ctx context.Context, goalID, discountID int64) error
	ExpireOpenGoals(ctx context.Context, now time.Time) (int64, error)
	InsertReferralJoin(ctx context.Context, j repo.ReferralJoin) (bool, error)
	ListJoinsForGoal(ctx context.Context, goalID int64) ([]repo.ReferralJoin, error)
	UpdateJoinMembership(ctx context.Context, referrerID, referredID int64, member bool, checkedAt time.Time) error
}

// Discounts is the discount-engine slice used for grants and revalidation.
type Discounts interface {
	CreateUntil(ctx context.Context, userID int64, percent int, endsAt time.Time, source string) (*repo.Discount, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// Membership queries the transport for channel membership.
type Membership interface {
	IsChannelMember(ctx context.Context, channel string, userID int64) (bool, error)
}

// Notifier enqueues a user notification through the outbox.
type Notifier interface {
	Notify(ctx context.Context, userID int64, template string, payload map[string]string) error
}

// Config tunes the referral engine.
type Config struct {
	Channel       string
	RequiredCount int
	GoalLifetime  time.Duration
	GrantPercent  int
}

// Engine grants time-bounded discounts for verified channel referrals and
// revokes them when eligibility stops holding.
type Engine struct {
	store      Store
	discounts  Discounts
	membership Membership
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
}

// New creates the referral engine.
func New(store Store, discounts Discounts, membership Membership, notifier Notifier, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Engine {
	if cfg.RequiredCount <= 0 {
		cfg.RequiredCount = 2
	}
	if cfg.GoalLifetime <= 0 {
		cfg.GoalLifetime = 24 * time.Hour
	}
	if cfg.GrantPercent <= 0 {
		cfg.GrantPercent = 1
	}
	return &Engine{
		store:      store,
		discounts:  discounts,
		membership: membership,
		notifier:   notifier,
		metrics:    m,
		logger:     logger.With("component", "referral"),
		cfg:        cfg,
		now:        time.Now,
	}
}

// EnsureDailyGoal returns the referrer's open goal, creating today's goal if
// the previous one expired or does not exist.
func (e *Engine) EnsureDailyGoal(ctx context.Context, referrerID int64) (*repo.ReferralGoal, error) {
	now := e.now()
	goal, err := e.store.LatestGoalForReferrer(ctx, referrerID)
	if err == nil && goal.Status == repo.GoalOpen && goal.ExpiresAt.After(now) {
		return goal, nil
	}
	if err != nil && err != repo.ErrNotFound {
		return nil, err
	}

	created, err := e.store.InsertReferralGoal(ctx, repo.ReferralGoal{
		ReferrerID:    referrerID,
		ShortToken:    strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		RequiredCount: e.cfg.RequiredCount,
		ExpiresAt:     now.Add(e.cfg.GoalLifetime),
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// StartPayload renders the invite-link payload for a goal.
func StartPayload(g *repo.ReferralGoal) string {
	return fmt.Sprintf("ref_%d_%s", g.ReferrerID, g.ShortToken)
}

// ParseStartPayload extracts (referrer, token) from a /start payload. The
// boolean is false for payloads that are not referral invites.
func ParseStartPayload(payload string) (int64, string, bool) {
	rest, ok := strings.CutPrefix(payload, "ref_")
	if !ok {
		return 0, "", false
	}
	idStr, token, ok := strings.Cut(rest, "_")
	if !ok || token == "" {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, token, true
}

// RecordJoin inserts the referred user under the referrer's goal, idempotent
// on the (referrer, referred) pair. Self-referrals are ignored.
func (e *Engine) RecordJoin(ctx context.Context, referrerID int64, token string, referredID int64, rawPayload string) error {
	if referrerID == referredID {
		return nil
	}
	goal, err := e.store.GoalByToken(ctx, referrerID, token)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil
		}
		return err
	}
	if goal.Status != repo.GoalOpen || !goal.ExpiresAt.After(e.now()) {
		return nil
	}
	_, err = e.store.InsertReferralJoin(ctx, repo.ReferralJoin{
		ReferrerID:   referrerID,
		ReferredID:   referredID,
		GoalID:       goal.ID,
		StartPayload: rawPayload,
	})
	return err
}

// VerifyJoin re-queries channel membership for one referred user after the
// "verified" button tap and advances the goal when it fills up. It returns
// whether the referred user was a member.
func (e *Engine) VerifyJoin(ctx context.Context, referrerID, referredID int64) (bool, error) {
	member, err := e.membership.IsChannelMember(ctx, e.cfg.Channel, referredID)
	if err != nil {
		return false, fmt.Errorf("membership check: %w", err)
	}
	if err := e.store.UpdateJoinMembership(ctx, referrerID, referredID, member, e.now()); err != nil {
		if err == repo.ErrNotFound {
			return member, nil
		}
		return member, err
	}
	if !member {
		return false, nil
	}

	goal, err := e.store.LatestGoalForReferrer(ctx, referrerID)
	if err != nil {
		return member, err
	}
	return member, e.maybeSatisfy(ctx, goal)
}

func (e *Engine) maybeSatisfy(ctx context.Context, goal *repo.ReferralGoal) error {
	if goal.Status != repo.GoalOpen {
		return nil
	}
	eligible, err := e.eligibleCount(ctx, goal.ID)
	if err != nil {
		return err
	}
	if eligible < goal.RequiredCount {
		return nil
	}

	grant, err := e.discounts.CreateUntil(ctx, goal.ReferrerID, e.cfg.GrantPercent, goal.ExpiresAt, "referral")
	if err != nil {
		return fmt.Errorf("grant referral discount: %w", err)
	}
	if err := e.store.MarkGoalSatisfied(ctx, goal.ID, grant.ID); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.ReferralGrants.Inc()
	}
	e.logger.Info("referral goal satisfied", "referrer_id", goal.ReferrerID, "goal_id", goal.ID, "discount_id", grant.ID)
	if e.notifier != nil {
		return e.notifier.Notify(ctx, goal.ReferrerID, "referral_satisfied", map[string]string{
			"percent": strconv.Itoa(e.cfg.GrantPercent),
			"until":   goal.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	return nil
}

func (e *Engine) eligibleCount(ctx context.Context, goalID int64) (int, error) {
	joins, err := e.store.ListJoinsForGoal(ctx, goalID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, j := range joins {
		if j.VerifiedAt != nil && j.StillMember {
			count++
		}
	}
	return count, nil
}

// RevalidateUserDiscount re-checks membership for every join of the user's
// latest goal and toggles the granted discount's active flag accordingly.
// Called before any purchase that would consume the discount and on explicit
// refresh. The discount row stays, so time-boxed expiry remains
// authoritative.
func (e *Engine) RevalidateUserDiscount(ctx context.Context, userID int64) error {
	goal, err := e.store.LatestGoalForReferrer(ctx, userID)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil
		}
		return err
	}
	if goal.GrantedDiscountID == nil {
		return nil
	}

	joins, err := e.store.ListJoinsForGoal(ctx, goal.ID)
	if err != nil {
		return err
	}
	now := e.now()
	eligible := 0
	for _, j := range joins {
		if j.VerifiedAt == nil {
			continue
		}
		member, err := e.membership.IsChannelMember(ctx, e.cfg.Channel, j.ReferredID)
		if err != nil {
			// keep the last known answer rather than revoking on a flaky check
			e.logger.Warn("membership recheck failed", "referred_id", j.ReferredID, "error", err)
			member = j.StillMember
		} else if err := e.store.UpdateJoinMembership(ctx, j.ReferrerID, j.ReferredID, member, now); err != nil {
			return err
		}
		if member {
			eligible++
		}
	}

	return e.discounts.SetActive(ctx, *goal.GrantedDiscountID, eligible >= goal.RequiredCount)
}

// ExpireGoals flips open goals past their lifetime; called by the
// housekeeper's hourly pass.
func (e *Engine) ExpireGoals(ctx context.Context) (int64, error) {
	return e.store.ExpireOpenGoals(ctx, e.now())
}
