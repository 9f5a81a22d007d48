package referral

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"matjar-bot/internal/repo"
)

type memStore struct {
	goals  map[int64]*repo.ReferralGoal
	joins  map[[2]int64]*repo.ReferralJoin
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{goals: map[int64]*repo.ReferralGoal{}, joins: map[[2]int64]*repo.ReferralJoin{}, nextID: 1}
}

func (m *memStore) InsertReferralGoal(_ context.Context, g repo.ReferralGoal) (*repo.ReferralGoal, error) {
	g.ID = m.nextID
	m.nextID++
	g.Status = repo.GoalOpen
	g.CreatedAt = time.Now()
	m.goals[g.ID] = &g
	cp := g
	return &cp, nil
}

func (m *memStore) LatestGoalForReferrer(_ context.Context, referrerID int64) (*repo.ReferralGoal, error) {
	var latest *repo.ReferralGoal
	for _, g := range m.goals {
		if g.ReferrerID != referrerID {
			continue
		}
		if latest == nil || g.ID > latest.ID {
			latest = g
		}
	}
	if latest == nil {
		return nil, repo.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) GoalByToken(_ context.Context, referrerID int64, token string) (*repo.ReferralGoal, error) {
	for _, g := range m.goals {
		if g.ReferrerID == referrerID && g.ShortToken == token {
			cp := *g
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memStore) MarkGoalSatisfied(_ context.Context, goalID, discountID int64) error {
	g, ok := m.goals[goalID]
	if !ok || g.Status != repo.GoalOpen {
		return repo.ErrNotFound
	}
	g.Status = repo.GoalSatisfied
	g.GrantedDiscountID = &discountID
	return nil
}

func (m *memStore) ExpireOpenGoals(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, g := range m.goals {
		if g.Status == repo.GoalOpen && g.ExpiresAt.Before(now) {
			g.Status = repo.GoalExpired
			n++
		}
	}
	return n, nil
}

func (m *memStore) InsertReferralJoin(_ context.Context, j repo.ReferralJoin) (bool, error) {
	key := [2]int64{j.ReferrerID, j.ReferredID}
	if _, ok := m.joins[key]; ok {
		return false, nil
	}
	m.joins[key] = &j
	return true, nil
}

func (m *memStore) ListJoinsForGoal(_ context.Context, goalID int64) ([]repo.ReferralJoin, error) {
	var res []repo.ReferralJoin
	for _, j := range m.joins {
		if j.GoalID == goalID {
			res = append(res, *j)
		}
	}
	return res, nil
}

func (m *memStore) UpdateJoinMembership(_ context.Context, referrerID, referredID int64, member bool, checkedAt time.Time) error {
	j, ok := m.joins[[2]int64{referrerID, referredID}]
	if !ok {
		return repo.ErrNotFound
	}
	j.StillMember = member
	j.LastCheckedAt = &checkedAt
	if member && j.VerifiedAt == nil {
		j.VerifiedAt = &checkedAt
	}
	return nil
}

type memDiscounts struct {
	rows   map[int64]*repo.Discount
	nextID int64
}

func newMemDiscounts() *memDiscounts {
	return &memDiscounts{rows: map[int64]*repo.Discount{}, nextID: 1}
}

func (m *memDiscounts) CreateUntil(_ context.Context, userID int64, percent int, endsAt time.Time, source string) (*repo.Discount, error) {
	d := &repo.Discount{ID: m.nextID, Scope: repo.ScopeUser, UserID: &userID, Percent: percent, Active: true, EndsAt: &endsAt, Source: source}
	m.nextID++
	m.rows[d.ID] = d
	cp := *d
	return &cp, nil
}

func (m *memDiscounts) SetActive(_ context.Context, id int64, active bool) error {
	d, ok := m.rows[id]
	if !ok {
		return repo.ErrNotFound
	}
	d.Active = active
	return nil
}

type fakeMembership struct {
	members map[int64]bool
}

func (f *fakeMembership) IsChannelMember(_ context.Context, _ string, userID int64) (bool, error) {
	return f.members[userID], nil
}

type recordingNotifier struct {
	sent []string
}

func (r *recordingNotifier) Notify(_ context.Context, _ int64, template string, _ map[string]string) error {
	r.sent = append(r.sent, template)
	return nil
}

func newTestEngine(store Store, discounts Discounts, membership Membership, notifier Notifier) *Engine {
	return New(store, discounts, membership, notifier, nil, slog.Default(), Config{
		Channel:       "@storefront",
		RequiredCount: 2,
		GoalLifetime:  24 * time.Hour,
		GrantPercent:  1,
	})
}

func TestParseStartPayload(t *testing.T) {
	id, token, ok := ParseStartPayload("ref_555_a1b2c3")
	if !ok || id != 555 || token != "a1b2c3" {
		t.Fatalf("got %d %q %v", id, token, ok)
	}
	if _, _, ok := ParseStartPayload("hello"); ok {
		t.Fatal("non-referral payload accepted")
	}
	if _, _, ok := ParseStartPayload("ref_x_y"); ok {
		t.Fatal("malformed referrer id accepted")
	}
}

func TestGrantOnRequiredVerifiedJoins(t *testing.T) {
	store := newMemStore()
	discounts := newMemDiscounts()
	membership := &fakeMembership{members: map[int64]bool{101: true, 102: true}}
	notifier := &recordingNotifier{}
	e := newTestEngine(store, discounts, membership, notifier)
	ctx := context.Background()

	goal, err := e.EnsureDailyGoal(ctx, 7)
	if err != nil {
		t.Fatalf("ensure goal: %v", err)
	}

	for _, friend := range []int64{101, 102} {
		if err := e.RecordJoin(ctx, 7, goal.ShortToken, friend, StartPayload(goal)); err != nil {
			t.Fatalf("record join %d: %v", friend, err)
		}
		member, err := e.VerifyJoin(ctx, 7, friend)
		if err != nil || !member {
			t.Fatalf("verify join %d: member=%v err=%v", friend, member, err)
		}
	}

	updated, _ := store.LatestGoalForReferrer(ctx, 7)
	if updated.Status != repo.GoalSatisfied || updated.GrantedDiscountID == nil {
		t.Fatalf("goal not satisfied: %+v", updated)
	}
	grant := discounts.rows[*updated.GrantedDiscountID]
	if grant.Percent != 1 || grant.EndsAt == nil || !grant.EndsAt.Equal(goal.ExpiresAt) {
		t.Fatalf("grant window wrong: %+v", grant)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != "referral_satisfied" {
		t.Fatalf("expected one satisfaction notification, got %v", notifier.sent)
	}
}

func TestRevalidationTogglesGrant(t *testing.T) {
	store := newMemStore()
	discounts := newMemDiscounts()
	membership := &fakeMembership{members: map[int64]bool{101: true, 102: true}}
	e := newTestEngine(store, discounts, membership, &recordingNotifier{})
	ctx := context.Background()

	goal, _ := e.EnsureDailyGoal(ctx, 7)
	for _, friend := range []int64{101, 102} {
		_ = e.RecordJoin(ctx, 7, goal.ShortToken, friend, "")
		_, _ = e.VerifyJoin(ctx, 7, friend)
	}
	updated, _ := store.LatestGoalForReferrer(ctx, 7)
	grantID := *updated.GrantedDiscountID

	// one friend leaves the channel
	membership.members[102] = false
	if err := e.RevalidateUserDiscount(ctx, 7); err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	if discounts.rows[grantID].Active {
		t.Fatal("discount must deactivate when eligibility drops")
	}
	endsBefore := *discounts.rows[grantID].EndsAt

	// the friend rejoins
	membership.members[102] = true
	if err := e.RevalidateUserDiscount(ctx, 7); err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	if !discounts.rows[grantID].Active {
		t.Fatal("discount must reactivate when eligibility returns")
	}
	if !discounts.rows[grantID].EndsAt.Equal(endsBefore) {
		t.Fatal("revalidation must not move the discount window")
	}
}

func TestSelfReferralAndDuplicateJoinsIgnored(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, newMemDiscounts(), &fakeMembership{members: map[int64]bool{}}, nil)
	ctx := context.Background()

	goal, _ := e.EnsureDailyGoal(ctx, 7)
	if err := e.RecordJoin(ctx, 7, goal.ShortToken, 7, ""); err != nil {
		t.Fatalf("self referral: %v", err)
	}
	if len(store.joins) != 0 {
		t.Fatal("self referral recorded")
	}

	_ = e.RecordJoin(ctx, 7, goal.ShortToken, 101, "")
	_ = e.RecordJoin(ctx, 7, goal.ShortToken, 101, "")
	if len(store.joins) != 1 {
		t.Fatalf("duplicate join recorded: %d rows", len(store.joins))
	}
}

func TestEnsureDailyGoalReusesOpenGoal(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, newMemDiscounts(), &fakeMembership{}, nil)
	ctx := context.Background()

	a, _ := e.EnsureDailyGoal(ctx, 7)
	b, _ := e.EnsureDailyGoal(ctx, 7)
	if a.ID != b.ID {
		t.Fatalf("open goal not reused: %d vs %d", a.ID, b.ID)
	}

	// an expired goal forces a fresh one
	store.goals[a.ID].ExpiresAt = time.Now().Add(-time.Hour)
	c, _ := e.EnsureDailyGoal(ctx, 7)
	if c.ID == a.ID {
		t.Fatal("expired goal reused")
	}
}
