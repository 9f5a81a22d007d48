package ledger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"matjar-bot/internal/repo"

	"github.com/google/uuid"
)

// memStore mirrors the server-side ledger functions in memory so the
// accounting laws can be exercised without a database.
type memStore struct {
	mu      sync.Mutex
	wallets map[int64]*repo.Wallet
	holds   map[string]*repo.Hold
	txs     []repo.Transaction
}

func newMemStore() *memStore {
	return &memStore{
		wallets: make(map[int64]*repo.Wallet),
		holds:   make(map[string]*repo.Hold),
	}
}

func (m *memStore) addWallet(userID, balance int64) {
	m.wallets[userID] = &repo.Wallet{UserID: userID, Balance: balance}
}

func (m *memStore) CallCreateHold(_ context.Context, userID, amount int64, orderID *string, _ int64) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok || amount <= 0 || w.Balance-w.Held < amount {
		return "insufficient_funds", "", nil
	}
	w.Held += amount
	id := uuid.NewString()
	m.holds[id] = &repo.Hold{ID: id, UserID: userID, Amount: amount, OrderID: orderID, Status: repo.HoldActive, CreatedAt: time.Now()}
	return "ok", id, nil
}

func (m *memStore) CallCaptureHold(_ context.Context, holdID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdID]
	if !ok {
		return "not_found", nil
	}
	if h.Status != repo.HoldActive {
		return "not_active", nil
	}
	w := m.wallets[h.UserID]
	w.Balance -= h.Amount
	w.Held -= h.Amount
	h.Status = repo.HoldCaptured
	m.txs = append(m.txs, repo.Transaction{UserID: h.UserID, Amount: -h.Amount})
	return "ok", nil
}

func (m *memStore) CallReleaseHold(_ context.Context, holdID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdID]
	if !ok {
		return "not_found", nil
	}
	if h.Status != repo.HoldActive {
		return "not_active", nil
	}
	m.wallets[h.UserID].Held -= h.Amount
	h.Status = repo.HoldReleased
	return "ok", nil
}

func (m *memStore) CallTransfer(_ context.Context, from, to, amount int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.wallets[from]
	if !ok || amount <= 0 || src.Balance-src.Held < amount {
		return "insufficient_funds", nil
	}
	dst, ok := m.wallets[to]
	if !ok {
		return "not_found", nil
	}
	src.Balance -= amount
	dst.Balance += amount
	m.txs = append(m.txs,
		repo.Transaction{UserID: from, Amount: -amount},
		repo.Transaction{UserID: to, Amount: amount})
	return "ok", nil
}

func (m *memStore) CallTryDeduct(_ context.Context, userID, amount int64, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok || amount <= 0 || w.Balance-w.Held < amount {
		return "insufficient_funds", nil
	}
	w.Balance -= amount
	m.txs = append(m.txs, repo.Transaction{UserID: userID, Amount: -amount})
	return "ok", nil
}

func (m *memStore) CallAddBalance(_ context.Context, userID, amount int64, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok {
		return "not_found", nil
	}
	if amount <= 0 {
		return "not_active", nil
	}
	w.Balance += amount
	m.txs = append(m.txs, repo.Transaction{UserID: userID, Amount: amount})
	return "ok", nil
}

func (m *memStore) GetWallet(_ context.Context, userID int64) (*repo.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *memStore) invariantsOK() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.wallets {
		if w.Balance < 0 || w.Held < 0 || w.Balance < w.Held {
			return false
		}
		var activeSum int64
		for _, h := range m.holds {
			if h.UserID == id && h.Status == repo.HoldActive {
				activeSum += h.Amount
			}
		}
		if activeSum != w.Held {
			return false
		}
	}
	return true
}

func newTestService(store Store) *Service {
	return New(store, nil, slog.Default())
}

func TestCreateHoldInsufficientFunds(t *testing.T) {
	store := newMemStore()
	store.addWallet(1, 1000)
	svc := newTestService(store)

	outcome, _, err := svc.CreateHold(context.Background(), 1, 1200, "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != InsufficientFunds {
		t.Fatalf("expected insufficient_funds, got %s", outcome)
	}
	w, _ := svc.Wallet(context.Background(), 1)
	if w.Balance != 1000 || w.Held != 0 {
		t.Fatalf("wallet changed on rejected hold: %+v", w)
	}
}

func TestHoldReleaseRoundTrip(t *testing.T) {
	store := newMemStore()
	store.addWallet(1, 20000)
	svc := newTestService(store)
	ctx := context.Background()

	outcome, holdID, err := svc.CreateHold(ctx, 1, 1200, "order-1", 0)
	if err != nil || outcome != OK {
		t.Fatalf("create hold: outcome=%s err=%v", outcome, err)
	}
	w, _ := svc.Wallet(ctx, 1)
	if w.Balance != 20000 || w.Held != 1200 {
		t.Fatalf("after hold: %+v", w)
	}

	outcome, err = svc.ReleaseHold(ctx, holdID)
	if err != nil || outcome != OK {
		t.Fatalf("release hold: outcome=%s err=%v", outcome, err)
	}
	w, _ = svc.Wallet(ctx, 1)
	if w.Balance != 20000 || w.Held != 0 {
		t.Fatalf("hold then release must leave wallet unchanged: %+v", w)
	}
	if !store.invariantsOK() {
		t.Fatal("wallet invariants violated")
	}
}

func TestCaptureEquivalentToTryDeduct(t *testing.T) {
	ctx := context.Background()

	viaHold := newMemStore()
	viaHold.addWallet(1, 20000)
	svcA := newTestService(viaHold)
	outcome, holdID, _ := svcA.CreateHold(ctx, 1, 1200, "order-1", 0)
	if outcome != OK {
		t.Fatalf("create hold: %s", outcome)
	}
	if outcome, _ = svcA.CaptureHold(ctx, holdID); outcome != OK {
		t.Fatalf("capture hold: %s", outcome)
	}

	direct := newMemStore()
	direct.addWallet(1, 20000)
	svcB := newTestService(direct)
	if outcome, _ = svcB.TryDeduct(ctx, 1, 1200, "unit"); outcome != OK {
		t.Fatalf("try deduct: %s", outcome)
	}

	wa, _ := svcA.Wallet(ctx, 1)
	wb, _ := svcB.Wallet(ctx, 1)
	if wa.Balance != wb.Balance || wa.Held != wb.Held {
		t.Fatalf("hold+capture %+v differs from try_deduct %+v", wa, wb)
	}
	if len(viaHold.txs) != len(direct.txs) {
		t.Fatalf("transaction counts differ: %d vs %d", len(viaHold.txs), len(direct.txs))
	}
}

func TestCaptureIsIdempotentOnHoldID(t *testing.T) {
	store := newMemStore()
	store.addWallet(1, 20000)
	svc := newTestService(store)
	ctx := context.Background()

	_, holdID, _ := svc.CreateHold(ctx, 1, 1200, "", 0)
	if outcome, _ := svc.CaptureHold(ctx, holdID); outcome != OK {
		t.Fatalf("first capture: %s", outcome)
	}
	if outcome, _ := svc.CaptureHold(ctx, holdID); outcome != NotActive {
		t.Fatalf("second capture must answer not_active, got %s", outcome)
	}
	w, _ := svc.Wallet(ctx, 1)
	if w.Balance != 18800 || w.Held != 0 {
		t.Fatalf("double capture changed the ledger: %+v", w)
	}
	if len(store.txs) != 1 {
		t.Fatalf("expected exactly one transaction, got %d", len(store.txs))
	}
}

func TestTransferWritesTwoTransactions(t *testing.T) {
	store := newMemStore()
	store.addWallet(1, 50000)
	store.addWallet(2, 0)
	svc := newTestService(store)
	ctx := context.Background()

	if outcome, _ := svc.Transfer(ctx, 1, 2, 10000); outcome != OK {
		t.Fatalf("transfer: %s", outcome)
	}
	w1, _ := svc.Wallet(ctx, 1)
	w2, _ := svc.Wallet(ctx, 2)
	if w1.Balance != 40000 || w2.Balance != 10000 {
		t.Fatalf("balances after transfer: %d / %d", w1.Balance, w2.Balance)
	}
	if len(store.txs) != 2 {
		t.Fatalf("expected two transaction rows, got %d", len(store.txs))
	}
	if store.txs[0].Amount+store.txs[1].Amount != 0 {
		t.Fatal("transfer transactions must sum to zero")
	}
}

func TestTransferToMissingWalletLeavesSenderIntact(t *testing.T) {
	store := newMemStore()
	store.addWallet(1, 50000)
	svc := newTestService(store)
	ctx := context.Background()

	outcome, err := svc.Transfer(ctx, 1, 99, 10000)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if outcome != NotFound {
		t.Fatalf("expected not_found, got %s", outcome)
	}
	w1, _ := svc.Wallet(ctx, 1)
	if w1.Balance != 50000 {
		t.Fatalf("sender balance changed on failed transfer: %d", w1.Balance)
	}
	if len(store.txs) != 0 {
		t.Fatalf("expected no transaction rows, got %d", len(store.txs))
	}
}

func TestRandomisedLedgerInvariants(t *testing.T) {
	store := newMemStore()
	store.addWallet(1, 100000)
	store.addWallet(2, 100000)
	svc := newTestService(store)
	ctx := context.Background()

	var active []string
	seed := uint64(42)
	next := func(n uint64) uint64 {
		seed = seed*6364136223846793005 + 1442695040888963407
		return (seed >> 33) % n
	}

	for i := 0; i < 500; i++ {
		user := int64(1 + next(2))
		amount := int64(1 + next(5000))
		switch next(5) {
		case 0:
			if outcome, id, _ := svc.CreateHold(ctx, user, amount, "", 0); outcome == OK {
				active = append(active, id)
			}
		case 1:
			if len(active) > 0 {
				idx := next(uint64(len(active)))
				svc.CaptureHold(ctx, active[idx])
				active = append(active[:idx], active[idx+1:]...)
			}
		case 2:
			if len(active) > 0 {
				idx := next(uint64(len(active)))
				svc.ReleaseHold(ctx, active[idx])
				active = append(active[:idx], active[idx+1:]...)
			}
		case 3:
			svc.Transfer(ctx, user, 3-user, amount)
		case 4:
			svc.TryDeduct(ctx, user, amount, "random")
		}
		if !store.invariantsOK() {
			t.Fatalf("invariants violated after step %d", i)
		}
	}

	// balance must equal the sum of transactions applied to the start value
	sums := map[int64]int64{1: 100000, 2: 100000}
	for _, tx := range store.txs {
		sums[tx.UserID] += tx.Amount
	}
	for user, want := range sums {
		w, _ := svc.Wallet(ctx, user)
		if w.Balance != want {
			t.Fatalf("user %d balance %d does not match transaction sum %d", user, w.Balance, want)
		}
	}
}
