package ledger

import (
	"context"
	"log/slog"
	"time"

	"matjar-bot/internal/metrics"
	"matjar-bot/internal/repo"
)

// Outcome is the tagged result of a ledger primitive. Infrastructure failures
// travel separately as errors; an Outcome other than OK is a normal, expected
// answer.
type Outcome int

const (
	OK Outcome = iota
	InsufficientFunds
	NotFound
	NotActive
)

// String implements fmt.Stringer for logs and metrics labels.
func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case InsufficientFunds:
		return "insufficient_funds"
	case NotFound:
		return "not_found"
	case NotActive:
		return "not_active"
	default:
		return "unknown"
	}
}

func outcomeFromStatus(status string) Outcome {
	switch status {
	case "ok":
		return OK
	case "insufficient_funds":
		return InsufficientFunds
	case "not_found":
		return NotFound
	case "not_active":
		return NotActive
	default:
		return NotActive
	}
}

// Store is the persistence slice the ledger needs. *repo.Repository
// implements it; tests provide in-memory fakes.
type Store interface {
	CallCreateHold(ctx context.Context, userID, amount int64, orderID *string, ttlSecs int64) (string, string, error)
	CallCaptureHold(ctx context.Context, holdID string) (string, error)
	CallReleaseHold(ctx context.Context, holdID string) (string, error)
	CallTransfer(ctx context.Context, from, to, amount int64) (string, error)
	CallTryDeduct(ctx context.Context, userID, amount int64, description string) (string, error)
	CallAddBalance(ctx context.Context, userID, amount int64, description string) (string, error)
	GetWallet(ctx context.Context, userID int64) (*repo.Wallet, error)
}

// Service is the only component permitted to mutate balance and held. Every
// mutation runs as a single server-side function call, so concurrent callers
// cannot observe intermediate state and nothing here needs an in-process lock.
type Service struct {
	store   Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates the ledger service.
func New(store Store, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		metrics: m,
		logger:  logger.With("component", "ledger"),
	}
}

func (s *Service) observe(op string, outcome Outcome) {
	if s.metrics != nil {
		s.metrics.LedgerOps.WithLabelValues(op, outcome.String()).Inc()
	}
}

// CreateHold reserves amount against the user's available funds and returns
// the new hold id on OK.
func (s *Service) CreateHold(ctx context.Context, userID, amount int64, orderID string, ttl time.Duration) (Outcome, string, error) {
	var orderRef *string
	if orderID != "" {
		orderRef = &orderID
	}
	status, holdID, err := s.store.CallCreateHold(ctx, userID, amount, orderRef, int64(ttl/time.Second))
	if err != nil {
		return NotFound, "", err
	}
	outcome := outcomeFromStatus(status)
	s.observe("create_hold", outcome)
	if outcome != OK {
		s.logger.Debug("hold rejected", "user_id", userID, "amount", amount, "outcome", outcome.String())
	}
	return outcome, holdID, nil
}

// CaptureHold moves the held amount out of the balance and appends the debit
// transaction. Idempotent on the hold id: a second call answers NotActive.
func (s *Service) CaptureHold(ctx context.Context, holdID string) (Outcome, error) {
	status, err := s.store.CallCaptureHold(ctx, holdID)
	if err != nil {
		return NotFound, err
	}
	outcome := outcomeFromStatus(status)
	s.observe("capture_hold", outcome)
	return outcome, nil
}

// ReleaseHold frees the held amount without touching the balance.
func (s *Service) ReleaseHold(ctx context.Context, holdID string) (Outcome, error) {
	status, err := s.store.CallReleaseHold(ctx, holdID)
	if err != nil {
		return NotFound, err
	}
	outcome := outcomeFromStatus(status)
	s.observe("release_hold", outcome)
	return outcome, nil
}

// Transfer moves funds between two wallets, writing a debit and a credit
// transaction. The minimum-remaining-balance floor is the caller's check.
func (s *Service) Transfer(ctx context.Context, from, to, amount int64) (Outcome, error) {
	status, err := s.store.CallTransfer(ctx, from, to, amount)
	if err != nil {
		return NotFound, err
	}
	outcome := outcomeFromStatus(status)
	s.observe("transfer", outcome)
	return outcome, nil
}

// TryDeduct is create-then-capture in one atomic call, for operations that
// need no operator review.
func (s *Service) TryDeduct(ctx context.Context, userID, amount int64, description string) (Outcome, error) {
	status, err := s.store.CallTryDeduct(ctx, userID, amount, description)
	if err != nil {
		return NotFound, err
	}
	outcome := outcomeFromStatus(status)
	s.observe("try_deduct", outcome)
	return outcome, nil
}

// AddBalance credits a wallet. Restricted to operator-approved recharges and
// admin adjustments; always writes a positive transaction.
func (s *Service) AddBalance(ctx context.Context, userID, amount int64, description string) (Outcome, error) {
	status, err := s.store.CallAddBalance(ctx, userID, amount, description)
	if err != nil {
		return NotFound, err
	}
	outcome := outcomeFromStatus(status)
	s.observe("add_balance", outcome)
	return outcome, nil
}

// Wallet exposes the current wallet row for balance displays and the
// transfer floor check.
func (s *Service) Wallet(ctx context.Context, userID int64) (*repo.Wallet, error) {
	return s.store.GetWallet(ctx, userID)
}
