package repo

import (
	"context"
	"io/fs"
	"time"
)

// Store defines the persistence surface consumed by the engines and workers.
// *Repository is the Postgres implementation; tests substitute in-memory
// fakes for the slices they exercise.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Wallets
	EnsureWallet(ctx context.Context, userID int64, name string) (*Wallet, error)
	GetWallet(ctx context.Context, userID int64) (*Wallet, error)
	ListWalletIDs(ctx context.Context) ([]int64, error)
	DeleteWallet(ctx context.Context, userID int64) error
	LastActivity(ctx context.Context, userID int64) (time.Time, error)
	ListTransactions(ctx context.Context, userID int64, limit int) ([]Transaction, error)
	GetHold(ctx context.Context, holdID string) (*Hold, error)

	// Ledger stored procedures
	CallCreateHold(ctx context.Context, userID, amount int64, orderID *string, ttlSecs int64) (string, string, error)
	CallCaptureHold(ctx context.Context, holdID string) (string, error)
	CallReleaseHold(ctx context.Context, holdID string) (string, error)
	CallTransfer(ctx context.Context, from, to, amount int64) (string, error)
	CallTryDeduct(ctx context.Context, userID, amount int64, description string) (string, error)
	CallAddBalance(ctx context.Context, userID, amount int64, description string) (string, error)

	// Operator queue
	InsertPending(ctx context.Context, req PendingRequest) (*PendingRequest, error)
	PendingByUser(ctx context.Context, userID int64) (*PendingRequest, error)
	PendingByID(ctx context.Context, id int64) (*PendingRequest, error)
	OldestPending(ctx context.Context) (*PendingRequest, error)
	DeletePending(ctx context.Context, id int64) error
	PostponePending(ctx context.Context, id int64) error
	CountPending(ctx context.Context) (int64, error)
	DeleteStalePending(ctx context.Context, olderThan time.Time) (int64, error)

	// Purchases and catalogue
	InsertPurchase(ctx context.Context, p Purchase) (*Purchase, error)
	ListVisiblePurchases(ctx context.Context, userID int64, now time.Time) ([]Purchase, error)
	DeleteOldPurchases(ctx context.Context, olderThan time.Time) (int64, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	ListProducts(ctx context.Context, category string) ([]Product, error)

	// Notification outbox
	EnqueueNotification(ctx context.Context, userID int64, template string, payload map[string]string, scheduledAt time.Time) error
	DueNotifications(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error)
	MarkNotificationSent(ctx context.Context, id int64, sentAt time.Time) error

	// Discounts
	InsertDiscount(ctx context.Context, d Discount) (*Discount, error)
	GetDiscount(ctx context.Context, id int64) (*Discount, error)
	ActiveDiscountsForUser(ctx context.Context, userID int64) ([]Discount, error)
	SetDiscountActive(ctx context.Context, id int64, active bool) error
	EndDiscountNow(ctx context.Context, id int64, now time.Time) error
	InsertDiscountUse(ctx context.Context, discountID, userID, amount, saved int64) error

	// Referrals
	InsertReferralGoal(ctx context.Context, g ReferralGoal) (*ReferralGoal, error)
	LatestGoalForReferrer(ctx context.Context, referrerID int64) (*ReferralGoal, error)
	GoalByToken(ctx context.Context, referrerID int64, token string) (*ReferralGoal, error)
	MarkGoalSatisfied(ctx context.Context, goalID, discountID int64) error
	ExpireOpenGoals(ctx context.Context, now time.Time) (int64, error)
	InsertReferralJoin(ctx context.Context, j ReferralJoin) (bool, error)
	ListJoinsForGoal(ctx context.Context, goalID int64) ([]ReferralJoin, error)
	UpdateJoinMembership(ctx context.Context, referrerID, referredID int64, member bool, checkedAt time.Time) error

	// Channel ads
	InsertAd(ctx context.Context, ad Ad) (*Ad, error)
	ExpireAds(ctx context.Context, now time.Time) (int64, error)
	PostableAds(ctx context.Context, limit int) ([]Ad, error)
	MarkAdPosted(ctx context.Context, id int64, postedAt time.Time) error
	CountActiveAds(ctx context.Context) (int64, error)

	// Admin surface
	BanUser(ctx context.Context, userID int64, reason string) error
	UnbanUser(ctx context.Context, userID int64) error
	IsBanned(ctx context.Context, userID int64) (bool, error)
	AppendAdminLedger(ctx context.Context, e AdminLedgerEntry) error
	AdminLedgerTotals(ctx context.Context) ([]AdminTotals, error)
	LoadSummary(ctx context.Context) (*Summary, error)
}

var _ Store = (*Repository)(nil)
