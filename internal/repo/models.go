package repo

import "time"

// Wallet represents the wallets table row. Balance and held are in minor
// currency units; available funds are balance minus held.
type Wallet struct {
	UserID    int64
	Name      string
	Balance   int64
	Held      int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns the amount a new hold or transfer may consume.
func (w Wallet) Available() int64 {
	return w.Balance - w.Held
}

// Hold represents a reservation of funds against a wallet.
type Hold struct {
	ID        string
	UserID    int64
	Amount    int64
	OrderID   *string
	Status    string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Hold statuses.
const (
	HoldActive   = "active"
	HoldCaptured = "captured"
	HoldReleased = "released"
	HoldExpired  = "expired"
)

// Transaction is an append-only ledger entry; positive amount is a credit.
type Transaction struct {
	ID          int64
	UserID      int64
	Amount      int64
	Description string
	CreatedAt   time.Time
}

// Purchase is the fulfilment record written when an order is captured.
type Purchase struct {
	ID          int64
	UserID      int64
	ProductID   *int64
	ProductName string
	Price       int64
	PlayerID    string
	CreatedAt   time.Time
	ExpireAt    *time.Time
}

// Request types carried in a pending request payload.
const (
	RequestRecharge          = "recharge"
	RequestSyrUnit           = "syr_unit"
	RequestMTNUnit           = "mtn_unit"
	RequestSyrBill           = "syr_bill"
	RequestMTNBill           = "mtn_bill"
	RequestInternet          = "internet"
	RequestCashTransfer      = "cash_transfer"
	RequestCompaniesTransfer = "companies_transfer"
	RequestUniversityFees    = "university_fees"
	RequestGameTopUp         = "game_topup"
	RequestAds               = "ads"
	RequestMedia             = "media"
	RequestSupport           = "support"
)

// RequestPayload is the structured description of a pending request. Reserved
// is the amount held against the wallet; HoldID is empty for recharge
// requests, where no hold applies.
type RequestPayload struct {
	Type        string            `json:"type"`
	Reserved    int64             `json:"reserved"`
	HoldID      string            `json:"hold_id,omitempty"`
	ProductID   int64             `json:"product_id,omitempty"`
	ProductName string            `json:"product_name,omitempty"`
	PlayerID    string            `json:"player_id,omitempty"`
	Amount      int64             `json:"amount,omitempty"`
	Commission  int64             `json:"commission,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// PendingRequest is a row in the operator queue.
type PendingRequest struct {
	ID          int64
	UserID      int64
	Username    string
	RequestText string
	Payload     RequestPayload
	Status      string
	CreatedAt   time.Time
}

// OutboxEntry is a queued user notification.
type OutboxEntry struct {
	ID          int64
	UserID      int64
	Template    string
	Payload     map[string]string
	ScheduledAt time.Time
	SentAt      *time.Time
}

// Discount scopes.
const (
	ScopeGlobal = "global"
	ScopeUser   = "user"
)

// Discount is a time-bounded percentage discount.
type Discount struct {
	ID       int64
	Scope    string
	UserID   *int64
	Percent  int
	Active   bool
	StartsAt time.Time
	EndsAt   *time.Time
	Source   string
	Meta     map[string]string
}

// EffectiveActive reports whether the discount applies at the given instant.
func (d Discount) EffectiveActive(now time.Time) bool {
	if !d.Active || d.StartsAt.After(now) {
		return false
	}
	return d.EndsAt == nil || d.EndsAt.After(now)
}

// Referral goal statuses.
const (
	GoalOpen      = "open"
	GoalSatisfied = "satisfied"
	GoalRedeemed  = "redeemed"
	GoalExpired   = "expired"
)

// ReferralGoal is a per-day target for one referrer.
type ReferralGoal struct {
	ID                int64
	ReferrerID        int64
	ShortToken        string
	RequiredCount     int
	CreatedAt         time.Time
	ExpiresAt         time.Time
	Status            string
	GrantedDiscountID *int64
}

// ReferralJoin records one referred user under a goal, unique per
// (referrer, referred) pair.
type ReferralJoin struct {
	ReferrerID    int64
	ReferredID    int64
	GoalID        int64
	StartPayload  string
	VerifiedAt    *time.Time
	LastCheckedAt *time.Time
	StillMember   bool
}

// Ad statuses.
const (
	AdActive  = "active"
	AdExpired = "expired"
)

// Ad is a promotional post broadcast by the ad scheduler.
type Ad struct {
	ID           int64
	UserID       int64
	AdText       string
	Images       []string
	Contact      string
	TimesTotal   int
	TimesPosted  int
	Price        int64
	Status       string
	LastPostedAt *time.Time
	ExpireAt     *time.Time
}

// AdminLedgerEntry is a write-only audit row for an admin action.
type AdminLedgerEntry struct {
	ID        int64
	AdminID   int64
	Action    string
	UserID    *int64
	Amount    int64
	Note      string
	CreatedAt time.Time
}

// AdminTotals aggregates admin_ledger rows for one admin.
type AdminTotals struct {
	AdminID   int64
	Deposited int64
	Spent     int64
}

// Product is a read-only catalogue row.
type Product struct {
	ID       int64
	Name     string
	Category string
	Price    int64
	Active   bool
}

// Summary aggregates storefront counters for the admin overview.
type Summary struct {
	Users        int64
	BalanceTotal int64
	HeldTotal    int64
	PendingCount int64
	ActiveAds    int64
}
