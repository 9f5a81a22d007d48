// Package orders is the meeting point between customer flows and the human
// operators: it admits fully-prepared orders into the pending queue, reserving
// funds through the ledger, and applies operator decisions back onto the
// ledger and the purchase history.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"matjar-bot/internal/discount"
	"matjar-bot/internal/ledger"
	"matjar-bot/internal/metrics"
	"matjar-bot/internal/repo"
)

// Store is the queue and fulfilment persistence slice.
type Store interface {
	EnsureWallet(ctx context.Context, userID int64, name string) (*repo.Wallet, error)
	InsertPending(ctx context.Context, req repo.PendingRequest) (*repo.PendingRequest, error)
	PendingByUser(ctx context.Context, userID int64) (*repo.PendingRequest, error)
	PendingByID(ctx context.Context, id int64) (*repo.PendingRequest, error)
	OldestPending(ctx context.Context) (*repo.PendingRequest, error)
	DeletePending(ctx context.Context, id int64) error
	PostponePending(ctx context.Context, id int64) error
	CountPending(ctx context.Context) (int64, error)
	InsertPurchase(ctx context.Context, p repo.Purchase) (*repo.Purchase, error)
	AppendAdminLedger(ctx context.Context, e repo.AdminLedgerEntry) error
	InsertAd(ctx context.Context, ad repo.Ad) (*repo.Ad, error)
}

// Ledger is the wallet slice the coordinator drives; *ledger.Service
// satisfies it.
type Ledger interface {
	CreateHold(ctx context.Context, userID, amount int64, orderID string, ttl time.Duration) (ledger.Outcome, string, error)
	CaptureHold(ctx context.Context, holdID string) (ledger.Outcome, error)
	ReleaseHold(ctx context.Context, holdID string) (ledger.Outcome, error)
	AddBalance(ctx context.Context, userID, amount int64, description string) (ledger.Outcome, error)
	Wallet(ctx context.Context, userID int64) (*repo.Wallet, error)
}

// Discounts is the slice of the discount engine admission uses.
type Discounts interface {
	Apply(ctx context.Context, userID, amount int64) (int64, *discount.Applied, error)
	RecordUse(ctx context.Context, userID, amount int64, applied *discount.Applied) error
}

// Notifier enqueues user notifications; *outbox.Producer satisfies it.
type Notifier interface {
	Notify(ctx context.Context, userID int64, template string, payload map[string]string) error
}

// Locker serialises operator decisions; *cache.Redis satisfies it.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string)
}

// ErrProcessing means another decision on the same user and flow is in
// flight; the caller should answer "processing" and do nothing else.
var ErrProcessing = errors.New("orders: decision in progress")

// ErrAlreadyDecided means the pending row is gone; a second tap on a stale
// button lands here.
var ErrAlreadyDecided = errors.New("orders: request already decided")

// Order is a fully-prepared request handed over by a conversation flow.
type Order struct {
	UserID      int64
	Username    string
	Type        string
	ProductID   int64
	ProductName string
	PlayerID    string
	Amount      int64
	Commission  int64
	Fields      map[string]string
	Summary     string
}

// SubmitStatus is the admission verdict.
type SubmitStatus int

const (
	Admitted SubmitStatus = iota
	DuplicatePending
	InsufficientFunds
)

// SubmitResult carries everything the flow needs to answer the user,
// including the shortfall figures on a refused admission.
type SubmitResult struct {
	Status    SubmitStatus
	RequestID int64
	Total     int64
	Available int64
	Shortfall int64
	Discount  *discount.Applied
}

// Config tunes the coordinator.
type Config struct {
	Cooldown           time.Duration
	DecisionLockTTL    time.Duration
	PurchaseVisibility time.Duration
}

// Coordinator admits orders and applies operator decisions.
type Coordinator struct {
	store     Store
	ledger    Ledger
	discounts Discounts
	notifier  Notifier
	locker    Locker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config

	wake    chan struct{}
	decided chan struct{}
	now     func() time.Time
}

// New creates the coordinator.
func New(store Store, lg Ledger, d Discounts, n Notifier, l Locker, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Coordinator {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 120 * time.Second
	}
	if cfg.DecisionLockTTL == 0 {
		cfg.DecisionLockTTL = 30 * time.Second
	}
	if cfg.PurchaseVisibility == 0 {
		cfg.PurchaseVisibility = 14 * time.Hour
	}
	return &Coordinator{
		store:     store,
		ledger:    lg,
		discounts: d,
		notifier:  n,
		locker:    l,
		metrics:   m,
		logger:    logger.With("component", "orders"),
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
		decided:   make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Wake nudges the queue processor; it never blocks.
func (c *Coordinator) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) signalDecided() {
	select {
	case c.decided <- struct{}{}:
	default:
	}
}

// Submit admits an order into the operator queue. Non-recharge orders get the
// user's discount applied to the amount and a hold on the discounted total;
// recharges carry no hold, the operator's accept credits the wallet instead.
func (c *Coordinator) Submit(ctx context.Context, o Order) (*SubmitResult, error) {
	if existing, err := c.store.PendingByUser(ctx, o.UserID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	} else if existing != nil {
		return &SubmitResult{Status: DuplicatePending, RequestID: existing.ID}, nil
	}

	if _, err := c.store.EnsureWallet(ctx, o.UserID, o.Username); err != nil {
		return nil, err
	}

	payload := repo.RequestPayload{
		Type:        o.Type,
		ProductID:   o.ProductID,
		ProductName: o.ProductName,
		PlayerID:    o.PlayerID,
		Amount:      o.Amount,
		Commission:  o.Commission,
		Fields:      o.Fields,
	}

	var applied *discount.Applied
	if o.Type == repo.RequestRecharge {
		payload.Reserved = o.Amount
	} else {
		amount := o.Amount
		var err error
		amount, applied, err = c.discounts.Apply(ctx, o.UserID, amount)
		if err != nil {
			c.logger.Warn("discount lookup failed, charging full price", "user_id", o.UserID, "error", err)
			amount, applied = o.Amount, nil
		}
		total := amount + o.Commission
		payload.Reserved = total

		// price-on-request flows submit with a zero total and carry no hold
		if total > 0 {
			outcome, holdID, err := c.ledger.CreateHold(ctx, o.UserID, total, uuid.NewString(), 0)
			if err != nil {
				return nil, err
			}
			switch outcome {
			case ledger.OK:
				payload.HoldID = holdID
			case ledger.InsufficientFunds, ledger.NotFound:
				res := &SubmitResult{Status: InsufficientFunds, Total: total, Shortfall: total}
				if w, werr := c.ledger.Wallet(ctx, o.UserID); werr == nil {
					res.Available = w.Available()
					res.Shortfall = total - res.Available
				}
				return res, nil
			default:
				return nil, fmt.Errorf("create hold: unexpected outcome %s", outcome)
			}
		} else {
			applied = nil
		}
	}

	inserted, err := c.store.InsertPending(ctx, repo.PendingRequest{
		UserID:      o.UserID,
		Username:    o.Username,
		RequestText: o.Summary,
		Payload:     payload,
	})
	if errors.Is(err, repo.ErrDuplicatePending) {
		// lost the admission race; give the money back
		if payload.HoldID != "" {
			if _, rerr := c.ledger.ReleaseHold(ctx, payload.HoldID); rerr != nil {
				c.logger.Error("releasing hold after duplicate admission failed",
					"hold_id", payload.HoldID, "error", rerr)
			}
		}
		return &SubmitResult{Status: DuplicatePending}, nil
	}
	if err != nil {
		return nil, err
	}

	if applied != nil {
		if err := c.discounts.RecordUse(ctx, o.UserID, payload.Reserved, applied); err != nil {
			c.logger.Warn("recording discount use failed", "user_id", o.UserID, "error", err)
		}
	}

	c.updateDepth(ctx)
	c.Wake()
	return &SubmitResult{
		Status:    Admitted,
		RequestID: inserted.ID,
		Total:     payload.Reserved,
		Discount:  applied,
	}, nil
}

// decisionLock guards a single operator decision per user and flow. A second
// tap while the first is running gets ErrProcessing.
func (c *Coordinator) decisionLock(ctx context.Context, req *repo.PendingRequest) (func(), error) {
	key := fmt.Sprintf("order_decision::%d::%s", req.UserID, req.Payload.Type)
	ok, err := c.locker.AcquireLock(ctx, key, c.cfg.DecisionLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrProcessing
	}
	return func() { c.locker.ReleaseLock(context.WithoutCancel(ctx), key) }, nil
}

// Accept captures the order's hold, records the purchase and notifies the
// customer. Recharge inverts: there is no hold, accept credits the wallet.
func (c *Coordinator) Accept(ctx context.Context, operatorID, requestID int64) (*repo.PendingRequest, error) {
	req, err := c.store.PendingByID(ctx, requestID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAlreadyDecided
	}
	if err != nil {
		return nil, err
	}

	unlock, err := c.decisionLock(ctx, req)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// re-read under the lock; a concurrent decision may have won
	req, err = c.store.PendingByID(ctx, requestID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAlreadyDecided
	}
	if err != nil {
		return nil, err
	}

	if req.Payload.Type == repo.RequestRecharge {
		outcome, err := c.ledger.AddBalance(ctx, req.UserID, req.Payload.Amount, "deposit")
		if err != nil {
			return nil, err
		}
		if outcome != ledger.OK {
			return nil, fmt.Errorf("deposit for request %d: outcome %s", requestID, outcome)
		}
	} else if req.Payload.HoldID != "" {
		outcome, err := c.ledger.CaptureHold(ctx, req.Payload.HoldID)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case ledger.OK:
		case ledger.NotActive:
			return nil, ErrAlreadyDecided
		default:
			return nil, fmt.Errorf("capture hold %s: outcome %s", req.Payload.HoldID, outcome)
		}

		purchase := repo.Purchase{
			UserID:      req.UserID,
			ProductName: req.Payload.ProductName,
			Price:       req.Payload.Reserved,
			PlayerID:    req.Payload.PlayerID,
		}
		if req.Payload.ProductID != 0 {
			pid := req.Payload.ProductID
			purchase.ProductID = &pid
		}
		expireAt := c.now().Add(c.cfg.PurchaseVisibility)
		purchase.ExpireAt = &expireAt
		if _, err := c.store.InsertPurchase(ctx, purchase); err != nil {
			c.logger.Error("recording purchase failed", "request_id", requestID, "error", err)
		}
	}

	if req.Payload.Type == repo.RequestAds {
		if _, err := c.store.InsertAd(ctx, adFromRequest(req)); err != nil {
			c.logger.Error("creating channel ad failed", "request_id", requestID, "error", err)
		}
	}

	if err := c.store.DeletePending(ctx, requestID); err != nil {
		return nil, err
	}

	c.audit(ctx, operatorID, req)
	c.notifyAccepted(ctx, req)
	c.finishDecision(ctx, "accept")
	return req, nil
}

// defaultAdRuns is the posting quota an accepted ad gets when the request
// does not carry one.
const defaultAdRuns = 10

// adFromRequest builds the channel ad an accepted advertising request feeds
// into the scheduler.
func adFromRequest(req *repo.PendingRequest) repo.Ad {
	ad := repo.Ad{
		UserID:     req.UserID,
		AdText:     req.RequestText,
		Contact:    req.Username,
		TimesTotal: defaultAdRuns,
	}
	if text := req.Payload.Fields["ad_text"]; text != "" {
		ad.AdText = text
	}
	if contact := req.Payload.Fields["contact"]; contact != "" {
		ad.Contact = contact
	}
	if runs, err := strconv.Atoi(req.Payload.Fields["times_total"]); err == nil && runs > 0 {
		ad.TimesTotal = runs
	}
	return ad
}

// Cancel removes the pending row, releases its hold and tells the customer
// why. The reason is free-form operator text; empty is allowed.
func (c *Coordinator) Cancel(ctx context.Context, operatorID, requestID int64, reason string) (*repo.PendingRequest, error) {
	req, err := c.store.PendingByID(ctx, requestID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAlreadyDecided
	}
	if err != nil {
		return nil, err
	}

	unlock, err := c.decisionLock(ctx, req)
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err = c.store.PendingByID(ctx, requestID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAlreadyDecided
	}
	if err != nil {
		return nil, err
	}

	if err := c.store.DeletePending(ctx, requestID); err != nil {
		return nil, err
	}
	if req.Payload.HoldID != "" {
		outcome, err := c.ledger.ReleaseHold(ctx, req.Payload.HoldID)
		if err != nil {
			c.logger.Error("releasing hold on cancel failed",
				"request_id", requestID, "hold_id", req.Payload.HoldID, "error", err)
		} else if outcome != ledger.OK && outcome != ledger.NotActive {
			c.logger.Error("releasing hold on cancel refused",
				"request_id", requestID, "hold_id", req.Payload.HoldID, "outcome", outcome.String())
		}
	}

	template := "order_cancelled"
	if req.Payload.Type == repo.RequestRecharge {
		template = "recharge_rejected"
	}
	c.notify(ctx, req.UserID, template, map[string]string{
		"product": displayName(req),
		"amount":  fmt.Sprintf("%d", req.Payload.Reserved),
		"reason":  reason,
	})

	c.finishDecision(ctx, "cancel")
	return req, nil
}

// Postpone re-stamps the request to the tail of the queue.
func (c *Coordinator) Postpone(ctx context.Context, requestID int64) error {
	err := c.store.PostponePending(ctx, requestID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrAlreadyDecided
	}
	if err != nil {
		return err
	}
	c.finishDecision(ctx, "postpone")
	return nil
}

func (c *Coordinator) notifyAccepted(ctx context.Context, req *repo.PendingRequest) {
	payload := map[string]string{
		"product": displayName(req),
		"amount":  fmt.Sprintf("%d", req.Payload.Reserved),
	}
	template := "order_accepted"
	if req.Payload.Type == repo.RequestRecharge {
		template = "recharge_confirmed"
	}
	c.notify(ctx, req.UserID, template, payload)
}

func (c *Coordinator) notify(ctx context.Context, userID int64, template string, payload map[string]string) {
	if err := c.notifier.Notify(ctx, userID, template, payload); err != nil {
		c.logger.Error("enqueueing notification failed",
			"user_id", userID, "template", template, "error", err)
	}
}

func (c *Coordinator) audit(ctx context.Context, operatorID int64, req *repo.PendingRequest) {
	action := "spend"
	if req.Payload.Type == repo.RequestRecharge {
		action = "deposit"
	}
	uid := req.UserID
	err := c.store.AppendAdminLedger(ctx, repo.AdminLedgerEntry{
		AdminID: operatorID,
		Action:  action,
		UserID:  &uid,
		Amount:  req.Payload.Reserved,
		Note:    req.Payload.Type,
	})
	if err != nil {
		c.logger.Error("admin ledger append failed", "request_id", req.ID, "error", err)
	}
}

func (c *Coordinator) finishDecision(ctx context.Context, decision string) {
	if c.metrics != nil {
		c.metrics.QueueDecisions.WithLabelValues(decision).Inc()
	}
	c.updateDepth(ctx)
	c.signalDecided()
}

func (c *Coordinator) updateDepth(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	if n, err := c.store.CountPending(ctx); err == nil {
		c.metrics.QueueDepth.Set(float64(n))
	}
}

func displayName(req *repo.PendingRequest) string {
	if req.Payload.ProductName != "" {
		return req.Payload.ProductName
	}
	return req.Payload.Type
}
