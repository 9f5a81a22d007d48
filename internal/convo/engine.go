// Package convo is the conversation layer: it routes inbound transport
// updates through the access gates, drives the per-user order flows off the
// expiring state store and exposes the operator surface.
package convo

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"matjar-bot/internal/callback"
	"matjar-bot/internal/config"
	"matjar-bot/internal/ledger"
	"matjar-bot/internal/metrics"
	"matjar-bot/internal/orders"
	"matjar-bot/internal/repo"
	"matjar-bot/internal/state"
	"matjar-bot/internal/tg"
)

// Messenger is the transport slice the engine sends through; *tg.Client
// satisfies it.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *tg.InlineKeyboardMarkup) (int64, error)
	TrySend(ctx context.Context, chatID int64, text string, keyboard *tg.InlineKeyboardMarkup) bool
	SendPhoto(ctx context.Context, chatID int64, fileID, caption string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	IsChannelMember(ctx context.Context, channel string, userID int64) (bool, error)
}

// Store is the persistence slice behind the conversation layer.
type Store interface {
	IsBanned(ctx context.Context, userID int64) (bool, error)
	EnsureWallet(ctx context.Context, userID int64, name string) (*repo.Wallet, error)
	GetProduct(ctx context.Context, id int64) (*repo.Product, error)
	ListProducts(ctx context.Context, category string) ([]repo.Product, error)
	ListVisiblePurchases(ctx context.Context, userID int64, now time.Time) ([]repo.Purchase, error)
	ListWalletIDs(ctx context.Context) ([]int64, error)
	LoadSummary(ctx context.Context) (*repo.Summary, error)
	AdminLedgerTotals(ctx context.Context) ([]repo.AdminTotals, error)
	AppendAdminLedger(ctx context.Context, e repo.AdminLedgerEntry) error
	BanUser(ctx context.Context, userID int64, reason string) error
	UnbanUser(ctx context.Context, userID int64) error
	PendingByID(ctx context.Context, id int64) (*repo.PendingRequest, error)
}

// Wallets is the ledger slice the engine calls directly.
type Wallets interface {
	Wallet(ctx context.Context, userID int64) (*repo.Wallet, error)
	Transfer(ctx context.Context, from, to, amount int64) (ledger.Outcome, error)
	AddBalance(ctx context.Context, userID, amount int64, description string) (ledger.Outcome, error)
	TryDeduct(ctx context.Context, userID, amount int64, description string) (ledger.Outcome, error)
}

// Orders is the coordinator slice; *orders.Coordinator satisfies it.
type Orders interface {
	Submit(ctx context.Context, o orders.Order) (*orders.SubmitResult, error)
	Accept(ctx context.Context, operatorID, requestID int64) (*repo.PendingRequest, error)
	Cancel(ctx context.Context, operatorID, requestID int64, reason string) (*repo.PendingRequest, error)
	Postpone(ctx context.Context, requestID int64) error
}

// Referrals is the referral engine slice.
type Referrals interface {
	EnsureDailyGoal(ctx context.Context, referrerID int64) (*repo.ReferralGoal, error)
	RecordJoin(ctx context.Context, referrerID int64, token string, referredID int64, rawPayload string) error
	VerifyJoin(ctx context.Context, referrerID, referredID int64) (bool, error)
	RevalidateUserDiscount(ctx context.Context, userID int64) error
}

// System is the restart-surviving operator state; *statefile.File satisfies
// it.
type System interface {
	Maintenance() (bool, string)
	SetMaintenance(on bool, message string) error
	ForceSubEpoch() int64
	BumpForceSubEpoch() (int64, error)
	LogAction(adminID int64, action, reason string) error
}

// Notifier enqueues outbox notifications (broadcast and operator messages).
type Notifier interface {
	Notify(ctx context.Context, userID int64, template string, payload map[string]string) error
}

// Engine routes updates. It implements tg.UpdateProcessor.
type Engine struct {
	cfg      *config.Config
	store    Store
	wallets  Wallets
	orders   Orders
	refs     Referrals
	sys      System
	notifier Notifier
	states   *state.Store
	msg      Messenger
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates the conversation engine.
func New(cfg *config.Config, store Store, wallets Wallets, ord Orders, refs Referrals, sys System, notifier Notifier, states *state.Store, msg Messenger, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		wallets:  wallets,
		orders:   ord,
		refs:     refs,
		sys:      sys,
		notifier: notifier,
		states:   states,
		msg:      msg,
		metrics:  m,
		logger:   logger.With("component", "convo"),
		now:      time.Now,
	}
}

// ProcessUpdate dispatches one inbound update. Panics are contained so a
// malformed update cannot take the poll loop down.
func (e *Engine) ProcessUpdate(ctx context.Context, upd tg.Update) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("update handler panicked", "panic", r, "stack", string(debug.Stack()))
			if e.metrics != nil {
				e.metrics.Errors.WithLabelValues("convo").Inc()
			}
		}
	}()

	switch {
	case upd.CallbackQuery != nil:
		e.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.From != nil:
		e.handleMessage(ctx, upd.Message)
	}
}

func (e *Engine) handleMessage(ctx context.Context, msg *tg.Message) {
	userID := msg.From.ID
	if msg.From.IsBot {
		return
	}

	if e.cfg.IsOperator(userID) {
		e.handleOperatorMessage(ctx, msg)
		return
	}
	if !e.gate(ctx, userID, msg.Text) {
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		e.handleStart(ctx, msg)
	case text == "/cancel":
		e.handleCancel(ctx, userID)
	default:
		e.handleFlowInput(ctx, msg)
	}
}

func (e *Engine) handleCallback(ctx context.Context, cb *tg.CallbackQuery) {
	data, err := callback.Parse(cb.Data)
	if err != nil {
		e.logger.Warn("unparseable callback", "data", cb.Data, "error", err)
		e.answer(ctx, cb.ID, "")
		return
	}
	userID := cb.From.ID

	switch data.Kind {
	case callback.Accept, callback.Cancel, callback.Postpone, callback.MessageUser, callback.PhotoUser:
		if !e.cfg.IsOperator(userID) {
			e.answer(ctx, cb.ID, "")
			return
		}
		e.handleQueueCallback(ctx, cb, data)
		return
	}

	// membership verification buttons bypass the subscription gate
	if data.Kind != callback.VerifyJoin && !e.gate(ctx, userID, "") {
		e.answer(ctx, cb.ID, "")
		return
	}
	e.handleCustomerCallback(ctx, cb, data)
}

// gate runs the banned, maintenance and forced-subscription checks. It
// reports whether processing may continue.
func (e *Engine) gate(ctx context.Context, userID int64, text string) bool {
	banned, err := e.store.IsBanned(ctx, userID)
	if err != nil {
		e.logger.Error("ban check failed", "user_id", userID, "error", err)
	}
	if banned {
		return false
	}

	if on, message := e.sys.Maintenance(); on {
		if message == "" {
			message = textMaintenanceDefault
		}
		e.msg.TrySend(ctx, userID, message, nil)
		return false
	}

	if e.cfg.ForceSubChannelUsername != "" && !e.subscriptionVerified(ctx, userID) {
		// /start with a referral payload must still record the join first
		if strings.HasPrefix(strings.TrimSpace(text), "/start ") {
			e.recordStartReferral(ctx, userID, text)
		}
		e.sendSubscribePrompt(ctx, userID)
		return false
	}
	return true
}

func (e *Engine) subscriptionVerified(ctx context.Context, userID int64) bool {
	epoch := strconv.FormatInt(e.sys.ForceSubEpoch(), 10)
	seen, err := e.states.GetKV(ctx, userID, "sub_epoch", "")
	if err == nil && seen == epoch {
		return true
	}
	member, err := e.msg.IsChannelMember(ctx, e.cfg.ForceSubChannelUsername, userID)
	if err != nil {
		e.logger.Warn("membership check failed", "user_id", userID, "error", err)
		return false
	}
	if !member {
		return false
	}
	if err := e.states.SetKV(ctx, userID, "sub_epoch", epoch); err != nil {
		e.logger.Warn("caching membership verdict failed", "user_id", userID, "error", err)
	}
	return true
}

func (e *Engine) sendSubscribePrompt(ctx context.Context, userID int64) {
	channel := strings.TrimPrefix(e.cfg.ForceSubChannelUsername, "@")
	kb := tg.Keyboard(
		tg.Row(tg.BtnURL("📢 قناة المتجر", "https://t.me/"+channel)),
		tg.Row(tg.Btn("✅ تحقق", callback.Format(callback.Data{Kind: callback.VerifyJoin}))),
	)
	e.msg.TrySend(ctx, userID, textForceSub, kb)
}

func (e *Engine) answer(ctx context.Context, callbackID, text string) {
	if err := e.msg.AnswerCallback(ctx, callbackID, text); err != nil {
		e.logger.Warn("answering callback failed", "error", err)
	}
}

func (e *Engine) send(ctx context.Context, chatID int64, text string, kb *tg.InlineKeyboardMarkup) {
	e.msg.TrySend(ctx, chatID, text, kb)
}
