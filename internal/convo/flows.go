package convo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"matjar-bot/internal/callback"
	"matjar-bot/internal/ledger"
	"matjar-bot/internal/orders"
	"matjar-bot/internal/referral"
	"matjar-bot/internal/repo"
	"matjar-bot/internal/tg"
)

// Conversation steps stored under the "step" state key.
const (
	stepRechargeAmount = "recharge_amount"
	stepPhone          = "phone"
	stepAmount         = "amount"
	stepCashAmount     = "cash_amount"
	stepCashTarget     = "cash_target"
	stepFeesAmount     = "fees_amount"
	stepFeesTarget     = "fees_target"
	stepPlayer         = "player"
	stepTransferTarget = "transfer_target"
	stepTransferAmount = "transfer_amount"
	stepFreeText       = "free_text"
	stepConfirm        = "confirm"
)

// cashCommissionPct is the operator commission on money transfers.
const cashCommissionPct = 7

// Flood-control windows per button or command.
const (
	verifyCooldown  = 3 * time.Second
	confirmCooldown = 2 * time.Second
	startCooldown   = 5 * time.Second
)

const maxOrderAmount = 10_000_000

func (e *Engine) handleStart(ctx context.Context, msg *tg.Message) {
	userID := msg.From.ID
	if tooSoon, _ := e.states.TooSoon(ctx, userID, "start", startCooldown); tooSoon {
		return
	}
	if _, err := e.store.EnsureWallet(ctx, userID, displayNameOf(*msg.From)); err != nil {
		e.logger.Error("ensuring wallet failed", "user_id", userID, "error", err)
	}
	e.recordStartReferral(ctx, userID, msg.Text)
	if err := e.states.Clear(ctx, userID); err != nil {
		e.logger.Warn("clearing state failed", "user_id", userID, "error", err)
	}
	e.send(ctx, userID, textWelcome, mainMenuKeyboard())
}

func (e *Engine) recordStartReferral(ctx context.Context, userID int64, text string) {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) != 2 {
		return
	}
	referrerID, token, ok := referral.ParseStartPayload(parts[1])
	if !ok {
		return
	}
	if err := e.refs.RecordJoin(ctx, referrerID, token, userID, parts[1]); err != nil {
		e.logger.Warn("recording referral join failed",
			"referrer_id", referrerID, "referred_id", userID, "error", err)
	}
}

func (e *Engine) handleCancel(ctx context.Context, userID int64) {
	st, err := e.states.Get(ctx, userID)
	if err != nil {
		e.logger.Warn("reading state failed", "user_id", userID, "error", err)
	}
	if err := e.states.Clear(ctx, userID); err != nil {
		e.logger.Warn("clearing state failed", "user_id", userID, "error", err)
	}
	if len(st) == 0 {
		e.send(ctx, userID, textNothingToDo, mainMenuKeyboard())
		return
	}
	e.send(ctx, userID, textCancelled, mainMenuKeyboard())
}

// handleFlowInput advances the user's current flow with one text message.
func (e *Engine) handleFlowInput(ctx context.Context, msg *tg.Message) {
	userID := msg.From.ID
	st, err := e.states.Get(ctx, userID)
	if err != nil {
		e.logger.Error("reading state failed", "user_id", userID, "error", err)
		return
	}
	step := st["step"]
	text := strings.TrimSpace(msg.Text)

	switch step {
	case stepRechargeAmount:
		amount, err := ParseAmount(text, 1000, maxOrderAmount)
		if err != nil {
			e.send(ctx, userID, textBadAmount, nil)
			return
		}
		st["amount"] = strconv.FormatInt(amount, 10)
		st["step"] = stepConfirm
		e.saveState(ctx, userID, st)
		e.send(ctx, userID, confirmOrderText(st["flow"], amount, 0, amount, ""), confirmKeyboard())

	case stepPhone:
		phone, err := ParsePhone(text)
		if err != nil {
			e.send(ctx, userID, textBadPhone, nil)
			return
		}
		st["phone"] = phone
		st["step"] = stepAmount
		e.saveState(ctx, userID, st)
		if st["flow"] == repo.RequestSyrUnit || st["flow"] == repo.RequestMTNUnit {
			e.send(ctx, userID, textAskUnitAmount, nil)
		} else {
			e.send(ctx, userID, textAskBillAmount, nil)
		}

	case stepAmount:
		amount, err := ParseAmount(text, 100, maxOrderAmount)
		if err != nil {
			e.send(ctx, userID, textBadAmount, nil)
			return
		}
		st["amount"] = strconv.FormatInt(amount, 10)
		st["step"] = stepConfirm
		e.saveState(ctx, userID, st)
		e.send(ctx, userID, confirmOrderText(st["flow"], amount, 0, amount, "📞 "+st["phone"]), confirmKeyboard())

	case stepCashAmount:
		amount, err := ParseAmount(text, 5000, maxOrderAmount)
		if err != nil {
			e.send(ctx, userID, textBadAmount, nil)
			return
		}
		st["amount"] = strconv.FormatInt(amount, 10)
		st["commission"] = strconv.FormatInt(amount*cashCommissionPct/100, 10)
		st["step"] = stepCashTarget
		e.saveState(ctx, userID, st)
		e.send(ctx, userID, textAskCashTarget, nil)

	case stepCashTarget:
		if text == "" {
			e.send(ctx, userID, textBadTarget, nil)
			return
		}
		st["target"] = text
		st["step"] = stepConfirm
		e.saveState(ctx, userID, st)
		amount, _ := strconv.ParseInt(st["amount"], 10, 64)
		commission, _ := strconv.ParseInt(st["commission"], 10, 64)
		e.send(ctx, userID, confirmOrderText(st["flow"], amount, commission, amount+commission, "👤 "+text), confirmKeyboard())

	case stepFeesAmount:
		amount, err := ParseAmount(text, 1000, maxOrderAmount)
		if err != nil {
			e.send(ctx, userID, textBadAmount, nil)
			return
		}
		st["amount"] = strconv.FormatInt(amount, 10)
		st["step"] = stepFeesTarget
		e.saveState(ctx, userID, st)
		e.send(ctx, userID, textAskFeesTarget, nil)

	case stepFeesTarget:
		if text == "" {
			e.send(ctx, userID, textBadTarget, nil)
			return
		}
		st["target"] = text
		st["step"] = stepConfirm
		e.saveState(ctx, userID, st)
		amount, _ := strconv.ParseInt(st["amount"], 10, 64)
		e.send(ctx, userID, confirmOrderText(st["flow"], amount, 0, amount, "🎓 "+text), confirmKeyboard())

	case stepPlayer:
		if text == "" {
			e.send(ctx, userID, textBadTarget, nil)
			return
		}
		st["player_id"] = text
		st["step"] = stepConfirm
		e.saveState(ctx, userID, st)
		amount, _ := strconv.ParseInt(st["amount"], 10, 64)
		e.send(ctx, userID, confirmOrderText(st["flow"], amount, 0, amount,
			fmt.Sprintf("%s\n🆔 %s", st["product_name"], text)), confirmKeyboard())

	case stepTransferTarget:
		target, err := ParseUserID(text)
		if err != nil {
			e.send(ctx, userID, textBadTarget, nil)
			return
		}
		if target == userID {
			e.send(ctx, userID, textTransferSelf, nil)
			return
		}
		if _, err := e.wallets.Wallet(ctx, target); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				e.send(ctx, userID, textTransferNoUser, nil)
				return
			}
			e.logger.Error("looking up transfer target failed", "target", target, "error", err)
			return
		}
		st["target"] = strconv.FormatInt(target, 10)
		st["step"] = stepTransferAmount
		e.saveState(ctx, userID, st)
		e.send(ctx, userID, textAskTransferAmount, nil)

	case stepTransferAmount:
		e.finishTransfer(ctx, userID, st, text)

	case stepFreeText:
		if text == "" {
			e.send(ctx, userID, textUnknownInput, nil)
			return
		}
		e.submitOrder(ctx, userID, st["username"], st["flow"], orderDraft{details: text})

	default:
		e.send(ctx, userID, textUnknownInput, mainMenuKeyboard())
	}
}

// finishTransfer executes a wallet-to-wallet transfer, enforcing the
// minimum-remaining-balance floor before touching the ledger.
func (e *Engine) finishTransfer(ctx context.Context, userID int64, st map[string]string, text string) {
	amount, err := ParseAmount(text, 1, maxOrderAmount)
	if err != nil {
		e.send(ctx, userID, textBadAmount, nil)
		return
	}
	target, _ := strconv.ParseInt(st["target"], 10, 64)
	if target == 0 {
		e.clearState(ctx, userID)
		e.send(ctx, userID, textUnknownInput, mainMenuKeyboard())
		return
	}

	wallet, err := e.wallets.Wallet(ctx, userID)
	if err != nil {
		e.logger.Error("reading wallet failed", "user_id", userID, "error", err)
		return
	}
	if wallet.Available()-amount < e.cfg.TransferMinLeft {
		e.send(ctx, userID, fmt.Sprintf("❌ يجب أن يبقى في محفظتك %d ل.س على الأقل بعد التحويل.\nالمتاح: %d ل.س", e.cfg.TransferMinLeft, wallet.Available()), nil)
		return
	}

	outcome, err := e.wallets.Transfer(ctx, userID, target, amount)
	if err != nil {
		e.logger.Error("transfer failed", "from", userID, "to", target, "error", err)
		return
	}
	switch outcome {
	case ledger.OK:
		e.clearState(ctx, userID)
		e.send(ctx, userID, textTransferDone, mainMenuKeyboard())
		e.notifyUser(ctx, target, "transfer_received", map[string]string{
			"amount": strconv.FormatInt(amount, 10),
			"from":   strconv.FormatInt(userID, 10),
		})
	case ledger.InsufficientFunds:
		e.send(ctx, userID, shortfallText(amount, wallet.Available(), amount-wallet.Available()), topUpKeyboard())
	default:
		e.send(ctx, userID, textTransferNoUser, nil)
	}
}

type orderDraft struct {
	productID   int64
	productName string
	playerID    string
	amount      int64
	commission  int64
	details     string
}

// submitOrder hands a prepared order to the coordinator and renders the
// admission verdict. Referral discounts are revalidated first so a user who
// left the channel cannot keep spending the bonus.
func (e *Engine) submitOrder(ctx context.Context, userID int64, username, flow string, d orderDraft) {
	if flow != repo.RequestRecharge {
		if err := e.refs.RevalidateUserDiscount(ctx, userID); err != nil {
			e.logger.Warn("discount revalidation failed", "user_id", userID, "error", err)
		}
	}
	summary := strings.TrimSpace(requestFlowTitle(flow) + "\n" + d.details)
	var fields map[string]string
	if flow == repo.RequestAds && d.details != "" {
		fields = map[string]string{"ad_text": d.details}
	}
	res, err := e.orders.Submit(ctx, orders.Order{
		UserID:      userID,
		Username:    username,
		Type:        flow,
		ProductID:   d.productID,
		ProductName: d.productName,
		PlayerID:    d.playerID,
		Amount:      d.amount,
		Commission:  d.commission,
		Fields:      fields,
		Summary:     summary,
	})
	if err != nil {
		e.logger.Error("order submission failed", "user_id", userID, "flow", flow, "error", err)
		return
	}

	switch res.Status {
	case orders.Admitted:
		e.clearState(ctx, userID)
		text := textSubmitted
		if res.Discount != nil {
			text += fmt.Sprintf("\n🎁 حسم %d%% وفّر لك %d ل.س.", res.Discount.Percent, res.Discount.Saved)
		}
		e.send(ctx, userID, text, mainMenuKeyboard())
	case orders.DuplicatePending:
		e.send(ctx, userID, textHasPending, nil)
	case orders.InsufficientFunds:
		e.send(ctx, userID, shortfallText(res.Total, res.Available, res.Shortfall), topUpKeyboard())
	}
}

// handleCustomerCallback reacts to menu and flow buttons.
func (e *Engine) handleCustomerCallback(ctx context.Context, cb *tg.CallbackQuery, data callback.Data) {
	userID := cb.From.ID
	e.answer(ctx, cb.ID, "")

	switch data.Kind {
	case callback.Menu:
		e.openMenu(ctx, cb.From, data.Arg)

	case callback.TopUp:
		e.startFlow(ctx, cb.From, repo.RequestRecharge, stepRechargeAmount, textAskRechargeAmount)

	case callback.Product:
		e.selectProduct(ctx, cb.From, data.ID)

	case callback.ConfirmOrder:
		if tooSoon, _ := e.states.TooSoon(ctx, userID, "confirm", confirmCooldown); tooSoon {
			return
		}
		st, err := e.states.Get(ctx, userID)
		if err != nil || st["step"] != stepConfirm {
			e.send(ctx, userID, textNothingToDo, mainMenuKeyboard())
			return
		}
		amount, _ := strconv.ParseInt(st["amount"], 10, 64)
		commission, _ := strconv.ParseInt(st["commission"], 10, 64)
		productID, _ := strconv.ParseInt(st["product_id"], 10, 64)
		details := st["target"]
		if st["phone"] != "" {
			details = st["phone"]
		}
		e.submitOrder(ctx, userID, st["username"], st["flow"], orderDraft{
			productID:   productID,
			productName: st["product_name"],
			playerID:    st["player_id"],
			amount:      amount,
			commission:  commission,
			details:     details,
		})

	case callback.AbortOrder:
		e.clearState(ctx, userID)
		e.send(ctx, userID, textCancelled, mainMenuKeyboard())

	case callback.VerifyJoin:
		e.handleVerifyJoin(ctx, cb, data)

	case callback.RefreshBonus:
		if err := e.refs.RevalidateUserDiscount(ctx, userID); err != nil {
			e.logger.Warn("discount revalidation failed", "user_id", userID, "error", err)
		}
		e.send(ctx, userID, "تم تحديث حالة مكافأتك.", nil)
	}
}

func (e *Engine) handleVerifyJoin(ctx context.Context, cb *tg.CallbackQuery, data callback.Data) {
	userID := cb.From.ID
	if tooSoon, _ := e.states.TooSoon(ctx, userID, "verify", verifyCooldown); tooSoon {
		e.answer(ctx, cb.ID, textProcessing)
		return
	}

	if data.ID != 0 {
		if _, err := e.refs.VerifyJoin(ctx, data.ID, userID); err != nil {
			e.logger.Warn("referral verification failed",
				"referrer_id", data.ID, "referred_id", userID, "error", err)
		}
	}
	if e.subscriptionVerified(ctx, userID) {
		e.answer(ctx, cb.ID, textSubOK)
		e.send(ctx, userID, textWelcome, mainMenuKeyboard())
		return
	}
	e.answer(ctx, cb.ID, textSubMissing)
}

func (e *Engine) openMenu(ctx context.Context, from tg.User, name string) {
	userID := from.ID
	switch name {
	case menuMain:
		e.clearState(ctx, userID)
		e.send(ctx, userID, textMenu, mainMenuKeyboard())
	case menuRecharge:
		e.startFlow(ctx, from, repo.RequestRecharge, stepRechargeAmount, textAskRechargeAmount)
	case menuSyrUnit:
		e.startFlow(ctx, from, repo.RequestSyrUnit, stepPhone, textAskPhone)
	case menuMTNUnit:
		e.startFlow(ctx, from, repo.RequestMTNUnit, stepPhone, textAskPhone)
	case menuSyrBill:
		e.startFlow(ctx, from, repo.RequestSyrBill, stepPhone, textAskPhone)
	case menuMTNBill:
		e.startFlow(ctx, from, repo.RequestMTNBill, stepPhone, textAskPhone)
	case menuInternet:
		e.startFlow(ctx, from, repo.RequestInternet, stepPhone, textAskPhone)
	case menuCash:
		e.startFlow(ctx, from, repo.RequestCashTransfer, stepCashAmount, textAskCashAmount)
	case menuCompanies:
		e.startFlow(ctx, from, repo.RequestCompaniesTransfer, stepCashAmount, textAskCashAmount)
	case menuFees:
		e.startFlow(ctx, from, repo.RequestUniversityFees, stepFeesAmount, textAskFeesAmount)
	case menuGames:
		products, err := e.store.ListProducts(ctx, "")
		if err != nil {
			e.logger.Error("listing products failed", "error", err)
			return
		}
		e.send(ctx, userID, formatCatalogue(products), catalogueKeyboard(products))
	case menuTransfer:
		e.startFlow(ctx, from, "", stepTransferTarget, textAskTransferTarget)
	case menuBalance:
		wallet, err := e.store.EnsureWallet(ctx, userID, displayNameOf(from))
		if err != nil {
			e.logger.Error("reading wallet failed", "user_id", userID, "error", err)
			return
		}
		e.send(ctx, userID, balanceText(wallet), nil)
	case menuPurchases:
		list, err := e.store.ListVisiblePurchases(ctx, userID, e.now())
		if err != nil {
			e.logger.Error("listing purchases failed", "user_id", userID, "error", err)
			return
		}
		e.send(ctx, userID, purchasesText(list), nil)
	case menuReferral:
		e.sendReferralLink(ctx, userID)
	case menuAds:
		e.startFlow(ctx, from, repo.RequestAds, stepFreeText, textAskFreeText)
	case menuMedia:
		e.startFlow(ctx, from, repo.RequestMedia, stepFreeText, textAskFreeText)
	case menuSupport:
		e.startFlow(ctx, from, repo.RequestSupport, stepFreeText, textAskFreeText)
	}
}

func (e *Engine) startFlow(ctx context.Context, from tg.User, flow, step, prompt string) {
	st := map[string]string{"step": step, "username": displayNameOf(from)}
	if flow != "" {
		st["flow"] = flow
	}
	e.saveState(ctx, from.ID, st)
	e.send(ctx, from.ID, prompt, nil)
}

func (e *Engine) selectProduct(ctx context.Context, from tg.User, productID int64) {
	product, err := e.store.GetProduct(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		e.send(ctx, from.ID, "المنتج لم يعد متوفراً.", nil)
		return
	}
	if err != nil {
		e.logger.Error("loading product failed", "product_id", productID, "error", err)
		return
	}
	if !product.Active {
		e.send(ctx, from.ID, "المنتج متوقف حالياً.", nil)
		return
	}

	e.saveState(ctx, from.ID, map[string]string{
		"step":         stepPlayer,
		"flow":         repo.RequestGameTopUp,
		"username":     displayNameOf(from),
		"product_id":   strconv.FormatInt(product.ID, 10),
		"product_name": product.Name,
		"amount":       strconv.FormatInt(product.Price, 10),
	})
	e.send(ctx, from.ID, textAskPlayerID, nil)
}

func (e *Engine) sendReferralLink(ctx context.Context, userID int64) {
	goal, err := e.refs.EnsureDailyGoal(ctx, userID)
	if err != nil {
		e.logger.Error("ensuring referral goal failed", "user_id", userID, "error", err)
		return
	}
	link := fmt.Sprintf("https://t.me/%s?start=%s", e.cfg.BotUsername, referral.StartPayload(goal))
	text := fmt.Sprintf("🎁 ادعُ %d من أصدقائك للانضمام للقناة عبر رابطك وستحصل على حسم 1%% حتى نهاية اليوم:\n%s", e.cfg.ReferralRequired, link)
	kb := tg.Keyboard(tg.Row(
		tg.Btn("🔄 تحديث حالة المكافأة", callback.Format(callback.Data{Kind: callback.RefreshBonus})),
	))
	e.send(ctx, userID, text, kb)
}

func (e *Engine) notifyUser(ctx context.Context, userID int64, template string, payload map[string]string) {
	if err := e.notifier.Notify(ctx, userID, template, payload); err != nil {
		e.logger.Error("enqueueing notification failed", "user_id", userID, "template", template, "error", err)
	}
}

func (e *Engine) saveState(ctx context.Context, userID int64, st map[string]string) {
	if err := e.states.Set(ctx, userID, st); err != nil {
		e.logger.Error("saving state failed", "user_id", userID, "error", err)
	}
}

func (e *Engine) clearState(ctx context.Context, userID int64) {
	if err := e.states.Clear(ctx, userID); err != nil {
		e.logger.Warn("clearing state failed", "user_id", userID, "error", err)
	}
}

func displayNameOf(u tg.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}
