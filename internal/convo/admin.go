package convo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"matjar-bot/internal/callback"
	"matjar-bot/internal/ledger"
	"matjar-bot/internal/orders"
	"matjar-bot/internal/repo"
	"matjar-bot/internal/tg"
)

// Operator conversation steps.
const (
	stepOpCancelReason = "op_cancel_reason"
	stepOpMessageUser  = "op_message_user"
	stepOpPhotoUser    = "op_photo_user"
)

const adminHelp = `أوامر الإدارة:
/admin — الملخص
/done_<id> — قبول الطلب
/cancel_<id> — إلغاء الطلب مع سبب
/add <محفظة> <مبلغ> — إضافة رصيد
/sub <محفظة> <مبلغ> — خصم رصيد
/ban <محفظة> [سبب] — حظر
/unban <محفظة> — فك الحظر
/broadcast <نص> — رسالة جماعية
/maintenance on|off [رسالة] — وضع الصيانة
/subcheck — إعادة فحص الاشتراك للجميع
/cancel — إلغاء العملية الجارية`

func (e *Engine) handleOperatorMessage(ctx context.Context, msg *tg.Message) {
	operatorID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	// a pending operator step consumes the next message, photo included
	st, err := e.states.Get(ctx, operatorID)
	if err == nil && st["step"] != "" && !strings.HasPrefix(text, "/") {
		e.finishOperatorStep(ctx, msg, st)
		return
	}

	switch {
	case text == "/start" || text == "/admin":
		e.sendAdminSummary(ctx, operatorID)
	case text == "/cancel":
		e.clearState(ctx, operatorID)
		e.send(ctx, operatorID, textCancelled, nil)
	case strings.HasPrefix(text, "/done_"):
		id, err := strconv.ParseInt(strings.TrimPrefix(text, "/done_"), 10, 64)
		if err != nil {
			e.send(ctx, operatorID, "معرف الطلب غير صالح.", nil)
			return
		}
		e.acceptRequest(ctx, operatorID, id)
	case strings.HasPrefix(text, "/cancel_"):
		id, err := strconv.ParseInt(strings.TrimPrefix(text, "/cancel_"), 10, 64)
		if err != nil {
			e.send(ctx, operatorID, "معرف الطلب غير صالح.", nil)
			return
		}
		e.beginCancelReason(ctx, operatorID, id)
	case strings.HasPrefix(text, "/add "), strings.HasPrefix(text, "/sub "):
		e.adjustBalance(ctx, operatorID, text)
	case strings.HasPrefix(text, "/ban"):
		e.banUser(ctx, operatorID, text)
	case strings.HasPrefix(text, "/unban"):
		e.unbanUser(ctx, operatorID, text)
	case strings.HasPrefix(text, "/broadcast "):
		e.broadcast(ctx, operatorID, strings.TrimSpace(strings.TrimPrefix(text, "/broadcast ")))
	case strings.HasPrefix(text, "/maintenance"):
		e.toggleMaintenance(ctx, operatorID, text)
	case text == "/subcheck":
		epoch, err := e.sys.BumpForceSubEpoch()
		if err != nil {
			e.logger.Error("bumping subscription epoch failed", "error", err)
			return
		}
		e.logAdmin(operatorID, "subcheck", "")
		e.send(ctx, operatorID, fmt.Sprintf("سيُعاد فحص اشتراك جميع المستخدمين (حقبة %d).", epoch), nil)
	default:
		e.send(ctx, operatorID, adminHelp, nil)
	}
}

// finishOperatorStep consumes the free-form reply an earlier queue button
// asked for: a cancel reason, a message to forward or a photo.
func (e *Engine) finishOperatorStep(ctx context.Context, msg *tg.Message, st map[string]string) {
	operatorID := msg.From.ID
	reqID, _ := strconv.ParseInt(st["req"], 10, 64)
	targetID, _ := strconv.ParseInt(st["uid"], 10, 64)
	e.clearState(ctx, operatorID)

	switch st["step"] {
	case stepOpCancelReason:
		reason := strings.TrimSpace(msg.Text)
		if fileID := msg.LargestPhoto(); fileID != "" && targetID != 0 {
			// the reason arrived as an image; forward it as-is
			if err := e.msg.SendPhoto(ctx, targetID, fileID, msg.Caption); err != nil {
				e.logger.Warn("forwarding cancel photo failed", "user_id", targetID, "error", err)
			}
			reason = strings.TrimSpace(msg.Caption)
		}
		e.cancelRequest(ctx, operatorID, reqID, reason)

	case stepOpMessageUser:
		if targetID == 0 || msg.Text == "" {
			e.send(ctx, operatorID, textUnknownInput, nil)
			return
		}
		e.notifyUser(ctx, targetID, "operator_message", map[string]string{"text": msg.Text})
		e.send(ctx, operatorID, "✉️ أُرسلت الرسالة للزبون.", nil)

	case stepOpPhotoUser:
		fileID := msg.LargestPhoto()
		if targetID == 0 || fileID == "" {
			e.send(ctx, operatorID, "أرسل صورة من فضلك.", nil)
			return
		}
		if err := e.msg.SendPhoto(ctx, targetID, fileID, msg.Caption); err != nil {
			e.logger.Warn("forwarding photo failed", "user_id", targetID, "error", err)
			return
		}
		e.send(ctx, operatorID, "🖼 أُرسلت الصورة للزبون.", nil)
	}
}

func (e *Engine) handleQueueCallback(ctx context.Context, cb *tg.CallbackQuery, data callback.Data) {
	operatorID := cb.From.ID

	switch data.Kind {
	case callback.Accept:
		e.answer(ctx, cb.ID, "")
		e.acceptRequest(ctx, operatorID, data.ID)

	case callback.Cancel:
		e.answer(ctx, cb.ID, "")
		e.beginCancelReason(ctx, operatorID, data.ID)

	case callback.Postpone:
		err := e.orders.Postpone(ctx, data.ID)
		switch {
		case errors.Is(err, orders.ErrAlreadyDecided):
			e.answer(ctx, cb.ID, "تم البت بالطلب مسبقاً.")
		case err != nil:
			e.logger.Error("postponing request failed", "request_id", data.ID, "error", err)
			e.answer(ctx, cb.ID, "")
		default:
			e.answer(ctx, cb.ID, "⏸ أُعيد الطلب لآخر الدور.")
		}

	case callback.MessageUser, callback.PhotoUser:
		req, err := e.store.PendingByID(ctx, data.ID)
		if errors.Is(err, repo.ErrNotFound) {
			e.answer(ctx, cb.ID, "تم البت بالطلب مسبقاً.")
			return
		}
		if err != nil {
			e.logger.Error("loading request failed", "request_id", data.ID, "error", err)
			e.answer(ctx, cb.ID, "")
			return
		}
		step := stepOpMessageUser
		prompt := "اكتب الرسالة التي ستُرسل للزبون:"
		if data.Kind == callback.PhotoUser {
			step = stepOpPhotoUser
			prompt = "أرسل الصورة التي ستُرسل للزبون:"
		}
		e.saveState(ctx, operatorID, map[string]string{
			"step": step,
			"req":  strconv.FormatInt(req.ID, 10),
			"uid":  strconv.FormatInt(req.UserID, 10),
		})
		e.answer(ctx, cb.ID, "")
		e.send(ctx, operatorID, prompt, nil)
	}
}

func (e *Engine) acceptRequest(ctx context.Context, operatorID, requestID int64) {
	req, err := e.orders.Accept(ctx, operatorID, requestID)
	switch {
	case errors.Is(err, orders.ErrProcessing):
		e.send(ctx, operatorID, textProcessing, nil)
	case errors.Is(err, orders.ErrAlreadyDecided):
		e.send(ctx, operatorID, "تم البت بالطلب مسبقاً.", nil)
	case err != nil:
		e.logger.Error("accepting request failed", "request_id", requestID, "error", err)
		e.send(ctx, operatorID, "تعذر تنفيذ القبول، راجع السجلات.", nil)
	default:
		e.logAdmin(operatorID, "accept_request", fmt.Sprintf("request %d", requestID))
		e.send(ctx, operatorID, fmt.Sprintf("✅ قُبل الطلب #%d وأُعلم الزبون %d.", req.ID, req.UserID), nil)
	}
}

func (e *Engine) beginCancelReason(ctx context.Context, operatorID, requestID int64) {
	req, err := e.store.PendingByID(ctx, requestID)
	if errors.Is(err, repo.ErrNotFound) {
		e.send(ctx, operatorID, "تم البت بالطلب مسبقاً.", nil)
		return
	}
	if err != nil {
		e.logger.Error("loading request failed", "request_id", requestID, "error", err)
		return
	}
	e.saveState(ctx, operatorID, map[string]string{
		"step": stepOpCancelReason,
		"req":  strconv.FormatInt(req.ID, 10),
		"uid":  strconv.FormatInt(req.UserID, 10),
	})
	e.send(ctx, operatorID, "اكتب سبب الإلغاء (نص أو صورة)، أو أرسل نقطة لإلغاء بدون سبب:", nil)
}

func (e *Engine) cancelRequest(ctx context.Context, operatorID, requestID int64, reason string) {
	if reason == "." {
		reason = ""
	}
	req, err := e.orders.Cancel(ctx, operatorID, requestID, reason)
	switch {
	case errors.Is(err, orders.ErrProcessing):
		e.send(ctx, operatorID, textProcessing, nil)
	case errors.Is(err, orders.ErrAlreadyDecided):
		e.send(ctx, operatorID, "تم البت بالطلب مسبقاً.", nil)
	case err != nil:
		e.logger.Error("cancelling request failed", "request_id", requestID, "error", err)
		e.send(ctx, operatorID, "تعذر تنفيذ الإلغاء، راجع السجلات.", nil)
	default:
		e.logAdmin(operatorID, "cancel_request", fmt.Sprintf("request %d: %s", requestID, reason))
		e.send(ctx, operatorID, fmt.Sprintf("❌ أُلغي الطلب #%d وأُعيد المبلغ المحجوز.", req.ID), nil)
	}
}

func (e *Engine) adjustBalance(ctx context.Context, operatorID int64, text string) {
	fields := strings.Fields(text)
	if len(fields) != 3 {
		e.send(ctx, operatorID, "الصيغة: /add <محفظة> <مبلغ>", nil)
		return
	}
	userID, err1 := ParseUserID(fields[1])
	amount, err2 := ParseAmount(fields[2], 1, 0)
	if err1 != nil || err2 != nil {
		e.send(ctx, operatorID, "الصيغة: /add <محفظة> <مبلغ>", nil)
		return
	}

	deduct := fields[0] == "/sub"
	var outcome ledger.Outcome
	var err error
	if deduct {
		outcome, err = e.wallets.TryDeduct(ctx, userID, amount, "admin_adjust")
	} else {
		outcome, err = e.wallets.AddBalance(ctx, userID, amount, "admin_adjust")
	}
	if err != nil {
		e.logger.Error("balance adjustment failed", "user_id", userID, "error", err)
		return
	}
	if outcome != ledger.OK {
		e.send(ctx, operatorID, fmt.Sprintf("تعذر التعديل: %s", outcome), nil)
		return
	}

	action := "deposit"
	signed := amount
	if deduct {
		action = "spend"
		signed = -amount
	}
	if err := e.store.AppendAdminLedger(ctx, repo.AdminLedgerEntry{
		AdminID: operatorID,
		Action:  action,
		UserID:  &userID,
		Amount:  amount,
		Note:    "manual adjustment",
	}); err != nil {
		e.logger.Error("admin ledger append failed", "error", err)
	}
	e.logAdmin(operatorID, "adjust_balance", fmt.Sprintf("user %d amount %d", userID, signed))
	e.send(ctx, operatorID, fmt.Sprintf("تم تعديل رصيد %d بمقدار %d ل.س.", userID, signed), nil)
}

func (e *Engine) banUser(ctx context.Context, operatorID int64, text string) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		e.send(ctx, operatorID, "الصيغة: /ban <محفظة> [سبب]", nil)
		return
	}
	userID, err := ParseUserID(fields[1])
	if err != nil {
		e.send(ctx, operatorID, "الصيغة: /ban <محفظة> [سبب]", nil)
		return
	}
	reason := strings.Join(fields[2:], " ")
	if err := e.store.BanUser(ctx, userID, reason); err != nil {
		e.logger.Error("banning user failed", "user_id", userID, "error", err)
		return
	}
	e.logAdmin(operatorID, "ban", fmt.Sprintf("user %d: %s", userID, reason))
	e.send(ctx, operatorID, fmt.Sprintf("🚫 حُظر المستخدم %d.", userID), nil)
}

func (e *Engine) unbanUser(ctx context.Context, operatorID int64, text string) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		e.send(ctx, operatorID, "الصيغة: /unban <محفظة>", nil)
		return
	}
	userID, err := ParseUserID(fields[1])
	if err != nil {
		e.send(ctx, operatorID, "الصيغة: /unban <محفظة>", nil)
		return
	}
	if err := e.store.UnbanUser(ctx, userID); err != nil {
		e.logger.Error("unbanning user failed", "user_id", userID, "error", err)
		return
	}
	e.logAdmin(operatorID, "unban", fmt.Sprintf("user %d", userID))
	e.send(ctx, operatorID, fmt.Sprintf("✅ رُفع الحظر عن %d.", userID), nil)
}

func (e *Engine) broadcast(ctx context.Context, operatorID int64, text string) {
	if text == "" {
		e.send(ctx, operatorID, "الصيغة: /broadcast <نص>", nil)
		return
	}
	ids, err := e.store.ListWalletIDs(ctx)
	if err != nil {
		e.logger.Error("listing wallets for broadcast failed", "error", err)
		return
	}
	for _, id := range ids {
		e.notifyUser(ctx, id, "broadcast", map[string]string{"text": text})
	}
	e.logAdmin(operatorID, "broadcast", text)
	e.send(ctx, operatorID, fmt.Sprintf("📣 ستصل الرسالة إلى %d محفظة عبر صندوق الإشعارات.", len(ids)), nil)
}

func (e *Engine) toggleMaintenance(ctx context.Context, operatorID int64, text string) {
	fields := strings.Fields(text)
	if len(fields) < 2 || (fields[1] != "on" && fields[1] != "off") {
		e.send(ctx, operatorID, "الصيغة: /maintenance on|off [رسالة]", nil)
		return
	}
	on := fields[1] == "on"
	message := strings.Join(fields[2:], " ")
	if err := e.sys.SetMaintenance(on, message); err != nil {
		e.logger.Error("toggling maintenance failed", "error", err)
		return
	}
	action := "maintenance_off"
	reply := "تم إيقاف وضع الصيانة."
	if on {
		action = "maintenance_on"
		reply = "تم تفعيل وضع الصيانة."
	}
	e.logAdmin(operatorID, action, message)
	e.send(ctx, operatorID, reply, nil)
}

func (e *Engine) sendAdminSummary(ctx context.Context, operatorID int64) {
	summary, err := e.store.LoadSummary(ctx)
	if err != nil {
		e.logger.Error("loading summary failed", "error", err)
		return
	}
	totals, err := e.store.AdminLedgerTotals(ctx)
	if err != nil {
		e.logger.Error("loading admin totals failed", "error", err)
	}

	var b strings.Builder
	b.WriteString("📊 ملخص المتجر:\n")
	b.WriteString(fmt.Sprintf("المستخدمون: %d\n", summary.Users))
	b.WriteString(fmt.Sprintf("إجمالي الأرصدة: %d ل.س\n", summary.BalanceTotal))
	b.WriteString(fmt.Sprintf("المحجوز: %d ل.س\n", summary.HeldTotal))
	b.WriteString(fmt.Sprintf("طلبات معلقة: %d\n", summary.PendingCount))
	b.WriteString(fmt.Sprintf("إعلانات نشطة: %d\n", summary.ActiveAds))
	if len(totals) > 0 {
		b.WriteString("\nحركة الموظفين:\n")
		for _, t := range totals {
			b.WriteString(fmt.Sprintf("- %d: إيداع %d / صرف %d\n", t.AdminID, t.Deposited, t.Spent))
		}
	}
	b.WriteString("\n" + adminHelp)
	e.send(ctx, operatorID, b.String(), nil)
}

func (e *Engine) logAdmin(operatorID int64, action, reason string) {
	if err := e.sys.LogAction(operatorID, action, reason); err != nil {
		e.logger.Error("admin action log append failed", "action", action, "error", err)
	}
}
