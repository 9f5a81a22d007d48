package convo

import (
	"fmt"
	"strings"

	"matjar-bot/internal/callback"
	"matjar-bot/internal/repo"
	"matjar-bot/internal/tg"
)

// Menu names carried in menu:<name> callbacks.
const (
	menuMain      = "main"
	menuRecharge  = "recharge"
	menuSyrUnit   = "syr_unit"
	menuMTNUnit   = "mtn_unit"
	menuSyrBill   = "syr_bill"
	menuMTNBill   = "mtn_bill"
	menuInternet  = "internet"
	menuCash      = "cash"
	menuCompanies = "companies"
	menuFees      = "fees"
	menuGames     = "games"
	menuTransfer  = "transfer"
	menuBalance   = "balance"
	menuPurchases = "purchases"
	menuReferral  = "referral"
	menuAds       = "ads"
	menuMedia     = "media"
	menuSupport   = "support"
)

const (
	textWelcome = "أهلاً بك في متجرنا 🛒\nاختر الخدمة المطلوبة من القائمة:"
	textMenu    = "القائمة الرئيسية:"

	textMaintenanceDefault = "المتجر في صيانة مؤقتة، نعود قريباً 🛠"
	textBanned             = "تم حظر حسابك من استخدام المتجر."
	textForceSub           = "للاستخدام يجب الاشتراك في قناة المتجر أولاً ثم الضغط على «تحقق»."
	textSubOK              = "✅ تم التحقق من اشتراكك، أهلاً بك!"
	textSubMissing         = "لم يتم العثور على اشتراكك بعد، اشترك ثم أعد المحاولة."

	textCancelled    = "تم إلغاء العملية الحالية. ✅"
	textNothingToDo  = "لا توجد عملية جارية."
	textUnknownInput = "لم أفهم الطلب، استخدم أزرار القائمة."
	textHasPending   = "لديك طلب قيد المعالجة، انتظر البت فيه قبل إرسال طلب جديد."
	textProcessing   = "جاري المعالجة..."
	textSubmitted    = "✅ تم استلام طلبك وسيعالجه الموظف قريباً."

	textAskRechargeAmount = "أدخل مبلغ الشحن المطلوب (بالليرة السورية):"
	textAskPhone          = "أدخل رقم الهاتف (مثال: 0991234567):"
	textAskUnitAmount     = "أدخل قيمة الوحدات المطلوبة:"
	textAskBillAmount     = "أدخل مبلغ الفاتورة:"
	textAskCashAmount     = "أدخل مبلغ الحوالة:"
	textAskCashTarget     = "أدخل اسم المستلم ورقمه:"
	textAskFeesAmount     = "أدخل مبلغ الرسوم:"
	textAskFeesTarget     = "أدخل اسم الجامعة والرقم الجامعي:"
	textAskPlayerID       = "أدخل معرف اللاعب (ID):"
	textAskTransferTarget = "أدخل رقم محفظة المستلم:"
	textAskTransferAmount = "أدخل المبلغ المراد تحويله:"
	textAskFreeText       = "اكتب تفاصيل طلبك وسيتواصل معك الموظف:"

	textBadAmount = "المبلغ غير صالح، أدخل رقماً موجباً فقط."
	textBadPhone  = "رقم الهاتف غير صالح، أعد المحاولة."
	textBadTarget = "المعرف غير صالح، أعد المحاولة."

	textTransferDone   = "✅ تم التحويل بنجاح."
	textTransferSelf   = "لا يمكنك التحويل لنفسك."
	textTransferNoUser = "محفظة المستلم غير موجودة."
)

func mainMenuKeyboard() *tg.InlineKeyboardMarkup {
	m := func(name string) string {
		return callback.Format(callback.Data{Kind: callback.Menu, Arg: name})
	}
	return tg.Keyboard(
		tg.Row(tg.Btn("💳 شحن رصيد المحفظة", m(menuRecharge))),
		tg.Row(
			tg.Btn("📱 وحدات سيرياتيل", m(menuSyrUnit)),
			tg.Btn("📱 وحدات MTN", m(menuMTNUnit)),
		),
		tg.Row(
			tg.Btn("🧾 فاتورة سيرياتيل", m(menuSyrBill)),
			tg.Btn("🧾 فاتورة MTN", m(menuMTNBill)),
		),
		tg.Row(tg.Btn("🌐 باقات الإنترنت", m(menuInternet))),
		tg.Row(
			tg.Btn("💸 حوالة مالية", m(menuCash)),
			tg.Btn("🏢 حوالة شركات", m(menuCompanies)),
		),
		tg.Row(
			tg.Btn("🎓 رسوم جامعية", m(menuFees)),
			tg.Btn("🎮 شحن ألعاب", m(menuGames)),
		),
		tg.Row(
			tg.Btn("💰 رصيدي", m(menuBalance)),
			tg.Btn("🛍 مشترياتي", m(menuPurchases)),
		),
		tg.Row(
			tg.Btn("↔️ تحويل لمحفظة", m(menuTransfer)),
			tg.Btn("🎁 رابط الإحالة", m(menuReferral)),
		),
		tg.Row(
			tg.Btn("📣 طلب إعلان", m(menuAds)),
			tg.Btn("🎬 طلب ميديا", m(menuMedia)),
		),
		tg.Row(tg.Btn("🛟 الدعم", m(menuSupport))),
	)
}

func confirmKeyboard() *tg.InlineKeyboardMarkup {
	return tg.Keyboard(tg.Row(
		tg.Btn("✅ تأكيد", callback.Format(callback.Data{Kind: callback.ConfirmOrder})),
		tg.Btn("❌ إلغاء", callback.Format(callback.Data{Kind: callback.AbortOrder})),
	))
}

func topUpKeyboard() *tg.InlineKeyboardMarkup {
	return tg.Keyboard(tg.Row(
		tg.Btn("💳 شحن المحفظة", callback.Format(callback.Data{Kind: callback.TopUp})),
	))
}

func shortfallText(total, available, shortfall int64) string {
	return fmt.Sprintf("❌ رصيدك غير كافٍ.\nالمطلوب: %d ل.س\nالمتاح: %d ل.س\nالنقص: %d ل.س", total, available, shortfall)
}

func balanceText(w *repo.Wallet) string {
	return fmt.Sprintf("💰 رصيدك:\nالمتاح: %d ل.س\nالمحجوز: %d ل.س", w.Available(), w.Held)
}

func purchasesText(list []repo.Purchase) string {
	if len(list) == 0 {
		return "لا توجد مشتريات حديثة."
	}
	var b strings.Builder
	b.WriteString("🛍 مشترياتك الأخيرة:\n")
	for _, p := range list {
		b.WriteString(fmt.Sprintf("- %s — %d ل.س (%s)\n", p.ProductName, p.Price, p.CreatedAt.Format("2006-01-02 15:04")))
	}
	return strings.TrimSpace(b.String())
}

func confirmOrderText(flow string, amount, commission, total int64, details string) string {
	var b strings.Builder
	b.WriteString("راجع طلبك:\n")
	if title := requestFlowTitle(flow); title != "" {
		b.WriteString(title)
		b.WriteString("\n")
	}
	if details != "" {
		b.WriteString(details)
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("المبلغ: %d ل.س\n", amount))
	if commission > 0 {
		b.WriteString(fmt.Sprintf("العمولة: %d ل.س\n", commission))
	}
	b.WriteString(fmt.Sprintf("الإجمالي: %d ل.س", total))
	return b.String()
}

func requestFlowTitle(flow string) string {
	switch flow {
	case repo.RequestRecharge:
		return "شحن رصيد المحفظة"
	case repo.RequestSyrUnit:
		return "وحدات سيرياتيل"
	case repo.RequestMTNUnit:
		return "وحدات MTN"
	case repo.RequestSyrBill:
		return "فاتورة سيرياتيل"
	case repo.RequestMTNBill:
		return "فاتورة MTN"
	case repo.RequestInternet:
		return "باقة إنترنت"
	case repo.RequestCashTransfer:
		return "حوالة مالية"
	case repo.RequestCompaniesTransfer:
		return "حوالة شركات"
	case repo.RequestUniversityFees:
		return "رسوم جامعية"
	case repo.RequestGameTopUp:
		return "شحن لعبة"
	case repo.RequestAds:
		return "طلب إعلان"
	case repo.RequestMedia:
		return "طلب ميديا"
	case repo.RequestSupport:
		return "طلب دعم"
	}
	return ""
}
