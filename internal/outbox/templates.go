package outbox

import "fmt"

// Template renders one notification payload into message text.
type Template func(payload map[string]string) string

// Registry maps template names to renderers. Producers reference templates by
// name so the outbox rows stay plain data.
type Registry map[string]Template

// DefaultRegistry returns the storefront's notification templates.
func DefaultRegistry() Registry {
	return Registry{
		"order_accepted": func(p map[string]string) string {
			return fmt.Sprintf("✅ تم تنفيذ طلبك: %s\nالمبلغ: %s ل.س", p["product"], p["amount"])
		},
		"order_cancelled": func(p map[string]string) string {
			msg := fmt.Sprintf("❌ تم إلغاء طلبك: %s\nتمت إعادة المبلغ المحجوز إلى رصيدك.", p["product"])
			if reason := p["reason"]; reason != "" {
				msg += "\nالسبب: " + reason
			}
			return msg
		},
		"recharge_confirmed": func(p map[string]string) string {
			return fmt.Sprintf("💰 تم شحن محفظتك بمبلغ %s ل.س\nرصيدك الحالي متاح الآن.", p["amount"])
		},
		"recharge_rejected": func(p map[string]string) string {
			msg := "❌ تعذر تأكيد عملية الشحن."
			if reason := p["reason"]; reason != "" {
				msg += "\nالسبب: " + reason
			}
			return msg
		},
		"wallet_delete_6d": func(p map[string]string) string {
			return "⚠️ لم تستخدم محفظتك منذ فترة طويلة. سيتم حذفها بعد 6 أيام ما لم تقم بأي عملية."
		},
		"wallet_delete_3d": func(p map[string]string) string {
			return "⚠️ تبقى 3 أيام قبل حذف محفظتك بسبب عدم الاستخدام."
		},
		"wallet_delete_0d": func(p map[string]string) string {
			return "🚨 سيتم حذف محفظتك اليوم ما لم تقم بأي عملية الآن."
		},
		"wallet_deleted": func(p map[string]string) string {
			return "تم حذف محفظتك بسبب عدم الاستخدام. يمكنك البدء من جديد في أي وقت عبر /start."
		},
		"referral_satisfied": func(p map[string]string) string {
			return fmt.Sprintf("🎉 أكملت هدف الدعوات اليومي! حصلت على خصم %s%% حتى %s.", p["percent"], p["until"])
		},
		"transfer_received": func(p map[string]string) string {
			return fmt.Sprintf("💸 استلمت تحويلاً بقيمة %s ل.س من المحفظة %s.", p["amount"], p["from"])
		},
		"operator_message": func(p map[string]string) string {
			return "📩 رسالة من الإدارة:\n" + p["text"]
		},
		"broadcast": func(p map[string]string) string {
			return p["text"]
		},
	}
}
