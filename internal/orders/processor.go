package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"matjar-bot/internal/callback"
	"matjar-bot/internal/repo"
	"matjar-bot/internal/tg"
)

// Presenter sends the rendered request to the operator chat; *tg.Client
// satisfies it.
type Presenter interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *tg.InlineKeyboardMarkup) (int64, error)
}

var requestTitles = map[string]string{
	repo.RequestRecharge:          "طلب شحن رصيد",
	repo.RequestSyrUnit:           "طلب وحدات سيرياتيل",
	repo.RequestMTNUnit:           "طلب وحدات MTN",
	repo.RequestSyrBill:           "طلب تسديد فاتورة سيرياتيل",
	repo.RequestMTNBill:           "طلب تسديد فاتورة MTN",
	repo.RequestInternet:          "طلب باقة إنترنت",
	repo.RequestCashTransfer:      "طلب حوالة مالية",
	repo.RequestCompaniesTransfer: "طلب حوالة شركات",
	repo.RequestUniversityFees:    "طلب رسوم جامعية",
	repo.RequestGameTopUp:         "طلب شحن لعبة",
	repo.RequestAds:               "طلب إعلان",
	repo.RequestMedia:             "طلب ميديا",
	repo.RequestSupport:           "طلب دعم",
}

// Processor is the queue's single consumer. It presents the oldest pending
// request to the operator chat, waits for the decision, observes the
// cool-down and moves on. Idle polling covers rows admitted while the wake
// signal was already consumed, and a stalled presentation is repeated after
// repostAfter so a lost operator message cannot wedge the queue.
type Processor struct {
	coord        *Coordinator
	store        Store
	presenter    Presenter
	operatorChat int64
	logger       *slog.Logger

	idlePoll    time.Duration
	repostAfter time.Duration
	now         func() time.Time
}

// NewProcessor creates the queue consumer.
func NewProcessor(coord *Coordinator, store Store, presenter Presenter, operatorChat int64, logger *slog.Logger) *Processor {
	return &Processor{
		coord:        coord,
		store:        store,
		presenter:    presenter,
		operatorChat: operatorChat,
		logger:       logger.With("component", "queue"),
		idlePoll:     30 * time.Second,
		repostAfter:  15 * time.Minute,
		now:          time.Now,
	}
}

// Run consumes the queue until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	var lastDecision time.Time

	for {
		if err := ctx.Err(); err != nil {
			return
		}

		if wait := p.coord.cfg.Cooldown - p.now().Sub(lastDecision); !lastDecision.IsZero() && wait > 0 {
			if !sleep(ctx, wait) {
				return
			}
		}

		req, err := p.store.OldestPending(ctx)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			p.logger.Error("selecting next request failed", "error", err)
			if !sleep(ctx, 5*time.Second) {
				return
			}
			continue
		}
		if req == nil {
			select {
			case <-ctx.Done():
				return
			case <-p.coord.wake:
			case <-time.After(p.idlePoll):
			}
			continue
		}

		if err := p.Present(ctx, req); err != nil {
			p.logger.Error("presenting request failed", "request_id", req.ID, "error", err)
			if !sleep(ctx, 5*time.Second) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.coord.decided:
			lastDecision = p.now()
		case <-time.After(p.repostAfter):
			// no decision arrived; re-present on the next pass
		}
	}
}

// Present renders one pending request with its decision buttons.
func (p *Processor) Present(ctx context.Context, req *repo.PendingRequest) error {
	title := requestTitles[req.Payload.Type]
	if title == "" {
		title = req.Payload.Type
	}

	text := fmt.Sprintf("📥 %s #%d\n👤 %s (%d)\n\n%s\n\n💰 المحجوز: %d ل.س",
		title, req.ID, req.Username, req.UserID, req.RequestText, req.Payload.Reserved)

	kb := tg.Keyboard(
		tg.Row(
			tg.Btn("✅ قبول", callback.Format(callback.Data{Kind: callback.Accept, ID: req.ID})),
			tg.Btn("❌ إلغاء", callback.Format(callback.Data{Kind: callback.Cancel, ID: req.ID})),
		),
		tg.Row(
			tg.Btn("⏸ تأجيل", callback.Format(callback.Data{Kind: callback.Postpone, ID: req.ID})),
		),
		tg.Row(
			tg.Btn("✉️ مراسلة الزبون", callback.Format(callback.Data{Kind: callback.MessageUser, ID: req.ID})),
			tg.Btn("🖼 إرسال صورة", callback.Format(callback.Data{Kind: callback.PhotoUser, ID: req.ID})),
		),
	)

	_, err := p.presenter.SendMessage(ctx, p.operatorChat, text, kb)
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
