package outbox

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"matjar-bot/internal/metrics"
	"matjar-bot/internal/repo"
	"matjar-bot/internal/tg"
)

// Store is the persistence slice the outbox needs.
type Store interface {
	EnqueueNotification(ctx context.Context, userID int64, template string, payload map[string]string, scheduledAt time.Time) error
	DueNotifications(ctx context.Context, now time.Time, limit int) ([]repo.OutboxEntry, error)
	MarkNotificationSent(ctx context.Context, id int64, sentAt time.Time) error
}

// Sender delivers rendered notifications; *tg.Client satisfies it.
type Sender interface {
	TrySend(ctx context.Context, chatID int64, text string, keyboard *tg.InlineKeyboardMarkup) bool
}

// Producer inserts outbox rows for background delivery. Components never call
// the transport directly for notifications.
type Producer struct {
	store Store
	now   func() time.Time
}

// NewProducer creates an outbox producer.
func NewProducer(store Store) *Producer {
	return &Producer{store: store, now: time.Now}
}

// Notify enqueues one notification scheduled for immediate delivery.
func (p *Producer) Notify(ctx context.Context, userID int64, template string, payload map[string]string) error {
	return p.store.EnqueueNotification(ctx, userID, template, payload, p.now())
}

// Worker drains the outbox at a fixed cadence. Delivery is at most once after
// the first attempt: rows are marked sent regardless of the send outcome so a
// persistently unreachable recipient is never retried.
type Worker struct {
	store    Store
	sender   Sender
	registry Registry
	interval time.Duration
	batch    int
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewWorker creates the outbox worker.
func NewWorker(store Store, sender Sender, registry Registry, interval time.Duration, batch int, m *metrics.Metrics, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 25
	}
	return &Worker{
		store:    store,
		sender:   sender,
		registry: registry,
		interval: interval,
		batch:    batch,
		metrics:  m,
		logger:   logger.With("component", "outbox"),
		now:      time.Now,
	}
}

// Run wakes at the configured cadence until ctx is cancelled. A panicking
// tick is logged and the worker continues with the next one.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.safeTick(ctx)
		}
	}
}

func (w *Worker) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("outbox tick panicked", "panic", r, "stack", string(debug.Stack()))
			if w.metrics != nil {
				w.metrics.Errors.WithLabelValues("outbox").Inc()
			}
		}
	}()
	w.Tick(ctx)
}

// Tick processes one batch of due rows.
func (w *Worker) Tick(ctx context.Context) {
	now := w.now()
	entries, err := w.store.DueNotifications(ctx, now, w.batch)
	if err != nil {
		w.logger.Error("failed selecting due notifications", "error", err)
		if w.metrics != nil {
			w.metrics.Errors.WithLabelValues("outbox").Inc()
		}
		return
	}

	for _, entry := range entries {
		status := w.deliver(ctx, entry)
		if err := w.store.MarkNotificationSent(ctx, entry.ID, w.now()); err != nil {
			w.logger.Error("failed marking notification sent", "id", entry.ID, "error", err)
		}
		if w.metrics != nil {
			w.metrics.OutboxSent.WithLabelValues(status).Inc()
		}
	}
}

func (w *Worker) deliver(ctx context.Context, entry repo.OutboxEntry) string {
	tmpl, ok := w.registry[entry.Template]
	if !ok {
		w.logger.Warn("unknown notification template", "template", entry.Template, "id", entry.ID)
		return "unknown_template"
	}
	text := tmpl(entry.Payload)
	if !w.sender.TrySend(ctx, entry.UserID, text, nil) {
		return "send_failed"
	}
	return "sent"
}
