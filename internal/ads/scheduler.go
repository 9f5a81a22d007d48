package ads

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"matjar-bot/internal/metrics"
	"matjar-bot/internal/repo"
)

// Store is the persistence slice the scheduler needs.
type Store interface {
	ExpireAds(ctx context.Context, now time.Time) (int64, error)
	PostableAds(ctx context.Context, limit int) ([]repo.Ad, error)
	MarkAdPosted(ctx context.Context, id int64, postedAt time.Time) error
}

// Broadcaster posts to the public channel; *tg.Client satisfies it.
type Broadcaster interface {
	SendToChannel(ctx context.Context, channel, text string) error
	SendPhotoToChannel(ctx context.Context, channel, fileID, caption string) error
}

// Config tunes the scheduler.
type Config struct {
	Channel   string
	StartHour int
	EndHour   int
	BatchSize int
	Location  *time.Location
}

// Scheduler broadcasts active promotional posts on an hourly cadence inside
// the allowed daytime window.
type Scheduler struct {
	store       Store
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time
}

// New creates the ad scheduler.
func New(store Store, broadcaster Broadcaster, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.StartHour == 0 && cfg.EndHour == 0 {
		cfg.StartHour, cfg.EndHour = 10, 22
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{
		store:       store,
		broadcaster: broadcaster,
		metrics:     m,
		logger:      logger.With("component", "ads"),
		cfg:         cfg,
		now:         time.Now,
	}
}

// Run ticks hourly until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeTick(ctx)
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("ad tick panicked", "panic", r, "stack", string(debug.Stack()))
			if s.metrics != nil {
				s.metrics.Errors.WithLabelValues("ads").Inc()
			}
		}
	}()
	s.Tick(ctx)
}

// InWindow reports whether the given instant is inside the broadcast window.
func (s *Scheduler) InWindow(t time.Time) bool {
	hour := t.In(s.cfg.Location).Hour()
	return hour >= s.cfg.StartHour && hour < s.cfg.EndHour
}

// Tick expires finished ads and broadcasts the next batch, oldest
// last-posted first.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	if !s.InWindow(now) {
		return
	}

	if _, err := s.store.ExpireAds(ctx, now); err != nil {
		s.logger.Error("expiring ads failed", "error", err)
	}

	batch, err := s.store.PostableAds(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("selecting postable ads failed", "error", err)
		return
	}

	for _, ad := range batch {
		if !s.post(ctx, ad) {
			continue
		}
		if err := s.store.MarkAdPosted(ctx, ad.ID, s.now()); err != nil {
			s.logger.Error("marking ad posted failed", "ad_id", ad.ID, "error", err)
		}
		if s.metrics != nil {
			s.metrics.AdsPosted.Inc()
		}
	}
}

func (s *Scheduler) post(ctx context.Context, ad repo.Ad) bool {
	text := ad.AdText
	if ad.Contact != "" {
		text += "\n\nللتواصل: " + ad.Contact
	}

	if len(ad.Images) == 0 {
		if err := s.broadcaster.SendToChannel(ctx, s.cfg.Channel, text); err != nil {
			s.logger.Warn("ad broadcast failed", "ad_id", ad.ID, "error", err)
			return false
		}
		return true
	}

	// first image carries the caption, the rest follow bare
	for i, fileID := range ad.Images {
		caption := ""
		if i == 0 {
			caption = text
		}
		if err := s.broadcaster.SendPhotoToChannel(ctx, s.cfg.Channel, fileID, caption); err != nil {
			s.logger.Warn("ad media broadcast failed", "ad_id", ad.ID, "error", err)
			return i > 0
		}
	}
	return true
}
