package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	"remindbot/internal/timer"
	logx "remindbot/pkg/logx"
)

type Service struct {
	cfg       Config
	log       logx.Logger
	bus       eventbus.Bus
	store     storage.Store
	messenger Messenger
	timer     *timer.Service

	// clock is swappable in tests.
	clock func() time.Time

	runMu   sync.Mutex
	cron    *cron.Cron
	started bool
}

// New builds the coordinator and its owned timer engine.
func New(cfg Config, tcfg timer.Config, store storage.Store, messenger Messenger, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:       cfg.withDefaults(),
		log:       log.With(logx.String("comp", "delivery")),
		bus:       bus,
		store:     store,
		messenger: messenger,
		clock:     time.Now,
	}
	s.timer = timer.New(tcfg, log, s.fire, s.handleMissed)
	return s
}

// Timer exposes the owned engine for diagnostics.
func (s *Service) Timer() *timer.Service { return s.timer }

// Start launches the timer engine, rebuilds it from the store, and starts
// the periodic retention sweep (which also runs once immediately).
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.started {
		return nil
	}

	s.timer.Start(ctx)

	if err := s.Reconcile(ctx); err != nil {
		// The engine is running; an incomplete rebuild is repairable on the
		// next restart, so don't fail startup for it.
		s.log.Error("startup reconciliation incomplete", logx.Err(err))
	}

	s.cron = cron.New(cron.WithLocation(time.UTC))
	interval := s.cfg.CleanupInterval
	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		cctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Cleanup(cctx, s.clock())
	})
	if err != nil {
		return err
	}
	s.cron.Start()

	go func() {
		cctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		s.Cleanup(cctx, s.clock())
	}()

	s.started = true
	s.log.Info("coordinator started",
		logx.Duration("retention", s.cfg.Retention),
		logx.Duration("cleanup_interval", interval),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.runMu.Lock()
	c := s.cron
	s.cron = nil
	started := s.started
	s.started = false
	s.runMu.Unlock()

	if !started {
		return
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.timer.Stop(ctx)
	s.log.Info("coordinator stopped")
}

// Reconcile rebuilds the timer set from the durable store. The store is
// authoritative: every future pending record is re-armed; records overdue
// within the grace fire immediately (sent late, not dropped); older overdue
// records are surfaced in the log and left for retention cleanup. Stale
// inflight claims from a previous crash are demoted back to pending first.
func (s *Service) Reconcile(ctx context.Context) error {
	now := s.clock()

	if n, err := s.store.ReleaseStaleInflight(ctx, now.Add(-s.cfg.InflightStale)); err != nil {
		s.log.Error("stale inflight release failed", logx.Err(err))
	} else if n > 0 {
		s.log.Warn("released stale inflight records", logx.Int64("count", n))
	}

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return err
	}

	armed, overdue, left := 0, 0, 0
	for _, r := range pending {
		switch {
		case r.DeliveryTime.After(now):
			if err := s.timer.Arm(r.JobID, r.DeliveryTime); err != nil {
				s.log.Error("re-arm failed", logx.String("job", r.JobID), logx.Err(err))
				continue
			}
			armed++
		case now.Sub(r.DeliveryTime) <= s.cfg.OverdueGrace:
			if err := s.timer.Arm(r.JobID, r.DeliveryTime); err != nil {
				s.log.Error("overdue arm failed", logx.String("job", r.JobID), logx.Err(err))
				continue
			}
			overdue++
		default:
			left++
			s.log.Warn("pending record past grace; leaving for cleanup",
				logx.String("job", r.JobID),
				logx.Int64("user", r.UserID),
				logx.Time("delivery_time", r.DeliveryTime),
			)
			s.publish("reminder.missed", ReminderEvent{JobID: r.JobID, UserID: r.UserID, DeliveryTime: r.DeliveryTime})
		}
	}

	s.log.Info("timer set rebuilt from store",
		logx.Int("pending", len(pending)),
		logx.Int("armed", armed),
		logx.Int("overdue_fired", overdue),
		logx.Int("left_for_cleanup", left),
	)
	return nil
}

// Cleanup runs the retention sweep. The two halves are independent and
// best-effort: a failure in one does not block the other.
func (s *Service) Cleanup(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.cfg.Retention)

	var sentN, unsentN int64
	var err error
	if sentN, err = s.store.DeleteSentBefore(ctx, cutoff); err != nil {
		s.log.Error("cleanup of sent records failed", logx.Err(err))
	}
	if unsentN, err = s.store.DeleteUnsentBefore(ctx, cutoff); err != nil {
		s.log.Error("cleanup of stale unsent records failed", logx.Err(err))
	}

	if sentN > 0 || unsentN > 0 {
		s.log.Info("retention sweep done",
			logx.Int64("sent_purged", sentN),
			logx.Int64("unsent_purged", unsentN),
		)
	}
	s.publishData("cleanup.done", CleanupEvent{SentPurged: sentN, UnsentPurged: unsentN})
}

func (s *Service) publish(typ string, ev ReminderEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

func (s *Service) publishData(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
