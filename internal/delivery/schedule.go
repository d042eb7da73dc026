package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/storage"
	"remindbot/internal/timeparse"
	logx "remindbot/pkg/logx"
)

// Schedule parses spec relative to now, persists the reminder, then arms a
// timer for it. The durable write always happens before the timer is armed;
// if arming fails the record stays pending and the next reconciliation picks
// it up.
func (s *Service) Schedule(ctx context.Context, userID int64, text, spec string) (Handle, error) {
	now := s.clock()
	at, err := timeparse.Parse(spec, now)
	if err != nil {
		return Handle{}, err
	}

	jobID := JobID(userID, at)
	r := storage.Reminder{
		UserID:       userID,
		Text:         text,
		CreatedAt:    now,
		DeliveryTime: at,
		JobID:        jobID,
		Status:       storage.StatusPending,
	}
	if _, err := s.store.Insert(ctx, r); err != nil {
		if errors.Is(err, storage.ErrDuplicateJobID) {
			return Handle{}, fmt.Errorf("reminder %s: %w", jobID, storage.ErrDuplicateJobID)
		}
		return Handle{}, fmt.Errorf("persist reminder: %w", err)
	}

	if err := s.timer.Arm(jobID, at); err != nil {
		// Record is durable; reconciliation will re-arm it.
		s.log.Error("arm after persist failed", logx.String("job", jobID), logx.Err(err))
	}

	s.log.Info("reminder scheduled",
		logx.String("job", jobID),
		logx.Int64("user", userID),
		logx.Time("delivery_time", at),
	)
	s.publish("reminder.scheduled", ReminderEvent{JobID: jobID, UserID: userID, DeliveryTime: at})
	return Handle{JobID: jobID, DeliveryTime: at}, nil
}

// fire is the timer engine's handler. It is safe to invoke any number of
// times for the same job: the store's claim transition guarantees at most
// one invocation reaches the messenger.
func (s *Service) fire(ctx context.Context, jobID string) error {
	r, err := s.store.GetByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Already purged or never persisted; nothing to deliver.
			return nil
		}
		return fmt.Errorf("load reminder: %w", err)
	}
	if r.Status != storage.StatusPending {
		return nil
	}

	ok, err := s.store.Claim(ctx, jobID, s.clock())
	if err != nil {
		return fmt.Errorf("claim reminder: %w", err)
	}
	if !ok {
		// Lost the race to a concurrent fire or a cancel.
		return nil
	}

	// No store lock is held across the send.
	msgID, sendErr := s.messenger.Send(ctx, r.UserID, frameText(r.Text))
	if sendErr != nil {
		if relErr := s.store.Release(ctx, jobID); relErr != nil {
			s.log.Error("release after failed send", logx.String("job", jobID), logx.Err(relErr))
		}
		s.log.Error("send failed",
			logx.String("job", jobID),
			logx.Int64("user", r.UserID),
			logx.Err(sendErr),
		)
		s.publish("reminder.send_failed", ReminderEvent{JobID: jobID, UserID: r.UserID, DeliveryTime: r.DeliveryTime, Error: sendErr.Error()})
		return sendErr
	}

	if err := s.store.MarkSent(ctx, jobID, s.clock()); err != nil {
		// The message is out; never re-send. The stale inflight demotion on
		// restart can cause one duplicate in this narrow window, which the
		// claim keeps to a single extra send at most.
		s.log.Error("mark sent failed", logx.String("job", jobID), logx.Err(err))
	}

	s.log.Info("reminder sent",
		logx.String("job", jobID),
		logx.Int64("user", r.UserID),
		logx.Int("message_id", msgID),
	)
	s.publish("reminder.sent", ReminderEvent{JobID: jobID, UserID: r.UserID, DeliveryTime: r.DeliveryTime})
	return nil
}

func (s *Service) handleMissed(jobID string, firesAt time.Time) {
	s.log.Warn("fire past misfire grace",
		logx.String("job", jobID),
		logx.Time("delivery_time", firesAt),
	)
	s.publish("reminder.missed", ReminderEvent{JobID: jobID, DeliveryTime: firesAt})
}

// Cancel disarms the timer and tags the durable record cancelled. The store
// transition only succeeds from pending, so a cancel that races an in-flight
// fire reports false rather than clawing back a sent message.
func (s *Service) Cancel(ctx context.Context, jobID string) (bool, error) {
	s.timer.Disarm(jobID)

	ok, err := s.store.Cancel(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("cancel reminder: %w", err)
	}
	if ok {
		s.log.Info("reminder cancelled", logx.String("job", jobID))
		s.publish("reminder.cancelled", ReminderEvent{JobID: jobID})
	}
	return ok, nil
}

// ListPending returns the user's not-yet-sent reminders ordered by delivery
// time.
func (s *Service) ListPending(ctx context.Context, userID int64) ([]storage.Reminder, error) {
	return s.store.ListByUser(ctx, userID, true)
}

// ListAll returns every stored reminder for the user, sent ones included.
func (s *Service) ListAll(ctx context.Context, userID int64) ([]storage.Reminder, error) {
	return s.store.ListByUser(ctx, userID, false)
}

func frameText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "(no message)"
	}
	return "🔔 Reminder\n\n" + text
}
