package delivery

import (
	"context"
	"fmt"
	"time"
)

// Messenger delivers a text to a user and reports the platform message id.
// It is a blocking network call; the coordinator never holds store state
// across it.
type Messenger interface {
	Send(ctx context.Context, userID int64, text string) (messageID int, err error)
}

// Config controls the coordinator.
type Config struct {
	// Retention is how long sent (and stale unsent) records are kept.
	// Default 7 days.
	Retention time.Duration
	// CleanupInterval is how often the retention sweep runs (it also runs
	// once at startup). Default 24h.
	CleanupInterval time.Duration
	// OverdueGrace is how late a pending record may be at startup and still
	// be fired immediately; older records are left for cleanup. Default 60s.
	OverdueGrace time.Duration
	// InflightStale is how long a claim may be held before reconciliation
	// demotes the record back to pending (crash recovery). Default 5m.
	InflightStale time.Duration
}

func (c Config) withDefaults() Config {
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 24 * time.Hour
	}
	if c.OverdueGrace <= 0 {
		c.OverdueGrace = 60 * time.Second
	}
	if c.InflightStale <= 0 {
		c.InflightStale = 5 * time.Minute
	}
	return c
}

// Handle is returned to the caller after a successful schedule.
type Handle struct {
	JobID        string
	DeliveryTime time.Time
}

// JobID derives the stable job token for a (user, delivery instant) pair.
// Millisecond resolution makes collisions require the same user asking for
// the same instant twice, which Insert's duplicate check catches.
func JobID(userID int64, at time.Time) string {
	return fmt.Sprintf("msg_%d_%d", userID, at.UnixMilli())
}

// Event payloads published on the bus.

type ReminderEvent struct {
	JobID        string    `json:"job_id"`
	UserID       int64     `json:"user_id"`
	DeliveryTime time.Time `json:"delivery_time"`
	Error        string    `json:"error,omitempty"`
}

type CleanupEvent struct {
	SentPurged   int64 `json:"sent_purged"`
	UnsentPurged int64 `json:"unsent_purged"`
}
