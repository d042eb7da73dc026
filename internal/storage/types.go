package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateJobID is returned by Insert when a record with the same
	// job id already exists.
	ErrDuplicateJobID = errors.New("duplicate job id")

	// ErrNotFound is returned when no record matches the given job id.
	ErrNotFound = errors.New("reminder not found")
)

// Status is the delivery state of a reminder record.
//
// Transitions (all compare-and-swap guarded):
//
//	pending -> inflight   (claimed by a fire)
//	inflight -> sent      (terminal)
//	inflight -> pending   (send failed, released)
//	pending -> cancelled  (terminal; purged by retention)
type Status string

const (
	StatusPending   Status = "pending"
	StatusInflight  Status = "inflight"
	StatusSent      Status = "sent"
	StatusCancelled Status = "cancelled"
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Reminder is one scheduled delivery.
type Reminder struct {
	ID           int64
	UserID       int64
	Text         string
	CreatedAt    time.Time
	DeliveryTime time.Time
	JobID        string
	Status       Status
	SentAt       time.Time // zero until delivered
	ClaimedAt    time.Time // zero unless inflight
}

func (r Reminder) IsSent() bool { return r.Status == StatusSent }

// Store is the persistence API consumed by the delivery coordinator and the
// status server. All operations are atomic at the single-record level.
type Store interface {
	// Insert writes a new pending record and returns its id.
	// A pre-existing job id yields ErrDuplicateJobID.
	Insert(ctx context.Context, r Reminder) (int64, error)

	GetByJobID(ctx context.Context, jobID string) (Reminder, error)

	// ListPending returns all pending records ordered by delivery time.
	ListPending(ctx context.Context) ([]Reminder, error)

	// ListByUser returns a user's records ordered by ascending delivery time.
	ListByUser(ctx context.Context, userID int64, onlyPending bool) ([]Reminder, error)

	// Claim transitions pending->inflight. ok reports whether this call won
	// the claim; a lost claim is not an error.
	Claim(ctx context.Context, jobID string, at time.Time) (ok bool, err error)

	// Release transitions inflight->pending after a failed send.
	Release(ctx context.Context, jobID string) error

	// MarkSent transitions inflight->sent and sets sentAt exactly once.
	MarkSent(ctx context.Context, jobID string, sentAt time.Time) error

	// Cancel transitions pending->cancelled. ok reports whether the record
	// was still pending.
	Cancel(ctx context.Context, jobID string) (ok bool, err error)

	// ReleaseStaleInflight demotes inflight records claimed before cutoff
	// back to pending (crash recovery).
	ReleaseStaleInflight(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteSentBefore removes sent records with sentAt <= cutoff.
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteUnsentBefore removes never-sent records (pending, cancelled or
	// stuck inflight) with deliveryTime <= cutoff.
	DeleteUnsentBefore(ctx context.Context, cutoff time.Time) (int64, error)

	CountByStatus(ctx context.Context) (map[Status]int64, error)

	Close() error
}
