package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "reminders.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestInsertAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	now := time.Now().Truncate(time.Millisecond)
	r := Reminder{
		UserID:       42,
		Text:         "hi",
		CreatedAt:    now,
		DeliveryTime: now.Add(5 * time.Minute),
		JobID:        "msg_42_1",
	}
	id, err := st.Insert(ctx, r)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	got, err := st.GetByJobID(ctx, "msg_42_1")
	if err != nil {
		t.Fatalf("GetByJobID: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("Status = %s, want pending", got.Status)
	}
	if !got.DeliveryTime.Equal(r.DeliveryTime) {
		t.Fatalf("DeliveryTime = %v, want %v", got.DeliveryTime, r.DeliveryTime)
	}
	if got.IsSent() {
		t.Fatal("new record must not be sent")
	}
}

func TestInsertDuplicateJobID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	now := time.Now()
	r := Reminder{UserID: 1, Text: "a", DeliveryTime: now.Add(time.Minute), JobID: "dup"}
	if _, err := st.Insert(ctx, r); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	_, err := st.Insert(ctx, r)
	if !errors.Is(err, ErrDuplicateJobID) {
		t.Fatalf("second Insert error = %v, want ErrDuplicateJobID", err)
	}

	pending, err := st.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected exactly one stored record, got %d", len(pending))
	}
}

func TestClaimMarkSentLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	now := time.Now().Truncate(time.Millisecond)
	if _, err := st.Insert(ctx, Reminder{UserID: 7, Text: "x", DeliveryTime: now, JobID: "j1"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ok, err := st.Claim(ctx, "j1", now)
	if err != nil || !ok {
		t.Fatalf("Claim = (%v, %v), want (true, nil)", ok, err)
	}
	// Second claim must lose.
	ok, err = st.Claim(ctx, "j1", now)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok {
		t.Fatal("second Claim won, want lost")
	}

	sentAt := now.Add(time.Second)
	if err := st.MarkSent(ctx, "j1", sentAt); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	got, err := st.GetByJobID(ctx, "j1")
	if err != nil {
		t.Fatalf("GetByJobID: %v", err)
	}
	if !got.IsSent() || !got.SentAt.Equal(sentAt) {
		t.Fatalf("record not marked sent: %+v", got)
	}

	// MarkSent on an already-sent record reports NotFound (no inflight row).
	if err := st.MarkSent(ctx, "j1", sentAt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second MarkSent error = %v, want ErrNotFound", err)
	}
}

func TestReleaseReturnsToPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	now := time.Now()
	if _, err := st.Insert(ctx, Reminder{UserID: 7, Text: "x", DeliveryTime: now, JobID: "j2"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if ok, _ := st.Claim(ctx, "j2", now); !ok {
		t.Fatal("Claim lost")
	}
	if err := st.Release(ctx, "j2"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	got, _ := st.GetByJobID(ctx, "j2")
	if got.Status != StatusPending {
		t.Fatalf("Status = %s, want pending", got.Status)
	}
	if !got.ClaimedAt.IsZero() {
		t.Fatalf("ClaimedAt = %v, want zero", got.ClaimedAt)
	}
}

func TestCancelOnlyPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	now := time.Now()
	if _, err := st.Insert(ctx, Reminder{UserID: 3, Text: "x", DeliveryTime: now, JobID: "c1"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	ok, err := st.Cancel(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("Cancel = (%v, %v), want (true, nil)", ok, err)
	}
	// Cancelled record cannot be claimed.
	if ok, _ := st.Claim(ctx, "c1", now); ok {
		t.Fatal("claimed a cancelled record")
	}
	// Cancelling again is a no-op.
	if ok, _ := st.Cancel(ctx, "c1"); ok {
		t.Fatal("second Cancel won, want no-op")
	}
}

func TestListByUserOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	base := time.Now().Truncate(time.Millisecond)
	for i, at := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
		r := Reminder{UserID: 9, Text: "m", DeliveryTime: base.Add(at), JobID: jobN("u9", i)}
		if _, err := st.Insert(ctx, r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	// Another user's record must not appear.
	if _, err := st.Insert(ctx, Reminder{UserID: 10, Text: "m", DeliveryTime: base, JobID: "other"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := st.ListByUser(ctx, 9, true)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].DeliveryTime.Before(got[i-1].DeliveryTime) {
			t.Fatalf("records not in ascending delivery order: %v", got)
		}
	}
}

func TestRetentionDeletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	now := time.Now().Truncate(time.Millisecond)
	week := 7 * 24 * time.Hour

	// Sent 8 days ago: purged. Sent 6 days ago: retained.
	mustInsertSent(t, st, "old-sent", now.Add(-8*24*time.Hour))
	mustInsertSent(t, st, "new-sent", now.Add(-6*24*time.Hour))
	// Pending with delivery 8 days ago: purged. Future pending: retained.
	if _, err := st.Insert(ctx, Reminder{UserID: 1, Text: "x", DeliveryTime: now.Add(-8 * 24 * time.Hour), JobID: "stale-pending"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := st.Insert(ctx, Reminder{UserID: 1, Text: "x", DeliveryTime: now.Add(time.Hour), JobID: "future-pending"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	cutoff := now.Add(-week)
	n, err := st.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteSentBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("DeleteSentBefore removed %d, want 1", n)
	}
	n, err = st.DeleteUnsentBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteUnsentBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("DeleteUnsentBefore removed %d, want 1", n)
	}

	if _, err := st.GetByJobID(ctx, "new-sent"); err != nil {
		t.Fatalf("recent sent record was purged: %v", err)
	}
	if _, err := st.GetByJobID(ctx, "future-pending"); err != nil {
		t.Fatalf("future pending record was purged: %v", err)
	}
	if _, err := st.GetByJobID(ctx, "old-sent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old sent record survived: %v", err)
	}
}

func TestReleaseStaleInflight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	now := time.Now()
	if _, err := st.Insert(ctx, Reminder{UserID: 1, Text: "x", DeliveryTime: now, JobID: "stuck"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if ok, _ := st.Claim(ctx, "stuck", now.Add(-10*time.Minute)); !ok {
		t.Fatal("Claim lost")
	}

	n, err := st.ReleaseStaleInflight(ctx, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("ReleaseStaleInflight: %v", err)
	}
	if n != 1 {
		t.Fatalf("released %d, want 1", n)
	}
	got, _ := st.GetByJobID(ctx, "stuck")
	if got.Status != StatusPending {
		t.Fatalf("Status = %s, want pending", got.Status)
	}
}

func TestCountByStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	now := time.Now()
	if _, err := st.Insert(ctx, Reminder{UserID: 1, Text: "x", DeliveryTime: now.Add(time.Hour), JobID: "p1"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	mustInsertSent(t, st, "s1", now)

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[StatusPending] != 1 || counts[StatusSent] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func jobN(prefix string, i int) string {
	return prefix + "_" + string(rune('a'+i))
}

func mustInsertSent(t *testing.T, st Store, jobID string, sentAt time.Time) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.Insert(ctx, Reminder{UserID: 1, Text: "x", DeliveryTime: sentAt, JobID: jobID}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if ok, err := st.Claim(ctx, jobID, sentAt); err != nil || !ok {
		t.Fatalf("Claim = (%v, %v)", ok, err)
	}
	if err := st.MarkSent(ctx, jobID, sentAt); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
}
