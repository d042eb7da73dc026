package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

type stubBot struct{ up bool }

func (b stubBot) Running() bool { return b.up }

func newTestServer(t *testing.T, up bool) (*Server, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "reminders.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(Config{Enabled: true}, st, stubBot{up: up}, logx.Nop()), st
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, true)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestBotStatusCounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv, st := newTestServer(t, true)

	now := time.Now()
	for i, jobID := range []string{"msg_1_1", "msg_1_2", "msg_1_3"} {
		r := storage.Reminder{
			UserID:       1,
			Text:         "r",
			CreatedAt:    now,
			DeliveryTime: now.Add(time.Duration(i+1) * time.Hour),
			JobID:        jobID,
			Status:       storage.StatusPending,
		}
		if _, err := st.Insert(ctx, r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if ok, err := st.Claim(ctx, "msg_1_1", now); err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}
	if err := st.MarkSent(ctx, "msg_1_1", now); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bot-status", nil))

	var got struct {
		Status  string `json:"status"`
		BotName string `json:"bot_name"`
		Pending int64  `json:"pending_messages"`
		Sent    int64  `json:"sent_messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "running" || got.BotName == "" {
		t.Fatalf("unexpected status payload: %+v", got)
	}
	if got.Pending != 2 || got.Sent != 1 {
		t.Fatalf("counts = pending %d sent %d, want 2 and 1", got.Pending, got.Sent)
	}
}

func TestBotStatusNotRunning(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, false)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bot-status", nil))

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != "not running" {
		t.Fatalf("status = %v", got["status"])
	}
}

func TestUserMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv, st := newTestServer(t, true)

	now := time.Now()
	r := storage.Reminder{
		UserID:       42,
		Text:         "hello",
		CreatedAt:    now,
		DeliveryTime: now.Add(time.Hour),
		JobID:        "msg_42_1",
		Status:       storage.StatusPending,
	}
	if _, err := st.Insert(ctx, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/42", nil))

	var got []messageJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}
	m := got[0]
	if m.UserID != 42 || m.Text != "hello" || m.JobID != "msg_42_1" {
		t.Fatalf("unexpected record: %+v", m)
	}
	if m.IsSent || m.SentAt != nil {
		t.Fatalf("fresh record marked sent: %+v", m)
	}

	// Other users see nothing.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/7", nil))
	var empty []messageJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &empty); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("records for other user = %d, want 0", len(empty))
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}
}
