package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/delivery"
	"remindbot/internal/storage"
	"remindbot/internal/timeparse"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	replies []string
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.replies = append(a.replies, text)
	a.mu.Unlock()
	return kit.MessageRef{MessageID: len(a.replies)}, nil
}

func (a *fakeAdapter) lastReply() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.replies) == 0 {
		return ""
	}
	return a.replies[len(a.replies)-1]
}

type scheduledCall struct {
	userID int64
	text   string
	spec   string
}

type fakeScheduler struct {
	mu        sync.Mutex
	calls     []scheduledCall
	cancelled []string
	pending   []storage.Reminder
}

func (s *fakeScheduler) Schedule(_ context.Context, userID int64, text, spec string) (delivery.Handle, error) {
	if _, err := timeparse.Duration(spec); err != nil {
		return delivery.Handle{}, err
	}
	s.mu.Lock()
	s.calls = append(s.calls, scheduledCall{userID: userID, text: text, spec: spec})
	s.mu.Unlock()
	at := time.Now().Add(time.Hour)
	return delivery.Handle{JobID: delivery.JobID(userID, at), DeliveryTime: at}, nil
}

func (s *fakeScheduler) Cancel(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	s.cancelled = append(s.cancelled, jobID)
	s.mu.Unlock()
	return true, nil
}

func (s *fakeScheduler) ListPending(context.Context, int64) ([]storage.Reminder, error) {
	return s.pending, nil
}

func msg(userID int64, text string) *kit.Message {
	return &kit.Message{ID: 1, ChatID: userID, FromID: userID, Text: text}
}

func TestExtractDirective(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in       string
		body     string
		spec     string
		hasMatch bool
	}{
		{"buy milk !schedule 2h", "buy milk", "2h", true},
		{"buy milk !SCHEDULE 30 minutes", "buy milk", "30 minutes", true},
		{"multi line\nnote !schedule 1d", "multi line\nnote", "1d", true},
		{"!schedule 5m", "", "5m", true},
		{"no directive here", "no directive here", "", false},
		{"!schedule", "!schedule", "", false},
	}
	for _, tt := range tests {
		body, spec, ok := ExtractDirective(tt.in)
		if ok != tt.hasMatch {
			t.Errorf("ExtractDirective(%q) ok = %v, want %v", tt.in, ok, tt.hasMatch)
			continue
		}
		if body != tt.body || spec != tt.spec {
			t.Errorf("ExtractDirective(%q) = (%q, %q), want (%q, %q)", tt.in, body, spec, tt.body, tt.spec)
		}
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		cmd  string
		args []string
	}{
		{"/start", "/start", nil},
		{"/CANCEL 2", "/cancel", []string{"2"}},
		{"/list@reminder_bot", "/list", nil},
		{"plain text", "", nil},
	}
	for _, tt := range tests {
		cmd, args := splitCommand(tt.in)
		if cmd != tt.cmd {
			t.Errorf("splitCommand(%q) cmd = %q, want %q", tt.in, cmd, tt.cmd)
		}
		if len(args) != len(tt.args) {
			t.Errorf("splitCommand(%q) args = %v, want %v", tt.in, args, tt.args)
		}
	}
}

func TestScheduleConversationFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ad := &fakeAdapter{}
	sched := &fakeScheduler{}
	r := New(logx.Nop(), ad, sched)

	r.handle(ctx, msg(42, "/schedule"))
	if got := ad.lastReply(); !strings.Contains(got, "send or forward") {
		t.Fatalf("prompt after /schedule = %q", got)
	}

	r.handle(ctx, msg(42, "water the plants"))
	if got := ad.lastReply(); !strings.Contains(got, "When should I send") {
		t.Fatalf("prompt after message = %q", got)
	}

	r.handle(ctx, msg(42, "3h 30m"))
	if got := ad.lastReply(); !strings.Contains(got, "scheduled successfully") {
		t.Fatalf("confirmation = %q", got)
	}

	if len(sched.calls) != 1 {
		t.Fatalf("scheduler calls = %d, want 1", len(sched.calls))
	}
	call := sched.calls[0]
	if call.userID != 42 || call.text != "water the plants" || call.spec != "3h 30m" {
		t.Fatalf("unexpected call: %+v", call)
	}
}

func TestBadSpecReprompts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ad := &fakeAdapter{}
	sched := &fakeScheduler{}
	r := New(logx.Nop(), ad, sched)

	r.handle(ctx, msg(7, "/schedule"))
	r.handle(ctx, msg(7, "call mom"))
	r.handle(ctx, msg(7, "whenever"))
	if got := ad.lastReply(); !strings.Contains(got, "couldn't understand") {
		t.Fatalf("bad-spec reply = %q", got)
	}

	// The dialog stays in the time step; a valid spec still works.
	r.handle(ctx, msg(7, "10m"))
	if len(sched.calls) != 1 {
		t.Fatalf("scheduler calls = %d, want 1", len(sched.calls))
	}
	if sched.calls[0].text != "call mom" {
		t.Fatalf("scheduled text = %q, want the original message", sched.calls[0].text)
	}
}

func TestDirectiveShortCircuitsConversation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ad := &fakeAdapter{}
	sched := &fakeScheduler{}
	r := New(logx.Nop(), ad, sched)

	r.handle(ctx, msg(9, "/schedule"))
	r.handle(ctx, msg(9, "pay rent !schedule 1d"))

	if len(sched.calls) != 1 {
		t.Fatalf("scheduler calls = %d, want 1", len(sched.calls))
	}
	if sched.calls[0].text != "pay rent" || sched.calls[0].spec != "1d" {
		t.Fatalf("unexpected call: %+v", sched.calls[0])
	}

	// Directive also works with no dialog open.
	r.handle(ctx, msg(9, "standup notes !schedule 30m"))
	if len(sched.calls) != 2 {
		t.Fatalf("scheduler calls = %d, want 2", len(sched.calls))
	}
}

func TestCancelConversation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ad := &fakeAdapter{}
	sched := &fakeScheduler{}
	r := New(logx.Nop(), ad, sched)

	r.handle(ctx, msg(3, "/schedule"))
	r.handle(ctx, msg(3, "/cancel"))
	if got := ad.lastReply(); got != "Operation cancelled." {
		t.Fatalf("cancel reply = %q", got)
	}

	// Plain text after cancelling opens no dialog and schedules nothing.
	r.handle(ctx, msg(3, "just chatting"))
	if len(sched.calls) != 0 {
		t.Fatalf("scheduler calls = %d, want 0", len(sched.calls))
	}
}

func TestCancelByNumber(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ad := &fakeAdapter{}
	sched := &fakeScheduler{
		pending: []storage.Reminder{
			{JobID: "msg_5_1", Text: "first", DeliveryTime: time.Now().Add(time.Hour)},
			{JobID: "msg_5_2", Text: "second", DeliveryTime: time.Now().Add(2 * time.Hour)},
		},
	}
	r := New(logx.Nop(), ad, sched)

	r.handle(ctx, msg(5, "/cancel 2"))
	if len(sched.cancelled) != 1 || sched.cancelled[0] != "msg_5_2" {
		t.Fatalf("cancelled = %v, want [msg_5_2]", sched.cancelled)
	}

	r.handle(ctx, msg(5, "/cancel 9"))
	if got := ad.lastReply(); !strings.Contains(got, "only have 2") {
		t.Fatalf("out-of-range reply = %q", got)
	}

	r.handle(ctx, msg(5, "/cancel nope"))
	if got := ad.lastReply(); !strings.Contains(got, "Usage:") {
		t.Fatalf("bad-arg reply = %q", got)
	}
}

func TestListEmptyAndPopulated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ad := &fakeAdapter{}
	sched := &fakeScheduler{}
	r := New(logx.Nop(), ad, sched)

	r.handle(ctx, msg(6, "/list"))
	if got := ad.lastReply(); !strings.Contains(got, "don't have any") {
		t.Fatalf("empty list reply = %q", got)
	}

	sched.pending = []storage.Reminder{
		{JobID: "msg_6_1", Text: strings.Repeat("x", 80), DeliveryTime: time.Now().Add(time.Hour)},
	}
	r.handle(ctx, msg(6, "/list"))
	got := ad.lastReply()
	if !strings.Contains(got, "1. "+strings.Repeat("x", 50)+"...") {
		t.Fatalf("list reply missing truncated preview: %q", got)
	}
}
