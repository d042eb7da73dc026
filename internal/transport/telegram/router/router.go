package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"remindbot/internal/delivery"
	"remindbot/internal/storage"
	"remindbot/internal/timeparse"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Scheduler is the slice of the delivery coordinator the router needs.
type Scheduler interface {
	Schedule(ctx context.Context, userID int64, text, spec string) (delivery.Handle, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	ListPending(ctx context.Context, userID int64) ([]storage.Reminder, error)
}

type convState int

const (
	stateIdle convState = iota
	stateAwaitMessage
	stateAwaitTime
)

// conversationTTL bounds how long a half-finished /schedule dialog is kept.
const conversationTTL = 15 * time.Minute

type conversation struct {
	state   convState
	text    string
	touched time.Time
}

// Router turns inbound chat updates into coordinator calls and replies.
// Updates are handled sequentially so per-user conversation state needs no
// finer locking than the router's own mutex.
type Router struct {
	log       logx.Logger
	adapter   kit.Adapter
	scheduler Scheduler

	mu    sync.Mutex
	convs map[int64]*conversation

	handleTimeout time.Duration
	clock         func() time.Time
}

func New(log logx.Logger, adapter kit.Adapter, scheduler Scheduler) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:           log.With(logx.String("comp", "telegram.router")),
		adapter:       adapter,
		scheduler:     scheduler,
		convs:         map[int64]*conversation{},
		handleTimeout: 15 * time.Second,
		clock:         time.Now,
	}
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	r.log.Info("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			hctx, cancel := context.WithTimeout(ctx, r.handleTimeout)
			r.handle(hctx, up.Message)
			cancel()
		}
	}
}

func (r *Router) handle(ctx context.Context, m *kit.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panic",
				logx.Int64("user", m.FromID),
				logx.Any("panic", rec),
			)
		}
	}()

	text := strings.TrimSpace(m.Text)
	cmd, args := splitCommand(text)

	switch cmd {
	case "/start":
		r.clearConversation(m.FromID)
		r.reply(ctx, m, welcomeText)
	case "/help":
		r.reply(ctx, m, helpText)
	case "/schedule":
		r.setConversation(m.FromID, conversation{state: stateAwaitMessage, touched: r.clock()})
		r.reply(ctx, m, "Please send or forward the message you want me to schedule.")
	case "/list":
		r.handleList(ctx, m)
	case "/cancel":
		r.handleCancel(ctx, m, args)
	default:
		r.handleText(ctx, m, text)
	}
}

func (r *Router) handleText(ctx context.Context, m *kit.Message, text string) {
	conv := r.conversation(m.FromID)

	switch conv.state {
	case stateAwaitMessage:
		body, spec, hasDirective := ExtractDirective(text)
		if hasDirective {
			r.clearConversation(m.FromID)
			r.scheduleAndReply(ctx, m, body, spec)
			return
		}
		conv.text = text
		conv.state = stateAwaitTime
		conv.touched = r.clock()
		r.setConversation(m.FromID, conv)
		r.reply(ctx, m, timePromptText)

	case stateAwaitTime:
		body := conv.text
		r.clearConversation(m.FromID)
		r.scheduleAndReply(ctx, m, body, text)

	default:
		// Outside a dialog only the inline directive does anything.
		if body, spec, ok := ExtractDirective(text); ok {
			r.scheduleAndReply(ctx, m, body, spec)
		}
	}
}

func (r *Router) scheduleAndReply(ctx context.Context, m *kit.Message, body, spec string) {
	h, err := r.scheduler.Schedule(ctx, m.FromID, body, spec)
	switch {
	case err == nil:
		r.reply(ctx, m, fmt.Sprintf(
			"✅ Message scheduled successfully!\n\n📅 Delivery time: %s\n⏱️ That's in: %s\n\nI'll send your message at the scheduled time.",
			h.DeliveryTime.Format("2006-01-02 15:04:05"),
			formatDelta(h.DeliveryTime.Sub(r.clock())),
		))
	case errors.Is(err, timeparse.ErrUnparseable):
		// Re-enter the time step so the user can try another spec.
		r.setConversation(m.FromID, conversation{state: stateAwaitTime, text: body, touched: r.clock()})
		r.reply(ctx, m, badSpecText)
	case errors.Is(err, storage.ErrDuplicateJobID):
		r.reply(ctx, m, "You already have a message scheduled for exactly that time. Pick a slightly different delay.")
	default:
		r.log.Error("schedule failed", logx.Int64("user", m.FromID), logx.Err(err))
		r.reply(ctx, m, "Sorry, there was an error processing your request. Please try again.")
	}
}

func (r *Router) handleList(ctx context.Context, m *kit.Message) {
	rs, err := r.scheduler.ListPending(ctx, m.FromID)
	if err != nil {
		r.log.Error("list failed", logx.Int64("user", m.FromID), logx.Err(err))
		r.reply(ctx, m, "Sorry, there was an error processing your request. Please try again.")
		return
	}
	if len(rs) == 0 {
		r.reply(ctx, m, "You don't have any scheduled messages.")
		return
	}

	var b strings.Builder
	b.WriteString("Your scheduled messages:\n\n")
	for i, rec := range rs {
		preview := rec.Text
		if len([]rune(preview)) > 50 {
			preview = string([]rune(preview)[:50]) + "..."
		}
		fmt.Fprintf(&b, "%d. %s\n   📅 Scheduled for: %s\n\n",
			i+1, preview, rec.DeliveryTime.Format("2006-01-02 15:04:05"))
	}
	b.WriteString("Cancel one with /cancel <number>.")
	r.reply(ctx, m, b.String())
}

// handleCancel without an argument aborts the current dialog; with a number
// it cancels that entry from the /list ordering.
func (r *Router) handleCancel(ctx context.Context, m *kit.Message, args []string) {
	if len(args) == 0 {
		r.clearConversation(m.FromID)
		r.reply(ctx, m, "Operation cancelled.")
		return
	}

	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		r.reply(ctx, m, "Usage: /cancel or /cancel <number> (see /list).")
		return
	}

	rs, err := r.scheduler.ListPending(ctx, m.FromID)
	if err != nil {
		r.log.Error("list for cancel failed", logx.Int64("user", m.FromID), logx.Err(err))
		r.reply(ctx, m, "Sorry, there was an error processing your request. Please try again.")
		return
	}
	if n > len(rs) {
		r.reply(ctx, m, fmt.Sprintf("You only have %d scheduled messages.", len(rs)))
		return
	}

	target := rs[n-1]
	ok, err := r.scheduler.Cancel(ctx, target.JobID)
	if err != nil {
		r.log.Error("cancel failed", logx.Int64("user", m.FromID), logx.String("job", target.JobID), logx.Err(err))
		r.reply(ctx, m, "Sorry, there was an error processing your request. Please try again.")
		return
	}
	if !ok {
		// Fired or was cancelled between /list and now.
		r.reply(ctx, m, "That message was already sent or cancelled.")
		return
	}
	r.reply(ctx, m, "🗑 Scheduled message cancelled.")
}

func (r *Router) reply(ctx context.Context, m *kit.Message, text string) {
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, text, nil); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}

func (r *Router) conversation(userID int64) conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[userID]
	if !ok || r.clock().Sub(c.touched) > conversationTTL {
		delete(r.convs, userID)
		return conversation{state: stateIdle}
	}
	return *c
}

func (r *Router) setConversation(userID int64, c conversation) {
	r.mu.Lock()
	r.convs[userID] = &c
	r.mu.Unlock()
}

func (r *Router) clearConversation(userID int64) {
	r.mu.Lock()
	delete(r.convs, userID)
	r.mu.Unlock()
}

// splitCommand returns the lowercased command token (with any @botname
// suffix stripped) and the remaining args, or "" when text is not a command.
func splitCommand(text string) (string, []string) {
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:]
}

func formatDelta(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	days := total / 86400
	h := total % 86400 / 3600
	m := total % 3600 / 60
	s := total % 60

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%d days, ", days)
	}
	fmt.Fprintf(&b, "%dh %dm %ds", h, m, s)
	return b.String()
}

const welcomeText = "Hi! 👋\n\n" +
	"I'm your Message Scheduler Bot. I can schedule messages to be sent back to you after a specified delay.\n\n" +
	"1️⃣ Forward me any message or send a new one\n" +
	"2️⃣ Tell me when to send it back to you\n\n" +
	"For detailed instructions, use /help"

const helpText = "Commands:\n" +
	"/start - Start the bot\n" +
	"/help - Show this help message\n" +
	"/schedule - Start scheduling a new message\n" +
	"/cancel - Cancel the current operation\n" +
	"/cancel <number> - Cancel a scheduled message from /list\n" +
	"/list - Show your scheduled messages\n\n" +
	"Time formats:\n" +
	"- 5m or 5 minutes\n" +
	"- 2h or 2 hours\n" +
	"- 1d or 1 day\n" +
	"- 3h 30m\n\n" +
	"Shortcut: send any message ending with !schedule 2h"

const timePromptText = "When should I send this message back to you? Examples:\n" +
	"- 5m or 5 minutes - 5 minutes from now\n" +
	"- 2h or 2 hours - 2 hours from now\n" +
	"- 1d or 1 day - 1 day from now\n" +
	"- 3h 30m - 3 hours and 30 minutes from now"

const badSpecText = "I couldn't understand that time format. Please try again with a format like:\n" +
	"- 5m or 5 minutes\n" +
	"- 2h or 2 hours\n" +
	"- 1d or 1 day\n" +
	"- 3h 30m"
