// Package status serves the small operational HTTP API next to the bot:
// an uptime probe, live message counters, and a per-user record dump.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

const botName = "Telegram Message Scheduler Bot"

type Config struct {
	Enabled bool
	Addr    string
}

// BotState reports whether the chat front end is up.
type BotState interface {
	Running() bool
}

type Server struct {
	cfg   Config
	log   logx.Logger
	store storage.Store
	bot   BotState

	mu  sync.Mutex
	srv *http.Server
}

func New(cfg Config, store storage.Store, bot BotState, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:5000"
	}
	return &Server{cfg: cfg, log: log.With(logx.String("comp", "status")), store: store, bot: bot}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/bot-status", s.handleBotStatus)
	r.Get("/messages/{userID}", s.handleUserMessages)
	return r
}

func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Debug("status server disabled")
		return nil
	}

	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv = srv
	s.mu.Unlock()

	go func() {
		s.log.Info("status server listening", logx.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server exited", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":   "not running",
		"bot_name": botName,
	}
	if s.bot != nil && s.bot.Running() {
		resp["status"] = "running"
	}

	counts, err := s.store.CountByStatus(r.Context())
	if err != nil {
		s.log.Error("count by status failed", logx.Err(err))
	} else {
		pending := counts[storage.StatusPending] + counts[storage.StatusInflight]
		resp["pending_messages"] = pending
		resp["sent_messages"] = counts[storage.StatusSent]
	}
	writeJSON(w, http.StatusOK, resp)
}

type messageJSON struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	Text         string     `json:"text"`
	DeliveryTime time.Time  `json:"delivery_time"`
	JobID        string     `json:"job_id"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	IsSent       bool       `json:"is_sent"`
	SentAt       *time.Time `json:"sent_at"`
}

func (s *Server) handleUserMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}

	rs, err := s.store.ListByUser(r.Context(), userID, false)
	if err != nil {
		s.log.Error("list by user failed", logx.Int64("user", userID), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage error"})
		return
	}

	out := make([]messageJSON, 0, len(rs))
	for _, rec := range rs {
		m := messageJSON{
			ID:           rec.ID,
			UserID:       rec.UserID,
			Text:         rec.Text,
			DeliveryTime: rec.DeliveryTime,
			JobID:        rec.JobID,
			Status:       string(rec.Status),
			CreatedAt:    rec.CreatedAt,
			IsSent:       rec.IsSent(),
		}
		if !rec.SentAt.IsZero() {
			t := rec.SentAt
			m.SentAt = &t
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
