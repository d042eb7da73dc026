package config

// Config is the root configuration document.
//
// The file may be JSON or YAML (coerced to JSON before decoding); unknown
// fields are rejected so typos fail loudly instead of silently defaulting.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Store    StoreConfig    `json:"store"`
	Timer    TimerConfig    `json:"timer,omitempty"`
	Delivery DeliveryConfig `json:"delivery,omitempty"`
	Status   StatusConfig   `json:"status,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StoreConfig controls the durable reminder store.
type StoreConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// TimerConfig controls the one-shot timer engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 20
//   - queue_size: 256
//   - misfire_grace: "60s"
//   - max_instances: 3 (concurrent fires per job id)
//   - fire_timeout: "30s"
type TimerConfig struct {
	Workers      int    `json:"workers,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
	MisfireGrace string `json:"misfire_grace,omitempty"`
	MaxInstances int    `json:"max_instances,omitempty"`
	FireTimeout  string `json:"fire_timeout,omitempty"`
}

// DeliveryConfig controls the delivery coordinator.
//
// Defaults:
//   - retention: "168h" (7 days)
//   - cleanup_interval: "24h"
type DeliveryConfig struct {
	Retention       string `json:"retention,omitempty"`
	CleanupInterval string `json:"cleanup_interval,omitempty"`
}

// StatusConfig controls the read-only status HTTP server.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:5000"
}
