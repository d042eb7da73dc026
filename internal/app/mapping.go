package app

import (
	"time"

	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/storage"
	"remindbot/internal/timer"
	logx "remindbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStoreConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("store.busy_timeout", cfg.Store.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	path := cfg.Store.Path
	if path == "" {
		path = "./data/reminders.db"
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func mapTimerConfig(cfg *config.Config) (timer.Config, error) {
	grace, err := config.ParseDurationOrDefault("timer.misfire_grace", cfg.Timer.MisfireGrace, 60*time.Second)
	if err != nil {
		return timer.Config{}, err
	}
	fireTimeout, err := config.ParseDurationOrDefault("timer.fire_timeout", cfg.Timer.FireTimeout, 30*time.Second)
	if err != nil {
		return timer.Config{}, err
	}
	return timer.Config{
		Workers:      cfg.Timer.Workers,
		QueueSize:    cfg.Timer.QueueSize,
		MisfireGrace: grace,
		MaxInstances: cfg.Timer.MaxInstances,
		FireTimeout:  fireTimeout,
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	retention, err := config.ParseDurationOrDefault("delivery.retention", cfg.Delivery.Retention, 7*24*time.Hour)
	if err != nil {
		return delivery.Config{}, err
	}
	interval, err := config.ParseDurationOrDefault("delivery.cleanup_interval", cfg.Delivery.CleanupInterval, 24*time.Hour)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{Retention: retention, CleanupInterval: interval}, nil
}
