// Package app assembles the bot: config, logging, storage, the delivery
// coordinator, the Telegram front end, and the status HTTP server.
package app

import (
	"context"
	"fmt"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/status"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	router  *router.Router
	deliver *delivery.Service
	statusS *status.Server

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	scfg, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	tcfg, err := mapTimerConfig(cfg)
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return nil, err
	}
	deliver := delivery.New(dcfg, tcfg, store, ad, log, bus)

	rt := router.New(log, ad, deliver)

	statusS := status.New(status.Config{
		Enabled: cfg.Status.Enabled,
		Addr:    cfg.Status.Addr,
	}, store, ad, log)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		router:  rt,
		deliver: deliver,
		statusS: statusS,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Reject a bad hot-reload before it is published.
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := mapStoreConfig(cfg); err != nil {
			return err
		}
		if _, err := mapTimerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDeliveryConfig(cfg); err != nil {
			return err
		}
		if cfg.Timer.Workers < 0 || cfg.Timer.QueueSize < 0 || cfg.Timer.MaxInstances < 0 {
			return fmt.Errorf("timer: counts must be >= 0")
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.deliver.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.statusS.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// Debug visibility into the reminder lifecycle.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	// Hot-reload fanout for the sections that can change at runtime.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts; only the latest config matters.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.logs.Apply(mapLoggingConfig(newCfg))
				a.log.Info("config reloaded")
				a.log.Warn("store, timer, and telegram changes take effect on restart")
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("shutdown step failed", logx.String("step", name), logx.Err(err))
		}
	}

	a.sup.Cancel()

	step("status", 2*time.Second, a.statusS.Stop)
	step("delivery", 5*time.Second, func(c context.Context) error { a.deliver.Stop(c); return nil })
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("logging", time.Second, func(context.Context) error { return a.logs.Close() })
	return nil
}
