package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noahxzhu/alarm-notify/internal/config"
	"github.com/noahxzhu/alarm-notify/internal/coordinator"
	"github.com/noahxzhu/alarm-notify/internal/janitor"
	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/playback"
	"github.com/noahxzhu/alarm-notify/internal/pushover"
	"github.com/noahxzhu/alarm-notify/internal/storage"
	"github.com/noahxzhu/alarm-notify/internal/target"
	"github.com/noahxzhu/alarm-notify/internal/web"
	"github.com/noahxzhu/alarm-notify/internal/worker"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "alarm-notify:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Load Config
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	log := logx.New(logx.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	loader.Watch(func(next *config.Config) {
		log.SetLevel(next.Log.Level)
		log.Info("config reloaded", logx.String("level", next.Log.Level))
	}, func(err error) {
		log.Warn("config reload rejected", logx.Err(err))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Storage
	store, err := storage.Open(ctx, storage.Config{
		Driver:        cfg.Storage.Driver,
		Path:          cfg.Storage.Path,
		DSN:           cfg.Storage.DSN,
		BusyTimeout:   cfg.Storage.BusyTimeout,
		RedisAddr:     cfg.Storage.Redis.Addr,
		RedisPassword: cfg.Storage.Redis.Password,
		RedisDB:       cfg.Storage.Redis.DB,
		RedisPrefix:   cfg.Storage.Redis.Prefix,
	}, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	// Init Targets
	routerOpts := target.RouterOptions{
		KnownSatellites: cfg.Targets.Satellites,
		KnownPlayers:    cfg.Targets.MediaPlayers,
	}
	if mc := cfg.Targets.MQTT; mc.Broker != "" {
		client, err := target.DialMQTT(target.MQTTOptions{
			Broker:   mc.Broker,
			ClientID: mc.ClientID,
			Username: mc.Username,
			Password: mc.Password,
		}, log)
		if err != nil {
			return err
		}
		defer client.Close()
		sats := target.NewSatellites(client, mc.TopicPrefix, mc.QoS, log)
		if err := client.Subscribe(sats.StateTopic(), mc.QoS, sats.HandleState); err != nil {
			return err
		}
		routerOpts.Satellites = sats
	}
	if mc := cfg.Targets.Media; mc.BaseURL != "" {
		routerOpts.Media = target.NewMedia(target.MediaOptions{
			BaseURL: mc.BaseURL,
			Token:   mc.Token,
			Timeout: mc.Timeout,
		}, log)
	}
	router := target.NewRouter(routerOpts, log)

	coordOpts := coordinator.Options{
		Location: loc,
		Playback: playback.Options{
			RingWindow:   cfg.Playback.RingWindow,
			PollInterval: cfg.Playback.PollInterval,
			MaxIdleWait:  cfg.Playback.MaxIdleWait,
			ErrorBackoff: cfg.Playback.ErrorBackoff,
			MaxCycles:    cfg.Playback.MaxCycles,
		},
		StopTimeout:   cfg.Playback.StopTimeout,
		AlarmSound:    cfg.Playback.AlarmSound,
		ReminderSound: cfg.Playback.ReminderSound,
		SnoozeMinutes: cfg.Snooze.DefaultMinutes,
		Resolver:      router,
	}

	// Init Worker
	if push := pushover.NewClient(cfg.Pushover.Token, cfg.Pushover.User); push.Enabled() {
		w := worker.NewWorker(push, log)
		go w.Start(ctx)
		coordOpts.Notifier = w
	} else {
		log.Info("pushover not configured, notify devices are ignored")
	}

	coord := coordinator.New(store, router, coordOpts, log)
	defer coord.Close()
	if err := coord.Restore(ctx); err != nil {
		return fmt.Errorf("restore items: %w", err)
	}

	jan := janitor.New(coord, cfg.Janitor.Retention, loc, log)
	if err := jan.Start(cfg.Janitor.Schedule); err != nil {
		return err
	}
	defer jan.Stop()

	// Init Web Server
	srv := web.NewServer(coord, web.Options{
		Password:  cfg.Server.Password,
		LoginRate: cfg.Server.LoginRate,
		Location:  loc,
	}, log)
	httpServer := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting server", logx.String("addr", cfg.Server.Port), logx.String("storage", cfg.Storage.Driver))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", logx.Err(err))
	}
	log.Info("server exited")
	return nil
}
