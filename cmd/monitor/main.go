package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"lot_monitor/internal/api"
	"lot_monitor/internal/bot"
	"lot_monitor/internal/config"
	"lot_monitor/internal/ingest"
	"lot_monitor/internal/model"
	"lot_monitor/internal/query"
	"lot_monitor/internal/resolver"
	"lot_monitor/internal/scheduler"
	"lot_monitor/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var resolverOpts []resolver.Option
	if cfg.RedisAddr != "" {
		rc, err := resolver.NewRedisCache(cfg.RedisAddr)
		if err != nil {
			log.Warn("redis city cache unavailable, using local cache only", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer func() { _ = rc.Close() }()
			resolverOpts = append(resolverOpts, resolver.WithRedis(rc))
		}
	}
	cities := resolver.New(store, log, resolverOpts...)

	coord := ingest.New(store, nil, log)
	coord.OnRefresh(func(m model.Metadata) {
		log.Debug("counts refreshed", "total", m.TotalLots, "new", m.NewCount, "favorite", m.FavoriteCount)
	})
	items := query.New(store)

	if cfg.FiltersFile != "" {
		f, err := config.LoadFilterFile(cfg.FiltersFile, time.Now())
		if err != nil {
			log.Error("load filter file", "path", cfg.FiltersFile, "error", err)
			os.Exit(1)
		}
		if err := coord.UpdateFilters(ctx, f); err != nil {
			log.Error("apply filter file", "path", cfg.FiltersFile, "error", err)
			os.Exit(1)
		}
		log.Info("filters loaded from file", "path", cfg.FiltersFile)
	}

	var b *bot.Bot
	if cfg.BotEnabled() {
		b, err = bot.New(cfg.TelegramBotToken, coord, items, cfg, log)
		if err != nil {
			log.Error("create bot", "error", err)
			os.Exit(1)
		}
		coord.SetNotifier(b)
	} else {
		log.Info("TELEGRAM_BOT_TOKEN not set, telegram bot disabled")
	}

	sched := scheduler.New(coord, cfg.FeedURLs, log)
	sched.SetIntervals(cfg.PollInterval, cfg.CleanupInterval)

	log.Info("starting lot monitor", "feeds", len(cfg.FeedURLs), "http_addr", cfg.HTTPAddr)

	go sched.Run(ctx)
	if b != nil {
		go b.Run(ctx)
	}

	srv := api.NewServer(coord, items, cities, log)
	if err := srv.Run(ctx, cfg.HTTPAddr, cfg.CORSAllowedOrigins); err != nil {
		log.Error("http api", "error", err)
		cancel()
		os.Exit(1)
	}

	log.Info("lot monitor stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
