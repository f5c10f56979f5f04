package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parfumdev/fragrance-scraper/internal/api"
	"github.com/parfumdev/fragrance-scraper/internal/browser"
	"github.com/parfumdev/fragrance-scraper/internal/cache"
	"github.com/parfumdev/fragrance-scraper/internal/config"
	"github.com/parfumdev/fragrance-scraper/internal/database"
	"github.com/parfumdev/fragrance-scraper/internal/proxy"
	"github.com/parfumdev/fragrance-scraper/internal/proxyapi"
	"github.com/parfumdev/fragrance-scraper/internal/ratelimit"
	"github.com/parfumdev/fragrance-scraper/internal/scraper"
	"github.com/parfumdev/fragrance-scraper/internal/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Bootstrap(ctx); err != nil {
		logger.Error("failed to bootstrap schema", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// Upstream provisioning client, one auth mode resolved at startup.
	var provider *proxyapi.Client
	switch cfg.Proxy.AuthMode {
	case config.AuthModeAPIKey:
		provider = proxyapi.NewWithAPIKey(cfg.Proxy.APIBaseURL, cfg.Proxy.APIKey, logger)
	case config.AuthModeLoginPassword:
		provider = proxyapi.NewWithLogin(cfg.Proxy.APIBaseURL, cfg.Proxy.Login, cfg.Proxy.Password, logger)
	}

	// Credential pool
	tracker := proxy.NewQuotaTracker(provider, cfg.Proxy.WarnBytes, logger)
	pool := proxy.NewPool(proxy.PoolConfig{
		Host:          cfg.Proxy.Host,
		Port:          cfg.Proxy.Port,
		Geo:           cfg.Proxy.Geo,
		QuotaBytes:    cfg.Proxy.SubUserQuotaBytes,
		CheckInterval: cfg.Proxy.CheckInterval,
	}, db, provider, tracker, logger)

	pool.Notify(func(ev proxy.Event) {
		switch ev.Type {
		case proxy.EventReplenishmentNeeded:
			logger.Warn("proxy pool needs replenishment")
		default:
			logger.Info("credential lifecycle event", "type", string(ev.Type),
				"identity", ev.Identity, "used", ev.Used, "quota", ev.Quota)
		}
	})

	if err := pool.Load(ctx); err != nil {
		logger.Error("failed to load credential pool", "error", err)
		os.Exit(1)
	}
	go pool.Watch(ctx)

	// Transport
	var client transport.Client
	if cfg.Scraper.UseRendered {
		b, err := browser.New(&browser.Options{
			Headless:       cfg.Browser.Headless,
			NavTimeout:     cfg.Browser.NavTimeout,
			UserAgent:      cfg.Browser.UserAgent,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			AcceptLanguage: cfg.Browser.AcceptLanguage,
			TimezoneID:     cfg.Browser.TimezoneID,
			Locale:         cfg.Browser.Locale,
		})
		if err != nil {
			logger.Error("failed to initialize browser", "error", err)
			os.Exit(1)
		}
		defer b.Close()

		client = transport.NewRenderedClient(pool, b, db, transport.RenderedOptions{
			MaxRetries:       cfg.Scraper.MaxRetries,
			RetryDelay:       cfg.Scraper.RetryDelay,
			SelectorTimeout:  cfg.Browser.SelectorTimeout,
			ChallengeTimeout: cfg.Browser.ChallengeTimeout,
		}, logger)
	} else {
		client = transport.NewFetchClient(pool, db, transport.RetryPolicy{
			MaxRetries:   cfg.Scraper.MaxRetries,
			InitialDelay: cfg.Scraper.RetryDelay,
			MaxDelay:     cfg.Scraper.MaxRetryDelay,
		}, cfg.Browser.UserAgent, logger)
	}

	// Services
	searchCache := cache.NewSearchCache(redisClient, logger)
	limiter := ratelimit.NewSimpleRateLimiter(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax)
	service := scraper.NewService(scraper.Options{
		BaseURL:      cfg.Scraper.BaseURL,
		FragranceTTL: cfg.Cache.FragranceTTL,
		SearchTTL:    cfg.Cache.SearchTTL,
		LogRetention: cfg.Cache.LogRetention,
	}, db, searchCache, client, limiter, logger)

	// Periodic sweep of expired cache rows and old request logs.
	go func() {
		ticker := time.NewTicker(cfg.Cache.SweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				service.Sweep(ctx)
			}
		}
	}()

	handlers := api.NewHandlers(service, pool, client, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			cancel()
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	cancel()
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
