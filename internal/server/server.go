package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/archive"
	"github.com/ainexus/herald/internal/feeds"
	"github.com/ainexus/herald/internal/llm"
	"github.com/ainexus/herald/internal/pipeline"
	"github.com/ainexus/herald/internal/runtime"
	"github.com/ainexus/herald/internal/store"
	"github.com/ainexus/herald/internal/telemetry"
)

// Run wires the generation service and serves HTTP until the listener stops.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	registerDocs(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn := cfg.Storage.Postgres.DSN()
	if dsn == "" {
		return fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	_ = Migrate("file://migrations", dsn, "up", 0)

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	// optional redis: feed cache and scheduler locks
	var rdb *redis.Client
	var cache feeds.Cache
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		cache = feeds.NewRedisCache(rdb)
	}

	tel := telemetry.NewTelemetry(cfg.Telemetry)
	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	fetcher := feeds.NewFetcher(cfg.Feeds, cache)
	arc, err := archive.New(cfg.Storage, cfg.Archive)
	if err != nil {
		return err
	}
	orch, err := pipeline.NewOrchestrator(cfg, provider, fetcher, arc, st, tel)
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	auth := &AuthHandler{Store: st, Secret: secret}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	// protected group example
	me := api.Group("/me")
	me.Use(runtime.EchoAuthMiddleware(secret))
	me.GET("", func(c echo.Context) error {
		return c.JSON(200, MeResponse{UserID: c.Get("user_id").(string)})
	})

	NewRunsHandler(st, orch).Register(api.Group("/runs"), secret)
	NewNewslettersHandler(st, arc).Register(api.Group("/newsletters"), secret)

	ops := api.Group("/ops")
	ops.Use(runtime.EchoAuthMiddleware(secret))
	NewOpsHandler(tel).Register(ops)

	if cfg.Schedule.Cron != "" {
		sched := &Scheduler{
			Store:  st,
			Engine: orch,
			Cron:   cfg.Schedule.Cron,
			Stop:   make(chan struct{}),
			Rdb:    rdb,
		}
		sched.Start()
		log.Printf("scheduler started (cron=%s)", cfg.Schedule.Cron)
	}

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8090"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
