// Package server exposes the planning core over HTTP: plan generation and
// retrieval, measurement ingestion, model inspection, and retraining.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jalsarovar/wflow/config"
	"github.com/jalsarovar/wflow/internal/planner"
	"github.com/jalsarovar/wflow/internal/registry"
	"github.com/jalsarovar/wflow/internal/store"
	"github.com/jalsarovar/wflow/internal/telemetry"
	"github.com/jalsarovar/wflow/internal/trainer"
)

// Run wires the full service and blocks serving HTTP until the listener
// fails.
func Run(cfg *config.Config, addr string) error {
	e := newEcho()

	ctx := context.Background()
	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		log.Printf("[SERVER] migrate: %v (continuing, schema may already be current)", err)
	}
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	reg := registry.New(st, telemetry.NewLogger("registry"))
	if err := reg.Restore(ctx); err != nil {
		log.Printf("[SERVER] restore models: %v (starting with empty registry)", err)
	}

	plannerSvc := planner.New(cfg.Planning, st, reg, metrics, telemetry.NewLogger("planner"))
	trainerSvc := trainer.New(cfg.Trainer, cfg.Predictor, cfg.Planning.Parameters, st, reg, metrics, telemetry.NewLogger("trainer"))

	var rdb *redis.Client
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
	}
	sched := &trainer.Scheduler{
		Trainer: trainerSvc,
		Cron:    cfg.Trainer.ScheduleCron,
		LockTTL: cfg.Trainer.LockTTL,
		Rdb:     rdb,
		Logger:  telemetry.NewLogger("sched"),
	}
	sched.Start()
	defer sched.Stop()

	api := e.Group("/api")
	(&PlansHandler{Planner: plannerSvc, Repo: st, Cache: rdb}).Register(api.Group("/plans"))
	(&MeasurementsHandler{Repo: st, Drift: trainerSvc}).Register(api.Group("/measurements"))
	(&ModelsHandler{Registry: reg, Repo: st, Trainer: trainerSvc}).Register(api.Group("/models"))

	if addr == "" {
		addr = cfg.Server.Addr
		if addr == "" {
			addr = ":8080"
		}
	}
	log.Printf("[SERVER] listening on %s", addr)
	return e.Start(addr)
}

// newEcho builds the router with the shared middleware and the unified JSON
// error handler.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := telemetry.NewLogger("http")
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
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// okTimeout is the per-request deadline applied to the heavier handlers.
const okTimeout = 60 * time.Second
