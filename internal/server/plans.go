package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/jalsarovar/wflow/internal/plan"
	"github.com/jalsarovar/wflow/internal/planner"
	"github.com/jalsarovar/wflow/internal/store"
)

// PlanGenerator is the planner surface the handler depends on.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, month string, budget int) (plan.TestingPlan, error)
}

// PlanRepo reads persisted plans.
type PlanRepo interface {
	LatestPlan(ctx context.Context, month string) (plan.TestingPlan, error)
	PlanHistory(ctx context.Context, month string) ([]plan.TestingPlan, error)
}

// PlansHandler exposes plan generation and retrieval. Cache is optional; when
// set, the latest plan per month is served from redis between regenerations.
type PlansHandler struct {
	Planner PlanGenerator
	Repo    PlanRepo
	Cache   *redis.Client
}

// planCacheTTL bounds how stale a cached plan can get. Generation through the
// API refreshes the shared key immediately; a plan written straight to
// Postgres (the CLI path) becomes visible here after at most this long.
const planCacheTTL = 10 * time.Minute

func planCacheKey(month string) string { return "wflow:plan:" + month }

func (h *PlansHandler) Register(g *echo.Group) {
	g.POST("", h.generate)
	g.GET("/:month", h.getLatest)
	g.GET("/:month/history", h.history)
}

type generatePlanRequest struct {
	Month  string `json:"month"`
	Budget int    `json:"budget"`
}

func (h *PlansHandler) generate(c echo.Context) error {
	var req generatePlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Month == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "month is required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), okTimeout)
	defer cancel()
	p, err := h.Planner.GeneratePlan(ctx, req.Month, req.Budget)
	if err != nil {
		if errors.Is(err, planner.ErrInvalidMonth) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}
	h.cachePlan(ctx, p)
	return c.JSON(http.StatusCreated, p)
}

func (h *PlansHandler) getLatest(c echo.Context) error {
	ctx := c.Request().Context()
	month := c.Param("month")
	if h.Cache != nil {
		if raw, err := h.Cache.Get(ctx, planCacheKey(month)).Bytes(); err == nil {
			return c.JSONBlob(http.StatusOK, raw)
		}
	}
	p, err := h.Repo.LatestPlan(ctx, month)
	if err != nil {
		if errors.Is(err, store.ErrPlanNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}
	h.cachePlan(ctx, p)
	return c.JSON(http.StatusOK, p)
}

// cachePlan is best effort; a failing cache never fails the request.
func (h *PlansHandler) cachePlan(ctx context.Context, p plan.TestingPlan) {
	if h.Cache == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = h.Cache.Set(ctx, planCacheKey(p.Month), raw, planCacheTTL).Err()
}

func (h *PlansHandler) history(c echo.Context) error {
	plans, err := h.Repo.PlanHistory(c.Request().Context(), c.Param("month"))
	if err != nil {
		return err
	}
	if plans == nil {
		plans = []plan.TestingPlan{}
	}
	return c.JSON(http.StatusOK, plans)
}
