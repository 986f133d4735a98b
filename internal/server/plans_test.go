package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/jalsarovar/wflow/internal/plan"
	"github.com/jalsarovar/wflow/internal/planner"
	"github.com/jalsarovar/wflow/internal/store"
)

type stubPlanner struct {
	plan plan.TestingPlan
	err  error

	gotMonth  string
	gotBudget int
}

func (s *stubPlanner) GeneratePlan(_ context.Context, month string, budget int) (plan.TestingPlan, error) {
	s.gotMonth, s.gotBudget = month, budget
	if s.err != nil {
		return plan.TestingPlan{}, s.err
	}
	return s.plan, nil
}

type stubPlanRepo struct {
	byMonth map[string][]plan.TestingPlan
}

func (s *stubPlanRepo) LatestPlan(_ context.Context, month string) (plan.TestingPlan, error) {
	plans := s.byMonth[month]
	if len(plans) == 0 {
		return plan.TestingPlan{}, fmt.Errorf("%w: month %s", store.ErrPlanNotFound, month)
	}
	return plans[0], nil
}

func (s *stubPlanRepo) PlanHistory(_ context.Context, month string) ([]plan.TestingPlan, error) {
	return s.byMonth[month], nil
}

func newPlansEcho(h *PlansHandler) *echo.Echo {
	e := newEcho()
	h.Register(e.Group("/api/plans"))
	return e
}

func TestGeneratePlanEndpoint(t *testing.T) {
	p := plan.TestingPlan{ID: "p1", Month: "2026-09", TestedSites: 5}
	sp := &stubPlanner{plan: p}
	e := newPlansEcho(&PlansHandler{Planner: sp, Repo: &stubPlanRepo{}})

	req := httptest.NewRequest(http.MethodPost, "/api/plans",
		strings.NewReader(`{"month":"2026-09","budget":5}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if sp.gotMonth != "2026-09" || sp.gotBudget != 5 {
		t.Fatalf("handler passed wrong args: %s/%d", sp.gotMonth, sp.gotBudget)
	}
	var got plan.TestingPlan
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if got.ID != "p1" {
		t.Fatalf("unexpected plan id %q", got.ID)
	}
}

func TestGeneratePlanRequiresMonth(t *testing.T) {
	e := newPlansEcho(&PlansHandler{Planner: &stubPlanner{}, Repo: &stubPlanRepo{}})
	req := httptest.NewRequest(http.MethodPost, "/api/plans", strings.NewReader(`{"budget":5}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGeneratePlanBadMonthIs400(t *testing.T) {
	sp := &stubPlanner{err: fmt.Errorf("%w: %q", planner.ErrInvalidMonth, "Sep")}
	e := newPlansEcho(&PlansHandler{Planner: sp, Repo: &stubPlanRepo{}})
	req := httptest.NewRequest(http.MethodPost, "/api/plans", strings.NewReader(`{"month":"Sep"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetLatestPlan(t *testing.T) {
	repo := &stubPlanRepo{byMonth: map[string][]plan.TestingPlan{
		"2026-09": {{ID: "p2", Month: "2026-09"}, {ID: "p1", Month: "2026-09"}},
	}}
	e := newPlansEcho(&PlansHandler{Planner: &stubPlanner{}, Repo: repo})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plans/2026-09", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got plan.TestingPlan
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if got.ID != "p2" {
		t.Fatalf("expected newest plan, got %q", got.ID)
	}
}

func TestGetLatestPlanNotFound(t *testing.T) {
	e := newPlansEcho(&PlansHandler{Planner: &stubPlanner{}, Repo: &stubPlanRepo{}})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plans/2026-01", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPlanHistoryEndpoint(t *testing.T) {
	repo := &stubPlanRepo{byMonth: map[string][]plan.TestingPlan{
		"2026-09": {{ID: "p2"}, {ID: "p1"}},
	}}
	e := newPlansEcho(&PlansHandler{Planner: &stubPlanner{}, Repo: repo})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plans/2026-09/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []plan.TestingPlan
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(got) != 2 || got[0].ID != "p2" {
		t.Fatalf("history order lost: %+v", got)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plans/2026-01/history", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty history must be an empty array, got %q", rec.Body.String())
	}
}
