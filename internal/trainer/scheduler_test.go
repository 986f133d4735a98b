package trainer

import (
	"testing"
	"time"
)

func TestSchedulerDue(t *testing.T) {
	s := &Scheduler{Cron: "0 2 1 * *"}

	// Last run mid-month, now still mid-month: nothing due.
	s.last = time.Date(2026, 8, 15, 3, 0, 0, 0, time.UTC)
	if s.due(time.Date(2026, 8, 20, 3, 0, 0, 0, time.UTC)) {
		t.Fatalf("no fire time between mid-month checks")
	}

	// The monthly fire time falls between last run and now.
	if !s.due(time.Date(2026, 9, 1, 2, 30, 0, 0, time.UTC)) {
		t.Fatalf("schedule crossing 1st 02:00 must be due")
	}

	// Fresh scheduler only looks back one hour.
	fresh := &Scheduler{Cron: "0 2 1 * *"}
	if fresh.due(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("fresh scheduler mid-month must not fire")
	}
	fresh = &Scheduler{Cron: "0 2 1 * *"}
	if !fresh.due(time.Date(2026, 9, 1, 2, 30, 0, 0, time.UTC)) {
		t.Fatalf("fresh scheduler just after the fire time must run")
	}
}

func TestSchedulerDueFallsBackToMonthly(t *testing.T) {
	s := &Scheduler{Cron: "not a cron"}
	s.last = time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	if s.due(time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("same month must not fire")
	}
	if !s.due(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("month boundary must fire")
	}
}
