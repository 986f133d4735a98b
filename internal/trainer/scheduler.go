package trainer

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/jalsarovar/wflow/internal/telemetry"
)

// Scheduler fires scheduled retraining runs. The redis lock guards against
// duplicate runs when several replicas share the schedule; without redis the
// scheduler still works for single-instance deployments.
type Scheduler struct {
	Trainer *Trainer
	Cron    string
	LockTTL time.Duration
	Rdb     *redis.Client
	Logger  *log.Logger

	stop chan struct{}
	last time.Time
}

const trainLockKey = "wflow:train:lock"

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = telemetry.NewLogger("sched")
	}
	s.stop = make(chan struct{})
	ticker := time.NewTicker(time.Hour)
	go func() {
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick(time.Now())
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	if s.stop != nil {
		close(s.stop)
	}
}

func (s *Scheduler) tick(now time.Time) {
	if !s.due(now) {
		return
	}
	ctx := context.Background()
	if s.Rdb != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		ok, err := s.Rdb.SetNX(ctx, trainLockKey, "1", ttl).Result()
		if err != nil {
			s.Logger.Printf("training lock: %v", err)
			return
		}
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, trainLockKey)
	}

	s.last = now
	s.Logger.Printf("scheduled training started")
	results := s.Trainer.TrainAll(ctx, now)
	published := 0
	for _, r := range results {
		if r.Outcome == OutcomePublished {
			published++
		}
	}
	s.Logger.Printf("scheduled training finished: %d/%d models published", published, len(results))
}

// due reports whether the cron schedule has a fire time between the last run
// and now. An unparseable expression falls back to monthly.
func (s *Scheduler) due(now time.Time) bool {
	base := s.last
	if base.IsZero() {
		base = now.Add(-time.Hour)
	}
	expr, err := cronexpr.Parse(s.Cron)
	if err != nil {
		return now.Month() != base.Month()
	}
	next := expr.Next(base)
	return !next.IsZero() && !next.After(now)
}
