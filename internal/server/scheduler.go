package server

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/ainexus/herald/internal/store"
)

// Scheduler fires generation runs on a cron cadence. The redis lock keeps
// multiple server instances from triggering duplicate runs.
type Scheduler struct {
	Store  *store.Store
	Engine Engine
	Cron   string
	Stop   chan struct{}
	Rdb    *redis.Client
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	if s.Cron == "" || s.Engine == nil {
		return
	}
	ctx := context.Background()
	var last *time.Time
	if ts, ok, err := s.Store.LatestRunTime(ctx); err != nil {
		log.Printf("[SCHED] latest run lookup failed: %v", err)
		return
	} else if ok {
		last = &ts
	}
	if !isDue(s.Cron, last) {
		return
	}

	// distributed lock to avoid duplicate runs; expires on its own so a
	// crashed holder cannot wedge the schedule
	if s.Rdb != nil {
		ok, _ := s.Rdb.SetNX(ctx, "sched:lock:herald", "1", 2*time.Minute).Result()
		if !ok {
			return
		}
	}

	go func() {
		// jitter to avoid stampedes
		time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)
		runCtx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		if _, err := s.Engine.GenerateWithID(runCtx, "scheduled", uuid.New().String()); err != nil {
			log.Printf("[SCHED] scheduled run failed: %v", err)
		}
	}()
}

// isDue determines if a run under cronSpec should fire now given the last
// run time. Supports "@daily", "@hourly", and standard 5-field cron
// expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// invalid spec behaves like @daily
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
