package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser is a standard 5-field cron expression parser (minute hour dom month dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is a recurring trigger: either a fixed interval ("6h") or a
// 5-field cron expression ("0 4 * * *").
type Schedule struct {
	expr  string
	every time.Duration
	cron  cron.Schedule
}

// Parse accepts a Go duration or a cron expression. Intervals below one
// minute are rejected; channel backfills are not a tight loop.
func Parse(expr string) (*Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("schedule expression is empty")
	}

	if d, err := time.ParseDuration(expr); err == nil {
		if d < time.Minute {
			return nil, fmt.Errorf("schedule interval %v is below the 1m minimum", d)
		}
		return &Schedule{expr: expr, every: d}, nil
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return &Schedule{expr: expr, cron: sched}, nil
}

// Next computes the next firing time strictly after from.
func (s *Schedule) Next(from time.Time) time.Time {
	if s.every > 0 {
		return from.Add(s.every)
	}
	return s.cron.Next(from)
}

func (s *Schedule) String() string {
	return s.expr
}

// backoffSteps defines retry delays after consecutive failed runs.
var backoffSteps = []time.Duration{
	30 * time.Second,
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute, // cap
}

// backoffDelay returns the retry delay for the given consecutive error count.
func backoffDelay(consecutiveErr int) time.Duration {
	idx := consecutiveErr - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSteps) {
		idx = len(backoffSteps) - 1
	}
	return backoffSteps[idx]
}
