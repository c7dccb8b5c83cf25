package schedule

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tgmirror/ferry/internal/pkg/logs"
)

// RunFunc executes one scheduled archive run.
type RunFunc func(ctx context.Context) error

// Runner fires the archive on every schedule tick until the context is
// canceled. A failed run is retried with a short backoff instead of
// waiting for the next slot; consecutive failures stretch the delay.
type Runner struct {
	schedule *Schedule
	run      RunFunc
	clock    clockwork.Clock
}

type Option func(*Runner)

func WithClock(c clockwork.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

func NewRunner(s *Schedule, run RunFunc, opts ...Option) *Runner {
	r := &Runner{
		schedule: s,
		run:      run,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Run(ctx context.Context) error {
	consecutiveErr := 0

	for {
		now := r.clock.Now()

		var next time.Time
		if consecutiveErr > 0 {
			next = now.Add(backoffDelay(consecutiveErr))
			logs.CtxWarn(ctx, "[schedule] retrying at %s (errors=%d)", next.Format(time.RFC3339), consecutiveErr)
		} else {
			next = r.schedule.Next(now)
			logs.CtxInfo(ctx, "[schedule] next run at %s", next.Format(time.RFC3339))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(next.Sub(now)):
		}

		if err := r.run(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consecutiveErr++
			logs.CtxWarn(ctx, "[schedule] run failed: %v", err)
			continue
		}
		consecutiveErr = 0
	}
}
