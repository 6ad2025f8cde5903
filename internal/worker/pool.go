package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ah-its-andy/mediaconv/internal/events"
)

// Runner is anything that performs one conversion run.
type Runner interface {
	Run(ctx context.Context) (Summary, error)
}

// Loop drains a Queue and performs one run per trigger, strictly one after
// the other, so runs never overlap.
type Loop struct {
	runner Runner
	queue  *Queue
	obs    events.Observer

	// OnStart and OnDone, if set, bracket every run.
	OnStart func(key string)
	OnDone  func(Summary, error)
}

func NewLoop(runner Runner, q *Queue, obs events.Observer) *Loop {
	if obs == nil {
		obs = events.Discard
	}
	return &Loop{runner: runner, queue: q, obs: obs}
}

// Run blocks until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.queue.StopAccepting()
			return
		case key := <-l.queue.Chan():
			// released before the run so changes made meanwhile trigger
			// another pass
			l.queue.Dequeued(key)
			l.handle(ctx, key)
		}
	}
}

func (l *Loop) handle(ctx context.Context, key string) {
	l.obs.Notify(events.Event{
		Time:    time.Now(),
		Kind:    events.KindInfo,
		Path:    key,
		Message: fmt.Sprintf("change detected under %s, starting run", key),
	})
	if l.OnStart != nil {
		l.OnStart(key)
	}
	sum, err := l.runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		l.obs.Notify(events.Event{
			Time:    time.Now(),
			Level:   events.LevelError,
			Kind:    events.KindInfo,
			Path:    key,
			Err:     err,
			Message: fmt.Sprintf("run for %s did not start: %v", key, err),
		})
	}
	if l.OnDone != nil {
		l.OnDone(sum, err)
	}
}
