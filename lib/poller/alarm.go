package poller

import (
	"context"
	"time"
)

type Event interface {
	Timestamp() time.Time
}

type event struct{ timestamp time.Time }

func (e event) Timestamp() time.Time { return e.timestamp }

// mountEvent fires once when a clock starts.
type mountEvent struct {
	event
}

// intervalEvent fires on every tick after the mount.
type intervalEvent struct {
	event
}

// alarmClock is an owned timer handle: it emits a mountEvent immediately and
// an intervalEvent per tick until stopped. The channel closes after Stop.
type alarmClock struct {
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func newAlarmClock(interval time.Duration) *alarmClock {
	return &alarmClock{interval: interval, done: make(chan struct{})}
}

func (a *alarmClock) Start(ctx context.Context) <-chan Event {
	ctx, a.cancel = context.WithCancel(ctx)
	c := make(chan Event)

	go func() {
		defer close(a.done)
		defer close(c)

		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		if !emit(ctx, c, mountEvent{event{time.Now().UTC()}}) {
			return
		}
		for {
			select {
			case t := <-ticker.C:
				if !emit(ctx, c, intervalEvent{event{t.UTC()}}) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return c
}

func emit(ctx context.Context, c chan<- Event, evt Event) bool {
	select {
	case c <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop cancels the clock and waits for its goroutine to exit. Safe to call
// more than once.
func (a *alarmClock) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}
