// Package scheduler debounces change notifications into refresh runs.
//
// A Scheduler is a small state machine driven by a single goroutine:
//
//	Idle            --notify-->  Pending          (timer started)
//	Pending         --notify-->  Pending          (timer restarted)
//	Pending         --timer--->  Refreshing       (refresh started)
//	Refreshing      --notify-->  RefreshingDirty
//	Refreshing      --done---->  Idle
//	RefreshingDirty --done---->  Pending          (timer started)
//
// At most one refresh runs at a time and a notification that arrives while
// a refresh is running always leads to exactly one more run.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultDelay is the quiet period used when no delay is configured
const DefaultDelay = 5 * time.Second

// State of a Scheduler
type State int32

const (
	StateIdle State = iota
	StatePending
	StateRefreshing
	StateRefreshingDirty
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateRefreshing:
		return "refreshing"
	case StateRefreshingDirty:
		return "refreshing_dirty"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RefreshFunc rebuilds whatever the scheduler guards.
type RefreshFunc func(ctx context.Context) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	delay time.Duration
}

// WithDelay sets the quiet period. Non-positive values keep the default.
func WithDelay(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.delay = d
		}
	}
}

// Scheduler coalesces notifications and runs refresh after a quiet period.
type Scheduler struct {
	name    string
	delay   time.Duration
	refresh RefreshFunc
	logger  Logger

	notify chan struct{}
	state  atomic.Int32
	done   chan struct{}

	// OTEL metrics
	notifications metric.Int64Counter
	refreshes     metric.Int64Counter
	duration      metric.Float64Histogram
	nameAttr      attribute.KeyValue
}

// New creates a Scheduler. Uses the global OTel meter for metrics (no-op if not configured).
func New(name string, refresh RefreshFunc, logger Logger, opts ...Option) (*Scheduler, error) {
	cfg := &config{delay: DefaultDelay}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Scheduler{
		name:     name,
		delay:    cfg.delay,
		refresh:  refresh,
		logger:   logger,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		nameAttr: attribute.String("map", name),
	}

	m := meter()
	var err error

	s.notifications, err = m.Int64Counter(
		"scheduler.notifications",
		metric.WithDescription("Change notifications received"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating notifications counter: %w", err)
	}

	s.refreshes, err = m.Int64Counter(
		"scheduler.refreshes",
		metric.WithDescription("Refresh runs by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating refreshes counter: %w", err)
	}

	s.duration, err = m.Float64Histogram(
		"scheduler.refresh.duration",
		metric.WithDescription("Duration of refresh runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return s, nil
}

// Delay returns the configured quiet period.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// State returns the current state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Done is closed when Run has returned.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Notify reports a change. It never blocks; notifications that arrive
// before the run loop picks up the previous one are merged into it.
func (s *Scheduler) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run drives the state machine until ctx is cancelled. Values received on
// events count as notifications; events may be nil. A refresh that is
// running when ctx is cancelled completes before Run returns.
func (s *Scheduler) Run(ctx context.Context, events <-chan struct{}) {
	defer close(s.done)

	timer := time.NewTimer(s.delay)
	timer.Stop()
	defer timer.Stop()

	var timerC <-chan time.Time
	finished := make(chan struct{}, 1)
	refreshCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			if st := s.State(); st == StateRefreshing || st == StateRefreshingDirty {
				s.logger.Debug("Waiting for running refresh", "map", s.name)
				<-finished
			}
			s.setState(StateIdle)
			return

		case <-events:
			s.onNotify(ctx, timer, &timerC)

		case <-s.notify:
			s.onNotify(ctx, timer, &timerC)

		case <-timerC:
			timerC = nil
			s.setState(StateRefreshing)
			go func() {
				s.runRefresh(refreshCtx)
				finished <- struct{}{}
			}()

		case <-finished:
			if s.State() == StateRefreshingDirty {
				s.logger.Debug("Changes arrived during refresh, rescheduling", "map", s.name)
				timer.Reset(s.delay)
				timerC = timer.C
				s.setState(StatePending)
			} else {
				s.setState(StateIdle)
			}
		}
	}
}

func (s *Scheduler) onNotify(ctx context.Context, timer *time.Timer, timerC *<-chan time.Time) {
	s.notifications.Add(ctx, 1, metric.WithAttributes(s.nameAttr))

	switch s.State() {
	case StateIdle:
		s.logger.Info("Scheduling refresh", "map", s.name, "delay", s.delay)
		timer.Reset(s.delay)
		*timerC = timer.C
		s.setState(StatePending)
	case StatePending:
		timer.Reset(s.delay)
	case StateRefreshing:
		s.setState(StateRefreshingDirty)
	case StateRefreshingDirty:
	}
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	start := time.Now()
	err := s.refresh(ctx)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		s.logger.Error("Failed to update data", "map", s.name, "duration", elapsed, "error", err)
	} else {
		s.logger.Debug("Refresh complete", "map", s.name, "duration", elapsed)
	}

	s.refreshes.Add(ctx, 1, metric.WithAttributes(s.nameAttr, attribute.String("outcome", outcome)))
	s.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(s.nameAttr))
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}
