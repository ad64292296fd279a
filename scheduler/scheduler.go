package scheduler

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DavidLandup0/mitsuki/config"
	"github.com/DavidLandup0/mitsuki/container"
	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

// ExecutionObserver receives one callback per task execution. The bundled
// observability metrics implement this.
type ExecutionObserver interface {
	ObserveTaskExecution(taskID string, duration time.Duration, err error)
}

// task is one discovered scheduled method with its trigger and statistics.
type task struct {
	id      string
	trigger Trigger
	run     func(ctx context.Context) error
	state   *taskState
}

// Scheduler runs periodic component methods while the application is live.
// It is process-local: with multiple worker processes, each runs its own
// scheduler.
type Scheduler struct {
	logger    *zap.Logger
	enabled   bool
	grace     time.Duration
	observers []ExecutionObserver

	mu      sync.Mutex
	tasks   []*task
	byID    map[string]*task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New creates a scheduler configured from the store
// (mitsuki.scheduler.enabled, mitsuki.scheduler.shutdown-grace).
func New(store *config.Store, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	enabled, err := store.BoolDefault("mitsuki.scheduler.enabled", false)
	if err != nil {
		return nil, err
	}
	grace, err := store.DurationDefault("mitsuki.scheduler.shutdown-grace", 30*time.Second)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		logger:  logger,
		enabled: enabled,
		grace:   grace,
		byID:    make(map[string]*task),
	}, nil
}

// Enabled reports whether the time loop will start. Disabled schedulers
// still discover tasks; they just never run them.
func (s *Scheduler) Enabled() bool {
	return s.enabled
}

// Observe registers an execution observer. Must be called before Start.
func (s *Scheduler) Observe(obs ExecutionObserver) {
	s.observers = append(s.observers, obs)
}

// Discover enumerates scheduled-method declarations from the container's
// active descriptors and binds them to resolved instances. Task ids are
// "<ComponentName>.<methodName>" and must be unique.
func (s *Scheduler) Discover(c *container.Container) error {
	for _, d := range c.Descriptors() {
		for _, schedule := range d.Schedules() {
			id := fmt.Sprintf("%s.%s", d.Name(), schedule.Method)
			if _, dup := s.byID[id]; dup {
				return pkgerrors.Newf(pkgerrors.KindComponentRegistration,
					"duplicate scheduled task id %q", id)
			}

			trigger, ok := schedule.Trigger.(Trigger)
			if !ok {
				return pkgerrors.Newf(pkgerrors.KindComponentRegistration,
					"task %q has an unknown trigger type %T", id, schedule.Trigger)
			}
			if err := trigger.validate(); err != nil {
				return err
			}

			instance, err := c.Lookup(d.Name())
			if err != nil {
				return err
			}
			run, err := bindMethod(instance, schedule.Method)
			if err != nil {
				return pkgerrors.Newf(pkgerrors.KindComponentRegistration,
					"cannot bind scheduled task %q", id).WithCause(err)
			}

			t := &task{
				id:      id,
				trigger: trigger,
				run:     run,
				state:   &taskState{status: StatusPending},
			}
			s.tasks = append(s.tasks, t)
			s.byID[id] = t

			s.logger.Info("scheduled task discovered",
				zap.String("task", id),
				zap.Stringer("trigger", trigger),
				zap.Bool("enabled", s.enabled),
			)
		}
	}
	return nil
}

// bindMethod wraps a component method as func(ctx) error. Accepted shapes:
// func(), func() error, func(context.Context), func(context.Context) error.
func bindMethod(instance interface{}, name string) (func(ctx context.Context) error, error) {
	v := reflect.ValueOf(instance)
	m := v.MethodByName(name)
	if !m.IsValid() {
		return nil, fmt.Errorf("method %q not found on %T", name, instance)
	}
	mt := m.Type()

	wantsCtx := mt.NumIn() == 1 && mt.In(0) == reflect.TypeOf((*context.Context)(nil)).Elem()
	if mt.NumIn() > 1 || (mt.NumIn() == 1 && !wantsCtx) {
		return nil, fmt.Errorf("method %q must take no arguments beyond an optional context.Context", name)
	}
	returnsError := mt.NumOut() == 1 && mt.Out(0) == reflect.TypeOf((*error)(nil)).Elem()
	if mt.NumOut() > 1 || (mt.NumOut() == 1 && !returnsError) {
		return nil, fmt.Errorf("method %q must return nothing or an error", name)
	}

	return func(ctx context.Context) error {
		var args []reflect.Value
		if wantsCtx {
			args = append(args, reflect.ValueOf(ctx))
		}
		outs := m.Call(args)
		if returnsError && !outs[0].IsNil() {
			return outs[0].Interface().(error)
		}
		return nil
	}, nil
}

// Start begins the time loop for every discovered task. It is a no-op when
// the scheduler is disabled by configuration.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || !s.enabled {
		if !s.enabled && len(s.tasks) > 0 {
			s.logger.Info("scheduler disabled; tasks remain inactive",
				zap.Int("tasks", len(s.tasks)))
		}
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}

	s.logger.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
}

// loop drives one task according to its trigger until ctx is cancelled.
func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer s.wg.Done()

	switch trig := t.trigger.(type) {
	case FixedRateTrigger:
		next := time.Now().Add(trig.InitialDelay)
		for {
			if !sleepUntil(ctx, next) {
				return
			}
			s.execute(ctx, t)
			// The grid continues from the previous start; an overrun skips
			// its missed slots and starts again immediately.
			candidate := next.Add(trig.Interval)
			if now := time.Now(); candidate.Before(now) {
				next = now
			} else {
				next = candidate
			}
		}

	case FixedDelayTrigger:
		next := time.Now().Add(trig.InitialDelay)
		for {
			if !sleepUntil(ctx, next) {
				return
			}
			s.execute(ctx, t)
			next = time.Now().Add(trig.Delay)
		}

	case CronTrigger:
		for {
			next, err := trig.Next(time.Now())
			if err != nil || next.IsZero() {
				s.logger.Error("cron trigger yields no future instant",
					zap.String("task", t.id), zap.Error(err))
				return
			}
			if !sleepUntil(ctx, next) {
				return
			}
			s.execute(ctx, t)
		}
	}
}

// execute runs one task execution, recording statistics and isolating
// failures. At most one execution per task is ever in flight: the loop is
// the only caller and runs executions sequentially.
func (s *Scheduler) execute(ctx context.Context, t *task) {
	start := time.Now()
	t.state.recordStart(start)

	err := s.invoke(ctx, t)
	duration := time.Since(start)
	t.state.recordResult(duration, err != nil)

	for _, obs := range s.observers {
		obs.ObserveTaskExecution(t.id, duration, err)
	}

	if err != nil {
		taskErr := pkgerrors.Newf(pkgerrors.KindSchedulerTask,
			"scheduled task %q failed", t.id).WithCause(err)
		s.logger.Error("scheduled task failed",
			zap.String("task", t.id),
			zap.Duration("duration", duration),
			zap.Error(taskErr),
		)
		return
	}
	s.logger.Debug("scheduled task completed",
		zap.String("task", t.id),
		zap.Duration("duration", duration),
	)
}

// invoke calls the task body, converting panics into errors so the loop
// never dies.
func (s *Scheduler) invoke(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.run(ctx)
}

// sleepUntil blocks until the given instant or cancellation. It returns
// false when the context was cancelled.
func sleepUntil(ctx context.Context, at time.Time) bool {
	d := time.Until(at)
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Stop ceases new starts and waits up to the configured grace period for
// in-flight executions; remaining tasks are then marked stopped. In-flight
// executions are never killed abruptly.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := s.grace
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < grace {
			grace = remaining
		}
	}

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-time.After(grace):
		s.logger.Warn("scheduler grace period elapsed with tasks in flight",
			zap.Duration("grace", grace))
	}

	for _, t := range s.tasks {
		t.state.markStopped()
	}
}

// Snapshot returns a consistent read-only view of per-task statistics and
// aggregate counters.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{TotalTasks: len(s.tasks)}
	for _, t := range s.tasks {
		stats := t.state.snapshot(t.id, t.trigger.String())
		snap.Tasks = append(snap.Tasks, stats)
		snap.TotalExecutions += stats.Executions
		snap.TotalFailures += stats.Failures
		if stats.Status == StatusRunning {
			snap.RunningTasks++
		}
	}
	sort.Slice(snap.Tasks, func(i, j int) bool {
		return snap.Tasks[i].TaskID < snap.Tasks[j].TaskID
	})
	return snap
}
