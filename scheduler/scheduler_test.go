package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DavidLandup0/mitsuki/config"
	"github.com/DavidLandup0/mitsuki/container"
	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

type recordingJob struct {
	mu       sync.Mutex
	starts   []time.Time
	sleep    time.Duration
	inFlight int32
	overlaps int32
}

func (j *recordingJob) Run() {
	if atomic.AddInt32(&j.inFlight, 1) > 1 {
		atomic.AddInt32(&j.overlaps, 1)
	}
	j.mu.Lock()
	j.starts = append(j.starts, time.Now())
	j.mu.Unlock()
	if j.sleep > 0 {
		time.Sleep(j.sleep)
	}
	atomic.AddInt32(&j.inFlight, -1)
}

func (j *recordingJob) startCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.starts)
}

type failingJob struct {
	calls int32
}

func (j *failingJob) Run() error {
	atomic.AddInt32(&j.calls, 1)
	return errors.New("broken pipe")
}

type panickyJob struct {
	calls int32
}

func (j *panickyJob) Run() {
	atomic.AddInt32(&j.calls, 1)
	panic("unexpected state")
}

func schedulerWith(t *testing.T, reg *container.Registry, enabled bool) (*Scheduler, *container.Container) {
	t.Helper()
	store, err := config.NewLoader(t.TempDir()).
		Set("mitsuki.scheduler.enabled", enabled).
		Set("mitsuki.scheduler.shutdown-grace", "2s").
		Load()
	require.NoError(t, err)

	c, err := container.Resolve(context.Background(), reg, store, zap.NewNop())
	require.NoError(t, err)

	s, err := New(store, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Discover(c))
	return s, c
}

func TestFixedRateWithOverrunSkipsMissedSlots(t *testing.T) {
	job := &recordingJob{sleep: 250 * time.Millisecond}
	reg := container.NewRegistry().
		Register(container.NewDescriptor("job").
			Factory(func() *recordingJob { return job }).
			ScheduleMethod("Run", FixedRate(100*time.Millisecond, 0)))

	s, _ := schedulerWith(t, reg, true)
	s.Start()
	time.Sleep(1 * time.Second)
	s.Stop(context.Background())

	count := job.startCount()
	assert.GreaterOrEqual(t, count, 4)
	assert.LessOrEqual(t, count, 5)
	assert.Zero(t, atomic.LoadInt32(&job.overlaps), "at most one execution may be in flight")

	snap := s.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, "job.Run", snap.Tasks[0].TaskID)
	assert.Equal(t, uint64(count), snap.Tasks[0].Executions)
	assert.Zero(t, snap.Tasks[0].Failures)
}

func TestFixedRateKeepsGridWhenExecutionsAreFast(t *testing.T) {
	job := &recordingJob{}
	reg := container.NewRegistry().
		Register(container.NewDescriptor("job").
			Factory(func() *recordingJob { return job }).
			ScheduleMethod("Run", FixedRate(100*time.Millisecond, 50*time.Millisecond)))

	s, _ := schedulerWith(t, reg, true)
	s.Start()
	time.Sleep(560 * time.Millisecond)
	s.Stop(context.Background())

	// Starts at ~50, 150, 250, 350, 450, 550ms.
	count := job.startCount()
	assert.GreaterOrEqual(t, count, 4)
	assert.LessOrEqual(t, count, 6)
}

func TestFixedDelayWaitsAfterCompletion(t *testing.T) {
	job := &recordingJob{sleep: 100 * time.Millisecond}
	reg := container.NewRegistry().
		Register(container.NewDescriptor("job").
			Factory(func() *recordingJob { return job }).
			ScheduleMethod("Run", FixedDelay(150*time.Millisecond, 0)))

	s, _ := schedulerWith(t, reg, true)
	s.Start()
	time.Sleep(600 * time.Millisecond)
	s.Stop(context.Background())

	// Each cycle takes ~250ms (100 run + 150 delay): starts at ~0, 250, 500.
	count := job.startCount()
	assert.GreaterOrEqual(t, count, 2)
	assert.LessOrEqual(t, count, 3)
}

func TestTaskFailuresNeverStopTheLoop(t *testing.T) {
	failing := &failingJob{}
	healthy := &recordingJob{}
	reg := container.NewRegistry().
		Register(container.NewDescriptor("failing").
			Factory(func() *failingJob { return failing }).
			ScheduleMethod("Run", FixedRate(50*time.Millisecond, 0))).
		Register(container.NewDescriptor("healthy").
			Factory(func() *recordingJob { return healthy }).
			ScheduleMethod("Run", FixedRate(50*time.Millisecond, 0)))

	s, _ := schedulerWith(t, reg, true)
	s.Start()
	time.Sleep(320 * time.Millisecond)
	s.Stop(context.Background())

	assert.Greater(t, atomic.LoadInt32(&failing.calls), int32(2),
		"failing task keeps being scheduled")
	assert.Greater(t, healthy.startCount(), 2,
		"other tasks are unaffected by failures")

	snap := s.Snapshot()
	for _, stats := range snap.Tasks {
		if stats.TaskID == "failing.Run" {
			assert.Equal(t, stats.Executions, stats.Failures)
		}
		if stats.TaskID == "healthy.Run" {
			assert.Zero(t, stats.Failures)
		}
	}
	assert.Equal(t, snap.TotalFailures, snap.Tasks[0].Failures+snap.Tasks[1].Failures)
}

func TestPanicsAreRecordedAsFailures(t *testing.T) {
	job := &panickyJob{}
	reg := container.NewRegistry().
		Register(container.NewDescriptor("panicky").
			Factory(func() *panickyJob { return job }).
			ScheduleMethod("Run", FixedRate(50*time.Millisecond, 0)))

	s, _ := schedulerWith(t, reg, true)
	s.Start()
	time.Sleep(180 * time.Millisecond)
	s.Stop(context.Background())

	assert.Greater(t, atomic.LoadInt32(&job.calls), int32(1))
	snap := s.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, snap.Tasks[0].Executions, snap.Tasks[0].Failures)
	assert.Equal(t, StatusStopped, snap.Tasks[0].Status)
}

func TestDisabledSchedulerDiscoversButNeverRuns(t *testing.T) {
	job := &recordingJob{}
	reg := container.NewRegistry().
		Register(container.NewDescriptor("job").
			Factory(func() *recordingJob { return job }).
			ScheduleMethod("Run", FixedRate(20*time.Millisecond, 0)))

	s, _ := schedulerWith(t, reg, false)
	assert.False(t, s.Enabled())

	s.Start()
	time.Sleep(120 * time.Millisecond)
	s.Stop(context.Background())

	assert.Zero(t, job.startCount())
	snap := s.Snapshot()
	assert.Equal(t, 1, snap.TotalTasks)
	assert.Equal(t, StatusPending, snap.Tasks[0].Status)
}

func TestDuplicateTaskIDsRejected(t *testing.T) {
	job := &recordingJob{}
	reg := container.NewRegistry().
		Register(container.NewDescriptor("job").
			Factory(func() *recordingJob { return job }).
			ScheduleMethod("Run", FixedRate(time.Second, 0)).
			ScheduleMethod("Run", FixedDelay(time.Second, 0)))

	store, err := config.NewLoader(t.TempDir()).Load()
	require.NoError(t, err)
	c, err := container.Resolve(context.Background(), reg, store, zap.NewNop())
	require.NoError(t, err)

	s, err := New(store, zap.NewNop())
	require.NoError(t, err)
	err = s.Discover(c)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindComponentRegistration))
}

func TestTriggerValidation(t *testing.T) {
	assert.Error(t, FixedRate(0, 0).validate())
	assert.Error(t, FixedRate(time.Second, -time.Second).validate())
	assert.NoError(t, FixedRate(time.Second, 0).validate())

	assert.Error(t, FixedDelay(-time.Second, 0).validate())
	assert.NoError(t, FixedDelay(time.Second, time.Second).validate())

	assert.NoError(t, Cron("0 0 9 * * MON-FRI", "America/New_York").validate())
	assert.NoError(t, Cron("@hourly", "").validate())
	assert.Error(t, Cron("not a cron", "").validate())
	assert.Error(t, Cron("0 0 9 * * *", "Neverland/Nowhere").validate())
}

func TestCronNextRespectsTimezone(t *testing.T) {
	trigger := Cron("0 0 9 * * MON-FRI", "America/New_York")

	// Sunday 2024-06-02 23:00 UTC is Sunday 19:00 in New York; the next
	// weekday 09:00 local is Monday 2024-06-03 13:00 UTC.
	from := time.Date(2024, 6, 2, 23, 0, 0, 0, time.UTC)
	next, err := trigger.Next(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 3, 13, 0, 0, 0, time.UTC), next.UTC())
}

func TestCronMacroExpansion(t *testing.T) {
	trigger := Cron("@daily", "UTC")

	from := time.Date(2024, 6, 2, 23, 0, 0, 0, time.UTC)
	next, err := trigger.Next(from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), next.UTC())
}

func TestCronTaskExecutes(t *testing.T) {
	job := &recordingJob{}
	reg := container.NewRegistry().
		Register(container.NewDescriptor("job").
			Factory(func() *recordingJob { return job }).
			ScheduleMethod("Run", Cron("* * * * * *", "UTC")))

	s, _ := schedulerWith(t, reg, true)
	s.Start()
	time.Sleep(2100 * time.Millisecond)
	s.Stop(context.Background())

	assert.GreaterOrEqual(t, job.startCount(), 1)
}

func TestSnapshotAggregates(t *testing.T) {
	job := &recordingJob{}
	reg := container.NewRegistry().
		Register(container.NewDescriptor("a").
			Factory(func() *recordingJob { return job }).
			ScheduleMethod("Run", FixedRate(30*time.Millisecond, 0)))

	s, _ := schedulerWith(t, reg, true)
	s.Start()
	time.Sleep(200 * time.Millisecond)
	s.Stop(context.Background())

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.TotalTasks)
	assert.Equal(t, uint64(job.startCount()), snap.TotalExecutions)
	assert.NotZero(t, snap.Tasks[0].LastStart)
	assert.GreaterOrEqual(t, snap.Tasks[0].MeanDuration, time.Duration(0))
}

func TestObserverReceivesExecutions(t *testing.T) {
	var observed int32
	obs := observerFunc(func(taskID string, d time.Duration, err error) {
		atomic.AddInt32(&observed, 1)
	})

	job := &recordingJob{}
	reg := container.NewRegistry().
		Register(container.NewDescriptor("job").
			Factory(func() *recordingJob { return job }).
			ScheduleMethod("Run", FixedRate(40*time.Millisecond, 0)))

	s, _ := schedulerWith(t, reg, true)
	s.Observe(obs)
	s.Start()
	time.Sleep(200 * time.Millisecond)
	s.Stop(context.Background())

	assert.Equal(t, int32(job.startCount()), atomic.LoadInt32(&observed))
}

type observerFunc func(taskID string, d time.Duration, err error)

func (f observerFunc) ObserveTaskExecution(taskID string, d time.Duration, err error) {
	f(taskID, d, err)
}
