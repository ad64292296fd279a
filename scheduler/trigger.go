package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

// cronParser accepts the 6-field grammar (second, minute, hour,
// day-of-month, month, day-of-week) plus the @hourly/@daily/@midnight/
// @weekly/@monthly/@yearly/@annually macros.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Trigger is a scheduled task's timing specification.
type Trigger interface {
	validate() error
	String() string
}

// FixedRateTrigger attempts a start one Interval after the previous start.
// A slow execution skips its missed slots; the next start happens as soon as
// the previous completes, and the grid then continues from that late start.
type FixedRateTrigger struct {
	Interval     time.Duration
	InitialDelay time.Duration
}

// FixedRate creates a fixed-rate trigger.
func FixedRate(interval, initialDelay time.Duration) FixedRateTrigger {
	return FixedRateTrigger{Interval: interval, InitialDelay: initialDelay}
}

func (t FixedRateTrigger) validate() error {
	if t.Interval <= 0 {
		return pkgerrors.Newf(pkgerrors.KindComponentRegistration,
			"fixed-rate interval must be positive, got %s", t.Interval)
	}
	if t.InitialDelay < 0 {
		return pkgerrors.Newf(pkgerrors.KindComponentRegistration,
			"initial delay must not be negative, got %s", t.InitialDelay)
	}
	return nil
}

func (t FixedRateTrigger) String() string {
	return fmt.Sprintf("fixed-rate(%s, initial %s)", t.Interval, t.InitialDelay)
}

// FixedDelayTrigger starts each execution a fixed delay after the previous
// one finished.
type FixedDelayTrigger struct {
	Delay        time.Duration
	InitialDelay time.Duration
}

// FixedDelay creates a fixed-delay trigger.
func FixedDelay(delay, initialDelay time.Duration) FixedDelayTrigger {
	return FixedDelayTrigger{Delay: delay, InitialDelay: initialDelay}
}

func (t FixedDelayTrigger) validate() error {
	if t.Delay <= 0 {
		return pkgerrors.Newf(pkgerrors.KindComponentRegistration,
			"fixed-delay must be positive, got %s", t.Delay)
	}
	if t.InitialDelay < 0 {
		return pkgerrors.Newf(pkgerrors.KindComponentRegistration,
			"initial delay must not be negative, got %s", t.InitialDelay)
	}
	return nil
}

func (t FixedDelayTrigger) String() string {
	return fmt.Sprintf("fixed-delay(%s, initial %s)", t.Delay, t.InitialDelay)
}

// CronTrigger starts executions at instants satisfying a 6-field cron
// expression, evaluated in the given time zone.
type CronTrigger struct {
	Expression string
	Timezone   string
}

// Cron creates a cron trigger. An empty timezone means the process-local
// zone.
func Cron(expression, timezone string) CronTrigger {
	return CronTrigger{Expression: expression, Timezone: timezone}
}

func (t CronTrigger) validate() error {
	if _, err := cronParser.Parse(t.Expression); err != nil {
		return pkgerrors.Newf(pkgerrors.KindComponentRegistration,
			"cron expression %q is not parseable", t.Expression).WithCause(err)
	}
	if _, err := t.location(); err != nil {
		return pkgerrors.Newf(pkgerrors.KindComponentRegistration,
			"cron timezone %q is unknown", t.Timezone).WithCause(err)
	}
	return nil
}

func (t CronTrigger) location() (*time.Location, error) {
	if t.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(t.Timezone)
}

// Next returns the next instant after from that satisfies the expression
// in the trigger's zone.
func (t CronTrigger) Next(from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(t.Expression)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := t.location()
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from.In(loc)), nil
}

func (t CronTrigger) String() string {
	if t.Timezone == "" {
		return fmt.Sprintf("cron(%s)", t.Expression)
	}
	return fmt.Sprintf("cron(%s, %s)", t.Expression, t.Timezone)
}
