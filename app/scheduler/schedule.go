package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/api-comb/app/database"
)

// NeverRunAt is the next run time of configurations without a recurrence.
var NeverRunAt = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Backoff between retries, indexed by the consecutive failure count and
// capped at the last entry.
var retryDelays = [...]time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
}

type State int

const (
	StateIdle State = iota
	StateScheduled
	StateRetryPending
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRetryPending:
		return "retry_pending"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// StateOf derives the scheduling state from the stored fields.
func StateOf(cfg *database.ImportConfiguration) State {
	if cfg.Frequency == database.FrequencyNone || cfg.Frequency == "" {
		return StateIdle
	}
	if cfg.NextRetryAt != nil {
		return StateRetryPending
	}
	if cfg.ConsecutiveFailures > 0 && cfg.ConsecutiveFailures >= cfg.MaxRetries {
		return StateExhausted
	}
	if cfg.NextScheduledRunAt != nil {
		return StateScheduled
	}
	return StateIdle
}

// CalculateNextRunTime returns the first slot of the configured recurrence
// strictly after from, in from's location.
func CalculateNextRunTime(cfg *database.ImportConfiguration, from time.Time) time.Time {
	// A malformed time of day falls back to midnight.
	hour, minute, _ := parseTimeOfDay(cfg.TimeOfDay)
	loc := from.Location()
	at := func(year int, month time.Month, day int) time.Time {
		return time.Date(year, month, day, hour, minute, 0, 0, loc)
	}

	switch cfg.Frequency {
	case database.FrequencyHourly:
		return from.Add(time.Duration(max(1, cfg.IntervalValue)) * time.Hour)

	case database.FrequencyDaily:
		next := at(from.Year(), from.Month(), from.Day())
		if !next.After(from) {
			next = at(from.Year(), from.Month(), from.Day()+1)
		}
		return next

	case database.FrequencyWeekly:
		days := (int(cfg.DayOfWeek) - int(from.Weekday()) + 7) % 7
		next := at(from.Year(), from.Month(), from.Day()+days)
		if !next.After(from) {
			next = at(from.Year(), from.Month(), from.Day()+days+7)
		}
		return next

	case database.FrequencyMonthly:
		day := min(max(cfg.DayOfMonth, 1), 28)
		next := at(from.Year(), from.Month(), day)
		if !next.After(from) {
			next = at(from.Year(), from.Month()+1, day)
		}
		return next

	default:
		return NeverRunAt
	}
}

// CalculateRetryDelay returns the wait before the next retry after
// consecutiveFailures failed runs.
func CalculateRetryDelay(consecutiveFailures int) time.Duration {
	idx := min(max(consecutiveFailures, 0), len(retryDelays)-1)
	return retryDelays[idx]
}

// parseTimeOfDay reads "HH:MM".
func parseTimeOfDay(s string) (hour, minute int, ok bool) {
	hh, mm, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, false
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

func ValidTimeOfDay(s string) bool {
	_, _, ok := parseTimeOfDay(s)
	return ok
}

func isDue(cfg *database.ImportConfiguration, now time.Time) bool {
	if !cfg.Active || cfg.Frequency == database.FrequencyNone || cfg.Frequency == "" {
		return false
	}
	if cfg.NextRetryAt != nil && !cfg.NextRetryAt.After(now) {
		return true
	}
	return cfg.NextScheduledRunAt != nil && !cfg.NextScheduledRunAt.After(now)
}

// dueKey orders due configurations: the retry time wins when set.
func dueKey(cfg *database.ImportConfiguration) time.Time {
	if cfg.NextRetryAt != nil {
		return *cfg.NextRetryAt
	}
	if cfg.NextScheduledRunAt != nil {
		return *cfg.NextScheduledRunAt
	}
	return NeverRunAt
}
