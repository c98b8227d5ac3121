package schedule

import (
	"fmt"
	"strings"
	"time"
)

const (
	IntervalEveryMinute = "every_minute"
	IntervalHalfHourly  = "half_hourly"
	IntervalHourly      = "hourly"
	IntervalHalfDaily   = "half_daily"
	IntervalDaily       = "daily"
	IntervalWeekly      = "weekly"
	IntervalFortnightly = "fortnightly"
	IntervalMonthly     = "monthly"
	IntervalCustom      = "custom"
)

var fixedIntervalSeconds = map[string]int64{
	IntervalEveryMinute: 60,
	IntervalHalfHourly:  1800,
	IntervalHourly:      3600,
	IntervalHalfDaily:   43200,
	IntervalDaily:       86400,
	IntervalWeekly:      604800,
	IntervalFortnightly: 1209600,
}

// Normalize validates an interval name and resolves its cadence in seconds.
// Monthly reports an average month; actual monthly scheduling uses calendar
// arithmetic in NextTargetTime.
func Normalize(interval string, customSeconds int64) (string, int64, error) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if secs, ok := fixedIntervalSeconds[interval]; ok {
		return interval, secs, nil
	}
	switch interval {
	case IntervalMonthly:
		return interval, 2629746, nil
	case IntervalCustom:
		if customSeconds <= 0 {
			return "", 0, fmt.Errorf("custom interval requires positive seconds, got %d", customSeconds)
		}
		return interval, customSeconds, nil
	}
	return "", 0, fmt.Errorf("unknown time interval %q", interval)
}

// NextTargetTime computes when the trigger after an execution at last should
// fire. Missed cycles are skipped: the result is always the first interval
// multiple strictly after now.
func NextTargetTime(last, now time.Time, interval string, customSeconds int64) time.Time {
	last = last.UTC()
	now = now.UTC()
	if interval == IntervalMonthly {
		return nextMonthly(last, now)
	}
	step := time.Duration(customSeconds) * time.Second
	if secs, ok := fixedIntervalSeconds[interval]; ok {
		step = time.Duration(secs) * time.Second
	}
	if step <= 0 {
		step = time.Hour
	}
	next := last.Add(step)
	if !next.After(now) {
		elapsed := now.Sub(last)
		periods := int64(elapsed/step) + 1
		next = last.Add(time.Duration(periods) * step)
	}
	return next
}

func nextMonthly(last, now time.Time) time.Time {
	next := addOneMonth(last)
	for !next.After(now) {
		next = addOneMonth(next)
	}
	return next
}

// addOneMonth shifts by a calendar month, clamping the day so Jan 31 maps
// to Feb 28/29 rather than rolling into March.
func addOneMonth(t time.Time) time.Time {
	year, month, day := t.Date()
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfNext.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	hour, minute, sec := t.Clock()
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}
