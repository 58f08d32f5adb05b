package notify

import (
	"time"
)

// parseClock parses an "HH:MM" string into minutes since midnight.
// A malformed or empty value is treated as 00:00.
func parseClock(s string) int {
	if len(s) != 5 || s[2] != ':' {
		return 0
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0
	}
	return h*60 + m
}

func inWindow(minuteOfDay, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return minuteOfDay >= start && minuteOfDay < end
	}
	// window wraps past midnight
	return minuteOfDay >= start || minuteOfDay < end
}

func loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

func inBusinessDays(cfg *NotificationConfig, d time.Weekday) bool {
	if len(cfg.BusinessDays) == 0 {
		return !isWeekend(d)
	}
	for _, day := range cfg.BusinessDays {
		if day == d {
			return true
		}
	}
	return false
}

// ShouldNotifyNow implements the gating order: a critical alert under
// an except-critical config always sends; otherwise quiet hours deny,
// then business-hours-enabled-but-outside denies; anything else is
// allowed.
func ShouldNotifyNow(cfg *NotificationConfig, now time.Time, isCritical bool) bool {
	if cfg == nil {
		return true
	}
	if isCritical && cfg.ExceptCritical {
		return true
	}

	loc := loadLocation(cfg.Timezone)
	local := now.In(loc)
	minuteOfDay := local.Hour()*60 + local.Minute()

	if cfg.QuietHoursEnabled {
		if cfg.QuietHoursWeekendAllDay && isWeekend(local.Weekday()) {
			return false
		}
		if inWindow(minuteOfDay, parseClock(cfg.QuietHoursStart), parseClock(cfg.QuietHoursEnd)) {
			return false
		}
	}

	if cfg.BusinessHoursEnabled {
		if !inBusinessDays(cfg, local.Weekday()) {
			return false
		}
		if !inWindow(minuteOfDay, parseClock(cfg.BusinessHoursStart), parseClock(cfg.BusinessHoursEnd)) {
			return false
		}
	}

	return true
}

// GetNextNotificationWindow returns the next instant at or after now
// at which ShouldNotifyNow would allow delivery, by probing minute by
// minute up to 8 days out. Used for deferred delivery of a
// non-critical alert raised during a blackout window.
func GetNextNotificationWindow(cfg *NotificationConfig, now time.Time) time.Time {
	if ShouldNotifyNow(cfg, now, false) {
		return now
	}
	cursor := now
	limit := now.Add(8 * 24 * time.Hour)
	for cursor.Before(limit) {
		cursor = cursor.Add(time.Minute)
		if ShouldNotifyNow(cfg, cursor, false) {
			return cursor
		}
	}
	return limit
}
