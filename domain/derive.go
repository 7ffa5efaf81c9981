package domain

import "time"

// ReminderUnit is the unit of the reminder lead interval.
type ReminderUnit int

const (
	UnitMinutes ReminderUnit = 0
	UnitHours   ReminderUnit = 1
	UnitDays    ReminderUnit = 2
)

// ReminderUnitFromValue decodes a stored unit code. Rows written before the
// column existed resolve to UnitMinutes.
func ReminderUnitFromValue(v int) ReminderUnit {
	switch ReminderUnit(v) {
	case UnitMinutes, UnitHours, UnitDays:
		return ReminderUnit(v)
	}
	return UnitMinutes
}

// Offset converts an interval value in this unit to a duration.
func (u ReminderUnit) Offset(value int) time.Duration {
	switch u {
	case UnitHours:
		return time.Duration(value) * time.Hour
	case UnitDays:
		return time.Duration(value) * 24 * time.Hour
	default:
		return time.Duration(value) * time.Minute
	}
}

// overdueGrace is how long past the effective due time a reminder keeps
// showing before it is suppressed for good.
const overdueGrace = 24 * time.Hour

// EffectiveDueTimestamp resolves the single due instant in Unix
// milliseconds. DueTimestamp wins when present; otherwise a calendar-day
// due date resolves to 23:59:59 local time on that day. The second return
// is false when the task carries no due information.
func (t Task) EffectiveDueTimestamp() (int64, bool) {
	if t.DueTimestamp != nil {
		return *t.DueTimestamp, true
	}
	if t.DueEpochDay != nil {
		day := time.Unix(*t.DueEpochDay*86400, 0).UTC()
		end := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, time.Local)
		return end.UnixMilli(), true
	}
	return 0, false
}

// ReminderTimestamp is the instant the reminder window opens: the effective
// due time minus the configured lead interval. The second return is false
// when reminders are disabled, no interval value is set, or the task has no
// due information.
func (t Task) ReminderTimestamp() (int64, bool) {
	if !t.ReminderEnabled || t.ReminderIntervalValue == nil {
		return 0, false
	}
	due, ok := t.EffectiveDueTimestamp()
	if !ok {
		return 0, false
	}
	return due - t.ReminderIntervalUnit.Offset(*t.ReminderIntervalValue).Milliseconds(), true
}

// ShouldShowReminder reports whether the task should surface a reminder at
// now. The window opens at ReminderTimestamp and closes 24 hours after the
// effective due time; once past the grace window the reminder never comes
// back, even if the task stays overdue. Completed tasks never remind.
func (t Task) ShouldShowReminder(now time.Time) bool {
	if t.Status == StatusCompleted {
		return false
	}
	reminder, ok := t.ReminderTimestamp()
	if !ok {
		return false
	}
	due, _ := t.EffectiveDueTimestamp()
	ms := now.UnixMilli()
	if ms < reminder {
		return false
	}
	if ms > due+overdueGrace.Milliseconds() {
		return false
	}
	return true
}

// IsOverdue reports whether now is past the effective due time.
func (t Task) IsOverdue(now time.Time) bool {
	due, ok := t.EffectiveDueTimestamp()
	if !ok {
		return false
	}
	return now.UnixMilli() > due
}

// OverdueHours is the number of whole hours elapsed past the effective due
// time, or 0 when the task is not overdue.
func (t Task) OverdueHours(now time.Time) int64 {
	due, ok := t.EffectiveDueTimestamp()
	if !ok {
		return 0
	}
	ms := now.UnixMilli()
	if ms <= due {
		return 0
	}
	return (ms - due) / time.Hour.Milliseconds()
}
