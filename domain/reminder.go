package domain

import (
	"sort"
	"time"
)

// ActiveReminders filters a snapshot of tasks down to the ones that should
// surface a reminder at now, ordered by soonest effective due time first.
// It is a pure function: safe to re-run on every clock tick. Duplicate-alert
// suppression is the caller's concern.
func ActiveReminders(tasks []Task, now time.Time) []Task {
	active := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ShouldShowReminder(now) {
			active = append(active, t)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		di, _ := active[i].EffectiveDueTimestamp()
		dj, _ := active[j].EffectiveDueTimestamp()
		return di < dj
	})
	return active
}
