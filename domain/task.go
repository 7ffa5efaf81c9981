package domain

import "strings"

// Quadrant is one of the four Eisenhower priority buckets.
type Quadrant int

const (
	ImportantUrgent       Quadrant = 1
	ImportantNotUrgent    Quadrant = 2
	UrgentNotImportant    Quadrant = 3
	NotImportantNotUrgent Quadrant = 4
)

// QuadrantFromValue decodes a stored quadrant code, falling back to
// ImportantUrgent for unknown values.
func QuadrantFromValue(v int) Quadrant {
	switch Quadrant(v) {
	case ImportantUrgent, ImportantNotUrgent, UrgentNotImportant, NotImportantNotUrgent:
		return Quadrant(v)
	}
	return ImportantUrgent
}

// Quadrants lists all quadrants in display order.
func Quadrants() []Quadrant {
	return []Quadrant{ImportantUrgent, ImportantNotUrgent, UrgentNotImportant, NotImportantNotUrgent}
}

// Status is the lifecycle state of a task.
type Status int

const (
	StatusInProgress Status = 0
	StatusCompleted  Status = 1
	StatusOverdue    Status = 2
)

// StatusFromValue decodes a stored status code, falling back to
// StatusInProgress for unknown values.
func StatusFromValue(v int) Status {
	switch Status(v) {
	case StatusInProgress, StatusCompleted, StatusOverdue:
		return Status(v)
	}
	return StatusInProgress
}

// RepeatType classifies how a task recurs. Recurrence expansion is not part
// of this core; the value is stored and surfaced only.
type RepeatType int

const (
	RepeatOnce    RepeatType = 0
	RepeatDaily   RepeatType = 1
	RepeatWeekly  RepeatType = 2
	RepeatMonthly RepeatType = 3
)

// RepeatTypeFromValue decodes a stored repeat code. Rows written before the
// column existed resolve to RepeatOnce.
func RepeatTypeFromValue(v int) RepeatType {
	switch RepeatType(v) {
	case RepeatOnce, RepeatDaily, RepeatWeekly, RepeatMonthly:
		return RepeatType(v)
	}
	return RepeatOnce
}

// Task is the canonical persisted task record. Instants are Unix
// milliseconds; DueEpochDay is a calendar day counted in days since the
// epoch, kept for rows written before DueTimestamp existed.
type Task struct {
	ID                    int64        `json:"id"`
	Title                 string       `json:"title"`
	Description           string       `json:"description,omitempty"`
	EstimatedMinutes      *int         `json:"estimatedMinutes,omitempty"`
	DueEpochDay           *int64       `json:"dueEpochDay,omitempty"`
	DueTimestamp          *int64       `json:"dueTimestamp,omitempty"`
	Tags                  string       `json:"tags,omitempty"`
	Quadrant              Quadrant     `json:"quadrant"`
	Status                Status       `json:"status"`
	IsPinned              bool         `json:"isPinned,omitempty"`
	ReminderEnabled       bool         `json:"reminderEnabled,omitempty"`
	ReminderIntervalValue *int         `json:"reminderIntervalValue,omitempty"`
	ReminderIntervalUnit  ReminderUnit `json:"reminderIntervalUnit"`
	SortOrder             int64        `json:"sortOrder"`
	CreatedAt             int64        `json:"createdAt"`
	UpdatedAt             int64        `json:"updatedAt"`
	IsMIT                 bool         `json:"isMIT,omitempty"`
	AudioPath             string       `json:"audioPath,omitempty"`
	RepeatType            RepeatType   `json:"repeatType"`
}

// Draft carries the user-settable fields of a task. ID is nil for creation
// and set for updates.
type Draft struct {
	ID                    *int64       `json:"id,omitempty"`
	Title                 string       `json:"title"`
	Description           string       `json:"description"`
	EstimatedMinutes      *int         `json:"estimatedMinutes,omitempty"`
	DueEpochDay           *int64       `json:"dueEpochDay,omitempty"`
	DueTimestamp          *int64       `json:"dueTimestamp,omitempty"`
	Tags                  string       `json:"tags"`
	Quadrant              Quadrant     `json:"quadrant"`
	Status                Status       `json:"status"`
	IsPinned              bool         `json:"isPinned"`
	IsMIT                 bool         `json:"isMIT"`
	ReminderEnabled       bool         `json:"reminderEnabled"`
	ReminderIntervalValue *int         `json:"reminderIntervalValue,omitempty"`
	ReminderIntervalUnit  ReminderUnit `json:"reminderIntervalUnit"`
	AudioPath             string       `json:"audioPath,omitempty"`
	RepeatType            RepeatType   `json:"repeatType"`
}

// ToDraft converts a task back into its editable representation.
func (t Task) ToDraft() Draft {
	id := t.ID
	return Draft{
		ID:                    &id,
		Title:                 t.Title,
		Description:           t.Description,
		EstimatedMinutes:      t.EstimatedMinutes,
		DueEpochDay:           t.DueEpochDay,
		DueTimestamp:          t.DueTimestamp,
		Tags:                  t.Tags,
		Quadrant:              t.Quadrant,
		Status:                t.Status,
		IsPinned:              t.IsPinned,
		IsMIT:                 t.IsMIT,
		ReminderEnabled:       t.ReminderEnabled,
		ReminderIntervalValue: t.ReminderIntervalValue,
		ReminderIntervalUnit:  t.ReminderIntervalUnit,
		AudioPath:             t.AudioPath,
		RepeatType:            t.RepeatType,
	}
}

// NormalizeTags splits a comma-separated tag string, trims each entry,
// drops empties, removes duplicates keeping first occurrence, and rejoins
// with ", ". The result is a fixed point: normalizing twice changes nothing.
func NormalizeTags(input string) string {
	parts := strings.Split(input, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		tag := strings.TrimSpace(p)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return strings.Join(out, ", ")
}
