package domain

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Tx is the set of statements available inside one atomic store
// transaction. Implementations must apply all effects or none.
type Tx interface {
	GetTask(ctx context.Context, id int64) (*Task, error)
	InsertTask(ctx context.Context, t Task) (int64, error)
	UpdateTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, id int64) error
	ListQuadrant(ctx context.Context, q Quadrant) ([]Task, error)
	MinPinnedSortOrder(ctx context.Context, q Quadrant) (int64, bool, error)
	MaxUnpinnedSortOrder(ctx context.Context, q Quadrant) (int64, bool, error)
	ClearMIT(ctx context.Context) error
	SetMIT(ctx context.Context, id int64) error
	OverdueCandidates(ctx context.Context) ([]Task, error)
	MarkOverdue(ctx context.Context, ids []int64, now int64) error
}

// Store is the persistence contract the lifecycle controller runs against.
// Reads outside RunInTx see only committed state.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	GetTask(ctx context.Context, id int64) (*Task, error)
	ListQuadrant(ctx context.Context, q Quadrant) ([]Task, error)
	ListTodayQuadrant(ctx context.Context, q Quadrant, todayEpochDay, todayStart, todayEnd int64) ([]Task, error)
	ListDueRange(ctx context.Context, startDay, endDay, startMillis, endMillis int64) ([]Task, error)
	ListCreatedRange(ctx context.Context, startMillis, endMillis int64) ([]Task, error)
	ListActive(ctx context.Context) ([]Task, error)
	ListAll(ctx context.Context) ([]Task, error)
	ListReminderCandidates(ctx context.Context) ([]Task, error)
	Search(ctx context.Context, query string) ([]Task, error)
	GetMIT(ctx context.Context) (*Task, error)
}

// Notifier is told which quadrants were touched after a transaction
// commits, so live listings can refresh. Implementations must not block.
type Notifier interface {
	TasksChanged(quadrants ...Quadrant)
}

// TaskService is the lifecycle controller: the sole write path for tasks.
// Every mutating operation runs as one atomic transaction, and operations
// on ids that no longer exist are silent no-ops.
type TaskService struct {
	store  Store
	notify Notifier
	now    func() time.Time

	lastOrder atomic.Int64
}

// ServiceOption configures a TaskService.
type ServiceOption func(*TaskService)

// WithNotifier wires a commit notifier.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *TaskService) { s.notify = n }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *TaskService) { s.now = now }
}

// NewTaskService creates a lifecycle controller over the given store.
func NewTaskService(store Store, opts ...ServiceOption) *TaskService {
	s := &TaskService{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// nextSortOrder returns a strictly increasing millisecond value, so tasks
// created or moved within the same millisecond still order deterministically.
func (s *TaskService) nextSortOrder() int64 {
	for {
		now := s.now().UnixMilli()
		last := s.lastOrder.Load()
		if now <= last {
			now = last + 1
		}
		if s.lastOrder.CompareAndSwap(last, now) {
			return now
		}
	}
}

func (s *TaskService) notifyChanged(quadrants ...Quadrant) {
	if s.notify == nil {
		return
	}
	s.notify.TasksChanged(quadrants...)
}

// Upsert validates and persists a draft. Creation assigns default ordering
// (the creation instant, placing the task last in its quadrant) and audit
// timestamps; updates apply every draft field, refresh updatedAt and keep
// createdAt. Updating an id that vanished concurrently is a silent no-op
// returning id 0.
func (s *TaskService) Upsert(ctx context.Context, draft Draft) (int64, error) {
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		return 0, ErrEmptyTitle
	}
	now := s.now().UnixMilli()
	var id int64
	var from Quadrant
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		if draft.ID == nil {
			var err error
			id, err = tx.InsertTask(ctx, Task{
				Title:                 title,
				Description:           strings.TrimSpace(draft.Description),
				EstimatedMinutes:      draft.EstimatedMinutes,
				DueEpochDay:           draft.DueEpochDay,
				DueTimestamp:          draft.DueTimestamp,
				Tags:                  NormalizeTags(draft.Tags),
				Quadrant:              draft.Quadrant,
				Status:                draft.Status,
				IsPinned:              draft.IsPinned,
				ReminderEnabled:       draft.ReminderEnabled,
				ReminderIntervalValue: draft.ReminderIntervalValue,
				ReminderIntervalUnit:  draft.ReminderIntervalUnit,
				SortOrder:             s.nextSortOrder(),
				CreatedAt:             now,
				UpdatedAt:             now,
				IsMIT:                 draft.IsMIT,
				AudioPath:             draft.AudioPath,
				RepeatType:            draft.RepeatType,
			})
			return err
		}
		existing, err := tx.GetTask(ctx, *draft.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			log.WithField("task", *draft.ID).Debug("upsert target gone, skipping")
			return nil
		}
		from = existing.Quadrant
		updated := *existing
		updated.Title = title
		updated.Description = strings.TrimSpace(draft.Description)
		updated.EstimatedMinutes = draft.EstimatedMinutes
		updated.DueEpochDay = draft.DueEpochDay
		updated.DueTimestamp = draft.DueTimestamp
		updated.Tags = NormalizeTags(draft.Tags)
		updated.Quadrant = draft.Quadrant
		updated.Status = draft.Status
		updated.IsPinned = draft.IsPinned
		updated.ReminderEnabled = draft.ReminderEnabled
		updated.ReminderIntervalValue = draft.ReminderIntervalValue
		updated.ReminderIntervalUnit = draft.ReminderIntervalUnit
		updated.IsMIT = draft.IsMIT
		updated.AudioPath = draft.AudioPath
		updated.RepeatType = draft.RepeatType
		updated.UpdatedAt = now
		id = updated.ID
		return tx.UpdateTask(ctx, updated)
	})
	if err != nil {
		return 0, err
	}
	if id != 0 {
		if draft.ID != nil && from != draft.Quadrant {
			s.notifyChanged(from, draft.Quadrant)
		} else {
			s.notifyChanged(draft.Quadrant)
		}
	}
	return id, nil
}

// Delete removes a task by id. Missing ids are a silent no-op.
func (s *TaskService) Delete(ctx context.Context, id int64) error {
	_, err := s.DeleteAndReturn(ctx, id)
	return err
}

// DeleteAndReturn removes a task and hands back the full pre-delete record
// so the caller can Restore it later. Returns nil for missing ids.
func (s *TaskService) DeleteAndReturn(ctx context.Context, id int64) (*Task, error) {
	var deleted *Task
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		existing, err := tx.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		if err := tx.DeleteTask(ctx, id); err != nil {
			return err
		}
		deleted = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	if deleted != nil {
		s.notifyChanged(deleted.Quadrant)
	}
	return deleted, nil
}

// Restore re-inserts a previously deleted record, preserving its original
// id and every field.
func (s *TaskService) Restore(ctx context.Context, t Task) error {
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		_, err := tx.InsertTask(ctx, t)
		return err
	})
	if err != nil {
		return err
	}
	s.notifyChanged(t.Quadrant)
	return nil
}

// MoveToQuadrant re-files a task. Moving to its current quadrant is a
// no-op; otherwise the sort order resets to "now", placing the task at the
// end of the target quadrant. Pin state is preserved.
func (s *TaskService) MoveToQuadrant(ctx context.Context, id int64, target Quadrant) error {
	now := s.now().UnixMilli()
	var from Quadrant
	moved := false
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		existing, err := tx.GetTask(ctx, id)
		if err != nil || existing == nil {
			return err
		}
		if existing.Quadrant == target {
			return nil
		}
		from = existing.Quadrant
		updated := *existing
		updated.Quadrant = target
		updated.SortOrder = s.nextSortOrder()
		updated.UpdatedAt = now
		moved = true
		return tx.UpdateTask(ctx, updated)
	})
	if err != nil {
		return err
	}
	if moved {
		s.notifyChanged(from, target)
	}
	return nil
}

// TogglePinned flips the pin flag. Pinning places the task ahead of every
// pinned task in its quadrant (min pinned sort order − 1); unpinning places
// it after every unpinned task (max unpinned sort order + 1). Both are
// O(1) boundary inserts; no other row is renumbered.
func (s *TaskService) TogglePinned(ctx context.Context, id int64) error {
	now := s.now().UnixMilli()
	var touched *Quadrant
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		existing, err := tx.GetTask(ctx, id)
		if err != nil || existing == nil {
			return err
		}
		updated := *existing
		updated.IsPinned = !existing.IsPinned
		if updated.IsPinned {
			min, ok, err := tx.MinPinnedSortOrder(ctx, existing.Quadrant)
			if err != nil {
				return err
			}
			if !ok {
				min = existing.SortOrder
			}
			updated.SortOrder = min - 1
		} else {
			max, ok, err := tx.MaxUnpinnedSortOrder(ctx, existing.Quadrant)
			if err != nil {
				return err
			}
			if !ok {
				max = existing.SortOrder
			}
			updated.SortOrder = max + 1
		}
		updated.UpdatedAt = now
		touched = &existing.Quadrant
		return tx.UpdateTask(ctx, updated)
	})
	if err != nil {
		return err
	}
	if touched != nil {
		s.notifyChanged(*touched)
	}
	return nil
}

// MoveUp swaps the task with its predecessor inside its pin group.
func (s *TaskService) MoveUp(ctx context.Context, id int64) error {
	return s.moveRelative(ctx, id, -1)
}

// MoveDown swaps the task with its successor inside its pin group.
func (s *TaskService) MoveDown(ctx context.Context, id int64) error {
	return s.moveRelative(ctx, id, +1)
}

// moveRelative exchanges the persisted sort orders of two adjacent tasks in
// the same pin group. Pinned tasks reorder only among pinned tasks and
// unpinned only among unpinned; a swap past either end is a no-op.
func (s *TaskService) moveRelative(ctx context.Context, id int64, direction int) error {
	now := s.now().UnixMilli()
	var touched *Quadrant
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		target, err := tx.GetTask(ctx, id)
		if err != nil || target == nil {
			return err
		}
		ordered, err := tx.ListQuadrant(ctx, target.Quadrant)
		if err != nil {
			return err
		}
		group := make([]Task, 0, len(ordered))
		for _, t := range ordered {
			if t.IsPinned == target.IsPinned {
				group = append(group, t)
			}
		}
		index := -1
		for i, t := range group {
			if t.ID == id {
				index = i
				break
			}
		}
		if index == -1 {
			return nil
		}
		swapIndex := index + direction
		if swapIndex < 0 || swapIndex >= len(group) {
			return nil
		}
		a, b := group[index], group[swapIndex]
		a.SortOrder, b.SortOrder = b.SortOrder, a.SortOrder
		a.UpdatedAt = now
		b.UpdatedAt = now
		if err := tx.UpdateTask(ctx, a); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, b); err != nil {
			return err
		}
		touched = &target.Quadrant
		return nil
	})
	if err != nil {
		return err
	}
	if touched != nil {
		s.notifyChanged(*touched)
	}
	return nil
}

// SetStatus applies a user-driven status change. Any transition is allowed
// here; only the automatic sweep is one-directional.
func (s *TaskService) SetStatus(ctx context.Context, id int64, status Status) error {
	now := s.now().UnixMilli()
	var touched *Quadrant
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		existing, err := tx.GetTask(ctx, id)
		if err != nil || existing == nil {
			return err
		}
		updated := *existing
		updated.Status = status
		updated.UpdatedAt = now
		touched = &existing.Quadrant
		return tx.UpdateTask(ctx, updated)
	})
	if err != nil {
		return err
	}
	if touched != nil {
		s.notifyChanged(*touched)
	}
	return nil
}

// DeferDue pushes the calendar-day due date by the given number of days.
// Tasks without a due date start from today. Only the legacy day field
// moves: a task whose DueTimestamp is set keeps it, and since that field
// drives the effective due time, deferring such a task has no visible
// effect. The original behaves the same way; kept as is.
func (s *TaskService) DeferDue(ctx context.Context, id int64, days int64) error {
	now := s.now()
	nowMillis := now.UnixMilli()
	var touched *Quadrant
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		existing, err := tx.GetTask(ctx, id)
		if err != nil || existing == nil {
			return err
		}
		base := epochDay(now)
		if existing.DueEpochDay != nil {
			base = *existing.DueEpochDay
		}
		deferred := base + days
		updated := *existing
		updated.DueEpochDay = &deferred
		updated.UpdatedAt = nowMillis
		touched = &existing.Quadrant
		return tx.UpdateTask(ctx, updated)
	})
	if err != nil {
		return err
	}
	if touched != nil {
		s.notifyChanged(*touched)
	}
	return nil
}

// SetMIT marks a task as today's Most Important Task. The current holder's
// flag is cleared and the new one set inside a single transaction, so at
// most one MIT is ever observable. Missing or completed targets are silent
// no-ops.
func (s *TaskService) SetMIT(ctx context.Context, id int64) error {
	var touched *Quadrant
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		existing, err := tx.GetTask(ctx, id)
		if err != nil || existing == nil {
			return err
		}
		if existing.Status == StatusCompleted {
			log.WithField("task", id).Debug("completed task cannot become MIT")
			return nil
		}
		if err := tx.ClearMIT(ctx); err != nil {
			return err
		}
		if err := tx.SetMIT(ctx, id); err != nil {
			return err
		}
		touched = &existing.Quadrant
		return nil
	})
	if err != nil {
		return err
	}
	if touched != nil {
		s.notifyChanged(*touched)
	}
	return nil
}

// ClearMIT unconditionally clears the MIT flag wherever it is set.
func (s *TaskService) ClearMIT(ctx context.Context) error {
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		return tx.ClearMIT(ctx)
	})
	if err != nil {
		return err
	}
	s.notifyChanged(Quadrants()...)
	return nil
}

// MIT returns the current MIT holder, or nil when none is set or the
// holder has been completed.
func (s *TaskService) MIT(ctx context.Context) (*Task, error) {
	return s.store.GetMIT(ctx)
}

// SuggestedMIT scans the important-not-urgent quadrant in display order
// and returns the first non-completed task, or nil.
func (s *TaskService) SuggestedMIT(ctx context.Context) (*Task, error) {
	tasks, err := s.store.ListQuadrant(ctx, ImportantNotUrgent)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Status != StatusCompleted {
			candidate := t
			return &candidate, nil
		}
	}
	return nil, nil
}

// UpdateOverdueTasks transitions every non-completed, non-overdue task
// whose effective due time has passed to StatusOverdue, in one
// transaction, and returns how many changed. Idempotent: a second run with
// no new expirations finds zero candidates.
func (s *TaskService) UpdateOverdueTasks(ctx context.Context) (int, error) {
	now := s.now()
	nowMillis := now.UnixMilli()
	var quadrants []Quadrant
	count := 0
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		candidates, err := tx.OverdueCandidates(ctx)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(candidates))
		for _, t := range candidates {
			due, ok := t.EffectiveDueTimestamp()
			if !ok || due >= nowMillis {
				continue
			}
			ids = append(ids, t.ID)
			quadrants = append(quadrants, t.Quadrant)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.MarkOverdue(ctx, ids, nowMillis); err != nil {
			return err
		}
		count = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.notifyChanged(quadrants...)
	}
	return count, nil
}

// GetTask returns a task by id, nil when missing.
func (s *TaskService) GetTask(ctx context.Context, id int64) (*Task, error) {
	return s.store.GetTask(ctx, id)
}

// GetDraft loads a task as an editable draft, nil when missing.
func (s *TaskService) GetDraft(ctx context.Context, id int64) (*Draft, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil || t == nil {
		return nil, err
	}
	d := t.ToDraft()
	return &d, nil
}

// ListQuadrant returns a quadrant's tasks in display order: pinned first,
// then ascending sort order, ties broken by most recently updated.
func (s *TaskService) ListQuadrant(ctx context.Context, q Quadrant) ([]Task, error) {
	return s.store.ListQuadrant(ctx, q)
}

// ListTodayQuadrant returns the quadrant's tasks relevant today: due today
// or earlier, undated, or created today; completed tasks excluded.
func (s *TaskService) ListTodayQuadrant(ctx context.Context, q Quadrant) ([]Task, error) {
	now := s.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
	return s.store.ListTodayQuadrant(ctx, q, epochDay(now), start.UnixMilli(), end.UnixMilli())
}

// ListDueRange returns tasks due inside [start, end], inclusive, matching
// either the precise timestamp or the calendar-day field.
func (s *TaskService) ListDueRange(ctx context.Context, start, end time.Time) ([]Task, error) {
	startOfDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	endOfDay := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, end.Location())
	return s.store.ListDueRange(ctx, epochDay(start), epochDay(end), startOfDay.UnixMilli(), endOfDay.UnixMilli())
}

// ListCreatedRange returns tasks created inside [start, end], inclusive of
// both whole days.
func (s *TaskService) ListCreatedRange(ctx context.Context, start, end time.Time) ([]Task, error) {
	startOfDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	endOfDay := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, end.Location())
	return s.store.ListCreatedRange(ctx, startOfDay.UnixMilli(), endOfDay.UnixMilli())
}

// Search matches the query against title, description and tags.
func (s *TaskService) Search(ctx context.Context, query string) ([]Task, error) {
	return s.store.Search(ctx, query)
}

// ListAll returns every task.
func (s *TaskService) ListAll(ctx context.Context) ([]Task, error) {
	return s.store.ListAll(ctx)
}

// ListActive returns every non-completed task.
func (s *TaskService) ListActive(ctx context.Context) ([]Task, error) {
	return s.store.ListActive(ctx)
}

// ActiveReminders evaluates the reminder predicate over the current
// reminder-enabled snapshot and returns the tasks that should alert now,
// soonest due first.
func (s *TaskService) ActiveReminders(ctx context.Context) ([]Task, error) {
	candidates, err := s.store.ListReminderCandidates(ctx)
	if err != nil {
		return nil, err
	}
	return ActiveReminders(candidates, s.now()), nil
}

func epochDay(t time.Time) int64 {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
