package domain

import (
	"context"
	"sort"
	"strings"
)

// fakeStore is an in-memory Store whose transactions apply immediately.
// Good enough for service tests: the service never interleaves operations
// inside one test.
type fakeStore struct {
	tasks  map[int64]Task
	nextID int64

	failTx error // when set, RunInTx returns it without applying fn
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[int64]Task{}}
}

func (f *fakeStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	if f.failTx != nil {
		return f.failTx
	}
	return fn(f)
}

func (f *fakeStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t Task) (int64, error) {
	if t.ID == 0 {
		f.nextID++
		t.ID = f.nextID
	} else if t.ID > f.nextID {
		f.nextID = t.ID
	}
	f.tasks[t.ID] = t
	return t.ID, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, t Task) error {
	if _, ok := f.tasks[t.ID]; !ok {
		return nil
	}
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, id int64) error {
	delete(f.tasks, id)
	return nil
}

// displayOrder sorts like the store's quadrant scan: pinned first, then
// ascending sort order, then most recently updated first.
func displayOrder(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.UpdatedAt > b.UpdatedAt
	})
}

func (f *fakeStore) ListQuadrant(ctx context.Context, q Quadrant) ([]Task, error) {
	out := []Task{}
	for _, t := range f.tasks {
		if t.Quadrant == q {
			out = append(out, t)
		}
	}
	displayOrder(out)
	return out, nil
}

func (f *fakeStore) MinPinnedSortOrder(ctx context.Context, q Quadrant) (int64, bool, error) {
	var min int64
	found := false
	for _, t := range f.tasks {
		if t.Quadrant != q || !t.IsPinned {
			continue
		}
		if !found || t.SortOrder < min {
			min = t.SortOrder
			found = true
		}
	}
	return min, found, nil
}

func (f *fakeStore) MaxUnpinnedSortOrder(ctx context.Context, q Quadrant) (int64, bool, error) {
	var max int64
	found := false
	for _, t := range f.tasks {
		if t.Quadrant != q || t.IsPinned {
			continue
		}
		if !found || t.SortOrder > max {
			max = t.SortOrder
			found = true
		}
	}
	return max, found, nil
}

func (f *fakeStore) ClearMIT(ctx context.Context) error {
	for id, t := range f.tasks {
		if t.IsMIT {
			t.IsMIT = false
			f.tasks[id] = t
		}
	}
	return nil
}

func (f *fakeStore) SetMIT(ctx context.Context, id int64) error {
	if t, ok := f.tasks[id]; ok {
		t.IsMIT = true
		f.tasks[id] = t
	}
	return nil
}

func (f *fakeStore) OverdueCandidates(ctx context.Context) ([]Task, error) {
	out := []Task{}
	for _, t := range f.tasks {
		if t.Status == StatusCompleted || t.Status == StatusOverdue {
			continue
		}
		if t.DueTimestamp == nil && t.DueEpochDay == nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) MarkOverdue(ctx context.Context, ids []int64, now int64) error {
	for _, id := range ids {
		if t, ok := f.tasks[id]; ok {
			t.Status = StatusOverdue
			t.UpdatedAt = now
			f.tasks[id] = t
		}
	}
	return nil
}

func (f *fakeStore) ListTodayQuadrant(ctx context.Context, q Quadrant, todayEpochDay, todayStart, todayEnd int64) ([]Task, error) {
	out := []Task{}
	for _, t := range f.tasks {
		if t.Quadrant != q || t.Status == StatusCompleted {
			continue
		}
		undated := t.DueEpochDay == nil && t.DueTimestamp == nil
		dueToday := (t.DueEpochDay != nil && *t.DueEpochDay <= todayEpochDay) ||
			(t.DueTimestamp != nil && *t.DueTimestamp <= todayEnd)
		createdToday := t.CreatedAt >= todayStart && t.CreatedAt <= todayEnd
		if undated || dueToday || createdToday {
			out = append(out, t)
		}
	}
	displayOrder(out)
	return out, nil
}

func (f *fakeStore) ListDueRange(ctx context.Context, startDay, endDay, startMillis, endMillis int64) ([]Task, error) {
	out := []Task{}
	for _, t := range f.tasks {
		inDay := t.DueEpochDay != nil && *t.DueEpochDay >= startDay && *t.DueEpochDay <= endDay
		inMillis := t.DueTimestamp != nil && *t.DueTimestamp >= startMillis && *t.DueTimestamp <= endMillis
		if inDay || inMillis {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListCreatedRange(ctx context.Context, startMillis, endMillis int64) ([]Task, error) {
	out := []Task{}
	for _, t := range f.tasks {
		if t.CreatedAt >= startMillis && t.CreatedAt <= endMillis {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActive(ctx context.Context) ([]Task, error) {
	out := []Task{}
	for _, t := range f.tasks {
		if t.Status != StatusCompleted {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAll(ctx context.Context) ([]Task, error) {
	out := []Task{}
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) ListReminderCandidates(ctx context.Context) ([]Task, error) {
	out := []Task{}
	for _, t := range f.tasks {
		if t.ReminderEnabled && t.Status != StatusCompleted {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) Search(ctx context.Context, query string) ([]Task, error) {
	out := []Task{}
	q := strings.ToLower(query)
	for _, t := range f.tasks {
		if strings.Contains(strings.ToLower(t.Title), q) ||
			strings.Contains(strings.ToLower(t.Description), q) ||
			strings.Contains(strings.ToLower(t.Tags), q) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) GetMIT(ctx context.Context) (*Task, error) {
	for _, t := range f.tasks {
		if t.IsMIT && t.Status != StatusCompleted {
			found := t
			return &found, nil
		}
	}
	return nil, nil
}
