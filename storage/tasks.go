package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"quadrantd/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the row mapping below
// is written once.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txQueries exposes the statement set available inside one transaction.
type txQueries struct {
	q querier
}

const taskColumns = `id, title, description, estimated_minutes, due_epoch_day, due_timestamp,
	tags, quadrant, status, is_pinned, reminder_enabled, reminder_interval_value,
	reminder_interval_unit, sort_order, created_at, updated_at, is_mit, audio_path, repeat_type`

// displayOrderClause is the canonical listing order: pinned block first,
// ascending sort order inside each block, most recently updated wins ties.
const displayOrderClause = ` ORDER BY is_pinned DESC, sort_order ASC, updated_at DESC`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var (
		t           domain.Task
		estimated   sql.NullInt64
		dueDay      sql.NullInt64
		dueTs       sql.NullInt64
		quadrant    int
		status      int
		remindValue sql.NullInt64
		remindUnit  int
		repeat      int
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &estimated, &dueDay, &dueTs,
		&t.Tags, &quadrant, &status, &t.IsPinned, &t.ReminderEnabled, &remindValue,
		&remindUnit, &t.SortOrder, &t.CreatedAt, &t.UpdatedAt, &t.IsMIT, &t.AudioPath, &repeat)
	if err != nil {
		return domain.Task{}, err
	}
	if estimated.Valid {
		v := int(estimated.Int64)
		t.EstimatedMinutes = &v
	}
	if dueDay.Valid {
		v := dueDay.Int64
		t.DueEpochDay = &v
	}
	if dueTs.Valid {
		v := dueTs.Int64
		t.DueTimestamp = &v
	}
	if remindValue.Valid {
		v := int(remindValue.Int64)
		t.ReminderIntervalValue = &v
	}
	t.Quadrant = domain.QuadrantFromValue(quadrant)
	t.Status = domain.StatusFromValue(status)
	t.ReminderIntervalUnit = domain.ReminderUnitFromValue(remindUnit)
	t.RepeatType = domain.RepeatTypeFromValue(repeat)
	return t, nil
}

func queryTasks(ctx context.Context, q querier, query string, args ...any) ([]domain.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func getTask(ctx context.Context, q querier, id int64) (*domain.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return &t, nil
}

func insertTask(ctx context.Context, q querier, t domain.Task) (int64, error) {
	optInt := func(p *int) any {
		if p == nil {
			return nil
		}
		return *p
	}
	optInt64 := func(p *int64) any {
		if p == nil {
			return nil
		}
		return *p
	}

	if t.ID != 0 {
		// Re-insert with a caller-chosen id, as restore after delete does.
		_, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO tasks (id, title, description, estimated_minutes,
				due_epoch_day, due_timestamp, tags, quadrant, status, is_pinned,
				reminder_enabled, reminder_interval_value, reminder_interval_unit,
				sort_order, created_at, updated_at, is_mit, audio_path, repeat_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Title, t.Description, optInt(t.EstimatedMinutes),
			optInt64(t.DueEpochDay), optInt64(t.DueTimestamp), t.Tags, int(t.Quadrant),
			int(t.Status), t.IsPinned, t.ReminderEnabled, optInt(t.ReminderIntervalValue),
			int(t.ReminderIntervalUnit), t.SortOrder, t.CreatedAt, t.UpdatedAt,
			t.IsMIT, t.AudioPath, int(t.RepeatType))
		if err != nil {
			return 0, fmt.Errorf("insert task %d: %w", t.ID, err)
		}
		return t.ID, nil
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO tasks (title, description, estimated_minutes, due_epoch_day,
			due_timestamp, tags, quadrant, status, is_pinned, reminder_enabled,
			reminder_interval_value, reminder_interval_unit, sort_order,
			created_at, updated_at, is_mit, audio_path, repeat_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Title, t.Description, optInt(t.EstimatedMinutes), optInt64(t.DueEpochDay),
		optInt64(t.DueTimestamp), t.Tags, int(t.Quadrant), int(t.Status), t.IsPinned,
		t.ReminderEnabled, optInt(t.ReminderIntervalValue), int(t.ReminderIntervalUnit),
		t.SortOrder, t.CreatedAt, t.UpdatedAt, t.IsMIT, t.AudioPath, int(t.RepeatType))
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted id: %w", err)
	}
	return id, nil
}

func updateTask(ctx context.Context, q querier, t domain.Task) error {
	optInt := func(p *int) any {
		if p == nil {
			return nil
		}
		return *p
	}
	optInt64 := func(p *int64) any {
		if p == nil {
			return nil
		}
		return *p
	}
	_, err := q.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, estimated_minutes = ?,
			due_epoch_day = ?, due_timestamp = ?, tags = ?, quadrant = ?,
			status = ?, is_pinned = ?, reminder_enabled = ?,
			reminder_interval_value = ?, reminder_interval_unit = ?,
			sort_order = ?, created_at = ?, updated_at = ?, is_mit = ?,
			audio_path = ?, repeat_type = ?
		WHERE id = ?`,
		t.Title, t.Description, optInt(t.EstimatedMinutes), optInt64(t.DueEpochDay),
		optInt64(t.DueTimestamp), t.Tags, int(t.Quadrant), int(t.Status), t.IsPinned,
		t.ReminderEnabled, optInt(t.ReminderIntervalValue), int(t.ReminderIntervalUnit),
		t.SortOrder, t.CreatedAt, t.UpdatedAt, t.IsMIT, t.AudioPath, int(t.RepeatType), t.ID)
	if err != nil {
		return fmt.Errorf("update task %d: %w", t.ID, err)
	}
	return nil
}

func listQuadrant(ctx context.Context, q querier, quadrant domain.Quadrant) ([]domain.Task, error) {
	return queryTasks(ctx, q, `SELECT `+taskColumns+` FROM tasks WHERE quadrant = ?`+displayOrderClause, int(quadrant))
}

func (t *txQueries) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	return getTask(ctx, t.q, id)
}

func (t *txQueries) InsertTask(ctx context.Context, task domain.Task) (int64, error) {
	return insertTask(ctx, t.q, task)
}

func (t *txQueries) UpdateTask(ctx context.Context, task domain.Task) error {
	return updateTask(ctx, t.q, task)
}

func (t *txQueries) DeleteTask(ctx context.Context, id int64) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}

func (t *txQueries) ListQuadrant(ctx context.Context, q domain.Quadrant) ([]domain.Task, error) {
	return listQuadrant(ctx, t.q, q)
}

func (t *txQueries) MinPinnedSortOrder(ctx context.Context, q domain.Quadrant) (int64, bool, error) {
	var min sql.NullInt64
	err := t.q.QueryRowContext(ctx,
		`SELECT MIN(sort_order) FROM tasks WHERE quadrant = ? AND is_pinned = 1`, int(q)).Scan(&min)
	if err != nil {
		return 0, false, fmt.Errorf("min pinned sort order: %w", err)
	}
	return min.Int64, min.Valid, nil
}

func (t *txQueries) MaxUnpinnedSortOrder(ctx context.Context, q domain.Quadrant) (int64, bool, error) {
	var max sql.NullInt64
	err := t.q.QueryRowContext(ctx,
		`SELECT MAX(sort_order) FROM tasks WHERE quadrant = ? AND is_pinned = 0`, int(q)).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("max unpinned sort order: %w", err)
	}
	return max.Int64, max.Valid, nil
}

func (t *txQueries) ClearMIT(ctx context.Context) error {
	if _, err := t.q.ExecContext(ctx, `UPDATE tasks SET is_mit = 0 WHERE is_mit = 1`); err != nil {
		return fmt.Errorf("clear mit: %w", err)
	}
	return nil
}

func (t *txQueries) SetMIT(ctx context.Context, id int64) error {
	if _, err := t.q.ExecContext(ctx, `UPDATE tasks SET is_mit = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("set mit %d: %w", id, err)
	}
	return nil
}

func (t *txQueries) OverdueCandidates(ctx context.Context) ([]domain.Task, error) {
	return queryTasks(ctx, t.q, `SELECT `+taskColumns+` FROM tasks
		WHERE status = ? AND (due_timestamp IS NOT NULL OR due_epoch_day IS NOT NULL)`,
		int(domain.StatusInProgress))
}

func (t *txQueries) MarkOverdue(ctx context.Context, ids []int64, now int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+2)
	args = append(args, int(domain.StatusOverdue), now)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := t.q.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark overdue: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	return getTask(ctx, s.db, id)
}

func (s *Store) ListQuadrant(ctx context.Context, q domain.Quadrant) ([]domain.Task, error) {
	return listQuadrant(ctx, s.db, q)
}

// ListTodayQuadrant returns the quadrant's non-completed tasks that are
// undated, due today or earlier, or created today.
func (s *Store) ListTodayQuadrant(ctx context.Context, q domain.Quadrant, todayEpochDay, todayStart, todayEnd int64) ([]domain.Task, error) {
	return queryTasks(ctx, s.db, `SELECT `+taskColumns+` FROM tasks
		WHERE quadrant = ? AND status != ?
		AND ((due_epoch_day IS NULL AND due_timestamp IS NULL)
			OR (due_epoch_day IS NOT NULL AND due_epoch_day <= ?)
			OR (due_timestamp IS NOT NULL AND due_timestamp <= ?)
			OR (created_at BETWEEN ? AND ?))`+displayOrderClause,
		int(q), int(domain.StatusCompleted), todayEpochDay, todayEnd, todayStart, todayEnd)
}

func (s *Store) ListDueRange(ctx context.Context, startDay, endDay, startMillis, endMillis int64) ([]domain.Task, error) {
	return queryTasks(ctx, s.db, `SELECT `+taskColumns+` FROM tasks
		WHERE (due_epoch_day IS NOT NULL AND due_epoch_day BETWEEN ? AND ?)
		   OR (due_timestamp IS NOT NULL AND due_timestamp BETWEEN ? AND ?)
		ORDER BY id`,
		startDay, endDay, startMillis, endMillis)
}

func (s *Store) ListCreatedRange(ctx context.Context, startMillis, endMillis int64) ([]domain.Task, error) {
	return queryTasks(ctx, s.db, `SELECT `+taskColumns+` FROM tasks
		WHERE created_at BETWEEN ? AND ? ORDER BY created_at`, startMillis, endMillis)
}

func (s *Store) ListActive(ctx context.Context) ([]domain.Task, error) {
	return queryTasks(ctx, s.db, `SELECT `+taskColumns+` FROM tasks
		WHERE status != ?`+displayOrderClause, int(domain.StatusCompleted))
}

func (s *Store) ListAll(ctx context.Context) ([]domain.Task, error) {
	return queryTasks(ctx, s.db, `SELECT `+taskColumns+` FROM tasks`+displayOrderClause)
}

func (s *Store) ListReminderCandidates(ctx context.Context) ([]domain.Task, error) {
	return queryTasks(ctx, s.db, `SELECT `+taskColumns+` FROM tasks
		WHERE reminder_enabled = 1 AND status != ?
		AND (due_timestamp IS NOT NULL OR due_epoch_day IS NOT NULL)`,
		int(domain.StatusCompleted))
}

// Search matches the query case-insensitively against title, description
// and tags.
func (s *Store) Search(ctx context.Context, query string) ([]domain.Task, error) {
	pattern := "%" + escapeLike(query) + "%"
	return queryTasks(ctx, s.db, `SELECT `+taskColumns+` FROM tasks
		WHERE title LIKE ? ESCAPE '\'
		   OR description LIKE ? ESCAPE '\'
		   OR tags LIKE ? ESCAPE '\'`+displayOrderClause,
		pattern, pattern, pattern)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Store) GetMIT(ctx context.Context) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE is_mit = 1 AND status != ? LIMIT 1`, int(domain.StatusCompleted))
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mit: %w", err)
	}
	return &t, nil
}
