package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/nightshift/db/models"
	"gorm.io/gorm"
)

const pendingOrder = "CASE priority WHEN 'serious' THEN 0 WHEN 'thought' THEN 1 ELSE 2 END ASC, created_at ASC, id ASC"

// Queue is the durable task queue. Every mutation is a single transaction
// through Store.Write.
type Queue struct {
	store    *Store
	now      func() time.Time
	log      *slog.Logger
	validate *inputValidator
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(q *Queue) {
		if log != nil {
			q.log = log
		}
	}
}

func New(store *Store, opts ...Option) *Queue {
	q := &Queue{
		store:    store,
		now:      time.Now,
		log:      slog.Default(),
		validate: newInputValidator(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Store() *Store { return q.store }

func (q *Queue) Add(ctx context.Context, in NewTask) (*Task, error) {
	in.Description = strings.TrimSpace(in.Description)
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.ProjectName = strings.TrimSpace(in.ProjectName)
	if in.Priority == "" {
		in.Priority = PriorityThought
	}
	if in.TaskType == "" {
		in.TaskType = TaskTypeNew
	}
	if err := q.validate.Validate(in); err != nil {
		return nil, err
	}

	var row models.Task
	err := q.store.Write(ctx, func(tx *gorm.DB) error {
		row = models.Task{
			Description:   in.Description,
			Priority:      string(in.Priority),
			TaskType:      string(in.TaskType),
			Status:        string(StatusPending),
			CreatedAt:     q.now().UnixMilli(),
			Context:       contextToColumn(in.Context),
			AssignedTo:    optionalString(in.AssignedTo),
			SlackThreadTS: optionalString(in.ThreadTS),
			ProjectID:     optionalString(in.ProjectID),
			ProjectName:   optionalString(in.ProjectName),
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("add task: %w", err)
	}
	t := rowToTask(row)
	q.log.Info("task_added",
		"task_id", t.ID,
		"priority", string(t.Priority),
		"task_type", string(t.TaskType),
		"project_id", t.ProjectID,
	)
	return &t, nil
}

// Get returns nil when the id does not exist.
func (q *Queue) Get(ctx context.Context, id int64) (*Task, error) {
	var row models.Task
	if err := q.store.DB().WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	t := rowToTask(row)
	return &t, nil
}

// Context returns the decoded context map of a task, or nil when the task
// does not exist or carries none.
func (q *Queue) Context(ctx context.Context, id int64) (map[string]any, error) {
	t, err := q.Get(ctx, id)
	if err != nil || t == nil {
		return nil, err
	}
	return t.Context, nil
}

// Pending lists up to limit pending tasks: serious first, then thought, then
// everything else, oldest first within a class.
func (q *Queue) Pending(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []models.Task
	err := q.store.DB().WithContext(ctx).
		Where("status = ?", string(StatusPending)).
		Order(pendingOrder).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rowsToTasks(rows), nil
}

func (q *Queue) InProgress(ctx context.Context) ([]Task, error) {
	var rows []models.Task
	err := q.store.DB().WithContext(ctx).
		Where("status = ?", string(StatusInProgress)).
		Order("started_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rowsToTasks(rows), nil
}

// MarkInProgress does not look at the current status; the scheduler runs one
// task at a time and is the only caller.
func (q *Queue) MarkInProgress(ctx context.Context, id int64) (*Task, error) {
	return q.update(ctx, id, func(_ *models.Task, now int64) map[string]any {
		return map[string]any{
			"status":        string(StatusInProgress),
			"started_at":    now,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}
	})
}

func (q *Queue) MarkCompleted(ctx context.Context, id int64, resultID int64) (*Task, error) {
	return q.update(ctx, id, func(_ *models.Task, now int64) map[string]any {
		return map[string]any{
			"status":       string(StatusCompleted),
			"completed_at": now,
			"result_id":    resultID,
		}
	})
}

// MarkFailed keeps an existing completed_at so a task that completed before a
// pause and later fails still reports its original finish time.
func (q *Queue) MarkFailed(ctx context.Context, id int64, errMsg string) (*Task, error) {
	return q.update(ctx, id, func(row *models.Task, now int64) map[string]any {
		changes := map[string]any{
			"status":        string(StatusFailed),
			"error_message": errMsg,
		}
		if row.CompletedAt == nil {
			changes["completed_at"] = now
		}
		return changes
	})
}

// Cancel soft-deletes a pending task. Tasks in any other state are returned
// unchanged.
func (q *Queue) Cancel(ctx context.Context, id int64) (*Task, error) {
	return q.update(ctx, id, func(row *models.Task, now int64) map[string]any {
		if Status(row.Status) != StatusPending {
			return nil
		}
		return map[string]any{
			"status":     string(StatusCancelled),
			"deleted_at": now,
		}
	})
}

func (q *Queue) UpdatePriority(ctx context.Context, id int64, p Priority) (*Task, error) {
	parsed, err := ParsePriority(string(p))
	if err != nil {
		return nil, err
	}
	return q.update(ctx, id, func(_ *models.Task, _ int64) map[string]any {
		return map[string]any{"priority": string(parsed)}
	})
}

// TimeoutExpired fails every in-progress task started more than maxAge ago
// and returns them. Selection and update share one transaction, so a task is
// reported by exactly one call.
func (q *Queue) TimeoutExpired(ctx context.Context, maxAge time.Duration) ([]Task, error) {
	if maxAge <= 0 {
		return nil, nil
	}
	msg := fmt.Sprintf("Timed out after exceeding %d minute limit.", int64(maxAge/time.Minute))

	var out []Task
	err := q.store.Write(ctx, func(tx *gorm.DB) error {
		out = nil
		now := q.now()
		cutoff := now.Add(-maxAge).UnixMilli()

		var rows []models.Task
		err := tx.Where("status = ? AND started_at IS NOT NULL AND started_at < ?", string(StatusInProgress), cutoff).
			Order("id ASC").
			Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		nowMs := now.UnixMilli()
		err = tx.Model(&models.Task{}).
			Where("id IN ? AND status = ?", ids, string(StatusInProgress)).
			Updates(map[string]any{
				"status":        string(StatusFailed),
				"completed_at":  nowMs,
				"error_message": msg,
			}).Error
		if err != nil {
			return err
		}
		for i := range rows {
			rows[i].Status = string(StatusFailed)
			rows[i].CompletedAt = &nowMs
			rows[i].ErrorMessage = &msg
		}
		out = rowsToTasks(rows)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("timeout expired tasks: %w", err)
	}
	if len(out) > 0 {
		ids := make([]int64, 0, len(out))
		for _, t := range out {
			ids = append(ids, t.ID)
		}
		q.log.Warn("tasks_timed_out", "task_ids", ids, "max_age", maxAge.String())
	}
	return out, nil
}

// DeleteProject cancels every pending task of the project and returns how
// many were cancelled. Running and finished tasks are left alone.
func (q *Queue) DeleteProject(ctx context.Context, projectID string) (int, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return 0, nil
	}
	var n int64
	err := q.store.Write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.Task{}).
			Where("project_id = ? AND status = ?", projectID, string(StatusPending)).
			Updates(map[string]any{
				"status":     string(StatusCancelled),
				"deleted_at": q.now().UnixMilli(),
			})
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete project: %w", err)
	}
	if n > 0 {
		q.log.Info("project_tasks_cancelled", "project_id", projectID, "count", n)
	}
	return int(n), nil
}

type changeFunc func(row *models.Task, now int64) map[string]any

// update loads the task, applies the changes returned by fn and reloads it,
// all in one transaction. A missing id yields (nil, nil).
func (q *Queue) update(ctx context.Context, id int64, fn changeFunc) (*Task, error) {
	var out *Task
	err := q.store.Write(ctx, func(tx *gorm.DB) error {
		out = nil
		var row models.Task
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		changes := fn(&row, q.now().UnixMilli())
		if len(changes) > 0 {
			if err := tx.Model(&models.Task{}).Where("id = ?", id).Updates(changes).Error; err != nil {
				return err
			}
			if err := tx.First(&row, "id = ?", id).Error; err != nil {
				return err
			}
		}
		t := rowToTask(row)
		out = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
