package queue

import (
	"context"
	"strings"
	"time"

	"github.com/quailyquaily/nightshift/db/models"
	"github.com/quailyquaily/nightshift/internal/strutil"
)

const projectCountsSelect = `project_id,
	MAX(project_name) AS project_name,
	COUNT(*) AS total_tasks,
	SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END) AS pending,
	SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END) AS in_progress,
	SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS completed,
	SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) AS failed,
	MIN(created_at) AS first_created_at`

type projectRow struct {
	ProjectID      string
	ProjectName    *string
	TotalTasks     int
	Pending        int
	InProgress     int
	Completed      int
	Failed         int
	FirstCreatedAt int64
}

func (r projectRow) summary() ProjectSummary {
	name := strings.TrimSpace(deref(r.ProjectName))
	if name == "" {
		name = r.ProjectID
	}
	return ProjectSummary{
		ProjectID:   r.ProjectID,
		ProjectName: name,
		TotalTasks:  r.TotalTasks,
		Pending:     r.Pending,
		InProgress:  r.InProgress,
		Completed:   r.Completed,
		Failed:      r.Failed,
	}
}

func (q *Queue) Status(ctx context.Context) (StatusCounts, error) {
	var rows []struct {
		Status string
		N      int
	}
	err := q.store.DB().WithContext(ctx).
		Model(&models.Task{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return StatusCounts{}, err
	}
	var out StatusCounts
	for _, r := range rows {
		out.Total += r.N
		switch Status(r.Status) {
		case StatusPending:
			out.Pending = r.N
		case StatusInProgress:
			out.InProgress = r.N
		case StatusCompleted:
			out.Completed = r.N
		case StatusFailed:
			out.Failed = r.N
		case StatusCancelled:
			out.Cancelled = r.N
		}
	}
	return out, nil
}

// Projects lists every project that has at least one task, sorted by id.
func (q *Queue) Projects(ctx context.Context) ([]ProjectSummary, error) {
	var rows []projectRow
	err := q.store.DB().WithContext(ctx).
		Model(&models.Task{}).
		Select(projectCountsSelect).
		Where("project_id IS NOT NULL AND project_id <> ''").
		Group("project_id").
		Order("project_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]ProjectSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.summary())
	}
	return out, nil
}

// Project returns nil when no task carries projectID.
func (q *Queue) Project(ctx context.Context, projectID string) (*ProjectDetail, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, nil
	}
	var rows []projectRow
	err := q.store.DB().WithContext(ctx).
		Model(&models.Task{}).
		Select(projectCountsSelect).
		Where("project_id = ?", projectID).
		Group("project_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].TotalTasks == 0 {
		return nil, nil
	}

	var latest []models.Task
	err = q.store.DB().WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC, id DESC").
		Limit(5).
		Find(&latest).Error
	if err != nil {
		return nil, err
	}
	detail := &ProjectDetail{
		ProjectSummary: rows[0].summary(),
		CreatedAt:      time.UnixMilli(rows[0].FirstCreatedAt),
		Recent:         make([]TaskBrief, 0, len(latest)),
	}
	for _, t := range latest {
		detail.Recent = append(detail.Recent, TaskBrief{
			ID:          t.ID,
			Description: strutil.TruncateRunes(t.Description, 50),
			Status:      Status(t.Status),
		})
	}
	return detail, nil
}

func (q *Queue) ProjectTasks(ctx context.Context, projectID string) ([]Task, error) {
	var rows []models.Task
	err := q.store.DB().WithContext(ctx).
		Where("project_id = ?", strings.TrimSpace(projectID)).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rowsToTasks(rows), nil
}

func (q *Queue) Recent(ctx context.Context, limit int) ([]Task, error) {
	return q.listByCreated(ctx, "", clampLimit(limit))
}

func (q *Queue) Failed(ctx context.Context, limit int) ([]Task, error) {
	return q.listByCreated(ctx, StatusFailed, clampLimit(limit))
}

func (q *Queue) listByCreated(ctx context.Context, status Status, limit int) ([]Task, error) {
	tx := q.store.DB().WithContext(ctx).Model(&models.Task{})
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	var rows []models.Task
	if err := tx.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rowsToTasks(rows), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > 200 {
		return 200
	}
	return limit
}
