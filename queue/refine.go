package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/quailyquaily/nightshift/db/models"
	"github.com/quailyquaily/nightshift/internal/strutil"
	"gorm.io/gorm"
)

// RefinementParentKey is the context key a follow-up task uses to point at
// the task it refines.
const RefinementParentKey = "refinement_parent_task_id"

const refineDescriptionRunes = 140

// EnsureRefinement queues a serious REFINE task that continues parent's
// work in the same project. It returns nil when a pending or running
// refinement of parent already exists.
func (q *Queue) EnsureRefinement(ctx context.Context, parent Task) (*Task, error) {
	label := parent.ProjectName
	if strings.TrimSpace(label) == "" {
		label = "project"
	}
	in := NewTask{
		Description: fmt.Sprintf("Refine %s: %s", label, strutil.TruncateRunes(parent.Description, refineDescriptionRunes)),
		Priority:    PrioritySerious,
		TaskType:    TaskTypeRefine,
		Context: map[string]any{
			"generated_by":      "refinement",
			RefinementParentKey: parent.ID,
			"generated_at":      q.now().UTC().Format("2006-01-02T15:04:05"),
		},
		AssignedTo:  parent.AssignedTo,
		ThreadTS:    parent.ThreadTS,
		ProjectID:   parent.ProjectID,
		ProjectName: parent.ProjectName,
	}
	if err := q.validate.Validate(in); err != nil {
		return nil, err
	}

	var created *Task
	err := q.store.Write(ctx, func(tx *gorm.DB) error {
		created = nil
		var open []models.Task
		err := tx.Where("status IN ? AND context IS NOT NULL", []string{string(StatusPending), string(StatusInProgress)}).
			Find(&open).Error
		if err != nil {
			return err
		}
		for _, row := range open {
			if id, ok := ParentTaskID(row.Context[RefinementParentKey]); ok && id == parent.ID {
				return nil
			}
		}
		row := models.Task{
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
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		t := rowToTask(row)
		created = &t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ensure refinement: %w", err)
	}
	if created == nil {
		q.log.Debug("refinement_exists", "parent_task_id", parent.ID)
		return nil, nil
	}
	q.log.Info("refinement_queued", "task_id", created.ID, "parent_task_id", parent.ID, "project_id", created.ProjectID)
	return created, nil
}

// ParentTaskID reads a task id out of a decoded context value. Stored
// contexts decode numbers as json.Number; fresh maps carry Go ints or
// float64.
func ParentTaskID(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		id, err := n.Int64()
		return id, err == nil && id > 0
	case float64:
		return int64(n), n > 0
	case int64:
		return n, n > 0
	case int:
		return int64(n), n > 0
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return id, err == nil && id > 0
	default:
		return 0, false
	}
}
