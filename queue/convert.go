package queue

import (
	"strings"
	"time"

	"github.com/quailyquaily/nightshift/db/models"
	"gorm.io/datatypes"
)

func rowToTask(r models.Task) Task {
	t := Task{
		ID:           r.ID,
		Description:  r.Description,
		Priority:     Priority(r.Priority),
		TaskType:     TaskType(r.TaskType),
		Status:       Status(r.Status),
		CreatedAt:    time.UnixMilli(r.CreatedAt),
		StartedAt:    millisToTime(r.StartedAt),
		CompletedAt:  millisToTime(r.CompletedAt),
		DeletedAt:    millisToTime(r.DeletedAt),
		AttemptCount: r.AttemptCount,
		ErrorMessage: deref(r.ErrorMessage),
		ResultID:     r.ResultID,
		AssignedTo:   deref(r.AssignedTo),
		ThreadTS:     deref(r.SlackThreadTS),
		ProjectID:    deref(r.ProjectID),
		ProjectName:  deref(r.ProjectName),
	}
	if len(r.Context) > 0 {
		t.Context = map[string]any(r.Context)
	}
	return t
}

func rowsToTasks(rows []models.Task) []Task {
	out := make([]Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToTask(r))
	}
	return out
}

// contextToColumn stores an empty context as NULL.
func contextToColumn(m map[string]any) datatypes.JSONMap {
	if len(m) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func millisToTime(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.UnixMilli(*v)
	return &t
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
