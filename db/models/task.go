package models

import "gorm.io/datatypes"

// Task timestamps are unix milliseconds. Nullable columns are pointers.
type Task struct {
	ID            int64             `gorm:"column:id;primaryKey;autoIncrement"`
	Description   string            `gorm:"column:description;type:text;not null"`
	Priority      string            `gorm:"column:priority;type:text;not null;default:thought"`
	TaskType      string            `gorm:"column:task_type;type:text;not null;default:new;index:idx_tasks_type;index:idx_tasks_type_status,priority:1"`
	Status        string            `gorm:"column:status;type:text;not null;default:pending;index:idx_tasks_status;index:idx_tasks_project_status,priority:2;index:idx_tasks_status_created,priority:1;index:idx_tasks_type_status,priority:2"`
	CreatedAt     int64             `gorm:"column:created_at;not null;autoCreateTime:milli;index:idx_tasks_created;index:idx_tasks_status_created,priority:2"`
	StartedAt     *int64            `gorm:"column:started_at"`
	CompletedAt   *int64            `gorm:"column:completed_at"`
	DeletedAt     *int64            `gorm:"column:deleted_at"`
	AttemptCount  int               `gorm:"column:attempt_count;not null;default:0"`
	ErrorMessage  *string           `gorm:"column:error_message;type:text"`
	ResultID      *int64            `gorm:"column:result_id"`
	Context       datatypes.JSONMap `gorm:"column:context"`
	AssignedTo    *string           `gorm:"column:assigned_to;type:text"`
	SlackThreadTS *string           `gorm:"column:slack_thread_ts;type:text"`
	ProjectID     *string           `gorm:"column:project_id;type:text;index:idx_tasks_project;index:idx_tasks_project_status,priority:1"`
	ProjectName   *string           `gorm:"column:project_name;type:text"`
}

func (Task) TableName() string { return "tasks" }
