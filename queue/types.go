package queue

import (
	"fmt"
	"strings"
	"time"
)

type Priority string

const (
	PrioritySerious   Priority = "serious"
	PriorityThought   Priority = "thought"
	PriorityGenerated Priority = "generated"
)

// Rank orders priorities for scheduling. Lower runs first; anything that is
// not serious or thought shares the last rank.
func (p Priority) Rank() int {
	switch p {
	case PrioritySerious:
		return 0
	case PriorityThought:
		return 1
	default:
		return 2
	}
}

func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return PriorityThought, nil
	case PrioritySerious:
		return PrioritySerious, nil
	case PriorityThought, "random":
		return PriorityThought, nil
	case PriorityGenerated:
		return PriorityGenerated, nil
	default:
		return "", fmt.Errorf("unknown priority %q (want serious|thought|generated)", s)
	}
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

type TaskType string

const (
	TaskTypeNew    TaskType = "new"
	TaskTypeRefine TaskType = "refine"
)

func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(strings.ToLower(strings.TrimSpace(s))) {
	case "", TaskTypeNew:
		return TaskTypeNew, nil
	case TaskTypeRefine:
		return TaskTypeRefine, nil
	default:
		return "", fmt.Errorf("unknown task type %q (want new|refine)", s)
	}
}

type Task struct {
	ID           int64          `json:"id"`
	Description  string         `json:"description"`
	Priority     Priority       `json:"priority"`
	TaskType     TaskType       `json:"task_type"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DeletedAt    *time.Time     `json:"deleted_at,omitempty"`
	AttemptCount int            `json:"attempt_count"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ResultID     *int64         `json:"result_id,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	AssignedTo   string         `json:"assigned_to,omitempty"`
	ThreadTS     string         `json:"slack_thread_ts,omitempty"`
	ProjectID    string         `json:"project_id,omitempty"`
	ProjectName  string         `json:"project_name,omitempty"`
}

// NewTask is the input accepted by Queue.Add.
type NewTask struct {
	Description string         `validate:"required,max=20000"`
	Priority    Priority       `validate:"omitempty,oneof=serious thought generated"`
	TaskType    TaskType       `validate:"omitempty,oneof=new refine"`
	Context     map[string]any `validate:"-"`
	AssignedTo  string         `validate:"max=200"`
	ThreadTS    string         `validate:"max=200"`
	ProjectID   string         `validate:"omitempty,max=120"`
	ProjectName string         `validate:"max=200"`
}

type StatusCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

type ProjectSummary struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	TotalTasks  int    `json:"total_tasks"`
	Pending     int    `json:"pending"`
	InProgress  int    `json:"in_progress"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
}

type TaskBrief struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Status      Status `json:"status"`
}

type ProjectDetail struct {
	ProjectSummary
	CreatedAt time.Time   `json:"created_at"`
	Recent    []TaskBrief `json:"tasks"`
}
