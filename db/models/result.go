package models

import "gorm.io/datatypes"

type Result struct {
	ID                    int64                       `gorm:"column:id;primaryKey;autoIncrement"`
	TaskID                int64                       `gorm:"column:task_id;not null;index:idx_results_task"`
	Output                *string                     `gorm:"column:output;type:text"`
	FilesModified         datatypes.JSONSlice[string] `gorm:"column:files_modified"`
	CommandsExecuted      datatypes.JSONSlice[string] `gorm:"column:commands_executed"`
	ProcessingTimeSeconds *int                        `gorm:"column:processing_time_seconds"`
	GitCommitSHA          *string                     `gorm:"column:git_commit_sha;type:text"`
	GitPRURL              *string                     `gorm:"column:git_pr_url;type:text"`
	GitBranch             *string                     `gorm:"column:git_branch;type:text"`
	WorkspacePath         *string                     `gorm:"column:workspace_path;type:text"`
	CreatedAt             int64                       `gorm:"column:created_at;not null;autoCreateTime:milli"`
}

func (Result) TableName() string { return "results" }

// UsageMetric is written once per execution and never updated.
type UsageMetric struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement"`
	TaskID        int64   `gorm:"column:task_id;not null;index:idx_usage_task"`
	TotalCostUSD  *string `gorm:"column:total_cost_usd;type:text"`
	DurationMs    *int64  `gorm:"column:duration_ms"`
	DurationAPIMs *int64  `gorm:"column:duration_api_ms"`
	NumTurns      *int    `gorm:"column:num_turns"`
	ProjectID     *string `gorm:"column:project_id;type:text;index:idx_usage_project"`
	CreatedAt     int64   `gorm:"column:created_at;not null;autoCreateTime:milli;index:idx_usage_created"`
}

func (UsageMetric) TableName() string { return "usage_metrics" }
