package models

import "time"

// TaskType selects which actions an outreach task performs.
type TaskType string

const (
	TaskFollow   TaskType = "follow"
	TaskDM       TaskType = "dm"
	TaskFollowDM TaskType = "follow_dm"
)

// ValidTaskType reports whether t is a known task type.
func ValidTaskType(t TaskType) bool {
	return t == TaskFollow || t == TaskDM || t == TaskFollowDM
}

// TaskStatus is the execution status of an outreach task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// OutreachTask is a campaign definition driven by the scheduler.
// Counters are monotonically non-decreasing until the task is terminal.
type OutreachTask struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenant_id"`
	TargetKOLID string   `json:"target_kol_id"`
	Name        string   `json:"name"`
	TaskType    TaskType `json:"task_type"`
	Platform    Platform `json:"platform"`

	// DMWithoutFollowBack lets a dm-capable task message targets that
	// are still in followed state, skipping the follow_back stage.
	DMWithoutFollowBack bool `json:"dm_without_follow_back"`
	// PoolWide lets the task draw unassigned accounts from the shared
	// pool when the KOL's own accounts are exhausted.
	PoolWide bool `json:"pool_wide"`

	MessageTemplates []string `json:"message_templates,omitempty"`

	TargetCount    int `json:"target_count"`
	ProcessedCount int `json:"processed_count"`
	SuccessCount   int `json:"success_count"`
	FailedCount    int `json:"failed_count"`

	Status       TaskStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskListFilter for listing outreach tasks
type TaskListFilter struct {
	TenantID    string
	TargetKOLID string
	Status      TaskStatus
	Limit       int
	Offset      int
}

// TaskSummary aggregates task execution across a tenant.
type TaskSummary struct {
	TotalTasks     int     `json:"total_tasks"`
	Completed      int     `json:"completed"`
	Running        int     `json:"running"`
	Failed         int     `json:"failed"`
	TotalProcessed int     `json:"total_processed"`
	TotalSuccess   int     `json:"total_success"`
	SuccessRate    float64 `json:"success_rate"`
}
