package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kolgrow/kolgrow/internal/models"
)

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, tenant_id, target_kol_id, name, task_type, platform,
	dm_without_follow_back, pool_wide, message_templates,
	target_count, processed_count, success_count, failed_count,
	status, COALESCE(error_message, ''), started_at, completed_at, created_at, updated_at`

func scanTask(row interface {
	Scan(dest ...interface{}) error
}) (*models.OutreachTask, error) {
	t := &models.OutreachTask{}
	var templatesJSON sql.NullString
	var started, completed sql.NullTime

	err := row.Scan(&t.ID, &t.TenantID, &t.TargetKOLID, &t.Name, &t.TaskType, &t.Platform,
		&t.DMWithoutFollowBack, &t.PoolWide, &templatesJSON,
		&t.TargetCount, &t.ProcessedCount, &t.SuccessCount, &t.FailedCount,
		&t.Status, &t.ErrorMessage, &started, &completed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if templatesJSON.Valid && templatesJSON.String != "" {
		json.Unmarshal([]byte(templatesJSON.String), &t.MessageTemplates)
	}
	t.StartedAt = timePtr(started)
	t.CompletedAt = timePtr(completed)
	return t, nil
}

// Create creates a new outreach task
func (r *TaskRepository) Create(t *models.OutreachTask) error {
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	if t.Status == "" {
		t.Status = models.TaskPending
	}

	templatesJSON, _ := json.Marshal(t.MessageTemplates)

	_, err := r.db.Exec(`
		INSERT INTO outreach_tasks (id, tenant_id, target_kol_id, name, task_type, platform,
			dm_without_follow_back, pool_wide, message_templates, target_count, status,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.TargetKOLID, t.Name, t.TaskType, t.Platform,
		t.DMWithoutFollowBack, t.PoolWide, string(templatesJSON), t.TargetCount, t.Status,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outreach task: %w", err)
	}
	return nil
}

// GetByID returns a task by ID, or nil when not found
func (r *TaskRepository) GetByID(id string) (*models.OutreachTask, error) {
	t, err := scanTask(r.db.QueryRow(
		"SELECT "+taskColumns+" FROM outreach_tasks WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// List returns tasks matching the filter plus the unpaginated total
func (r *TaskRepository) List(filter models.TaskListFilter) ([]models.OutreachTask, int, error) {
	where := " WHERE tenant_id = ?"
	args := []interface{}{filter.TenantID}

	if filter.TargetKOLID != "" {
		where += " AND target_kol_id = ?"
		args = append(args, filter.TargetKOLID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM outreach_tasks"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + taskColumns + " FROM outreach_tasks" + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tasks []models.OutreachTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, total, rows.Err()
}

// MarkRunning moves a pending task to running. Returns false when the
// task was not pending, so a task cannot be started twice.
func (r *TaskRepository) MarkRunning(id string, targetCount int, at time.Time) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE outreach_tasks SET status = 'running', target_count = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		targetCount, at, at, id,
	)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// RecordResult bumps the task's progress counters after one target
func (r *TaskRepository) RecordResult(id string, success bool) error {
	col := "failed_count"
	if success {
		col = "success_count"
	}
	_, err := r.db.Exec(`
		UPDATE outreach_tasks SET processed_count = processed_count + 1,
			`+col+" = "+col+` + 1, updated_at = ?
		WHERE id = ?`, time.Now(), id)
	return err
}

// Finish moves a running task to its terminal status
func (r *TaskRepository) Finish(id string, status models.TaskStatus, errMsg string, at time.Time) error {
	_, err := r.db.Exec(`
		UPDATE outreach_tasks SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`,
		status, nullString(errMsg), at, at, id,
	)
	return err
}

// Update updates an editable (pending) task definition
func (r *TaskRepository) Update(t *models.OutreachTask) error {
	t.UpdatedAt = time.Now()
	templatesJSON, _ := json.Marshal(t.MessageTemplates)

	result, err := r.db.Exec(`
		UPDATE outreach_tasks SET
			name = ?, task_type = ?, dm_without_follow_back = ?, pool_wide = ?,
			message_templates = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		t.Name, t.TaskType, t.DMWithoutFollowBack, t.PoolWide,
		string(templatesJSON), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("task not found or not pending")
	}
	return nil
}

// Delete removes a task unless it is running
func (r *TaskRepository) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM outreach_tasks WHERE id = ? AND status != 'running'", id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("task not found or running")
	}
	return nil
}

// Summary aggregates task execution across a tenant
func (r *TaskRepository) Summary(tenantID string) (*models.TaskSummary, error) {
	s := &models.TaskSummary{}
	err := r.db.QueryRow(`
		SELECT COUNT(*),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			SUM(processed_count), SUM(success_count)
		FROM outreach_tasks WHERE tenant_id = ?`, tenantID,
	).Scan(&s.TotalTasks, &nullInt{&s.Completed}, &nullInt{&s.Running}, &nullInt{&s.Failed},
		&nullInt{&s.TotalProcessed}, &nullInt{&s.TotalSuccess})
	if err != nil {
		return nil, err
	}

	if s.TotalProcessed > 0 {
		s.SuccessRate = float64(s.TotalSuccess) / float64(s.TotalProcessed) * 100
	}
	return s, nil
}
