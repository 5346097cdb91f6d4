package repository

import (
	"testing"
	"time"

	"github.com/kolgrow/kolgrow/internal/models"
)

func seedTask(t *testing.T, repo *TaskRepository, tenantID, kolID string) *models.OutreachTask {
	t.Helper()

	task := &models.OutreachTask{
		TenantID:         tenantID,
		TargetKOLID:      kolID,
		Name:             "follow wave",
		TaskType:         models.TaskFollowDM,
		Platform:         models.PlatformX,
		MessageTemplates: []string{"hey {{username}}!"},
	}
	if err := repo.Create(task); err != nil {
		t.Fatalf("failed to seed task: %v", err)
	}
	return task
}

func TestTaskCreateAndGet(t *testing.T) {
	d := setupTestDB(t)
	repo := NewTaskRepository(d)

	kol := seedKOL(t, d, "t1", "kol1")
	task := seedTask(t, repo, "t1", kol.ID)

	got, err := repo.GetByID(task.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected task, got nil")
	}
	if got.Status != models.TaskPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
	if len(got.MessageTemplates) != 1 || got.MessageTemplates[0] != "hey {{username}}!" {
		t.Errorf("templates not round-tripped: %v", got.MessageTemplates)
	}
}

func TestTaskMarkRunningOnce(t *testing.T) {
	d := setupTestDB(t)
	repo := NewTaskRepository(d)

	kol := seedKOL(t, d, "t1", "kol1")
	task := seedTask(t, repo, "t1", kol.ID)

	now := time.Now()
	ok, err := repo.MarkRunning(task.ID, 10, now)
	if err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if !ok {
		t.Fatal("first start should succeed")
	}

	ok, err = repo.MarkRunning(task.ID, 10, now)
	if err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if ok {
		t.Error("second start should be rejected")
	}

	got, _ := repo.GetByID(task.ID)
	if got.Status != models.TaskRunning || got.TargetCount != 10 || got.StartedAt == nil {
		t.Errorf("unexpected task: %+v", got)
	}
}

func TestTaskRecordResultAndFinish(t *testing.T) {
	d := setupTestDB(t)
	repo := NewTaskRepository(d)

	kol := seedKOL(t, d, "t1", "kol1")
	task := seedTask(t, repo, "t1", kol.ID)
	repo.MarkRunning(task.ID, 3, time.Now())

	repo.RecordResult(task.ID, true)
	repo.RecordResult(task.ID, true)
	repo.RecordResult(task.ID, false)

	if err := repo.Finish(task.ID, models.TaskCompleted, "", time.Now()); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	got, _ := repo.GetByID(task.ID)
	if got.ProcessedCount != 3 || got.SuccessCount != 2 || got.FailedCount != 1 {
		t.Errorf("unexpected counters: %+v", got)
	}
	if got.Status != models.TaskCompleted || got.CompletedAt == nil {
		t.Errorf("unexpected terminal state: %+v", got)
	}
}

func TestTaskUpdateOnlyPending(t *testing.T) {
	d := setupTestDB(t)
	repo := NewTaskRepository(d)

	kol := seedKOL(t, d, "t1", "kol1")
	task := seedTask(t, repo, "t1", kol.ID)

	task.Name = "renamed"
	if err := repo.Update(task); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	repo.MarkRunning(task.ID, 1, time.Now())
	task.Name = "too late"
	if err := repo.Update(task); err == nil {
		t.Error("expected error updating a running task")
	}
}

func TestTaskDeleteNotRunning(t *testing.T) {
	d := setupTestDB(t)
	repo := NewTaskRepository(d)

	kol := seedKOL(t, d, "t1", "kol1")
	task := seedTask(t, repo, "t1", kol.ID)
	repo.MarkRunning(task.ID, 1, time.Now())

	if err := repo.Delete(task.ID); err == nil {
		t.Error("expected error deleting a running task")
	}

	repo.Finish(task.ID, models.TaskFailed, "no accounts", time.Now())
	if err := repo.Delete(task.ID); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
}

func TestTaskSummary(t *testing.T) {
	d := setupTestDB(t)
	repo := NewTaskRepository(d)

	kol := seedKOL(t, d, "t1", "kol1")
	now := time.Now()

	done := seedTask(t, repo, "t1", kol.ID)
	repo.MarkRunning(done.ID, 2, now)
	repo.RecordResult(done.ID, true)
	repo.RecordResult(done.ID, false)
	repo.Finish(done.ID, models.TaskCompleted, "", now)

	running := seedTask(t, repo, "t1", kol.ID)
	repo.MarkRunning(running.ID, 5, now)
	repo.RecordResult(running.ID, true)

	seedTask(t, repo, "t1", kol.ID) // pending

	summary, err := repo.Summary("t1")
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.TotalTasks != 3 || summary.Completed != 1 || summary.Running != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.TotalProcessed != 3 || summary.TotalSuccess != 2 {
		t.Errorf("unexpected totals: %+v", summary)
	}
	want := float64(2) / 3 * 100
	if summary.SuccessRate < want-0.01 || summary.SuccessRate > want+0.01 {
		t.Errorf("expected success rate %.2f, got %.2f", want, summary.SuccessRate)
	}
}

func TestTaskSummaryEmpty(t *testing.T) {
	d := setupTestDB(t)
	repo := NewTaskRepository(d)

	summary, err := repo.Summary("empty")
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.TotalTasks != 0 || summary.SuccessRate != 0 {
		t.Errorf("expected zero summary, got %+v", summary)
	}
}
