package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	v "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/kolgrow/kolgrow/internal/models"
	"github.com/kolgrow/kolgrow/internal/template"
)

// CreateTaskRequest is the request body for POST /outreach-tasks
type CreateTaskRequest struct {
	TargetKOLID         string   `json:"target_kol_id"`
	Name                string   `json:"name"`
	TaskType            string   `json:"task_type"`
	DMWithoutFollowBack bool     `json:"dm_without_follow_back"`
	PoolWide            bool     `json:"pool_wide"`
	MessageTemplates    []string `json:"message_templates"`
	TargetCount         int      `json:"target_count"`
}

func (b CreateTaskRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.TargetKOLID, v.Required),
		v.Field(&b.Name, v.Required, v.Length(1, 256)),
		v.Field(&b.TaskType, v.Required, v.In("follow", "dm", "follow_dm")),
		v.Field(&b.TargetCount, v.Required, v.Min(1), v.Max(10000)),
	)
}

// UpdateTaskRequest is the request body for PUT /outreach-tasks/{id}
type UpdateTaskRequest struct {
	Name                *string   `json:"name"`
	TaskType            *string   `json:"task_type"`
	DMWithoutFollowBack *bool     `json:"dm_without_follow_back"`
	PoolWide            *bool     `json:"pool_wide"`
	MessageTemplates    *[]string `json:"message_templates"`
}

func (b UpdateTaskRequest) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.TaskType, v.In("follow", "dm", "follow_dm")),
	)
}

// validateTemplates rejects DM tasks whose templates fail to parse or
// that carry none at all.
func validateTemplates(taskType models.TaskType, templates []string) error {
	if taskType == models.TaskFollow {
		return nil
	}
	if len(templates) == 0 {
		return v.Errors{"message_templates": v.NewError("required", "dm tasks need at least one message template")}
	}
	engine := template.NewEngine()
	for _, t := range templates {
		if err := engine.Validate(t); err != nil {
			return v.Errors{"message_templates": v.NewError("invalid", err.Error())}
		}
	}
	return nil
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	filter := models.TaskListFilter{
		TenantID:    s.tenantID(r),
		TargetKOLID: r.URL.Query().Get("target_kol_id"),
		Status:      models.TaskStatus(r.URL.Query().Get("status")),
		Limit:       limit,
		Offset:      (page - 1) * limit,
	}

	tasks, total, err := s.deps.Tasks.List(filter)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendList(w, tasks, total, page, limit)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateTemplates(models.TaskType(req.TaskType), req.MessageTemplates); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	kol, err := s.deps.KOLs.GetByID(req.TargetKOLID)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	if kol == nil || kol.TenantID != s.tenantID(r) {
		s.sendError(w, http.StatusNotFound, "target kol not found")
		return
	}

	task := &models.OutreachTask{
		TenantID:            kol.TenantID,
		TargetKOLID:         kol.ID,
		Name:                req.Name,
		TaskType:            models.TaskType(req.TaskType),
		Platform:            kol.Platform,
		DMWithoutFollowBack: req.DMWithoutFollowBack,
		PoolWide:            req.PoolWide,
		MessageTemplates:    req.MessageTemplates,
		TargetCount:         req.TargetCount,
	}
	if err := s.deps.Tasks.Create(task); err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) *models.OutreachTask {
	task, err := s.deps.Tasks.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.sendErr(w, err)
		return nil
	}
	if task == nil || task.TenantID != s.tenantID(r) {
		s.sendError(w, http.StatusNotFound, "outreach task not found")
		return nil
	}
	return task
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if task := s.getTask(w, r); task != nil {
		s.sendJSON(w, http.StatusOK, task)
	}
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	task := s.getTask(w, r)
	if task == nil {
		return
	}
	if task.Status != models.TaskPending {
		s.sendError(w, http.StatusConflict, "only pending tasks can be edited")
		return
	}

	var req UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Name != nil {
		task.Name = *req.Name
	}
	if req.TaskType != nil {
		task.TaskType = models.TaskType(*req.TaskType)
	}
	if req.DMWithoutFollowBack != nil {
		task.DMWithoutFollowBack = *req.DMWithoutFollowBack
	}
	if req.PoolWide != nil {
		task.PoolWide = *req.PoolWide
	}
	if req.MessageTemplates != nil {
		task.MessageTemplates = *req.MessageTemplates
	}
	if err := validateTemplates(task.TaskType, task.MessageTemplates); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Tasks.Update(task); err != nil {
		s.sendError(w, http.StatusConflict, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	task := s.getTask(w, r)
	if task == nil {
		return
	}
	if task.Status == models.TaskRunning {
		s.sendError(w, http.StatusConflict, "running tasks cannot be deleted")
		return
	}
	if err := s.deps.Tasks.Delete(task.ID); err != nil {
		s.sendError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	task := s.getTask(w, r)
	if task == nil {
		return
	}

	if err := s.deps.Scheduler.Start(r.Context(), task.ID); err != nil {
		s.sendErr(w, err)
		return
	}

	started, err := s.deps.Tasks.GetByID(task.ID)
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusAccepted, started)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	task := s.getTask(w, r)
	if task == nil {
		return
	}

	if !s.deps.Scheduler.Cancel(task.ID) {
		s.sendError(w, http.StatusConflict, "task is not running")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}
