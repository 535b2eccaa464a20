package handlers

import (
	"context"
	"net/http"

	"github.com/earnhub/backend/internal/models"
	"github.com/earnhub/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

// TaskCatalogue is the task listing and management surface.
type TaskCatalogue interface {
	CreateTask(ctx context.Context, admin models.Identity, req services.CreateTaskRequest) (*models.Task, error)
	UpdateTask(ctx context.Context, admin models.Identity, taskID string, req services.UpdateTaskRequest) (*models.Task, error)
	SetActive(ctx context.Context, admin models.Identity, taskID string, active bool) (*models.Task, error)
	DeleteTask(ctx context.Context, admin models.Identity, taskID string) (bool, error)
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	ListTasks(ctx context.Context, page, pageSize int) (models.Page[services.TaskSummary], error)
	AvailableTasks(ctx context.Context, userID string, taskType models.TaskType) ([]models.Task, error)
	CompletedTasks(ctx context.Context, userID string) ([]models.Task, error)
}

// TaskSettler credits a completed task.
type TaskSettler interface {
	CompleteTask(ctx context.Context, userID, taskID string) (*services.TaskCompletion, error)
}

type TaskHandler struct {
	tasks     TaskCatalogue
	settler   TaskSettler
	validator *services.ValidationHelper
}

func NewTaskHandler(tasks TaskCatalogue, settler TaskSettler) *TaskHandler {
	return &TaskHandler{tasks: tasks, settler: settler, validator: services.NewValidationHelper()}
}

func orEmpty(tasks []models.Task) []models.Task {
	if tasks == nil {
		return []models.Task{}
	}
	return tasks
}

// Available lists active tasks the caller has not completed
// @Summary Available tasks
// @Tags Tasks
// @Produce json
// @Security BearerAuth
// @Param type query string false "Task type filter"
// @Success 200 {array} models.Task
// @Failure 400 {object} services.ErrorResponse
// @Router /tasks [get]
func (h *TaskHandler) Available(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	taskType := models.TaskType(r.URL.Query().Get("type"))
	if taskType != "" && !taskType.Valid() {
		services.SendErrorResponse(w, "Unknown task type", http.StatusBadRequest, nil)
		return
	}

	tasks, err := h.tasks.AvailableTasks(r.Context(), id.UserID, taskType)
	if err != nil {
		sendServiceError(w, "TASK", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(tasks))
}

// Completed lists the tasks the caller has completed
// @Summary Completed tasks
// @Tags Tasks
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Task
// @Router /tasks/completed [get]
func (h *TaskHandler) Completed(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	tasks, err := h.tasks.CompletedTasks(r.Context(), id.UserID)
	if err != nil {
		sendServiceError(w, "TASK", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(tasks))
}

// Complete records the caller's completion of a task and credits the reward
// @Summary Complete task
// @Tags Tasks
// @Produce json
// @Security BearerAuth
// @Param taskId path string true "Task ID"
// @Success 200 {object} services.TaskCompletion
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 429 {object} services.ErrorResponse
// @Router /tasks/{taskId}/complete [post]
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	completion, err := h.settler.CompleteTask(r.Context(), id.UserID, chi.URLParam(r, "taskId"))
	if err != nil {
		sendServiceError(w, "TASK", err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}

// List pages through every task with its completion count
// @Summary List all tasks (admin)
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} models.Page[services.TaskSummary]
// @Router /admin/tasks [get]
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	tasks, err := h.tasks.ListTasks(r.Context(), page, pageSize)
	if err != nil {
		sendServiceError(w, "TASK", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// Get returns one task
// @Summary Get task (admin)
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param taskId path string true "Task ID"
// @Success 200 {object} models.Task
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/tasks/{taskId} [get]
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.GetTask(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		sendServiceError(w, "TASK", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Create adds a task
// @Summary Create task (admin)
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CreateTaskRequest true "Task"
// @Success 201 {object} models.Task
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/tasks [post]
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req services.CreateTaskRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	task, err := h.tasks.CreateTask(r.Context(), id, req)
	if err != nil {
		sendServiceError(w, "TASK", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// Update changes the fields present in the body
// @Summary Update task (admin)
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param taskId path string true "Task ID"
// @Param request body services.UpdateTaskRequest true "Changes"
// @Success 200 {object} models.Task
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/tasks/{taskId} [patch]
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req services.UpdateTaskRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	task, err := h.tasks.UpdateTask(r.Context(), id, chi.URLParam(r, "taskId"), req)
	if err != nil {
		sendServiceError(w, "TASK", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Activate makes a task available again
// @Summary Activate task (admin)
// @Tags Admin
// @Security BearerAuth
// @Param taskId path string true "Task ID"
// @Success 200 {object} models.Task
// @Router /admin/tasks/{taskId}/activate [put]
func (h *TaskHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// Deactivate hides a task from members
// @Summary Deactivate task (admin)
// @Tags Admin
// @Security BearerAuth
// @Param taskId path string true "Task ID"
// @Success 200 {object} models.Task
// @Router /admin/tasks/{taskId}/deactivate [put]
func (h *TaskHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *TaskHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	task, err := h.tasks.SetActive(r.Context(), id, chi.URLParam(r, "taskId"), active)
	if err != nil {
		sendServiceError(w, "TASK", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Delete removes a task nobody has completed, otherwise deactivates it
// @Summary Delete task (admin)
// @Tags Admin
// @Security BearerAuth
// @Param taskId path string true "Task ID"
// @Success 200 {object} object{deleted=bool}
// @Router /admin/tasks/{taskId} [delete]
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	deleted, err := h.tasks.DeleteTask(r.Context(), id, chi.URLParam(r, "taskId"))
	if err != nil {
		sendServiceError(w, "TASK", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}
