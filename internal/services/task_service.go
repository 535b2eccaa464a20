package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/earnhub/backend/internal/models"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/lib/pq"
)

const availableTasksLimit = 20

// CreateTaskRequest is the admin payload for a new task
// @Description Task creation structure
type CreateTaskRequest struct {
	Title       string          `json:"title" validate:"required,min=3,max=140" example:"Visit our sponsor"`
	Description string          `json:"description" validate:"max=2000"`
	URL         string          `json:"url" validate:"required,url" example:"https://example.com"`
	Type        models.TaskType `json:"type" validate:"required,tasktype" example:"visit"`
	Reward      int64           `json:"reward" validate:"required,gt=0" example:"250"`
}

// UpdateTaskRequest changes only the fields that are set.
type UpdateTaskRequest struct {
	Title       *string          `json:"title,omitempty" validate:"omitempty,min=3,max=140"`
	Description *string          `json:"description,omitempty" validate:"omitempty,max=2000"`
	URL         *string          `json:"url,omitempty" validate:"omitempty,url"`
	Type        *models.TaskType `json:"type,omitempty" validate:"omitempty,tasktype"`
	Reward      *int64           `json:"reward,omitempty" validate:"omitempty,gt=0"`
	Active      *bool            `json:"active,omitempty"`
}

// TaskService manages the task catalogue. Completion itself lives in
// SettlementService.
type TaskService struct {
	db    *sql.DB
	newID func() string
}

func NewTaskService(db *sql.DB) *TaskService {
	return &TaskService{db: db, newID: uuid.NewString}
}

const taskColumns = `id, slug, title, description, url, type, reward, active, COALESCE(created_by::text, ''), created_at`

func scanTask(row rowScanner, extra ...any) (*models.Task, error) {
	var t models.Task
	var taskType string
	dest := append([]any{&t.ID, &t.Slug, &t.Title, &t.Description, &t.URL, &taskType, &t.Reward, &t.Active, &t.CreatedBy, &t.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	t.Type = models.TaskType(taskType)
	return &t, nil
}

// taskSlug appends a short suffix of the id so equal titles never collide.
func taskSlug(title, id string) string {
	suffix := strings.ReplaceAll(id, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	base := slug.Make(title)
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}

func (s *TaskService) CreateTask(ctx context.Context, admin models.Identity, req CreateTaskRequest) (*models.Task, error) {
	if !admin.IsAdmin() {
		return nil, models.ErrAdminRequired
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown task type %q", req.Type)
	}
	if req.Reward <= 0 {
		return nil, fmt.Errorf("%w: reward must be positive", models.ErrInvalidAmount)
	}

	t := &models.Task{
		ID:          s.newID(),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		URL:         strings.TrimSpace(req.URL),
		Type:        req.Type,
		Reward:      req.Reward,
		Active:      true,
		CreatedBy:   admin.UserID,
		CompletedBy: []string{},
	}
	t.Slug = taskSlug(t.Title, t.ID)

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, slug, title, description, url, type, reward, active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8)
		RETURNING created_at`,
		t.ID, t.Slug, t.Title, t.Description, t.URL, string(t.Type), t.Reward, admin.UserID).Scan(&t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	log.Printf("[TASKS] Admin %s created task %s (%s, reward %d)", admin.UserID, t.ID, t.Slug, t.Reward)
	return t, nil
}

func (s *TaskService) UpdateTask(ctx context.Context, admin models.Identity, taskID string, req UpdateTaskRequest) (*models.Task, error) {
	if !admin.IsAdmin() {
		return nil, models.ErrAdminRequired
	}
	if req.Type != nil && !req.Type.Valid() {
		return nil, fmt.Errorf("unknown task type %q", *req.Type)
	}
	if req.Reward != nil && *req.Reward <= 0 {
		return nil, fmt.Errorf("%w: reward must be positive", models.ErrInvalidAmount)
	}

	var taskType *string
	if req.Type != nil {
		v := string(*req.Type)
		taskType = &v
	}

	t, err := scanTask(s.db.QueryRowContext(ctx, `
		UPDATE tasks SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			url = COALESCE($4, url),
			type = COALESCE($5, type),
			reward = COALESCE($6, reward),
			active = COALESCE($7, active)
		WHERE id = $1
		RETURNING `+taskColumns,
		taskID, req.Title, req.Description, req.URL, taskType, req.Reward, req.Active))
	if err == sql.ErrNoRows {
		return nil, models.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	log.Printf("[TASKS] Admin %s updated task %s", admin.UserID, taskID)
	return t, nil
}

// SetActive toggles whether the task can still be completed.
func (s *TaskService) SetActive(ctx context.Context, admin models.Identity, taskID string, active bool) (*models.Task, error) {
	return s.UpdateTask(ctx, admin, taskID, UpdateTaskRequest{Active: &active})
}

// DeleteTask removes a task nobody has completed. A task with
// completions is deactivated instead so the ledger keeps its reference;
// the returned bool reports whether the row was actually deleted.
func (s *TaskService) DeleteTask(ctx context.Context, admin models.Identity, taskID string) (bool, error) {
	if !admin.IsAdmin() {
		return false, models.ErrAdminRequired
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE id = $1 AND cardinality(completed_by) = 0`, taskID)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		log.Printf("[TASKS] Admin %s deleted task %s", admin.UserID, taskID)
		return true, nil
	}

	result, err = s.db.ExecContext(ctx, `UPDATE tasks SET active = FALSE WHERE id = $1`, taskID)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return false, models.ErrTaskNotFound
	}
	log.Printf("[TASKS] Admin %s deactivated completed task %s instead of deleting it", admin.UserID, taskID)
	return false, nil
}

func (s *TaskService) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if err == sql.ErrNoRows {
		return nil, models.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return t, nil
}

// TaskSummary is the admin view of a task with its completion count.
type TaskSummary struct {
	models.Task
	Completions int `json:"completions"`
}

// ListTasks pages through every task, newest first.
func (s *TaskService) ListTasks(ctx context.Context, page, pageSize int) (models.Page[TaskSummary], error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&total); err != nil {
		return models.Page[TaskSummary]{}, fmt.Errorf("failed to count tasks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`, completed_by
		FROM tasks
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, pageSize, (page-1)*pageSize)
	if err != nil {
		return models.Page[TaskSummary]{}, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskSummary
	for rows.Next() {
		var completedBy pq.StringArray
		t, err := scanTask(rows, &completedBy)
		if err != nil {
			return models.Page[TaskSummary]{}, fmt.Errorf("failed to scan task: %w", err)
		}
		t.CompletedBy = completedBy
		out = append(out, TaskSummary{Task: *t, Completions: len(completedBy)})
	}
	if err := rows.Err(); err != nil {
		return models.Page[TaskSummary]{}, err
	}
	return models.NewPage(out, total, page, pageSize), nil
}

// AvailableTasks lists active tasks the user has not completed yet,
// newest first. An empty taskType matches every type.
func (s *TaskService) AvailableTasks(ctx context.Context, userID string, taskType models.TaskType) ([]models.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE active AND NOT ($1 = ANY(completed_by)) AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3`, userID, string(taskType), availableTasksLimit)
}

// CompletedTasks lists the tasks the user has completed.
func (s *TaskService) CompletedTasks(ctx context.Context, userID string) ([]models.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE $1 = ANY(completed_by)
		ORDER BY created_at DESC`, userID)
}

func (s *TaskService) queryTasks(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}
