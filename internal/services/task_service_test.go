package services

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/earnhub/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTaskService(t *testing.T) (*TaskService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := NewTaskService(db)
	svc.newID = func() string { return "7f3c2a91-0000-4000-8000-000000000001" }
	return svc, mock
}

var taskCols = []string{"id", "slug", "title", "description", "url", "type", "reward", "active", "created_by", "created_at"}

func taskRow(id string, active bool) []driver.Value {
	return []driver.Value{id, "visit-our-sponsor-7f3c2a91", "Visit our sponsor", "", "https://example.com", "visit", int64(250), active, "admin-1", testNow}
}

func TestTaskSlug(t *testing.T) {
	assert.Equal(t, "visit-our-sponsor-7f3c2a91", taskSlug("Visit our Sponsor!", "7f3c2a91-0000-4000"))
	assert.Equal(t, "abcd1234", taskSlug("!!!", "abcd1234-ffff"))
}

func TestTaskService_CreateTask(t *testing.T) {
	ctx := context.Background()
	req := CreateTaskRequest{Title: "Visit our sponsor", URL: "https://example.com", Type: models.TaskTypeVisit, Reward: 250}

	t.Run("admin creates a slugged task", func(t *testing.T) {
		svc, mock := newTestTaskService(t)

		mock.ExpectQuery("INSERT INTO tasks").
			WithArgs("7f3c2a91-0000-4000-8000-000000000001", "visit-our-sponsor-7f3c2a91", "Visit our sponsor", "", "https://example.com", "visit", int64(250), "admin-1").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(testNow))

		task, err := svc.CreateTask(ctx, adminIdentity, req)
		require.NoError(t, err)
		assert.True(t, task.Active)
		assert.Equal(t, "visit-our-sponsor-7f3c2a91", task.Slug)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("users cannot create tasks", func(t *testing.T) {
		svc, _ := newTestTaskService(t)

		_, err := svc.CreateTask(ctx, models.Identity{UserID: "u1", Role: models.RoleUser}, req)
		assert.ErrorIs(t, err, models.ErrAdminRequired)
	})

	t.Run("non-positive reward", func(t *testing.T) {
		svc, _ := newTestTaskService(t)
		bad := req
		bad.Reward = 0

		_, err := svc.CreateTask(ctx, adminIdentity, bad)
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})
}

func TestTaskService_SetActive(t *testing.T) {
	svc, mock := newTestTaskService(t)

	mock.ExpectQuery(`UPDATE tasks SET .* WHERE id = \$1 RETURNING`).
		WithArgs("t1", nil, nil, nil, nil, nil, false).
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(taskRow("t1", false)...))

	task, err := svc.SetActive(context.Background(), adminIdentity, "t1", false)
	require.NoError(t, err)
	assert.False(t, task.Active)

	mock.ExpectQuery("UPDATE tasks SET").WillReturnRows(sqlmock.NewRows(taskCols))
	_, err = svc.SetActive(context.Background(), adminIdentity, "missing", true)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskService_DeleteTask(t *testing.T) {
	ctx := context.Background()

	t.Run("uncompleted task is deleted", func(t *testing.T) {
		svc, mock := newTestTaskService(t)

		mock.ExpectExec(`DELETE FROM tasks WHERE id = \$1 AND cardinality\(completed_by\) = 0`).
			WithArgs("t1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		deleted, err := svc.DeleteTask(ctx, adminIdentity, "t1")
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completed task is deactivated", func(t *testing.T) {
		svc, mock := newTestTaskService(t)

		mock.ExpectExec("DELETE FROM tasks").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`UPDATE tasks SET active = FALSE WHERE id = \$1`).
			WithArgs("t1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		deleted, err := svc.DeleteTask(ctx, adminIdentity, "t1")
		require.NoError(t, err)
		assert.False(t, deleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing task", func(t *testing.T) {
		svc, mock := newTestTaskService(t)

		mock.ExpectExec("DELETE FROM tasks").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("UPDATE tasks SET active = FALSE").WillReturnResult(sqlmock.NewResult(0, 0))

		_, err := svc.DeleteTask(ctx, adminIdentity, "nope")
		assert.ErrorIs(t, err, models.ErrTaskNotFound)
	})
}

func TestTaskService_AvailableTasks(t *testing.T) {
	svc, mock := newTestTaskService(t)

	mock.ExpectQuery(`WHERE active AND NOT \(\$1 = ANY\(completed_by\)\) AND \(\$2 = '' OR type = \$2\) ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("u1", "visit", 20).
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(taskRow("t1", true)...).AddRow(taskRow("t2", true)...))

	tasks, err := svc.AvailableTasks(context.Background(), "u1", models.TaskTypeVisit)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	assert.Equal(t, models.TaskTypeVisit, tasks[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskService_CompletedTasksEmpty(t *testing.T) {
	svc, mock := newTestTaskService(t)

	mock.ExpectQuery(`WHERE \$1 = ANY\(completed_by\)`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(taskCols))

	tasks, err := svc.CompletedTasks(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
}

func TestTaskService_ListTasks(t *testing.T) {
	svc, mock := newTestTaskService(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`completed_by FROM tasks ORDER BY created_at DESC LIMIT \$1 OFFSET \$2`).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows(append(taskCols, "completed_by")).
			AddRow(append(taskRow("t1", true), driver.Value("{u1,u2}"))...))

	page, err := svc.ListTasks(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, 2, page.Data[0].Completions)
	assert.Equal(t, []string{"u1", "u2"}, page.Data[0].CompletedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}
