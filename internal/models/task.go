package models

import "time"

type TaskType string

const (
	TaskTypeVisit  TaskType = "visit"
	TaskTypeSignup TaskType = "signup"
	TaskTypeShare  TaskType = "share"
)

// Valid reports whether t is one of the recognised task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeVisit, TaskTypeSignup, TaskTypeShare:
		return true
	}
	return false
}

// Task is an advertiser action that pays Reward once per user.
// CompletedBy only ever grows.
type Task struct {
	ID          string    `json:"id" db:"id"`
	Slug        string    `json:"slug" db:"slug"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	URL         string    `json:"url" db:"url"`
	Type        TaskType  `json:"type" db:"type"`
	Reward      int64     `json:"reward" db:"reward"`
	Active      bool      `json:"active" db:"active"`
	CreatedBy   string    `json:"created_by" db:"created_by"`
	CompletedBy []string  `json:"completed_by" db:"completed_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// CompletedByUser reports whether userID already completed the task.
func (t *Task) CompletedByUser(userID string) bool {
	for _, id := range t.CompletedBy {
		if id == userID {
			return true
		}
	}
	return false
}
