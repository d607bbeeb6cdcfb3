package schema

import (
	"fmt"
	"time"
)

// Task is a farm chore scheduled on a day, optionally at a time of day.
type Task struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Date  time.Time `json:"date"`
	// Time is a 24h "HH:MM" time of day. Empty means any time.
	Time           string         `json:"time"`
	EnterpriseType EnterpriseType `json:"livestockType"`
	Description    string         `json:"description"`
	Status         TaskStatus     `json:"status"`
	Priority       Priority       `json:"priority,omitempty"`
	Reminder       bool           `json:"reminder"`
}

// Validate checks the edit boundary rules for a task.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 200 {
		return fmt.Errorf("title must be 200 characters or less (got %d)", len(t.Title))
	}
	if t.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if t.Time != "" {
		if _, err := time.Parse("15:04", t.Time); err != nil {
			return fmt.Errorf("time must be HH:MM (got %q)", t.Time)
		}
	}
	switch t.EnterpriseType {
	case Dairy, Poultry, General:
	default:
		return fmt.Errorf("enterprise type must be dairy, poultry or general (got %q)", t.EnterpriseType)
	}
	if t.Status != Pending && t.Status != Completed {
		return fmt.Errorf("status must be pending or completed (got %q)", t.Status)
	}
	switch t.Priority {
	case Low, Medium, High:
	default:
		return fmt.Errorf("priority must be low, medium or high (got %q)", t.Priority)
	}
	return nil
}

// AnyTime reports whether the task has no specific time of day.
func (t *Task) AnyTime() bool {
	return t.Time == ""
}

// Toggle flips the task between pending and completed.
func (t *Task) Toggle() {
	if t.Status == Completed {
		t.Status = Pending
		return
	}
	t.Status = Completed
}
