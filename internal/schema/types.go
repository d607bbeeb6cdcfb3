package schema

import (
	"fmt"

	"github.com/google/uuid"
)

// EnterpriseType is the livestock category a record belongs to.
type EnterpriseType string

const (
	Dairy   EnterpriseType = "dairy"
	Poultry EnterpriseType = "poultry"
	// General is only valid for tasks that are not tied to an enterprise.
	General EnterpriseType = "general"
)

// LivestockTypes lists the enterprise types a transaction can belong to.
var LivestockTypes = []EnterpriseType{Dairy, Poultry}

// ParseEnterpriseType converts user input into an EnterpriseType.
func ParseEnterpriseType(s string) (EnterpriseType, error) {
	switch et := EnterpriseType(s); et {
	case Dairy, Poultry, General:
		return et, nil
	}
	return "", fmt.Errorf("unknown enterprise type %q (want dairy, poultry or general)", s)
}

// IsLivestock reports whether et is dairy or poultry.
func (et EnterpriseType) IsLivestock() bool {
	return et == Dairy || et == Poultry
}

// Direction carries the sign of a transaction.
type Direction string

const (
	Income  Direction = "income"
	Expense Direction = "expense"
)

// ParseDirection converts user input into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Income, Expense:
		return d, nil
	}
	return "", fmt.Errorf("unknown transaction type %q (want income or expense)", s)
}

// TaskStatus is the completion state of a task.
type TaskStatus string

const (
	Pending   TaskStatus = "pending"
	Completed TaskStatus = "completed"
)

// Priority ranks tasks. Medium is the default for tasks stored without one.
type Priority string

const (
	Low    Priority = "low"
	Medium Priority = "medium"
	High   Priority = "high"
)

// ParsePriority converts user input into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case Low, Medium, High:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q (want low, medium or high)", s)
}

// NewID returns a fresh random identifier for a transaction or task.
func NewID() string {
	return uuid.NewString()
}
