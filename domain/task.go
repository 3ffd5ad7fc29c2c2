package domain

import (
	"strings"
	"time"
)

// Status is the board column a task lives in.
type Status string

const (
	StatusTodo       Status = "Todo"
	StatusInProgress Status = "InProgress"
	StatusDone       Status = "Done"
)

// Statuses returns the board columns in display order.
func Statuses() []Status {
	return []Status{StatusTodo, StatusInProgress, StatusDone}
}

// Valid reports whether s is one of the fixed columns.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// ParseStatus converts user input into a Status. The legacy "In Progress"
// spelling is accepted.
func ParseStatus(v string) (Status, error) {
	switch strings.TrimSpace(v) {
	case "Todo":
		return StatusTodo, nil
	case "InProgress", "In Progress":
		return StatusInProgress, nil
	case "Done":
		return StatusDone, nil
	}
	return "", invalid("status", ErrInvalidStatus)
}

// Priority is a display attribute only; it does not affect ordering.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is the canonical board item owned by the hub.
type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	AssignedTo  *int64    `json:"assignedTo"`
	Priority    Priority  `json:"priority"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share the assignee pointer.
func (t Task) Clone() Task {
	if t.AssignedTo != nil {
		v := *t.AssignedTo
		t.AssignedTo = &v
	}
	return t
}

// Assignee returns the assigned user id and whether one is set.
func (t Task) Assignee() (int64, bool) {
	if t.AssignedTo == nil {
		return 0, false
	}
	return *t.AssignedTo, true
}
