package store

import (
	"strings"
	"time"
)

// Priority is the urgency bucket of a task.
type Priority string

const (
	PriorityLow  Priority = "low"
	PriorityHigh Priority = "high"
)

// ParsePriority keeps "low" and "high" as given; any other value, including
// "HIGH" and the empty string, becomes PriorityLow.
func ParsePriority(s string) Priority {
	switch p := Priority(s); p {
	case PriorityLow, PriorityHigh:
		return p
	}
	return PriorityLow
}

const DateLayout = "2006-01-02"

// ParseDueDate validates a calendar date. Blank input means "no due date".
func ParseDueDate(s string) (*string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, invalidf("due_date %q is not a YYYY-MM-DD date", s)
	}
	out := t.Format(DateLayout)
	return &out, nil
}

func normalizeDueDate(d *string) (*string, error) {
	if d == nil {
		return nil, nil
	}
	return ParseDueDate(*d)
}

// Task is one persisted todo.
type Task struct {
	ID        int64    `json:"id" db:"id"`
	Title     string   `json:"title" db:"title"`
	Completed bool     `json:"completed" db:"completed"`
	Priority  Priority `json:"priority" db:"priority"`
	DueDate   *string  `json:"due_date" db:"due_date"`
	Position  int64    `json:"position" db:"position"`
}

// NewTask carries the caller-controlled fields of Create.
type NewTask struct {
	Title    string
	Priority Priority
	DueDate  *string
}

// TaskUpdate replaces every mutable field except Position. KeepPriority and
// KeepDueDate leave the stored value in place within the same statement.
type TaskUpdate struct {
	Title        string
	Completed    bool
	Priority     Priority
	DueDate      *string
	KeepPriority bool
	KeepDueDate  bool
}

const selectColumns = "id, title, completed, priority, due_date, position"

// normalize repairs values older rows may carry: unknown priorities and
// empty due dates.
func (t *Task) normalize() {
	t.Priority = ParsePriority(string(t.Priority))
	if t.DueDate != nil && *t.DueDate == "" {
		t.DueDate = nil
	}
}
