package domain

import (
	"time"

	"github.com/google/uuid"
)

// Action is the verb shown in the activity feed.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
	ActionMoved   Action = "moved"
)

// ActivityEntry is one human-readable line of board history. Informational
// only; nothing reconciles against it.
type ActivityEntry struct {
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	TaskID    int64     `json:"taskId"`
	TaskTitle string    `json:"task"`
	Status    Status    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	UserID    int64     `json:"userId,omitempty"`
	User      string    `json:"user"`
}

// Summary renders the action the way the activity sidebar shows it.
func (a ActivityEntry) Summary() string {
	switch a.Action {
	case ActionCreated:
		return "created task"
	case ActionUpdated:
		return "updated task"
	case ActionDeleted:
		return "deleted task"
	case ActionMoved:
		return "moved task to " + string(a.Status)
	}
	return string(a.Action)
}

// NewActivity builds the entry for ev. title and status are snapshots taken
// by the caller: a deleted event carries neither, so they come from whatever
// the caller last knew about the task.
func NewActivity(ev Event, title string, status Status, r Roster) (ActivityEntry, error) {
	action, err := ev.Action()
	if err != nil {
		return ActivityEntry{}, err
	}
	switch {
	case ev.Task != nil:
		title, status = ev.Task.Title, ev.Task.Status
	case ev.Move != nil:
		title, status = ev.Move.TaskTitle, ev.Move.NewStatus
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	user := r.Attribute(ev.Actor)
	return ActivityEntry{
		ID:        uuid.NewString(),
		Action:    action,
		TaskID:    ev.TaskID,
		TaskTitle: title,
		Status:    status,
		Timestamp: ts,
		UserID:    user.ID,
		User:      user.DisplayName,
	}, nil
}
