package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind names a canonical, persisted mutation.
type EventKind string

const (
	TaskCreated EventKind = "task-created"
	TaskUpdated EventKind = "task-updated"
	TaskDeleted EventKind = "task-deleted"
	TaskMoved   EventKind = "task-moved"
)

// Move is the task-moved payload. The title travels with it so activity
// feeds can render without a lookup.
type Move struct {
	TaskID    int64  `json:"taskId"`
	NewStatus Status `json:"newStatus"`
	TaskTitle string `json:"taskTitle"`
}

// Event is what the hub broadcasts after a mutation is persisted. Seq is the
// position of the mutation in the hub's single global order.
type Event struct {
	Kind  EventKind
	Seq   int64
	Actor int64
	Time  time.Time

	Task   *Task
	TaskID int64
	Move   *Move
}

func CreatedEvent(t Task) Event { return Event{Kind: TaskCreated, Task: &t, TaskID: t.ID} }

func UpdatedEvent(t Task) Event { return Event{Kind: TaskUpdated, Task: &t, TaskID: t.ID} }

func DeletedEvent(id int64) Event { return Event{Kind: TaskDeleted, TaskID: id} }

func MovedEvent(id int64, st Status, title string) Event {
	return Event{Kind: TaskMoved, TaskID: id, Move: &Move{TaskID: id, NewStatus: st, TaskTitle: title}}
}

// Action maps the event onto its activity verb.
func (e Event) Action() (Action, error) {
	switch e.Kind {
	case TaskCreated:
		return ActionCreated, nil
	case TaskUpdated:
		return ActionUpdated, nil
	case TaskDeleted:
		return ActionDeleted, nil
	case TaskMoved:
		return ActionMoved, nil
	}
	return "", fmt.Errorf("event: %w %q", ErrUnknownKind, e.Kind)
}

type eventEnvelope struct {
	Type  EventKind       `json:"type"`
	Seq   int64           `json:"seq"`
	Actor int64           `json:"actor,omitempty"`
	Time  time.Time       `json:"time"`
	Data  json.RawMessage `json:"data"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch e.Kind {
	case TaskCreated, TaskUpdated:
		if e.Task == nil {
			return nil, fmt.Errorf("event %s: missing task", e.Kind)
		}
		data, err = json.Marshal(e.Task)
	case TaskDeleted:
		data, err = json.Marshal(e.TaskID)
	case TaskMoved:
		if e.Move == nil {
			return nil, fmt.Errorf("event %s: missing move", e.Kind)
		}
		data, err = json.Marshal(e.Move)
	default:
		return nil, fmt.Errorf("event: %w %q", ErrUnknownKind, e.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{Type: e.Kind, Seq: e.Seq, Actor: e.Actor, Time: e.Time, Data: data})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	out := Event{Kind: env.Type, Seq: env.Seq, Actor: env.Actor, Time: env.Time}
	switch env.Type {
	case TaskCreated, TaskUpdated:
		var t Task
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return fmt.Errorf("event %s: %w", env.Type, err)
		}
		out.Task = &t
		out.TaskID = t.ID
	case TaskDeleted:
		if err := json.Unmarshal(env.Data, &out.TaskID); err != nil {
			return fmt.Errorf("event %s: %w", env.Type, err)
		}
	case TaskMoved:
		var mv Move
		if err := json.Unmarshal(env.Data, &mv); err != nil {
			return fmt.Errorf("event %s: %w", env.Type, err)
		}
		out.Move = &mv
		out.TaskID = mv.TaskID
	default:
		return fmt.Errorf("event: %w %q", ErrUnknownKind, env.Type)
	}
	*e = out
	return nil
}
