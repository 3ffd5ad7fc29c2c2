package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Draft is the create payload. The hub assigns id and timestamps.
type Draft struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status,omitempty"`
	AssignedTo  *int64   `json:"assignedTo,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
}

// Normalize trims the title, fills defaults and validates the draft.
func (d Draft) Normalize() (Draft, error) {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return d, invalid("title", ErrEmptyTitle)
	}
	if d.Status == "" {
		d.Status = StatusTodo
	}
	st, err := ParseStatus(string(d.Status))
	if err != nil {
		return d, err
	}
	d.Status = st
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	if !d.Priority.Valid() {
		return d, invalid("priority", ErrInvalidPriority)
	}
	return d, nil
}

// Task materializes a normalized draft.
func (d Draft) Task(id int64, now time.Time) Task {
	t := Task{
		ID:          id,
		Title:       d.Title,
		Description: d.Description,
		Status:      d.Status,
		Priority:    d.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if d.AssignedTo != nil {
		v := *d.AssignedTo
		t.AssignedTo = &v
	}
	return t
}

// OptionalUser distinguishes an absent assignedTo from an explicit null.
type OptionalUser struct {
	Set bool
	ID  *int64
}

// Assign returns an OptionalUser that sets the assignee to id.
func Assign(id int64) OptionalUser { return OptionalUser{Set: true, ID: &id} }

// Unassign returns an OptionalUser that clears the assignee.
func Unassign() OptionalUser { return OptionalUser{Set: true} }

func (o *OptionalUser) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.ID = nil
		return nil
	}
	var id int64
	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}
	o.ID = &id
	return nil
}

func (o OptionalUser) MarshalJSON() ([]byte, error) {
	if o.ID == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.ID)
}

// Patch is the update payload. Nil fields are left untouched.
type Patch struct {
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Status      *Status      `json:"status,omitempty"`
	AssignedTo  OptionalUser `json:"assignedTo"`
	Priority    *Priority    `json:"priority,omitempty"`
}

// Empty reports whether the patch touches no field.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && !p.AssignedTo.Set && p.Priority == nil
}

// Normalize trims and validates the fields the patch carries.
func (p Patch) Normalize() (Patch, error) {
	if p.Empty() {
		return p, invalid("patch", ErrEmptyPatch)
	}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return p, invalid("title", ErrEmptyTitle)
		}
		p.Title = &title
	}
	if p.Status != nil {
		st, err := ParseStatus(string(*p.Status))
		if err != nil {
			return p, err
		}
		p.Status = &st
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return p, invalid("priority", ErrInvalidPriority)
	}
	return p, nil
}

// Merge applies the patch over t. Fields the patch does not carry keep
// their stored value.
func (p Patch) Merge(t Task, now time.Time) Task {
	out := t.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.AssignedTo.Set {
		if p.AssignedTo.ID == nil {
			out.AssignedTo = nil
		} else {
			v := *p.AssignedTo.ID
			out.AssignedTo = &v
		}
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	out.UpdatedAt = now
	return out
}

// MarshalJSON drops assignedTo when the patch does not set it.
func (p Patch) MarshalJSON() ([]byte, error) {
	fields := map[string]any{}
	if p.Title != nil {
		fields["title"] = *p.Title
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.Status != nil {
		fields["status"] = *p.Status
	}
	if p.AssignedTo.Set {
		fields["assignedTo"] = p.AssignedTo
	}
	if p.Priority != nil {
		fields["priority"] = *p.Priority
	}
	return json.Marshal(fields)
}
