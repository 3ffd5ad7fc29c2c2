package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// IntentKind names a client-originated mutation request.
type IntentKind string

const (
	IntentCreate IntentKind = "create"
	IntentUpdate IntentKind = "update"
	IntentDelete IntentKind = "delete"
	IntentMove   IntentKind = "move"
)

// MoveRequest is the move intent payload.
type MoveRequest struct {
	TaskID    int64  `json:"taskId"`
	NewStatus Status `json:"newStatus"`
}

// Intent is a request to mutate the collection that the hub has not applied
// yet. Exactly one payload is meaningful for each Kind: Draft for create,
// TaskID+Patch for update, TaskID for delete, TaskID+Status for move.
type Intent struct {
	Kind           IntentKind
	Actor          int64
	IdempotencyKey string

	Draft  Draft
	TaskID int64
	Patch  Patch
	Status Status
}

func CreateIntent(d Draft) Intent { return Intent{Kind: IntentCreate, Draft: d} }

func UpdateIntent(id int64, p Patch) Intent { return Intent{Kind: IntentUpdate, TaskID: id, Patch: p} }

func DeleteIntent(id int64) Intent { return Intent{Kind: IntentDelete, TaskID: id} }

func MoveIntent(id int64, st Status) Intent { return Intent{Kind: IntentMove, TaskID: id, Status: st} }

// By attributes the intent to a roster user.
func (i Intent) By(actor int64) Intent {
	i.Actor = actor
	return i
}

// Validate normalizes the payload and checks the actor against the roster.
// Actor 0 means unattributed and is always accepted.
func (i Intent) Validate(r Roster) (Intent, error) {
	if i.Actor != 0 {
		if _, ok := r.Lookup(i.Actor); !ok {
			return i, invalid("actor", ErrUnknownActor)
		}
	}
	switch i.Kind {
	case IntentCreate:
		d, err := i.Draft.Normalize()
		if err != nil {
			return i, err
		}
		i.Draft = d
	case IntentUpdate:
		if i.TaskID <= 0 {
			return i, invalid("id", ErrInvalidTaskID)
		}
		p, err := i.Patch.Normalize()
		if err != nil {
			return i, err
		}
		i.Patch = p
	case IntentDelete:
		if i.TaskID <= 0 {
			return i, invalid("id", ErrInvalidTaskID)
		}
	case IntentMove:
		if i.TaskID <= 0 {
			return i, invalid("id", ErrInvalidTaskID)
		}
		st, err := ParseStatus(string(i.Status))
		if err != nil {
			return i, err
		}
		i.Status = st
	default:
		return i, invalid("type", fmt.Errorf("%w %q", ErrUnknownKind, i.Kind))
	}
	return i, nil
}

type intentEnvelope struct {
	Type           IntentKind      `json:"type"`
	Actor          int64           `json:"actor,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Data           json.RawMessage `json:"data"`
}

type updateID struct {
	ID int64 `json:"id"`
}

func (i Intent) MarshalJSON() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch i.Kind {
	case IntentCreate:
		data, err = json.Marshal(i.Draft)
	case IntentUpdate:
		data, err = marshalUpdate(i.TaskID, i.Patch)
	case IntentDelete:
		data, err = json.Marshal(i.TaskID)
	case IntentMove:
		data, err = json.Marshal(MoveRequest{TaskID: i.TaskID, NewStatus: i.Status})
	default:
		return nil, fmt.Errorf("intent: %w %q", ErrUnknownKind, i.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(intentEnvelope{Type: i.Kind, Actor: i.Actor, IdempotencyKey: i.IdempotencyKey, Data: data})
}

// UnmarshalJSON rejects envelope fields it does not know.
func (i *Intent) UnmarshalJSON(b []byte) error {
	var env intentEnvelope
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return err
	}
	out := Intent{Kind: env.Type, Actor: env.Actor, IdempotencyKey: env.IdempotencyKey}
	if len(env.Data) == 0 {
		return fmt.Errorf("intent %q: missing data", env.Type)
	}
	switch env.Type {
	case IntentCreate:
		if err := json.Unmarshal(env.Data, &out.Draft); err != nil {
			return fmt.Errorf("intent create: %w", err)
		}
	case IntentUpdate:
		var ref updateID
		if err := json.Unmarshal(env.Data, &ref); err != nil {
			return fmt.Errorf("intent update: %w", err)
		}
		if err := json.Unmarshal(env.Data, &out.Patch); err != nil {
			return fmt.Errorf("intent update: %w", err)
		}
		out.TaskID = ref.ID
	case IntentDelete:
		if err := json.Unmarshal(env.Data, &out.TaskID); err != nil {
			return fmt.Errorf("intent delete: %w", err)
		}
	case IntentMove:
		var mv MoveRequest
		if err := json.Unmarshal(env.Data, &mv); err != nil {
			return fmt.Errorf("intent move: %w", err)
		}
		out.TaskID = mv.TaskID
		out.Status = mv.NewStatus
	default:
		return fmt.Errorf("intent: %w %q", ErrUnknownKind, env.Type)
	}
	*i = out
	return nil
}

func marshalUpdate(id int64, p Patch) ([]byte, error) {
	fields, err := p.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, err
	}
	idRaw, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	m["id"] = idRaw
	return json.Marshal(m)
}
