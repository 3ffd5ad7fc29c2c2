package session

import "taskboard/domain"

// Projection is a session's derived copy of the collection. It is never
// authoritative: the next snapshot replaces it wholesale.
type Projection struct {
	tasks []domain.Task
	index map[int64]int
}

func NewProjection(tasks []domain.Task) *Projection {
	p := &Projection{}
	p.Replace(tasks)
	return p
}

// Replace installs a snapshot.
func (p *Projection) Replace(tasks []domain.Task) {
	p.tasks = make([]domain.Task, 0, len(tasks))
	p.index = make(map[int64]int, len(tasks))
	for _, t := range tasks {
		if i, ok := p.index[t.ID]; ok {
			p.tasks[i] = t.Clone()
			continue
		}
		p.index[t.ID] = len(p.tasks)
		p.tasks = append(p.tasks, t.Clone())
	}
}

// Get returns a copy of the task with id.
func (p *Projection) Get(id int64) (domain.Task, bool) {
	i, ok := p.index[id]
	if !ok {
		return domain.Task{}, false
	}
	return p.tasks[i].Clone(), true
}

func (p *Projection) Len() int { return len(p.tasks) }

// Tasks returns a copy in projection order.
func (p *Projection) Tasks() []domain.Task {
	out := make([]domain.Task, len(p.tasks))
	for i, t := range p.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Apply reconciles one canonical event and reports whether the projection
// changed. Applying the same event twice is the same as applying it once.
func (p *Projection) Apply(ev domain.Event) (bool, error) {
	switch ev.Kind {
	case domain.TaskCreated:
		if ev.Task == nil {
			return false, nil
		}
		if _, ok := p.index[ev.Task.ID]; ok {
			return false, nil
		}
		p.index[ev.Task.ID] = len(p.tasks)
		p.tasks = append(p.tasks, ev.Task.Clone())
		return true, nil

	case domain.TaskUpdated:
		if ev.Task == nil {
			return false, nil
		}
		if i, ok := p.index[ev.Task.ID]; ok {
			if sameTask(p.tasks[i], *ev.Task) {
				return false, nil
			}
			p.tasks[i] = ev.Task.Clone()
			return true, nil
		}
		p.index[ev.Task.ID] = len(p.tasks)
		p.tasks = append(p.tasks, ev.Task.Clone())
		return true, nil

	case domain.TaskDeleted:
		i, ok := p.index[ev.TaskID]
		if !ok {
			return false, nil
		}
		p.tasks = append(p.tasks[:i], p.tasks[i+1:]...)
		delete(p.index, ev.TaskID)
		for j := i; j < len(p.tasks); j++ {
			p.index[p.tasks[j].ID] = j
		}
		return true, nil

	case domain.TaskMoved:
		if ev.Move == nil || !ev.Move.NewStatus.Valid() {
			return false, nil
		}
		i, ok := p.index[ev.Move.TaskID]
		if !ok {
			return false, nil
		}
		if p.tasks[i].Status == ev.Move.NewStatus {
			return false, nil
		}
		p.tasks[i].Status = ev.Move.NewStatus
		return true, nil
	}
	return false, domain.ErrUnknownKind
}

func sameTask(a, b domain.Task) bool {
	aID, aOK := a.Assignee()
	bID, bOK := b.Assignee()
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.Description == b.Description &&
		a.Status == b.Status &&
		a.Priority == b.Priority &&
		aOK == bOK && aID == bID &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}
