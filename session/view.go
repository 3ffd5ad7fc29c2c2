package session

import (
	"math"

	"taskboard/domain"
)

// Stats are the aggregate counts shown above the board.
type Stats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	InProgress     int `json:"inProgress"`
	CompletionRate int `json:"completionRate"`
}

// Column groups the tasks of one status.
type Column struct {
	Status domain.Status `json:"status"`
	Tasks  []domain.Task `json:"tasks"`
}

// View is an immutable rendering input derived from a projection.
type View struct {
	Tasks    []domain.Task          `json:"tasks"`
	Columns  []Column               `json:"columns"`
	Stats    Stats                  `json:"stats"`
	Activity []domain.ActivityEntry `json:"activity"`
	Seq      int64                  `json:"seq"`
	Roster   domain.Roster          `json:"-"`
}

func ComputeStats(tasks []domain.Task) Stats {
	s := Stats{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case domain.StatusDone:
			s.Completed++
		case domain.StatusInProgress:
			s.InProgress++
		}
	}
	if s.Total > 0 {
		s.CompletionRate = int(math.Round(float64(s.Completed) / float64(s.Total) * 100))
	}
	return s
}

// Columns groups tasks by status in board order, keeping projection order
// within a column.
func Columns(tasks []domain.Task) []Column {
	statuses := domain.Statuses()
	cols := make([]Column, len(statuses))
	pos := make(map[domain.Status]int, len(statuses))
	for i, st := range statuses {
		cols[i] = Column{Status: st, Tasks: []domain.Task{}}
		pos[st] = i
	}
	for _, t := range tasks {
		if i, ok := pos[t.Status]; ok {
			cols[i].Tasks = append(cols[i].Tasks, t)
		}
	}
	return cols
}
