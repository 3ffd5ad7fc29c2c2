// Package storage holds the Task Store backends. Every backend keys tasks by
// their integer id and stores the full canonical task; merging happens in the
// hub before a write reaches here.
package storage

import (
	"errors"
	"sort"

	"taskboard/domain"
)

var (
	// ErrNotFound is returned by Replace when the task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrDuplicateID is returned by Insert when the id is already taken.
	ErrDuplicateID = errors.New("task id already exists")
)

func sortByID(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}
