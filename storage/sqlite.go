package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"taskboard/domain"
)

//go:embed schema.sql
var schema string

// SQLite stores tasks in a local database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

const selectTask = `SELECT id, title, description, status, assigned_to, priority, created_at, updated_at FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                    domain.Task
		status, priority     string
		assigned             sql.NullInt64
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &assigned, &priority, &createdAt, &updatedAt); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.Status(status)
	t.Priority = domain.Priority(priority)
	if assigned.Valid {
		v := assigned.Int64
		t.AssignedTo = &v
	}
	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return domain.Task{}, err
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func assignedArg(t domain.Task) sql.NullInt64 {
	if id, ok := t.Assignee(); ok {
		return sql.NullInt64{Int64: id, Valid: true}
	}
	return sql.NullInt64{}
}

func (s *SQLite) Get(ctx context.Context, id int64) (*domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, selectTask+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLite) List(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, selectTask+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLite) Insert(ctx context.Context, t domain.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, assigned_to, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Description, string(t.Status), assignedArg(t), string(t.Priority),
		t.CreatedAt.UTC().Format(time.RFC3339Nano), t.UpdatedAt.UTC().Format(time.RFC3339Nano))
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return ErrDuplicateID
	}
	return err
}

func (s *SQLite) Replace(ctx context.Context, t domain.Task) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, status = ?, assigned_to = ?, priority = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`, t.Title, t.Description, string(t.Status), assignedArg(t), string(t.Priority),
		t.CreatedAt.UTC().Format(time.RFC3339Nano), t.UpdatedAt.UTC().Format(time.RFC3339Nano), t.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) MaxID(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM tasks`).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}
