package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ehrlich-b/agentctl/internal/taskregistry"
)

const timeFmt = "2006-01-02T15:04:05Z"

// UpsertTask mirrors the teacher's CreateTask, adapted to an upsert since
// the secondary index is a mirror of externally-owned task state rather
// than the system of record.
func (s *Store) UpsertTask(t taskregistry.Task) error {
	now := time.Now().UTC().Format(timeFmt)
	_, err := s.db.Exec(`INSERT INTO tasks (id, assigned_member_id, status, task_file_path, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			assigned_member_id = excluded.assigned_member_id,
			status = excluded.status,
			task_file_path = excluded.task_file_path,
			updated_at = excluded.updated_at`,
		t.ID, t.AssignedMemberID, string(t.Status), t.TaskFilePath, now)
	if err != nil {
		return fmt.Errorf("store: upsert task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(id string) (*taskregistry.Task, error) {
	t := &taskregistry.Task{}
	var status string
	err := s.db.QueryRow(`SELECT id, assigned_member_id, status, task_file_path FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.AssignedMemberID, &status, &t.TaskFilePath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	t.Status = taskregistry.Status(status)
	return t, nil
}

// ForMember implements taskregistry.Registry against the sqlite index.
func (s *Store) ForMember(memberID string) ([]taskregistry.Task, error) {
	rows, err := s.db.Query(`SELECT id, assigned_member_id, status, task_file_path FROM tasks WHERE assigned_member_id = ?`, memberID)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks for member: %w", err)
	}
	defer rows.Close()

	var out []taskregistry.Task
	for rows.Next() {
		var t taskregistry.Task
		var status string
		if err := rows.Scan(&t.ID, &t.AssignedMemberID, &status, &t.TaskFilePath); err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		t.Status = taskregistry.Status(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTask(id string) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete task: %w", err)
	}
	return nil
}
