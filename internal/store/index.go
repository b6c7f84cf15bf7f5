package store

import (
	"fmt"
	"time"

	"github.com/ehrlich-b/agentctl/internal/taskregistry"
)

var _ taskregistry.Registry = (*Store)(nil)

// ConversationRow is the secondary-index mirror of a checkpointed
// conversation, queryable independent of loading the full JSON snapshot.
type ConversationRow struct {
	ID             string
	Source         string
	LastActivityAt time.Time
}

func (s *Store) UpsertConversation(c ConversationRow) error {
	_, err := s.db.Exec(`INSERT INTO conversations (id, source, last_activity_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET source = excluded.source, last_activity_at = excluded.last_activity_at, updated_at = excluded.updated_at`,
		c.ID, c.Source, c.LastActivityAt.UTC().Format(timeFmt), time.Now().UTC().Format(timeFmt))
	if err != nil {
		return fmt.Errorf("store: upsert conversation: %w", err)
	}
	return nil
}

func (s *Store) RecentConversations(since time.Time) ([]ConversationRow, error) {
	rows, err := s.db.Query(`SELECT id, source, last_activity_at FROM conversations WHERE last_activity_at >= ? ORDER BY last_activity_at DESC`,
		since.UTC().Format(timeFmt))
	if err != nil {
		return nil, fmt.Errorf("store: list recent conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationRow
	for rows.Next() {
		var c ConversationRow
		var lastActivity string
		if err := rows.Scan(&c.ID, &c.Source, &lastActivity); err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		c.LastActivityAt, _ = time.Parse(timeFmt, lastActivity)
		out = append(out, c)
	}
	return out, rows.Err()
}

// AgentRow is the secondary-index mirror of a known agent/session member.
type AgentRow struct {
	ID     string
	Role   string
	TeamID string
	Status string
}

func (s *Store) UpsertAgent(a AgentRow) error {
	_, err := s.db.Exec(`INSERT INTO agents (id, role, team_id, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET role = excluded.role, team_id = excluded.team_id, status = excluded.status, updated_at = excluded.updated_at`,
		a.ID, a.Role, a.TeamID, a.Status, time.Now().UTC().Format(timeFmt))
	if err != nil {
		return fmt.Errorf("store: upsert agent: %w", err)
	}
	return nil
}

func (s *Store) DeleteAgent(id string) error {
	_, err := s.db.Exec(`DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete agent: %w", err)
	}
	return nil
}

// ProjectRow is the secondary-index mirror of a known project root.
type ProjectRow struct {
	ID       string
	Name     string
	RootPath string
}

func (s *Store) UpsertProject(p ProjectRow) error {
	_, err := s.db.Exec(`INSERT INTO projects (id, name, root_path, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, root_path = excluded.root_path, updated_at = excluded.updated_at`,
		p.ID, p.Name, p.RootPath, time.Now().UTC().Format(timeFmt))
	if err != nil {
		return fmt.Errorf("store: upsert project: %w", err)
	}
	return nil
}

// RecordCheckpoint indexes a checkpoint save so its history can be queried
// without re-reading every backup file from disk.
func (s *Store) RecordCheckpoint(id, namespace, reason string) error {
	_, err := s.db.Exec(`INSERT INTO checkpoints (id, namespace, reason) VALUES (?, ?, ?)`, id, namespace, reason)
	if err != nil {
		return fmt.Errorf("store: record checkpoint: %w", err)
	}
	return nil
}

// RecordCheckpointRow and UpsertTaskIndexRow satisfy checkpoint.Index,
// letting a *Store be passed directly as checkpoint.WithIndex(store).
func (s *Store) RecordCheckpointRow(id, namespace, reason string) error {
	return s.RecordCheckpoint(id, namespace, reason)
}

func (s *Store) UpsertTaskIndexRow(id, assignedMemberID, status, taskFilePath string) error {
	return s.UpsertTask(taskregistry.Task{
		ID:               id,
		AssignedMemberID: assignedMemberID,
		Status:           taskregistry.Status(status),
		TaskFilePath:     taskFilePath,
	})
}
