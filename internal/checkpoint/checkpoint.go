// Package checkpoint implements the State Checkpoint Store (spec §4.9):
// atomic JSON snapshots of the orchestrator's in-memory state, rolling
// backups, corrupt-fallback recovery, and resume-instruction generation.
// Grounded on the teacher's cmd/wt/update.go temp+rename durability (via
// internal/atomicfile) and internal/store for the queryable secondary
// index the spec's domain stack calls for.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/agentctl/internal/agentlog"
	"github.com/ehrlich-b/agentctl/internal/atomicfile"
)

const schemaVersion = 1

// TaskStatus mirrors the resume-relevant task states (spec §4.9 resume
// semantics); the checkpoint store's view of a task is otherwise opaque.
type TaskStatus string

const (
	TaskInProgress TaskStatus = "in_progress"
	TaskPaused     TaskStatus = "paused"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
)

type TaskState struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Status TaskStatus `json:"status"`
}

type ConversationState struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

type AgentState struct {
	ID     string `json:"id"`
	Role   string `json:"role"`
	TeamID string `json:"teamId"`
	Status string `json:"status"`
}

type ProjectState struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RootPath string `json:"rootPath"`
}

type SelfImprovementState struct {
	InProgress  bool   `json:"inProgress"`
	Description string `json:"description"`
}

// State is the full snapshot persisted to disk.
type State struct {
	Version           int                          `json:"version"`
	Tasks             map[string]TaskState         `json:"tasks"`
	Conversations     map[string]ConversationState `json:"conversations"`
	Agents            map[string]AgentState        `json:"agents"`
	Projects          map[string]ProjectState      `json:"projects"`
	SelfImprovement   *SelfImprovementState        `json:"selfImprovement,omitempty"`
	SavedAt           time.Time                    `json:"savedAt"`
	SaveReason        string                       `json:"saveReason"`
}

func emptyState() *State {
	return &State{
		Version:       schemaVersion,
		Tasks:         make(map[string]TaskState),
		Conversations: make(map[string]ConversationState),
		Agents:        make(map[string]AgentState),
		Projects:      make(map[string]ProjectState),
	}
}

// Index is the optional secondary-index sink (internal/store.Store
// satisfies this narrow surface); nil is a valid no-op.
type Index interface {
	UpsertTaskIndexRow(id, assignedMemberID, status, taskFilePath string) error
	RecordCheckpointRow(id, namespace, reason string) error
}

// ResumeInstructions is the resume payload handed back to the orchestrator
// session after a restart (spec §4.9, §6).
type ResumeInstructions struct {
	TasksToResume         []TaskState         `json:"tasksToResume"`
	ConversationsToResume []ConversationState `json:"conversationsToResume"`
	Notifications         []Notification      `json:"notifications"`
}

type Notification struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Store manages one namespace's checkpoint file plus its backups.
type Store struct {
	namespace        string
	dir              string // <home>/state/<namespace>
	backupDir        string
	backupRetention  int
	resumeConvWindow time.Duration
	index            Index

	mu      sync.Mutex
	current *State
	saving  bool
	dirty   bool
}

// Option configures New.
type Option func(*Store)

func WithIndex(idx Index) Option { return func(s *Store) { s.index = idx } }

func New(home, namespace string, backupRetention int, resumeConvWindow time.Duration, opts ...Option) *Store {
	if backupRetention <= 0 {
		backupRetention = 10
	}
	if resumeConvWindow <= 0 {
		resumeConvWindow = time.Hour
	}
	dir := filepath.Join(home, "state", namespace)
	s := &Store{
		namespace:        namespace,
		dir:              dir,
		backupDir:        filepath.Join(dir, "backups"),
		backupRetention:  backupRetention,
		resumeConvWindow: resumeConvWindow,
		current:          emptyState(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) statePath() string { return filepath.Join(s.dir, "state.json") }

// Initialize loads any prior state, falling back to the newest valid
// backup on corruption, per spec §4.9. Returns the loaded state (nil if
// there was none to resume).
func (s *Store) Initialize() (*State, error) {
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: mkdir: %w", err)
	}

	st, err := s.loadValid(s.statePath())
	if err == nil && st != nil {
		s.mu.Lock()
		s.current = st
		s.mu.Unlock()
		return st, nil
	}
	if err != nil {
		agentlog.Warn("checkpoint: primary state unreadable, trying backups", "namespace", s.namespace, "error", err)
	}

	backups, listErr := s.listBackupFiles()
	if listErr != nil {
		return nil, listErr
	}
	for i := len(backups) - 1; i >= 0; i-- {
		st, err := s.loadValid(backups[i])
		if err == nil && st != nil {
			agentlog.Warn("checkpoint: recovered from backup", "namespace", s.namespace, "file", backups[i])
			s.mu.Lock()
			s.current = st
			s.mu.Unlock()
			return st, nil
		}
	}

	agentlog.Info("checkpoint: no previous state", "namespace", s.namespace)
	s.mu.Lock()
	s.current = emptyState()
	s.mu.Unlock()
	return nil, nil
}

func (s *Store) loadValid(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("checkpoint: corrupt json: %w", err)
	}
	if st.Version != schemaVersion {
		return nil, fmt.Errorf("checkpoint: schema version %d != %d", st.Version, schemaVersion)
	}
	if st.Tasks == nil {
		st.Tasks = make(map[string]TaskState)
	}
	if st.Conversations == nil {
		st.Conversations = make(map[string]ConversationState)
	}
	if st.Agents == nil {
		st.Agents = make(map[string]AgentState)
	}
	if st.Projects == nil {
		st.Projects = make(map[string]ProjectState)
	}
	return &st, nil
}

// Save coalesces: at most one save runs at a time; a save requested while
// one is in flight sets a dirty bit that triggers a follow-up save instead
// of running concurrently (spec §4.9).
func (s *Store) Save(reason string) error {
	s.mu.Lock()
	if s.saving {
		s.dirty = true
		s.mu.Unlock()
		return nil
	}
	s.saving = true
	s.mu.Unlock()

	err := s.saveOnce(reason)

	s.mu.Lock()
	s.saving = false
	rerun := s.dirty
	s.dirty = false
	s.mu.Unlock()

	if rerun {
		return s.Save("coalesced")
	}
	return err
}

func (s *Store) saveOnce(reason string) error {
	s.mu.Lock()
	s.current.SavedAt = time.Now().UTC()
	s.current.SaveReason = reason
	data, err := json.MarshalIndent(s.current, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	if err := atomicfile.Write(s.statePath(), data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write: %w", err)
	}

	if s.index != nil {
		if err := s.index.RecordCheckpointRow(strconv.FormatInt(time.Now().UnixNano(), 36), s.namespace, reason); err != nil {
			agentlog.Warn("checkpoint: index record failed", "namespace", s.namespace, "error", err)
		}
	}

	return nil
}

// CreateBackup snapshots the current on-disk state into backups/ under a
// monotonic id, pruning to BackupRetention entries.
func (s *Store) CreateBackup(tag string) (string, error) {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("checkpoint: read for backup: %w", err)
	}

	id := fmt.Sprintf("%d", time.Now().UnixNano())
	name := id
	if tag != "" {
		name = id + "-" + tag
	}
	path := filepath.Join(s.backupDir, name+".json")
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return "", fmt.Errorf("checkpoint: write backup: %w", err)
	}

	if err := s.pruneBackups(); err != nil {
		agentlog.Warn("checkpoint: prune backups failed", "namespace", s.namespace, "error", err)
	}

	return id, nil
}

func (s *Store) listBackupFiles() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: list backups: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(s.backupDir, e.Name()))
		}
	}
	sort.Strings(files) // monotonic ids sort chronologically
	return files, nil
}

func (s *Store) pruneBackups() error {
	files, err := s.listBackupFiles()
	if err != nil {
		return err
	}
	if len(files) <= s.backupRetention {
		return nil
	}
	for _, f := range files[:len(files)-s.backupRetention] {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// ListBackups returns backup file base names, oldest first.
func (s *Store) ListBackups() ([]string, error) {
	files, err := s.listBackupFiles()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = filepath.Base(f)
	}
	return out, nil
}

// RestoreFromBackup loads id (a backup file's id prefix) into the current
// in-memory state, without yet persisting it back to state.json — the
// caller should Save explicitly if it wants the restore to become durable.
func (s *Store) RestoreFromBackup(id string) bool {
	files, err := s.listBackupFiles()
	if err != nil {
		return false
	}
	for _, f := range files {
		base := filepath.Base(f)
		if strings.HasPrefix(base, id) {
			st, err := s.loadValid(f)
			if err != nil || st == nil {
				return false
			}
			s.mu.Lock()
			s.current = st
			s.mu.Unlock()
			return true
		}
	}
	return false
}

// PrepareForShutdown saves with reason before_restart (spec §4.9).
func (s *Store) PrepareForShutdown() error {
	return s.Save("before_restart")
}

// GenerateResumeInstructions derives what the orchestrator should resume
// from prev (typically the value returned by Initialize).
func (s *Store) GenerateResumeInstructions(prev *State) ResumeInstructions {
	if prev == nil {
		return ResumeInstructions{}
	}
	var ri ResumeInstructions
	for _, t := range prev.Tasks {
		if t.Status == TaskInProgress || t.Status == TaskPaused {
			ri.TasksToResume = append(ri.TasksToResume, t)
		}
	}
	cutoff := time.Now().Add(-s.resumeConvWindow)
	for _, c := range prev.Conversations {
		if c.LastActivityAt.After(cutoff) {
			ri.ConversationsToResume = append(ri.ConversationsToResume, c)
		}
	}
	if prev.SelfImprovement != nil && prev.SelfImprovement.InProgress {
		ri.Notifications = append(ri.Notifications, Notification{
			Severity: "info",
			Message:  "self-improvement was in progress: " + prev.SelfImprovement.Description,
		})
	}
	sort.Slice(ri.TasksToResume, func(i, j int) bool { return ri.TasksToResume[i].ID < ri.TasksToResume[j].ID })
	sort.Slice(ri.ConversationsToResume, func(i, j int) bool { return ri.ConversationsToResume[i].ID < ri.ConversationsToResume[j].ID })
	return ri
}

// --- typed mutators (spec §4.9) ---

func (s *Store) UpdateConversation(c ConversationState) {
	s.mu.Lock()
	s.current.Conversations[c.ID] = c
	s.mu.Unlock()
}

func (s *Store) RemoveConversation(id string) {
	s.mu.Lock()
	delete(s.current.Conversations, id)
	s.mu.Unlock()
}

func (s *Store) UpdateTask(t TaskState) {
	s.mu.Lock()
	s.current.Tasks[t.ID] = t
	s.mu.Unlock()
	if s.index != nil {
		if err := s.index.UpsertTaskIndexRow(t.ID, "", string(t.Status), ""); err != nil {
			agentlog.Warn("checkpoint: index task failed", "id", t.ID, "error", err)
		}
	}
}

func (s *Store) RemoveTask(id string) {
	s.mu.Lock()
	delete(s.current.Tasks, id)
	s.mu.Unlock()
}

func (s *Store) UpdateAgent(a AgentState) {
	s.mu.Lock()
	s.current.Agents[a.ID] = a
	s.mu.Unlock()
}

func (s *Store) RemoveAgent(id string) {
	s.mu.Lock()
	delete(s.current.Agents, id)
	s.mu.Unlock()
}

func (s *Store) UpdateProject(p ProjectState) {
	s.mu.Lock()
	s.current.Projects[p.ID] = p
	s.mu.Unlock()
}

func (s *Store) RemoveProject(id string) {
	s.mu.Lock()
	delete(s.current.Projects, id)
	s.mu.Unlock()
}

func (s *Store) UpdateSelfImprovement(description string) {
	s.mu.Lock()
	s.current.SelfImprovement = &SelfImprovementState{InProgress: true, Description: description}
	s.mu.Unlock()
}

func (s *Store) ClearSelfImprovement() {
	s.mu.Lock()
	s.current.SelfImprovement = nil
	s.mu.Unlock()
}

// Snapshot returns a deep-enough copy of current state for read-only use
// (e.g. tests asserting on saved content).
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.current
	cp.Tasks = cloneTaskMap(s.current.Tasks)
	cp.Conversations = cloneConvMap(s.current.Conversations)
	cp.Agents = cloneAgentMap(s.current.Agents)
	cp.Projects = cloneProjectMap(s.current.Projects)
	return cp
}

func cloneTaskMap(m map[string]TaskState) map[string]TaskState {
	out := make(map[string]TaskState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneConvMap(m map[string]ConversationState) map[string]ConversationState {
	out := make(map[string]ConversationState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAgentMap(m map[string]AgentState) map[string]AgentState {
	out := make(map[string]AgentState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneProjectMap(m map[string]ProjectState) map[string]ProjectState {
	out := make(map[string]ProjectState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
