// Package taskregistry defines the external Task Registry contract the
// Session Supervisor consumes to decide restart-on-exit (spec §3 "Task
// (external, consumed)"). The core only ever reads AssignedMemberID, Status,
// and TaskFilePath; everything else about a task is opaque to it.
package taskregistry

// Status is the subset of task lifecycle states the core cares about.
type Status string

const (
	Open     Status = "open"
	Assigned Status = "assigned"
	Active   Status = "active"
	Blocked  Status = "blocked"
	Done     Status = "done"
	Failed   Status = "failed"
)

// Task is the opaque-to-the-core view of an external task.
type Task struct {
	ID               string
	AssignedMemberID string
	Status           Status
	TaskFilePath     string
}

// Registry is the interface the Supervisor depends on. Implementations may
// be in-memory (tests, standalone use) or backed by a durable store.
type Registry interface {
	// ForMember returns every task currently assigned to memberID.
	ForMember(memberID string) ([]Task, error)
}

// InMemory is a trivial Registry for tests and standalone operation.
type InMemory struct {
	tasks []Task
}

func NewInMemory(tasks ...Task) *InMemory {
	return &InMemory{tasks: tasks}
}

func (r *InMemory) Add(t Task) {
	r.tasks = append(r.tasks, t)
}

func (r *InMemory) ForMember(memberID string) ([]Task, error) {
	var out []Task
	for _, t := range r.tasks {
		if t.AssignedMemberID == memberID {
			out = append(out, t)
		}
	}
	return out, nil
}

// HasRestartableTask reports whether memberID has at least one task whose
// status is Assigned, Active, or Blocked — the condition that triggers an
// automatic restart on exit (spec §4.7).
func HasRestartableTask(reg Registry, memberID string) (bool, error) {
	if memberID == "" || reg == nil {
		return false, nil
	}
	tasks, err := reg.ForMember(memberID)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		switch t.Status {
		case Assigned, Active, Blocked:
			return true, nil
		}
	}
	return false, nil
}
