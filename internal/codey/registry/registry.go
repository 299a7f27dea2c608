// Package registry tracks the primary agent and any sub-agents spawned
// during a session. Each sub-agent reports its result back to its
// spawner through a one-shot channel rather than a direct pointer, which
// keeps the registry acyclic: a spawner never holds a live reference to
// its child's internals, only to the channel it will eventually read.
package registry

import (
	"sync"

	"codey/internal/codey/agent"
)

// PrimaryAgentId is the AgentId of the session's top-level agent.
const PrimaryAgentId = 0

// Status is a spawned agent's lifecycle state, as reported by list_agents.
type Status int

const (
	StatusRunning Status = iota
	StatusFinished
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusFinished:
		return "Finished"
	case StatusError:
		return "Error"
	default:
		return "Running"
	}
}

// Entry is one registered agent plus the bookkeeping needed to route its
// spawn-completion notification back to its parent, and the status/output
// snapshot list_agents/get_agent read.
type Entry struct {
	Agent    *agent.Agent
	Label    string
	ParentId int
	Result   <-chan SpawnResult
	Status   Status
	Output   string
	Err      error
}

// SpawnResult is what a sub-agent produces once its task completes.
type SpawnResult struct {
	Output string
	Err    error
}

// Registry is the set of all agents live in a session.
type Registry struct {
	mu      sync.Mutex
	entries map[int]*Entry
	nextId  int
}

func New(primary *agent.Agent) *Registry {
	r := &Registry{entries: map[int]*Entry{}, nextId: PrimaryAgentId + 1}
	r.entries[PrimaryAgentId] = &Entry{Agent: primary}
	return r
}

// Spawn registers a; sub-agent, wiring resultCh as the channel its parent
// will eventually receive its outcome on.
func (r *Registry) Spawn(a *agent.Agent, label string, parentId int, resultCh <-chan SpawnResult) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextId
	r.nextId++
	a.Id = id
	r.entries[id] = &Entry{Agent: a, Label: label, ParentId: parentId, Result: resultCh}
	return id
}

func (r *Registry) Get(id int) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) GetByLabel(label string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Label == label {
			return e, true
		}
	}
	return nil, false
}

func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Complete records a spawned agent's final status and output, so
// list_agents/get_agent can observe it without racing the one-shot
// SpawnResult channel a caller may or may not still be reading from.
func (r *Registry) Complete(id int, output string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.Output = output
	e.Err = err
	if err != nil {
		e.Status = StatusError
	} else {
		e.Status = StatusFinished
	}
}

// Snapshot is a point-in-time, lock-free view of one registered agent.
type Snapshot struct {
	Id     int
	Label  string
	Status Status
}

// List returns a snapshot of every currently registered agent, primary
// included.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, Snapshot{Id: id, Label: e.Label, Status: e.Status})
	}
	return out
}
