package router

import (
	"sort"
	"sync"

	"igmonitor/internal/runtime/supervisor"
)

// SupervisorRegistry names the subsystem supervisors shown by /status.
type SupervisorRegistry struct {
	mu sync.RWMutex
	m  map[string]*supervisor.Supervisor
}

func NewSupervisorRegistry() *SupervisorRegistry {
	return &SupervisorRegistry{m: map[string]*supervisor.Supervisor{}}
}

// Set registers sup under name; a nil sup deletes the entry. Nil registries are no-ops.
func (r *SupervisorRegistry) Set(name string, sup *supervisor.Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = sup
}

func (r *SupervisorRegistry) Delete(name string) { r.Set(name, nil) }

type SupervisorStat struct {
	Name     string
	Counters supervisor.Counters
}

// Snapshot returns counters sorted by name.
func (r *SupervisorRegistry) Snapshot() []SupervisorStat {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]SupervisorStat, 0, len(r.m))
	for name, sup := range r.m {
		out = append(out, SupervisorStat{Name: name, Counters: sup.Counters()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
