package workload

import "sync"

var (
	registryMu sync.RWMutex
	registered []Stressor
)

// Register adds a stressor. When multiple stressors register the same name
// the most recent registration wins.
func Register(s Stressor) {
	if s.Name == "" {
		panic("workload.Register: name must not be empty")
	}
	if s.Open == nil {
		panic("workload.Register: open must not be nil")
	}
	if len(s.Kinds) == 0 {
		panic("workload.Register: at least one kind is required")
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	for i, entry := range registered {
		if entry.Name == s.Name {
			registered[i] = s
			return
		}
	}
	registered = append(registered, s)
}

// Lookup returns the stressor registered under name.
func Lookup(name string) (Stressor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, s := range registered {
		if s.Name == name {
			return s, true
		}
	}
	return Stressor{}, false
}

// All returns the registered stressors in registration order.
func All() []Stressor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Stressor, len(registered))
	copy(out, registered)
	return out
}
