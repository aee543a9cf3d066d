package fans

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps slicer fan numbers (M106/M107 T parameter) to fans.
// Index 0 is reserved for the primary [fan] section.
type Registry struct {
	mu   sync.Mutex
	fans map[int]*Fan
}

// NewRegistry creates a registry holding the primary fan at index 0.
// primary may be nil when no [fan] section is configured.
func NewRegistry(primary *Fan) *Registry {
	r := &Registry{fans: make(map[int]*Fan)}
	if primary != nil {
		r.fans[0] = primary
	}
	return r
}

// Add registers a fan under the given index. Index 0 and duplicate
// registrations are rejected.
func (r *Registry) Add(index int, f *Fan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fans[index]; ok {
		if index == 0 {
			return fmt.Errorf("fan number cannot be 0: fan 0 is defined by the [fan] config")
		}
		return fmt.Errorf("fan number %d is already defined", index)
	}
	r.fans[index] = f
	return nil
}

// Get returns the fan at index.
func (r *Registry) Get(index int) (*Fan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fans[index]
	return f, ok
}

// Indexes returns the registered fan numbers in ascending order.
func (r *Registry) Indexes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := make([]int, 0, len(r.fans))
	for i := range r.fans {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}
