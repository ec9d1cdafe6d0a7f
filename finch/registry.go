package finch

import (
	"sync"

	"github.com/oliveigah/finch/finch/metrics"
)

// registryKey identifies a named pool family bound to an origin. Multiple
// pool replicas (one per PoolIdx) register distinct metrics refs under the
// same key.
type registryKey struct {
	Name   string
	Origin Origin
}

// Registry is the process-wide multi-ref directory of metrics blocks,
// keyed by (name, origin), behind a single sync.RWMutex. It is in-process
// only: a distributed deployment would back this with something shared,
// but that's out of scope here.
type Registry struct {
	mu   sync.RWMutex
	refs map[registryKey][]*metrics.Block
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{refs: make(map[registryKey][]*metrics.Block)}
}

// DefaultRegistry is the package-level registry used by pools that don't
// construct their own, mirroring how a real cross-host registry is a
// single process-wide singleton.
var DefaultRegistry = NewRegistry()

// Register adds a metrics ref for (name, origin). Called once per pool
// instance when its metrics block is created.
func (r *Registry) Register(name string, origin Origin, block *metrics.Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{Name: name, Origin: origin}
	r.refs[key] = append(r.refs[key], block)
}

// GetMetricsRefs returns every metrics ref registered for (name, origin),
// or nil if none exist.
func (r *Registry) GetMetricsRefs(name string, origin Origin) []*metrics.Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := registryKey{Name: name, Origin: origin}
	refs := r.refs[key]
	if len(refs) == 0 {
		return nil
	}
	out := make([]*metrics.Block, len(refs))
	copy(out, refs)
	return out
}

// Unregister removes a single ref, used when a pool terminates so a stale
// replica doesn't linger in status reports.
func (r *Registry) Unregister(name string, origin Origin, block *metrics.Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{Name: name, Origin: origin}
	refs := r.refs[key]
	for i, b := range refs {
		if b == block {
			r.refs[key] = append(refs[:i], refs[i+1:]...)
			break
		}
	}
	if len(r.refs[key]) == 0 {
		delete(r.refs, key)
	}
}
