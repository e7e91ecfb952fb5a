// Package datasrc implements the DataSrcInfo registry: an append-only,
// generation-numbered sequence of snapshots mapping (RR class, data-source
// name) to the SegmentInfo that owns that pair's segments.
package datasrc

import (
	"sync"

	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/anantadwi13/memmgr/internal/segment"
)

// Info is a single generation: an immutable snapshot once Build returns.
// Nothing mutates the map itself after construction; individual
// *segment.Info values inside it mutate through their own methods.
type Info struct {
	GenerationID uint64
	segments     map[domain.SegmentKey]*segment.Info
}

// Build constructs generation genID from a set of configured (class,
// dataSource) pairs, one fresh segment.Info per key, all in READY state
// with no segments built yet.
func Build(genID uint64, mappedFileDir string, keys []domain.SegmentKey) *Info {
	segs := make(map[domain.SegmentKey]*segment.Info, len(keys))
	for _, k := range keys {
		pair := segment.NewFilePair(mappedFileDir, string(k.Class), string(k.DataSource))
		segs[k] = segment.New(k, genID, pair)
	}
	return &Info{GenerationID: genID, segments: segs}
}

// Lookup returns the SegmentInfo for key within this generation.
func (i *Info) Lookup(key domain.SegmentKey) (*segment.Info, bool) {
	s, ok := i.segments[key]
	return s, ok
}

// All returns every SegmentInfo in this generation, for admin/introspection
// and audit sweeps.
func (i *Info) All() []*segment.Info {
	out := make([]*segment.Info, 0, len(i.segments))
	for _, s := range i.segments {
		out = append(out, s)
	}
	return out
}

// Registry holds the append-only list of generations. The newest generation
// is the only one new loadzone/config activity targets; older generations
// are never removed, so a reader still attached to a SegmentInfo from one
// of them keeps a valid reference.
type Registry struct {
	mu          sync.RWMutex
	generations []*Info
}

// NewRegistry returns an empty registry; the first generation must still be
// added via Add once the initial data-source configuration arrives.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends a new generation. Generation ids must be strictly increasing;
// the caller (manager, on every data-source reconfiguration) is responsible
// for that invariant.
func (r *Registry) Add(gen *Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations = append(r.generations, gen)
}

// Latest returns the newest generation, or nil if none has been added yet
// (NoDataSource case: a loadzone arriving before any data-source config).
func (r *Registry) Latest() *Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.generations) == 0 {
		return nil
	}
	return r.generations[len(r.generations)-1]
}

// Generations returns a snapshot of every retained generation, oldest
// first.
func (r *Registry) Generations() []*Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Info, len(r.generations))
	copy(out, r.generations)
	return out
}

// FindBySegment searches every retained generation, not just the latest,
// for the SegmentInfo matching (class, dataSource). This resolves the
// cross-generation ack-lookup open question: info_update_ack must be
// answerable even after a reconfiguration has superseded the generation
// the acking reader originally subscribed against.
func (r *Registry) FindBySegment(key domain.SegmentKey) (*segment.Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.generations) - 1; i >= 0; i-- {
		if s, ok := r.generations[i].Lookup(key); ok {
			return s, true
		}
	}
	return nil, false
}
