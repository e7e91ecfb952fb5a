// Package roster tracks the process-wide set of subscribed readers and,
// per reader, the outstanding info_update acknowledgements owed against
// each SegmentInfo they've been sent one for.
package roster

import (
	"sync"

	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/anantadwi13/memmgr/internal/segment"
)

// Roster is the manager's bookkeeping for in-flight info_update deliveries.
// Touched only by the manager goroutine; the mutex exists solely so the
// admin API goroutine can take a consistent snapshot for GET /readers.
type Roster struct {
	mu      sync.Mutex
	readers map[domain.ReaderID]map[*segment.Info]int
}

// New returns an empty roster.
func New() *Roster {
	return &Roster{readers: make(map[domain.ReaderID]map[*segment.Info]int)}
}

// Subscribe registers r as a known reader with no outstanding updates. A
// reader already known is left untouched (idempotent, matching a
// duplicate "subscribed" notification).
func (r *Roster) Subscribe(reader domain.ReaderID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.readers[reader]; !ok {
		r.readers[reader] = make(map[*segment.Info]int)
	}
}

// Unsubscribe drops reader entirely, regardless of outstanding counts. The
// caller is responsible for also calling SegmentInfo.RemoveReader for every
// SegmentInfo the reader was tracked against, since this roster has no
// reference back into segment.Info's own reader sets.
func (r *Roster) Unsubscribe(reader domain.ReaderID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.readers, reader)
}

// Sent records that an info_update was just dispatched to reader for info,
// incrementing the outstanding count.
func (r *Roster) Sent(reader domain.ReaderID, info *segment.Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts, ok := r.readers[reader]
	if !ok {
		counts = make(map[*segment.Info]int)
		r.readers[reader] = counts
	}
	counts[info]++
}

// Acked records an info_update_ack from reader against info, decrementing
// the outstanding count. It returns true once the count reaches zero,
// meaning the manager should now call SegmentInfo.SyncReader for this pair.
// ok is false if reader/info has no outstanding count to decrement
// (UnknownReaderOrSegment).
func (r *Roster) Acked(reader domain.ReaderID, info *segment.Info) (drained bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts, known := r.readers[reader]
	if !known {
		return false, false
	}
	n, known := counts[info]
	if !known || n <= 0 {
		return false, false
	}
	n--
	if n == 0 {
		delete(counts, info)
		return true, true
	}
	counts[info] = n
	return false, true
}

// Outstanding reports reader's current outstanding count against info.
func (r *Roster) Outstanding(reader domain.ReaderID, info *segment.Info) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readers[reader][info]
}

// Readers returns a snapshot of every currently subscribed reader id.
func (r *Roster) Readers() []domain.ReaderID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ReaderID, 0, len(r.readers))
	for id := range r.readers {
		out = append(out, id)
	}
	return out
}

// Snapshot returns reader -> total outstanding count across all segments,
// for GET /readers.
func (r *Roster) Snapshot() map[domain.ReaderID]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.ReaderID]int, len(r.readers))
	for id, counts := range r.readers {
		total := 0
		for _, n := range counts {
			total += n
		}
		out[id] = total
	}
	return out
}
