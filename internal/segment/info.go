package segment

import (
	"context"
	"sync"

	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
)

// State mirrors the four-value state machine from the design: READY,
// UPDATING, SYNCHRONIZING, COPYING.
type State string

const (
	StateReady         State = "READY"
	StateUpdating       State = "UPDATING"
	StateSynchronizing State = "SYNCHRONIZING"
	StateCopying       State = "COPYING"
)

const (
	evStart        = "start_update"
	evCompleteSync = "complete_sync"
	evCompleteFree = "complete_free"
	evDrain        = "drain"
	evReadyAgain   = "ready"
)

// Info is a SegmentInfo: the per (data-source, RR-class) state machine that
// tracks which segment is readable vs writable, which readers point at
// which, and the FIFO queue of pending build events. All methods are only
// ever called from the manager goroutine; Info does no locking of its own,
// matching the "mutation discipline" in the concurrency model (only the
// builder touches the Segment payload, and only while Info.state holds it
// in UPDATING/COPYING on the writable side).
type Info struct {
	Key          domain.SegmentKey
	GenerationID uint64

	mu         sync.Mutex // guards only CurrentState()/snapshot reads from the admin API goroutine
	machine    *fsm.FSM
	pair       Pair
	writableIs int // 0 => pair.A is writable, 1 => pair.B is writable

	events     []Event
	readers    map[domain.ReaderID]struct{}
	oldReaders map[domain.ReaderID]struct{}

	copyInFlight bool
	lastApplied  *Event
}

// New builds a SegmentInfo in the READY state with no segments initialized
// yet (first load pending).
func New(key domain.SegmentKey, genID uint64, pair Pair) *Info {
	i := &Info{
		Key:          key,
		GenerationID: genID,
		pair:         pair,
		readers:      make(map[domain.ReaderID]struct{}),
		oldReaders:   make(map[domain.ReaderID]struct{}),
	}
	i.machine = fsm.NewFSM(
		string(StateReady),
		fsm.Events{
			{Name: evStart, Src: []string{string(StateReady), string(StateCopying)}, Dst: string(StateUpdating)},
			{Name: evCompleteSync, Src: []string{string(StateUpdating)}, Dst: string(StateSynchronizing)},
			{Name: evCompleteFree, Src: []string{string(StateUpdating)}, Dst: string(StateCopying)},
			{Name: evDrain, Src: []string{string(StateSynchronizing)}, Dst: string(StateCopying)},
			{Name: evReadyAgain, Src: []string{string(StateCopying)}, Dst: string(StateReady)},
		},
		fsm.Callbacks{},
	)
	return i
}

// CurrentState reports the state machine's current value.
func (i *Info) CurrentState() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return State(i.machine.Current())
}

func (i *Info) writable() Segment {
	if i.writableIs == 0 {
		return i.pair.A
	}
	return i.pair.B
}

func (i *Info) readable() Segment {
	if i.writableIs == 0 {
		return i.pair.B
	}
	return i.pair.A
}

func (i *Info) swap() {
	if i.writableIs == 0 {
		i.writableIs = 1
	} else {
		i.writableIs = 0
	}
}

// AddReader adds r to the set of readers pointing at the current readable
// segment. Precondition: r is not already tracked by this Info.
func (i *Info) AddReader(r domain.ReaderID) error {
	if _, ok := i.readers[r]; ok {
		return errors.Errorf("reader %s already tracked in readers", r)
	}
	if _, ok := i.oldReaders[r]; ok {
		return errors.Errorf("reader %s already tracked in old_readers", r)
	}
	i.readers[r] = struct{}{}
	return nil
}

// RemoveReader removes r from whichever set it's in. If removing it from
// old_readers empties that set while SYNCHRONIZING, the state advances to
// COPYING and the follow-up build command (if any) is returned.
func (i *Info) RemoveReader(r domain.ReaderID) (*Command, error) {
	if _, ok := i.readers[r]; ok {
		delete(i.readers, r)
		return nil, nil
	}
	if _, ok := i.oldReaders[r]; ok {
		delete(i.oldReaders, r)
		if len(i.oldReaders) == 0 && i.CurrentState() == StateSynchronizing {
			return i.drainToCopying(), nil
		}
		return nil, nil
	}
	return nil, errors.Errorf("reader %s not tracked by %s", r, i.Key)
}

// SyncReader is invoked when a reader acknowledges it has switched to the
// current readable segment. It moves r from old_readers to readers, and if
// that empties old_readers while SYNCHRONIZING, advances exactly as
// RemoveReader does. A reader that was never in old_readers (e.g. it
// subscribed mid-flight straight into readers and is merely acking that
// initial info_update) is a harmless no-op, not an error; only a reader
// tracked by neither set is unknown.
func (i *Info) SyncReader(r domain.ReaderID) (*Command, error) {
	if _, ok := i.oldReaders[r]; ok {
		delete(i.oldReaders, r)
		i.readers[r] = struct{}{}
		if len(i.oldReaders) == 0 && i.CurrentState() == StateSynchronizing {
			return i.drainToCopying(), nil
		}
		return nil, nil
	}
	if _, ok := i.readers[r]; ok {
		return nil, nil
	}
	return nil, errors.Errorf("reader %s not tracked by %s", r, i.Key)
}

// AddEvent appends e to the pending event queue. It does not by itself
// start work; the caller (manager) decides whether to call StartUpdate.
func (i *Info) AddEvent(e Event) {
	i.events = append(i.events, e)
}

// OldReaders returns a snapshot of the readers still pending migration, for
// the manager to address info_update messages to.
func (i *Info) OldReaders() []domain.ReaderID {
	out := make([]domain.ReaderID, 0, len(i.oldReaders))
	for r := range i.oldReaders {
		out = append(out, r)
	}
	return out
}

// Readers returns a snapshot of the currently-synced readers.
func (i *Info) Readers() []domain.ReaderID {
	out := make([]domain.ReaderID, 0, len(i.readers))
	for r := range i.readers {
		out = append(out, r)
	}
	return out
}

// QueueDepth reports the number of events still waiting to be started.
func (i *Info) QueueDepth() int { return len(i.events) }

// StartUpdate starts the head event if READY and events is non-empty,
// transitioning READY -> UPDATING and returning the build command. It
// peeks rather than pops: the event is only removed once CompleteUpdate
// observes its completion.
func (i *Info) StartUpdate() *Command {
	if i.CurrentState() != StateReady || len(i.events) == 0 {
		return nil
	}
	if err := i.fire(evStart); err != nil {
		return nil
	}
	return i.commandFor(i.events[0])
}

func (i *Info) commandFor(e Event) *Command {
	return &Command{
		Kind:         CommandLoad,
		ZoneName:     e.ZoneName,
		GenerationID: i.GenerationID,
		Class:        i.Key.Class,
		DataSource:   i.Key.DataSource,
		Target:       i,
	}
}

// CompleteUpdate is invoked on every builder completion for this Info.
//
// If the completion was a genuine load (copyInFlight is false): swap
// writable/readable, move readers en masse into old_readers, pop the
// just-completed event, and transition to SYNCHRONIZING (readers pending
// migration) or COPYING (none were pending, advance immediately with no
// catch-up build owed — nobody needed the other segment kept current).
//
// If the completion was the copy-phase replay (copyInFlight is true): the
// writable segment now mirrors the readable one; no swap, no reader
// migration, just a state drain.
func (i *Info) CompleteUpdate() *Command {
	if i.copyInFlight {
		i.copyInFlight = false
		return i.afterDrain(false)
	}

	i.swap()
	for r := range i.readers {
		i.oldReaders[r] = struct{}{}
		delete(i.readers, r)
	}

	if len(i.events) > 0 {
		completed := i.events[0]
		i.events = i.events[1:]
		i.lastApplied = &completed
	}

	if len(i.oldReaders) > 0 {
		_ = i.fire(evCompleteSync)
		return nil
	}
	_ = i.fire(evCompleteFree)
	return i.afterDrain(false)
}

// drainToCopying handles the SYNCHRONIZING -> COPYING transition once
// old_readers empties, whether triggered by RemoveReader or SyncReader. A
// real migration just finished, so if no new event has arrived to
// overshadow it, the last applied event is replayed into the writable
// segment to bring both copies current.
func (i *Info) drainToCopying() *Command {
	_ = i.fire(evDrain)
	return i.afterDrain(true)
}

// afterDrain decides what happens once Info is in COPYING with old_readers
// empty: run the next genuinely-queued event if any; otherwise, only if
// this drain followed an actual reader migration (fromSync), run a single
// catch-up replay of the last applied event; otherwise return to READY.
func (i *Info) afterDrain(fromSync bool) *Command {
	if len(i.events) > 0 {
		_ = i.fire(evStart)
		return i.commandFor(i.events[0])
	}
	if fromSync && i.lastApplied != nil {
		// Stays in COPYING: this build re-populates the writable segment
		// with content readers already have, so it is not an UPDATING
		// build in the reader-facing sense, even though a command is in
		// flight against the writable segment.
		i.copyInFlight = true
		return i.commandFor(*i.lastApplied)
	}
	_ = i.fire(evReadyAgain)
	return nil
}

func (i *Info) fire(event string) error {
	return i.machine.Event(context.Background(), event)
}

// GetResetParam returns the opaque attach parameters for the readable
// segment (role=RoleReader) or the writable segment (role=RoleWriter). The
// second return value is false if that segment has never been built.
func (i *Info) GetResetParam(role Role) (ResetParam, bool) {
	var seg Segment
	if role == RoleReader {
		seg = i.readable()
	} else {
		seg = i.writable()
	}
	if seg == nil {
		return ResetParam{}, false
	}
	return seg.ResetParam()
}

// WritableSegment exposes the writable Segment to the builder. Only the
// builder goroutine calls this, and only while this Info is UPDATING or
// COPYING with a build in flight against it, which the manager guarantees
// structurally by never issuing a second command before CompleteUpdate.
func (i *Info) WritableSegment() Segment { return i.writable() }
