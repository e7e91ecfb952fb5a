package segment

import (
	"testing"

	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() domain.SegmentKey {
	return domain.SegmentKey{Class: domain.RRClassIN, DataSource: domain.DataSourceName("sqlite3")}
}

func newTestInfo() *Info {
	pair := Pair{A: NewFileSegment("/tmp/a", "mapped"), B: NewFileSegment("/tmp/b", "mapped")}
	return New(testKey(), 1, pair)
}

func zone(s string) *domain.ZoneName {
	z := domain.ZoneName(s)
	return &z
}

// Scenario 1: a single loadzone with no readers runs straight through
// READY -> UPDATING -> COPYING -> READY with one builder completion.
func TestScenario_LoadNoReaders(t *testing.T) {
	i := newTestInfo()
	i.AddEvent(Event{ZoneName: zone("example.com")})

	cmd := i.StartUpdate()
	require.NotNil(t, cmd)
	assert.Equal(t, StateUpdating, i.CurrentState())

	follow := i.CompleteUpdate()
	assert.Nil(t, follow)
	assert.Equal(t, StateReady, i.CurrentState())
}

// Scenario 2: a loadzone with readers subscribed goes through
// SYNCHRONIZING; once every reader acks, a catch-up build runs in COPYING
// and its completion returns the Info to READY.
func TestScenario_LoadWithReaders(t *testing.T) {
	i := newTestInfo()
	require.NoError(t, i.AddReader("r1"))
	require.NoError(t, i.AddReader("r2"))
	i.AddEvent(Event{ZoneName: zone("example.com")})

	require.NotNil(t, i.StartUpdate())
	follow := i.CompleteUpdate()
	assert.Nil(t, follow)
	assert.Equal(t, StateSynchronizing, i.CurrentState())
	assert.ElementsMatch(t, []domain.ReaderID{"r1", "r2"}, i.OldReaders())

	cmd, err := i.SyncReader("r1")
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, StateSynchronizing, i.CurrentState())

	cmd, err = i.SyncReader("r2")
	require.NoError(t, err)
	assert.NotNil(t, cmd)
	assert.Equal(t, StateCopying, i.CurrentState())

	assert.Nil(t, i.CompleteUpdate())
	assert.Equal(t, StateReady, i.CurrentState())
}

// Scenario 3: a second loadzone arrives while the first build is still in
// flight and no reader was ever subscribed. The queued event must run
// immediately after the first completes — exactly two completions, no
// spurious copy-phase replay since nobody needed catching up.
func TestScenario_QueuedLoadNoReaders(t *testing.T) {
	i := newTestInfo()
	i.AddEvent(Event{ZoneName: zone("a.example.")})
	require.NotNil(t, i.StartUpdate())

	i.AddEvent(Event{ZoneName: zone("b.example.")})

	follow := i.CompleteUpdate()
	require.NotNil(t, follow, "queued second load must start immediately")
	assert.Equal(t, StateUpdating, i.CurrentState())

	follow2 := i.CompleteUpdate()
	assert.Nil(t, follow2, "no third completion should be synthesized")
	assert.Equal(t, StateReady, i.CurrentState())
}

// Scenario 4: a reader subscribes mid-SYNCHRONIZING, is added straight to
// readers (not old_readers), and later acks its own initial info_update.
// That ack must be a harmless no-op, not an "unknown reader" error, and
// must not interfere with the real migration draining old_readers.
func TestScenario_ReaderJoinsMidSync(t *testing.T) {
	i := newTestInfo()
	require.NoError(t, i.AddReader("r1"))
	i.AddEvent(Event{ZoneName: zone("example.com")})
	require.NotNil(t, i.StartUpdate())
	require.Nil(t, i.CompleteUpdate())
	require.Equal(t, StateSynchronizing, i.CurrentState())

	// r2 subscribes after the swap already happened; it's handed the
	// current readable segment directly, so it goes straight into readers.
	require.NoError(t, i.AddReader("r2"))

	// r2 acks its own initial info_update: harmless no-op.
	cmd, err := i.SyncReader("r2")
	require.NoError(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, StateSynchronizing, i.CurrentState())

	// r1's real migration ack drains old_readers and advances the state.
	cmd, err = i.SyncReader("r1")
	require.NoError(t, err)
	assert.NotNil(t, cmd)
	assert.Equal(t, StateCopying, i.CurrentState())

	assert.Nil(t, i.CompleteUpdate())
	assert.Equal(t, StateReady, i.CurrentState())
}

// Scenario 5: a load completes with readers pending, and before they all
// ack, the last reader instead unsubscribes (RemoveReader) rather than
// acking. That must drain old_readers exactly as an ack would.
func TestScenario_UnsubscribeDrainsOldReaders(t *testing.T) {
	i := newTestInfo()
	require.NoError(t, i.AddReader("r1"))
	i.AddEvent(Event{ZoneName: zone("example.com")})
	require.NotNil(t, i.StartUpdate())
	require.Nil(t, i.CompleteUpdate())
	require.Equal(t, StateSynchronizing, i.CurrentState())

	cmd, err := i.RemoveReader("r1")
	require.NoError(t, err)
	assert.NotNil(t, cmd)
	assert.Equal(t, StateCopying, i.CurrentState())

	assert.Nil(t, i.CompleteUpdate())
	assert.Equal(t, StateReady, i.CurrentState())
}

// Scenario 6: a reader is still migrating (in old_readers) and no further
// event is queued. The drain into COPYING must replay the last applied
// event to catch the writable segment up, and must do so via a distinct
// copy-phase completion that does not re-trigger another reader migration.
func TestScenario_CatchUpReplayOnDrain(t *testing.T) {
	i := newTestInfo()
	require.NoError(t, i.AddReader("r1"))
	i.AddEvent(Event{ZoneName: zone("example.com")})
	require.NotNil(t, i.StartUpdate())
	require.Nil(t, i.CompleteUpdate())
	require.Equal(t, StateSynchronizing, i.CurrentState())

	// r1 is still migrating; draining it should trigger a copy-phase
	// replay since no new event has been queued yet.
	cmd, err := i.RemoveReader("r1")
	require.NoError(t, err)
	require.NotNil(t, cmd, "drain with no queued event should replay last applied")
	assert.Equal(t, StateCopying, i.CurrentState())
	assert.True(t, i.copyInFlight)

	// The copy-phase completion drains straight to READY: no readers to
	// migrate (the replay never touched the reader sets) and no further
	// event queued.
	follow := i.CompleteUpdate()
	assert.Nil(t, follow)
	assert.False(t, i.copyInFlight)
	assert.Equal(t, StateReady, i.CurrentState())
}

func TestAddReader_DuplicateRejected(t *testing.T) {
	i := newTestInfo()
	require.NoError(t, i.AddReader("r1"))
	err := i.AddReader("r1")
	assert.Error(t, err)
}

func TestSyncReader_UnknownRejected(t *testing.T) {
	i := newTestInfo()
	_, err := i.SyncReader("ghost")
	assert.Error(t, err)
}

func TestRemoveReader_UnknownRejected(t *testing.T) {
	i := newTestInfo()
	_, err := i.RemoveReader("ghost")
	assert.Error(t, err)
}

func TestQueueDepth(t *testing.T) {
	i := newTestInfo()
	assert.Equal(t, 0, i.QueueDepth())
	i.AddEvent(Event{ZoneName: zone("a.example.")})
	i.AddEvent(Event{ZoneName: zone("b.example.")})
	assert.Equal(t, 2, i.QueueDepth())
	require.NotNil(t, i.StartUpdate())
	assert.Equal(t, 2, i.QueueDepth(), "StartUpdate peeks, does not pop")
	i.CompleteUpdate()
	assert.Equal(t, 1, i.QueueDepth())
}
