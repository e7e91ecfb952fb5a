package roster

import (
	"testing"

	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/anantadwi13/memmgr/internal/segment"
	"github.com/stretchr/testify/assert"
)

func testInfo() *segment.Info {
	key := domain.SegmentKey{Class: domain.RRClassIN, DataSource: "sqlite3"}
	pair := segment.Pair{A: segment.NewFileSegment("/tmp/a", "mapped"), B: segment.NewFileSegment("/tmp/b", "mapped")}
	return segment.New(key, 1, pair)
}

func TestRoster_SubscribeUnsubscribe(t *testing.T) {
	r := New()
	r.Subscribe("r1")
	assert.ElementsMatch(t, []domain.ReaderID{"r1"}, r.Readers())
	r.Unsubscribe("r1")
	assert.Empty(t, r.Readers())
}

func TestRoster_SentAckedDrains(t *testing.T) {
	r := New()
	info := testInfo()
	r.Subscribe("r1")

	r.Sent("r1", info)
	r.Sent("r1", info)
	assert.Equal(t, 2, r.Outstanding("r1", info))

	drained, ok := r.Acked("r1", info)
	assert.True(t, ok)
	assert.False(t, drained)
	assert.Equal(t, 1, r.Outstanding("r1", info))

	drained, ok = r.Acked("r1", info)
	assert.True(t, ok)
	assert.True(t, drained)
	assert.Equal(t, 0, r.Outstanding("r1", info))
}

func TestRoster_AckedUnknown(t *testing.T) {
	r := New()
	info := testInfo()
	_, ok := r.Acked("ghost", info)
	assert.False(t, ok)

	r.Subscribe("r1")
	_, ok = r.Acked("r1", info)
	assert.False(t, ok, "no info_update was ever sent to r1 for info")
}

func TestRoster_Snapshot(t *testing.T) {
	r := New()
	info1 := testInfo()
	info2 := testInfo()
	r.Subscribe("r1")
	r.Sent("r1", info1)
	r.Sent("r1", info2)
	r.Sent("r1", info2)

	snap := r.Snapshot()
	assert.Equal(t, 3, snap["r1"])
}
