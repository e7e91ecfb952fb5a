package segment

import "github.com/anantadwi13/memmgr/internal/domain"

// CommandKind distinguishes the two commands the builder understands.
type CommandKind int

const (
	// CommandLoad asks the builder to (re)load zone data into a segment's
	// writable half.
	CommandLoad CommandKind = iota
	// CommandShutdown asks the builder to drain and exit.
	CommandShutdown
)

// Command is a build request dispatched to the builder worker. ZoneName nil
// means "load all zones defined for this data source." GenerationID/Class/
// DataSource name the SegmentInfo for logging and the audit trail; Target
// points at it directly, and the manager completes the build through
// Target.
type Command struct {
	Kind         CommandKind
	ZoneName     *domain.ZoneName
	GenerationID uint64
	Class        domain.RRClass
	DataSource   domain.DataSourceName
	Target       *Info
}

// Event is a pending build request queued on a SegmentInfo. It carries the
// same zone-name granularity as Command but none of the builder-dispatch
// plumbing, since events may sit in the queue long before they're run.
type Event struct {
	ZoneName *domain.ZoneName
}
