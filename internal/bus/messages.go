// Package bus defines the message contract memmgr exchanges with the
// inter-process control channel: the commands it answers, the
// notifications it reacts to, and the commands it sends out to readers.
// The wire protocol and transport are external collaborators; this package
// only fixes the shapes that cross it and the Session interface the
// manager drives.
package bus

import (
	"context"

	"github.com/anantadwi13/memmgr/internal/domain"
)

// CommandKind distinguishes the inbound commands memmgr answers.
type CommandKind string

const (
	CmdLoadZone      CommandKind = "loadzone"
	CmdInfoUpdateAck CommandKind = "info_update_ack"
)

// Command is an inbound RPC-style request expecting an Answer.
type Command struct {
	Kind CommandKind
	// LoadZone fields.
	Class      domain.RRClass
	DataSource domain.DataSourceName
	Origin     domain.ZoneName
	// InfoUpdateAck fields.
	Reader domain.ReaderID

	Reply chan<- Answer
}

// Answer is the synchronous response to a Command.
type Answer struct {
	Code int
	Text string
}

// NotificationKind distinguishes the inbound fire-and-forget events.
type NotificationKind string

const (
	NotifyZoneUpdated NotificationKind = "zone_updated"
	NotifySubscribed  NotificationKind = "subscribed"
	NotifyUnsubscribed NotificationKind = "unsubscribed"
)

// Notification is an inbound event with no reply expected.
type Notification struct {
	Kind NotificationKind
	// ZoneUpdated fields.
	Class      domain.RRClass
	DataSource domain.DataSourceName
	Origin     domain.ZoneName
	// Subscribed/Unsubscribed fields.
	Group  string
	Client domain.ReaderID
}

// InfoUpdate is the outbound command sent to a single reader in the
// SegmentReader group, one at a time, telling it to remap a segment.
type InfoUpdate struct {
	Class         domain.RRClass
	DataSource    domain.DataSourceName
	SegmentParams map[string]string
	Reader        domain.ReaderID
}

// DataSourceConfig is a remote-config push describing the full set of
// configured (class, name) data sources for a new generation.
type DataSourceConfig struct {
	GenerationID uint64
	Sources      []domain.SegmentKey
}

// ModuleConfigUpdate is a post-startup push reconfiguring memmgr's own
// process config (as opposed to DataSourceConfig, which reconfigures the
// data sources). Reply carries back whether the new mapped_file_dir was
// accepted.
type ModuleConfigUpdate struct {
	MappedFileDir string
	Reply         chan<- Answer
}

// Session is the duplex channel the manager multiplexes in its select
// loop. A concrete transport (wsbus) implements it.
type Session interface {
	// Commands streams inbound RPC requests.
	Commands() <-chan Command
	// Notifications streams inbound fire-and-forget events.
	Notifications() <-chan Notification
	// DataSourceConfig streams remote configuration pushes.
	DataSourceConfig() <-chan DataSourceConfig
	// ModuleConfig streams post-startup module-config reload requests.
	ModuleConfig() <-chan ModuleConfigUpdate

	// SendInfoUpdate delivers upd to the SegmentReader group member named
	// in upd.Reader and blocks until the transport has written it.
	SendInfoUpdate(ctx context.Context, upd InfoUpdate) error

	// Members performs the startup RPC `members {group: "SegmentReader"}`.
	Members(ctx context.Context, group string) ([]domain.ReaderID, error)

	// Close tears down the session.
	Close() error
}
