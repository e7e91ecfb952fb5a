// Package manager implements the single-threaded event loop that
// multiplexes bus commands, bus notifications, data-source configuration
// pushes, module-config reload pushes, and the builder's wake pipe. No
// handler here blocks on I/O other than the select itself; anything
// needing a build calls segment.Info operations and forwards the returned
// command to builder.Channel.Send.
package manager

import (
	"context"

	"github.com/anantadwi13/memmgr/internal/audit"
	"github.com/anantadwi13/memmgr/internal/builder"
	"github.com/anantadwi13/memmgr/internal/bus"
	"github.com/anantadwi13/memmgr/internal/config"
	"github.com/anantadwi13/memmgr/internal/datasrc"
	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/anantadwi13/memmgr/internal/roster"
	"github.com/anantadwi13/memmgr/internal/segment"
	"go.uber.org/zap"
)

// Manager owns the registry, roster, and builder channel, and is the only
// goroutine allowed to touch any of them.
type Manager struct {
	registry  *datasrc.Registry
	roster    *roster.Roster
	builderCh *builder.Channel
	session   bus.Session
	auditLog  *audit.Log
	cfg       *config.Watcher
	logger    *zap.Logger

	wake chan struct{}
}

// New constructs a Manager. registry may already hold a first generation,
// or be empty if the first generation arrives over the bus's
// DataSourceConfig channel instead (cmd/memmgrd passes an empty one).
func New(registry *datasrc.Registry, session bus.Session, builderCh *builder.Channel, auditLog *audit.Log, cfg *config.Watcher, logger *zap.Logger) *Manager {
	return &Manager{
		registry:  registry,
		roster:    roster.New(),
		builderCh: builderCh,
		session:   session,
		auditLog:  auditLog,
		cfg:       cfg,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// Roster exposes the reader roster for the admin API.
func (m *Manager) Roster() *roster.Roster { return m.roster }

// Registry exposes the data-source registry for the admin API.
func (m *Manager) Registry() *datasrc.Registry { return m.registry }

// Run is the event loop body. It returns when ctx is cancelled, after
// sending a Shutdown command to the builder and closing the builder
// channel; responses still queued at that point are not processed.
//
// Before entering the loop it seeds the roster and every SegmentInfo's
// reader set from the bus's own idea of group membership, since readers
// may already have joined SegmentReader before memmgr started (or
// restarted). The underlying session starts receiving subscribed/
// unsubscribed notifications as soon as it is dialed, well before Run is
// ever called, so the members snapshot below can never miss a reader that
// joined concurrently with this call.
func (m *Manager) Run(ctx context.Context) error {
	m.seedRoster(ctx)

	pumpDone := make(chan struct{})
	go m.pumpWake(ctx, pumpDone)
	defer func() {
		m.builderCh.Send(&segment.Command{Kind: segment.CommandShutdown})
		m.builderCh.Close()
		<-pumpDone
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd, ok := <-m.session.Commands():
			if !ok {
				return nil
			}
			m.handleCommand(ctx, cmd)

		case n, ok := <-m.session.Notifications():
			if !ok {
				return nil
			}
			m.handleNotification(ctx, n)

		case dscfg, ok := <-m.session.DataSourceConfig():
			if !ok {
				return nil
			}
			m.handleDataSourceConfig(ctx, dscfg)

		case mcfg, ok := <-m.session.ModuleConfig():
			if !ok {
				return nil
			}
			m.handleModuleConfig(mcfg)

		case <-m.wake:
			m.handleBuilderResponses(ctx)
		}
	}
}

// seedRoster performs the startup `members {group: "SegmentReader"}` RPC
// and adopts every reader it returns into the roster and into each
// SegmentInfo in the latest generation, the same way handleSubscribed
// adopts a reader that joins after startup. A failed RPC is logged and
// left empty rather than treated as fatal: memmgr still comes up and
// simply learns about readers as they subscribe from here on.
func (m *Manager) seedRoster(ctx context.Context) {
	readers, err := m.session.Members(ctx, "SegmentReader")
	if err != nil {
		m.logger.Warn("members RPC failed, starting with an empty roster", zap.Error(err))
		return
	}
	for _, r := range readers {
		m.adoptReader(ctx, r)
	}
}

// pumpWake reads one byte at a time from the builder's wake pipe and turns
// each into a non-blocking signal on m.wake, so the manager's select loop
// never touches the raw file descriptor directly.
func (m *Manager) pumpWake(ctx context.Context, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 1)
	fd := m.builderCh.WakeFD()
	for {
		n, err := fd.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		select {
		case m.wake <- struct{}{}:
		case <-ctx.Done():
			return
		default:
			// A signal is already pending; handleBuilderResponses will
			// drain every queued response anyway.
		}
	}
}

func (m *Manager) handleCommand(ctx context.Context, cmd bus.Command) {
	switch cmd.Kind {
	case bus.CmdLoadZone:
		m.handleLoadZone(ctx, cmd)
	case bus.CmdInfoUpdateAck:
		m.handleInfoUpdateAck(ctx, cmd)
	default:
		cmd.Reply <- bus.Answer{Code: 1, Text: "unknown command"}
	}
}

func (m *Manager) handleLoadZone(ctx context.Context, cmd bus.Command) {
	class, err := domain.ParseRRClass(string(cmd.Class))
	if err != nil {
		cmd.Reply <- bus.Answer{Code: 1, Text: err.Error()}
		return
	}
	origin, err := domain.ParseZoneName(string(cmd.Origin))
	if err != nil {
		cmd.Reply <- bus.Answer{Code: 1, Text: err.Error()}
		return
	}

	gen := m.registry.Latest()
	if gen == nil {
		m.logger.Warn("loadzone with no data source configured")
		cmd.Reply <- bus.Answer{Code: 1, Text: domain.NewError(domain.KindNoDataSource, "no data source configured").Error()}
		return
	}
	key := domain.SegmentKey{Class: class, DataSource: cmd.DataSource}
	info, ok := gen.Lookup(key)
	if !ok {
		cmd.Reply <- bus.Answer{Code: 1, Text: domain.NewError(domain.KindBadLoadZoneArgs, "unknown class/datasource: "+key.String()).Error()}
		return
	}

	info.AddEvent(segment.Event{ZoneName: &origin})
	if buildCmd := info.StartUpdate(); buildCmd != nil {
		m.builderCh.Send(buildCmd)
	}
	cmd.Reply <- bus.Answer{Code: 0, Text: "queued"}
}

func (m *Manager) handleInfoUpdateAck(ctx context.Context, cmd bus.Command) {
	key := domain.SegmentKey{Class: cmd.Class, DataSource: cmd.DataSource}
	info, ok := m.registry.FindBySegment(key)
	if !ok {
		m.logger.Warn("info_update_ack for unknown segment", zap.String("segment", key.String()))
		cmd.Reply <- bus.Answer{Code: 1, Text: domain.NewError(domain.KindUnknownReaderOrSegment, "unknown segment: "+key.String()).Error()}
		return
	}

	drained, ok := m.roster.Acked(cmd.Reader, info)
	if !ok {
		m.logger.Warn("info_update_ack from reader with no outstanding update",
			zap.String("reader", string(cmd.Reader)), zap.String("segment", key.String()))
		cmd.Reply <- bus.Answer{Code: 1, Text: domain.NewError(domain.KindUnknownReaderOrSegment, "no outstanding info_update for reader").Error()}
		return
	}
	if drained {
		follow, err := info.SyncReader(cmd.Reader)
		if err != nil {
			m.logger.Error("SyncReader failed after roster drained", zap.Error(err))
		}
		if follow != nil {
			m.builderCh.Send(follow)
		}
	}
	cmd.Reply <- bus.Answer{Code: 0, Text: "ack"}
}

func (m *Manager) handleNotification(ctx context.Context, n bus.Notification) {
	switch n.Kind {
	case bus.NotifyZoneUpdated:
		m.handleZoneUpdated(n)
	case bus.NotifySubscribed:
		m.handleSubscribed(ctx, n)
	case bus.NotifyUnsubscribed:
		m.handleUnsubscribed(n)
	}
}

func (m *Manager) handleZoneUpdated(n bus.Notification) {
	class, err := domain.ParseRRClass(string(n.Class))
	if err != nil {
		m.logger.Warn("zone_updated with malformed class", zap.Error(err))
		return
	}
	origin, err := domain.ParseZoneName(string(n.Origin))
	if err != nil {
		m.logger.Warn("zone_updated with malformed origin", zap.Error(err))
		return
	}

	gen := m.registry.Latest()
	if gen == nil {
		return
	}
	key := domain.SegmentKey{Class: class, DataSource: n.DataSource}
	info, ok := gen.Lookup(key)
	if !ok {
		return
	}
	info.AddEvent(segment.Event{ZoneName: &origin})
	if buildCmd := info.StartUpdate(); buildCmd != nil {
		m.builderCh.Send(buildCmd)
	}
}

func (m *Manager) handleSubscribed(ctx context.Context, n bus.Notification) {
	if n.Group != "SegmentReader" {
		return
	}
	m.adoptReader(ctx, n.Client)
	if m.auditLog != nil {
		_ = m.auditLog.Append(ctx, audit.Event{Kind: audit.EventReaderSubscribed, Reader: n.Client})
	}
}

// adoptReader subscribes reader into the roster and into every SegmentInfo
// in the latest generation, sending each an initial info_update. Shared by
// handleSubscribed (a reader joining mid-run) and seedRoster (readers
// already joined at startup).
func (m *Manager) adoptReader(ctx context.Context, reader domain.ReaderID) {
	m.roster.Subscribe(reader)
	gen := m.registry.Latest()
	if gen == nil {
		return
	}
	for _, info := range gen.All() {
		if err := info.AddReader(reader); err != nil {
			m.logger.Warn("AddReader on subscribe failed", zap.Error(err))
			continue
		}
		// skip_ok: a segment with no readable half built yet has nothing
		// to send; the reader will get its first info_update once the
		// pending build completes.
		m.sendInfoUpdate(ctx, reader, info)
	}
}

func (m *Manager) handleUnsubscribed(n bus.Notification) {
	if n.Group != "SegmentReader" {
		return
	}
	for _, gen := range m.registry.Generations() {
		for _, info := range gen.All() {
			follow, err := info.RemoveReader(n.Client)
			if err != nil {
				continue
			}
			if follow != nil {
				m.builderCh.Send(follow)
			}
		}
	}
	m.roster.Unsubscribe(n.Client)
	if m.auditLog != nil {
		_ = m.auditLog.Append(context.Background(), audit.Event{Kind: audit.EventReaderUnsubscribed, Reader: n.Client})
	}
}

func (m *Manager) handleDataSourceConfig(ctx context.Context, dscfg bus.DataSourceConfig) {
	gen := datasrc.Build(dscfg.GenerationID, m.cfg.Current().MappedFileDir, dscfg.Sources)
	m.registry.Add(gen)
	m.logger.Info("new data source generation adopted", zap.Uint64("generation", dscfg.GenerationID))
	if m.auditLog != nil {
		_ = m.auditLog.Append(ctx, audit.Event{Kind: audit.EventGenerationBumped, GenerationID: dscfg.GenerationID})
	}
}

// handleModuleConfig applies a post-startup mapped_file_dir change. On
// validation failure (missing directory, bad permissions) the prior
// config is retained and the caller is answered with the ConfigError,
// rather than the new value being adopted half-broken.
func (m *Manager) handleModuleConfig(upd bus.ModuleConfigUpdate) {
	if err := m.cfg.ReconfigureMappedFileDir(upd.MappedFileDir); err != nil {
		m.logger.Warn("module config reconfiguration rejected", zap.Error(err))
		upd.Reply <- bus.Answer{Code: 1, Text: err.Error()}
		return
	}
	m.logger.Info("module config reconfigured", zap.String("mapped_file_dir", upd.MappedFileDir))
	upd.Reply <- bus.Answer{Code: 0, Text: "ok"}
}

func (m *Manager) handleBuilderResponses(ctx context.Context) {
	for _, resp := range m.builderCh.Drain() {
		info := resp.Command.Target
		if resp.Err != nil {
			m.logger.Error("builder reported load failure", zap.Error(resp.Err))
			if m.auditLog != nil {
				_ = m.auditLog.Append(ctx, audit.Event{
					Kind: audit.EventBuildFailed, Class: resp.Command.Class, DataSource: resp.Command.DataSource,
					GenerationID: resp.Command.GenerationID, Detail: resp.Err.Error(),
				})
			}
		} else if m.auditLog != nil {
			_ = m.auditLog.Append(ctx, audit.Event{
				Kind: audit.EventBuildCompleted, Class: resp.Command.Class, DataSource: resp.Command.DataSource,
				GenerationID: resp.Command.GenerationID,
			})
		}

		follow := info.CompleteUpdate()

		// Independent of whatever CompleteUpdate returned: every reader
		// still in old_readers after this completion needs its
		// info_update sent, since a swap just happened underneath it.
		for _, r := range info.OldReaders() {
			m.sendInfoUpdate(ctx, r, info)
		}

		if follow != nil {
			m.builderCh.Send(follow)
		}
	}
}

func (m *Manager) sendInfoUpdate(ctx context.Context, reader domain.ReaderID, info *segment.Info) {
	resetParam, ok := info.GetResetParam(segment.RoleReader)
	if !ok {
		return
	}
	m.roster.Sent(reader, info)
	upd := bus.InfoUpdate{
		Class:      info.Key.Class,
		DataSource: info.Key.DataSource,
		Reader:     reader,
		SegmentParams: map[string]string{
			"path": resetParam.Path,
			"mode": resetParam.Mode,
		},
	}
	go func() {
		if err := m.session.SendInfoUpdate(ctx, upd); err != nil {
			m.logger.Error("failed to deliver info_update", zap.String("reader", string(reader)), zap.Error(err))
		}
	}()
}
