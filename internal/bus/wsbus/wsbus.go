// Package wsbus implements bus.Session over a gorilla/websocket duplex
// connection, grounded on the tracker-sync gossip layer in
// JabelResendiz-BitTorrent's src/tracker/sync.go: a single connection, one
// reader goroutine decoding frames into typed channels, and one writer
// goroutine owning the socket for outbound sends. No keepalive ping is
// sent; a dead peer shows up only as a read or write error.
package wsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anantadwi13/memmgr/internal/bus"
	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 20 * time.Second
	writeTimeout = 5 * time.Second
)

// frame is the wire envelope every message, in either direction, travels
// in. Payload is re-decoded against a concrete type once Kind is known.
type frame struct {
	Kind    string          `json:"kind"`
	ReplyTo string          `json:"reply_to,omitempty"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type outbound struct {
	frame frame
	done  chan error
}

// Session is a bus.Session backed by a single websocket connection.
type Session struct {
	conn   *websocket.Conn
	logger *zap.Logger

	commands  chan bus.Command
	notifies  chan bus.Notification
	dsconfigs chan bus.DataSourceConfig
	mcconfigs chan bus.ModuleConfigUpdate

	writeCh chan outbound

	mu      sync.Mutex
	pending map[string]chan bus.Answer

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens a websocket connection to addr and starts the session's
// reader/writer goroutines.
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*Session, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("wsbus: dial %s: %w", addr, err)
	}
	return newSession(conn, logger), nil
}

func newSession(conn *websocket.Conn, logger *zap.Logger) *Session {
	s := &Session{
		conn:      conn,
		logger:    logger,
		commands:  make(chan bus.Command, 16),
		notifies:  make(chan bus.Notification, 16),
		dsconfigs: make(chan bus.DataSourceConfig, 4),
		mcconfigs: make(chan bus.ModuleConfigUpdate, 4),
		writeCh:   make(chan outbound, 16),
		pending:   make(map[string]chan bus.Answer),
		closed:    make(chan struct{}),
	}
	go s.readLoop()
	go s.writeLoop()
	return s
}

func (s *Session) Commands() <-chan bus.Command                  { return s.commands }
func (s *Session) Notifications() <-chan bus.Notification        { return s.notifies }
func (s *Session) DataSourceConfig() <-chan bus.DataSourceConfig { return s.dsconfigs }
func (s *Session) ModuleConfig() <-chan bus.ModuleConfigUpdate   { return s.mcconfigs }

func (s *Session) readLoop() {
	defer close(s.commands)
	defer close(s.notifies)
	defer close(s.dsconfigs)
	defer close(s.mcconfigs)
	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			select {
			case <-s.closed:
			default:
				s.logger.Warn("wsbus: read loop ended", zap.Error(err))
			}
			return
		}
		s.dispatch(f)
	}
}

func (s *Session) dispatch(f frame) {
	switch f.Kind {
	case "answer":
		var a bus.Answer
		if err := json.Unmarshal(f.Payload, &a); err != nil {
			s.logger.Error("wsbus: bad answer payload", zap.Error(err))
			return
		}
		s.mu.Lock()
		ch, ok := s.pending[f.ReplyTo]
		if ok {
			delete(s.pending, f.ReplyTo)
		}
		s.mu.Unlock()
		if ok {
			ch <- a
			close(ch)
		}
	case string(bus.CmdLoadZone), string(bus.CmdInfoUpdateAck):
		s.dispatchCommand(f)
	case string(bus.NotifyZoneUpdated), string(bus.NotifySubscribed), string(bus.NotifyUnsubscribed):
		s.dispatchNotification(f)
	case "datasource_config":
		var cfg bus.DataSourceConfig
		if err := json.Unmarshal(f.Payload, &cfg); err != nil {
			s.logger.Error("wsbus: bad datasource_config payload", zap.Error(err))
			return
		}
		s.dsconfigs <- cfg
	case "module_config":
		s.dispatchModuleConfig(f)
	default:
		s.logger.Warn("wsbus: unknown frame kind", zap.String("kind", f.Kind))
	}
}

type loadZonePayload struct {
	Class      domain.RRClass        `json:"class"`
	DataSource domain.DataSourceName `json:"datasource"`
	Origin     domain.ZoneName       `json:"origin"`
}

type infoUpdateAckPayload struct {
	Class      domain.RRClass        `json:"data-source-class"`
	DataSource domain.DataSourceName `json:"data-source-name"`
	Reader     domain.ReaderID       `json:"reader"`
}

func (s *Session) dispatchCommand(f frame) {
	replyCh := make(chan bus.Answer, 1)
	cmd := bus.Command{Reply: replyCh}
	switch f.Kind {
	case string(bus.CmdLoadZone):
		var p loadZonePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			s.logger.Error("wsbus: bad loadzone payload", zap.Error(err))
			return
		}
		cmd.Kind = bus.CmdLoadZone
		cmd.Class, cmd.DataSource, cmd.Origin = p.Class, p.DataSource, p.Origin
	case string(bus.CmdInfoUpdateAck):
		var p infoUpdateAckPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			s.logger.Error("wsbus: bad info_update_ack payload", zap.Error(err))
			return
		}
		cmd.Kind = bus.CmdInfoUpdateAck
		cmd.Class, cmd.DataSource, cmd.Reader = p.Class, p.DataSource, p.Reader
	}
	s.commands <- cmd
	go s.awaitAnswer(f.ID, replyCh)
}

// awaitAnswer forwards the handler's eventual Answer back over the wire
// once the manager goroutine writes it to replyCh.
func (s *Session) awaitAnswer(id string, replyCh <-chan bus.Answer) {
	a := <-replyCh
	payload, _ := json.Marshal(a)
	done := make(chan error, 1)
	s.writeCh <- outbound{frame: frame{Kind: "answer", ReplyTo: id, Payload: payload}, done: done}
	if err := <-done; err != nil {
		s.logger.Error("wsbus: failed to write answer", zap.Error(err))
	}
}

type moduleConfigPayload struct {
	MappedFileDir string `json:"mapped_file_dir"`
}

// dispatchModuleConfig forwards a post-startup reconfiguration request to
// the manager and, once it answers, writes the answer back over the wire
// the same way dispatchCommand does for an ordinary RPC.
func (s *Session) dispatchModuleConfig(f frame) {
	var p moduleConfigPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		s.logger.Error("wsbus: bad module_config payload", zap.Error(err))
		return
	}
	replyCh := make(chan bus.Answer, 1)
	s.mcconfigs <- bus.ModuleConfigUpdate{MappedFileDir: p.MappedFileDir, Reply: replyCh}
	go s.awaitAnswer(f.ID, replyCh)
}

type subscribedPayload struct {
	Group  string          `json:"group"`
	Client domain.ReaderID `json:"client"`
}

type zoneUpdatedPayload struct {
	Class      domain.RRClass        `json:"class"`
	DataSource domain.DataSourceName `json:"datasource"`
	Origin     domain.ZoneName       `json:"origin"`
}

func (s *Session) dispatchNotification(f frame) {
	n := bus.Notification{}
	switch f.Kind {
	case string(bus.NotifyZoneUpdated):
		var p zoneUpdatedPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			s.logger.Error("wsbus: bad zone_updated payload", zap.Error(err))
			return
		}
		n.Kind = bus.NotifyZoneUpdated
		n.Class, n.DataSource, n.Origin = p.Class, p.DataSource, p.Origin
	case string(bus.NotifySubscribed), string(bus.NotifyUnsubscribed):
		var p subscribedPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			s.logger.Error("wsbus: bad subscribe payload", zap.Error(err))
			return
		}
		if f.Kind == string(bus.NotifySubscribed) {
			n.Kind = bus.NotifySubscribed
		} else {
			n.Kind = bus.NotifyUnsubscribed
		}
		n.Group, n.Client = p.Group, p.Client
	}
	s.notifies <- n
}

func (s *Session) writeLoop() {
	for out := range s.writeCh {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		out.done <- s.conn.WriteJSON(out.frame)
	}
}

// SendInfoUpdate writes an info_update command frame and does not wait for
// an answer; the reader's own info_update_ack arrives later as a Command.
func (s *Session) SendInfoUpdate(ctx context.Context, upd bus.InfoUpdate) error {
	payload, err := json.Marshal(struct {
		Class         domain.RRClass        `json:"data-source-class"`
		DataSource    domain.DataSourceName  `json:"data-source-name"`
		SegmentParams map[string]string      `json:"segment-params"`
		Reader        domain.ReaderID        `json:"reader"`
	}{upd.Class, upd.DataSource, upd.SegmentParams, upd.Reader})
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	select {
	case s.writeCh <- outbound{frame: frame{Kind: "info_update", Payload: payload}, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Members performs the startup `members {group: "SegmentReader"}` RPC.
func (s *Session) Members(ctx context.Context, group string) ([]domain.ReaderID, error) {
	id := fmt.Sprintf("members-%s-%d", group, time.Now().UnixNano())
	payload, _ := json.Marshal(struct {
		Group string `json:"group"`
	}{group})
	waitCh := make(chan bus.Answer, 1)
	s.mu.Lock()
	s.pending[id] = waitCh
	s.mu.Unlock()

	done := make(chan error, 1)
	select {
	case s.writeCh <- outbound{frame: frame{Kind: "members", ID: id, Payload: payload}, done: done}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := <-done; err != nil {
		return nil, err
	}

	select {
	case a := <-waitCh:
		var members []domain.ReaderID
		if err := json.Unmarshal([]byte(a.Text), &members); err != nil {
			return nil, fmt.Errorf("wsbus: bad members response: %w", err)
		}
		return members, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the underlying connection and stops both goroutines.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
		close(s.writeCh)
	})
	return err
}
