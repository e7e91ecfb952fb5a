package wsbus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anantadwi13/memmgr/internal/bus"
	"github.com/anantadwi13/memmgr/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{}

// newTestPair starts a websocket server, dials a wsbus.Session against it,
// and hands back both the session and the server-side connection so tests
// can drive frames from either end without a second Session implementation.
func newTestPair(t *testing.T) (*Session, *websocket.Conn) {
	t.Helper()
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	addr := "ws" + strings.TrimPrefix(srv.URL, "http")
	sess, err := Dial(context.Background(), addr, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	serverConn := <-connCh
	t.Cleanup(func() { _ = serverConn.Close() })
	return sess, serverConn
}

func TestDispatch_LoadZoneCommand(t *testing.T) {
	sess, serverConn := newTestPair(t)

	payload, err := json.Marshal(struct {
		Class      string `json:"class"`
		DataSource string `json:"datasource"`
		Origin     string `json:"origin"`
	}{"IN", "sqlite3", "example.com"})
	require.NoError(t, err)
	require.NoError(t, serverConn.WriteJSON(frame{Kind: string(bus.CmdLoadZone), ID: "req-1", Payload: payload}))

	select {
	case cmd := <-sess.Commands():
		assert.Equal(t, bus.CmdLoadZone, cmd.Kind)
		assert.EqualValues(t, "IN", cmd.Class)
		assert.EqualValues(t, "sqlite3", cmd.DataSource)
		assert.EqualValues(t, "example.com", cmd.Origin)
		cmd.Reply <- bus.Answer{Code: 0, Text: "queued"}
	case <-time.After(2 * time.Second):
		t.Fatal("command never dispatched")
	}

	var got frame
	require.NoError(t, serverConn.ReadJSON(&got))
	assert.Equal(t, "answer", got.Kind)
	assert.Equal(t, "req-1", got.ReplyTo)
	var ans bus.Answer
	require.NoError(t, json.Unmarshal(got.Payload, &ans))
	assert.Equal(t, 0, ans.Code)
}

func TestDispatch_SubscribedNotification(t *testing.T) {
	sess, serverConn := newTestPair(t)

	payload, err := json.Marshal(struct {
		Group  string `json:"group"`
		Client string `json:"client"`
	}{"SegmentReader", "r1"})
	require.NoError(t, err)
	require.NoError(t, serverConn.WriteJSON(frame{Kind: string(bus.NotifySubscribed), Payload: payload}))

	select {
	case n := <-sess.Notifications():
		assert.Equal(t, bus.NotifySubscribed, n.Kind)
		assert.EqualValues(t, "SegmentReader", n.Group)
		assert.EqualValues(t, "r1", n.Client)
	case <-time.After(2 * time.Second):
		t.Fatal("notification never dispatched")
	}
}

func TestMembers(t *testing.T) {
	sess, serverConn := newTestPair(t)

	go func() {
		var got frame
		if err := serverConn.ReadJSON(&got); err != nil {
			return
		}
		ansPayload, _ := json.Marshal(bus.Answer{Code: 0, Text: `["r1","r2"]`})
		_ = serverConn.WriteJSON(frame{Kind: "answer", ReplyTo: got.ID, Payload: ansPayload})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	members, err := sess.Members(ctx, "SegmentReader")
	require.NoError(t, err)
	assert.Equal(t, []domain.ReaderID{"r1", "r2"}, members)
}

func TestSendInfoUpdate(t *testing.T) {
	sess, serverConn := newTestPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.SendInfoUpdate(ctx, bus.InfoUpdate{
			Class:         domain.RRClassIN,
			DataSource:    "sqlite3",
			Reader:        "r1",
			SegmentParams: map[string]string{"path": "/tmp/x", "mode": "local"},
		})
	}()

	var got frame
	require.NoError(t, serverConn.ReadJSON(&got))
	assert.Equal(t, "info_update", got.Kind)

	var p struct {
		Class         string            `json:"data-source-class"`
		DataSource    string            `json:"data-source-name"`
		SegmentParams map[string]string `json:"segment-params"`
		Reader        string            `json:"reader"`
	}
	require.NoError(t, json.Unmarshal(got.Payload, &p))
	assert.Equal(t, "IN", p.Class)
	assert.Equal(t, "sqlite3", p.DataSource)
	assert.Equal(t, "r1", p.Reader)
	assert.Equal(t, "/tmp/x", p.SegmentParams["path"])

	require.NoError(t, <-errCh)
}

func TestModuleConfigDispatch(t *testing.T) {
	sess, serverConn := newTestPair(t)

	payload, err := json.Marshal(struct {
		MappedFileDir string `json:"mapped_file_dir"`
	}{"/tmp/segments"})
	require.NoError(t, err)
	require.NoError(t, serverConn.WriteJSON(frame{Kind: "module_config", ID: "mc-1", Payload: payload}))

	select {
	case upd := <-sess.ModuleConfig():
		assert.Equal(t, "/tmp/segments", upd.MappedFileDir)
		upd.Reply <- bus.Answer{Code: 0, Text: "ok"}
	case <-time.After(2 * time.Second):
		t.Fatal("module config never dispatched")
	}

	var got frame
	require.NoError(t, serverConn.ReadJSON(&got))
	assert.Equal(t, "answer", got.Kind)
	assert.Equal(t, "mc-1", got.ReplyTo)
}
