package control

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja-mf/raddaemon/internal/engine"
	"github.com/ja-mf/raddaemon/internal/fanout"
	"github.com/ja-mf/raddaemon/internal/protocol"
	"github.com/ja-mf/raddaemon/internal/reducer"
	"github.com/ja-mf/raddaemon/internal/state"
)

func startTestServer(t *testing.T) (addr string, store *state.Store, broadcaster *fanout.Broadcaster[protocol.Broadcast], events chan reducer.DaemonEvent) {
	t.Helper()
	store = state.New("", []protocol.Station{{Name: "A", URL: "http://a.example/stream"}})
	broadcaster = fanout.New[protocol.Broadcast](16)

	// A minimal stand-in reducer: we can't easily intercept reducer.Submit
	// without a real *reducer.Reducer, so route through one backed by a
	// no-op engine driver and drain its event channel ourselves via Submit's
	// exported surface is not available — instead we assert at the protocol
	// level (Hello + broadcast delivery), which is what the control server
	// itself is responsible for.
	r := reducer.New(store, noopDriver{}, broadcaster, zerolog.Nop(), 16)

	srv := New("127.0.0.1:0", store, broadcaster, r, zerolog.Nop())
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr = listener.Addr().String()
	listener.Close()
	srv.addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.ListenAndServe(ctx)
	time.Sleep(50 * time.Millisecond)

	return addr, store, broadcaster, nil
}

type noopDriver struct{}

func (noopDriver) TryReconnect(ctx context.Context) (*engine.Handle, error) {
	return nil, nil
}
func (noopDriver) SpawnAndConnect(ctx context.Context) (*engine.Handle, error) {
	return nil, nil
}
func (noopDriver) SetLastVolume(float64) {}

func TestClientReceivesHelloOnConnect(t *testing.T) {
	addr, store, _, _ := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	payload, err := readFrameFromConn(t, conn)
	require.NoError(t, err)

	msg, err := protocol.DecodePayload(payload)
	require.NoError(t, err)
	require.NotNil(t, msg.Broadcast)
	assert.Equal(t, protocol.BcastHello, msg.Broadcast.Type)
	assert.Equal(t, protocol.ProtocolVersion, msg.Broadcast.ProtocolVersion)
	require.NotNil(t, msg.Broadcast.State)
	assert.Equal(t, store.Get().Rev, msg.Broadcast.State.Rev)
}

func TestClientReceivesPublishedBroadcast(t *testing.T) {
	addr, _, broadcaster, _ := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = readFrameFromConn(t, conn) // Hello
	require.NoError(t, err)

	broadcaster.Publish(protocol.Broadcast{Type: protocol.BcastLog, Message: "hello world"})

	payload, err := readFrameFromConn(t, conn)
	require.NoError(t, err)
	msg, err := protocol.DecodePayload(payload)
	require.NoError(t, err)
	require.NotNil(t, msg.Broadcast)
	assert.Equal(t, protocol.BcastLog, msg.Broadcast.Type)
	assert.Equal(t, "hello world", msg.Broadcast.Message)
}

func readFrameFromConn(t *testing.T, conn net.Conn) ([]byte, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return readFrame(conn)
}
