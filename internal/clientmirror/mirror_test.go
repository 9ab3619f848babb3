package clientmirror

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja-mf/raddaemon/internal/intent"
	"github.com/ja-mf/raddaemon/internal/protocol"
)

func newConnectedPair(t *testing.T) (*Mirror, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	m := New(zerolog.Nop())
	m.conn = client
	m.writer = nil
	go m.readLoop(client)

	return m, server
}

func writeBroadcast(t *testing.T, conn net.Conn, b protocol.Broadcast) {
	t.Helper()
	encoded, err := protocol.Encode(protocol.Message{Broadcast: &b})
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		_, _ = conn.Write(encoded)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write to pipe did not complete")
	}
}

func TestHelloMatchingVersionAppliesState(t *testing.T) {
	m, server := newConnectedPair(t)
	idx := 1
	writeBroadcast(t, server, protocol.Broadcast{
		Type:            protocol.BcastHello,
		ProtocolVersion: protocol.ProtocolVersion,
		Rev:             3,
		State:           &protocol.DaemonState{Rev: 3, CurrentStation: &idx, Volume: 0.5},
	})

	require.Eventually(t, func() bool {
		return m.State().Rev == 3
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 0.5, m.State().Volume)
}

func TestHelloVersionMismatchDisconnects(t *testing.T) {
	m, server := newConnectedPair(t)
	writeBroadcast(t, server, protocol.Broadcast{
		Type:            protocol.BcastHello,
		ProtocolVersion: protocol.ProtocolVersion + 1,
	})

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("expected mirror to disconnect on version mismatch")
	}

	select {
	case msg := <-m.Errors():
		assert.Contains(t, msg, "incompatible daemon protocol version")
	case <-time.After(time.Second):
		t.Fatal("expected an error message describing the mismatch")
	}
}

func TestStateDiscardsNonMonotonicRev(t *testing.T) {
	m, server := newConnectedPair(t)
	writeBroadcast(t, server, protocol.Broadcast{Type: protocol.BcastHello, ProtocolVersion: protocol.ProtocolVersion, State: &protocol.DaemonState{Rev: 5}})
	require.Eventually(t, func() bool { return m.State().Rev == 5 }, time.Second, 10*time.Millisecond)

	writeBroadcast(t, server, protocol.Broadcast{Type: protocol.BcastState, State: &protocol.DaemonState{Rev: 2, Volume: 0.9}})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(5), m.State().Rev)

	writeBroadcast(t, server, protocol.Broadcast{Type: protocol.BcastState, State: &protocol.DaemonState{Rev: 7, Volume: 0.9}})
	require.Eventually(t, func() bool { return m.State().Rev == 7 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.9, m.State().Volume)
}

func TestIcyHistoryDedupesConsecutiveTitles(t *testing.T) {
	m, server := newConnectedPair(t)
	title := "Song A"
	writeBroadcast(t, server, protocol.Broadcast{Type: protocol.BcastIcy, Title: &title})
	writeBroadcast(t, server, protocol.Broadcast{Type: protocol.BcastIcy, Title: &title})
	other := "Song B"
	writeBroadcast(t, server, protocol.Broadcast{Type: protocol.BcastIcy, Title: &other})

	require.Eventually(t, func() bool { return len(m.IcyHistory()) == 2 }, time.Second, 10*time.Millisecond)
	hist := m.IcyHistory()
	assert.Equal(t, []string{"Song A", "Song B"}, hist)
}

func TestLogRingIsBounded(t *testing.T) {
	m, server := newConnectedPair(t)
	for i := 0; i < logRingCap+10; i++ {
		writeBroadcast(t, server, protocol.Broadcast{Type: protocol.BcastLog, Message: "line"})
	}
	require.Eventually(t, func() bool { return len(m.LogHistory()) == logRingCap }, time.Second, 10*time.Millisecond)
}

func TestPcmBuffersUntilStartThresholdThenDrains(t *testing.T) {
	m, server := newConnectedPair(t)

	small := make([]float32, jitterStartSamples-1)
	writeBroadcast(t, server, protocol.Broadcast{Type: protocol.BcastPcm, Samples: small})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, m.DrainPCM(1000))

	writeBroadcast(t, server, protocol.Broadcast{Type: protocol.BcastPcm, Samples: []float32{1, 2}})
	require.Eventually(t, func() bool { return len(m.pcmRingSnapshotForTest()) > 0 }, time.Second, 10*time.Millisecond)

	drained := m.DrainPCM(pcmRingCap)
	assert.Equal(t, jitterStartSamples+1, len(drained))
}

func (m *Mirror) pcmRingSnapshotForTest() []float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pcmRing
}

func TestIntentStationGoesPendingThenConfirms(t *testing.T) {
	m, server := newConnectedPair(t)
	writeBroadcast(t, server, protocol.Broadcast{Type: protocol.BcastHello, ProtocolVersion: protocol.ProtocolVersion, State: &protocol.DaemonState{Rev: 1}})
	require.Eventually(t, func() bool { return m.State().Rev == 1 }, time.Second, 10*time.Millisecond)

	hint := m.IntentStation(2)
	assert.NotEqual(t, intent.RenderNormal, hint)

	idx := 2
	writeBroadcast(t, server, protocol.Broadcast{Type: protocol.BcastState, State: &protocol.DaemonState{Rev: 2, CurrentStation: &idx}})
	require.Eventually(t, func() bool { return m.State().Rev == 2 }, time.Second, 10*time.Millisecond)

	m.mu.RLock()
	confirmed := m.stationIntent.IsConfirmed()
	m.mu.RUnlock()
	assert.True(t, confirmed)
}

func TestSendCommandRequiresWriterSetup(t *testing.T) {
	m := New(zerolog.Nop())
	err := m.SendCommand(protocol.Command{Type: protocol.CmdStop})
	assert.Error(t, err)
}
