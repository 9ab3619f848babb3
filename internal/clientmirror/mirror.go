// Package clientmirror implements the client side of the control protocol: a
// passive reducer that mirrors the daemon's broadcasts into a local
// DaemonState, tracks optimistic intent for user-driven commands, and keeps
// bounded history rings for ICY titles and log lines. Grounded on the
// teacher's internal/client/websocket.go connect/handshake/route shape,
// adapted from its per-message-type channel fan-out (gorilla/websocket
// frames) to this protocol's single length-prefixed JSON stream, and from
// internal/player/scheduler.go's bounded time-ordered buffering pattern for
// the PCM jitter buffer — simplified to FIFO since a single TCP stream
// already delivers Pcm broadcasts in daemon-emission order, so no
// clock-sync/reorder machinery is needed.
package clientmirror

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ja-mf/raddaemon/internal/intent"
	"github.com/ja-mf/raddaemon/internal/protocol"
)

const (
	icyHistoryCap = 20
	logRingCap    = 200

	// pcmRingCap holds roughly 2s of 44.1kHz mono audio, per spec.
	pcmRingCap = 2 * 44100
	// jitterStartSamples is the ~0.25s threshold before steady consumption
	// begins.
	jitterStartSamples = 44100 / 4

	noStation = -1
)

// Mirror is a client-side connection to the daemon's TCP control port. It
// owns no rendering; callers drain State/IcyHistory/LogHistory/Errors and
// render however they like.
type Mirror struct {
	log zerolog.Logger

	mu              sync.RWMutex
	conn            net.Conn
	writer          *bufio.Writer
	state           protocol.DaemonState
	helloReceived   bool
	icyHistory      []string
	logRing         []string
	pcmPending      []float32
	pcmRing         []float32
	stationIntent   *intent.State[int]
	volumeIntent    *intent.State[float64]
	pauseIntent     *intent.State[bool]

	errors chan string
	done   chan struct{}
	closeOnce sync.Once
}

// New constructs an unconnected Mirror.
func New(log zerolog.Logger) *Mirror {
	return &Mirror{
		log:           log.With().Str("component", "clientmirror").Logger(),
		stationIntent: intent.New(noStation),
		volumeIntent:  intent.New(0.0),
		pauseIntent:   intent.New(false),
		errors:        make(chan string, 16),
		done:          make(chan struct{}),
	}
}

// Connect dials addr and starts the background read loop. It returns once
// the dial succeeds and does not wait for the initial Hello; a protocol
// version mismatch is reported later on Errors, and the connection is then
// closed (Done fires).
func (m *Mirror) Connect(ctx context.Context, addr string) error {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("clientmirror: dial %s: %w", addr, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.writer = bufio.NewWriter(conn)
	m.mu.Unlock()

	go m.readLoop(conn)
	return nil
}

// Done is closed when the connection ends, whether by protocol-version
// mismatch, I/O error, or explicit Close.
func (m *Mirror) Done() <-chan struct{} { return m.done }

// Errors yields daemon Error broadcasts for toast-style surfacing.
func (m *Mirror) Errors() <-chan string { return m.errors }

// State returns the last mirrored daemon state.
func (m *Mirror) State() protocol.DaemonState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// IcyHistory returns the bounded ICY title history, oldest first.
func (m *Mirror) IcyHistory() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.icyHistory...)
}

// LogHistory returns the bounded daemon log history, oldest first.
func (m *Mirror) LogHistory() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.logRing...)
}

// DrainPCM removes and returns up to max samples ready for playback from the
// display ring; it returns nothing until the jitter buffer has crossed its
// start threshold.
func (m *Mirror) DrainPCM(max int) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pcmRing) == 0 {
		return nil
	}
	if max > len(m.pcmRing) {
		max = len(m.pcmRing)
	}
	out := append([]float32(nil), m.pcmRing[:max]...)
	m.pcmRing = m.pcmRing[max:]
	return out
}

// IntentStation records that the user just asked to switch to idx and
// returns the render hint to show immediately.
func (m *Mirror) IntentStation(idx int) intent.RenderHint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stationIntent.SetIntent(idx)
	return m.stationIntent.RenderState()
}

// IntentVolume records an optimistic volume change.
func (m *Mirror) IntentVolume(v float64) intent.RenderHint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumeIntent.SetIntent(v)
	return m.volumeIntent.RenderState()
}

// IntentPause records an optimistic pause/resume toggle.
func (m *Mirror) IntentPause(paused bool) intent.RenderHint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseIntent.SetIntent(paused)
	return m.pauseIntent.RenderState()
}

// TickIntents ages every intent tracker against its timeout. Callers should
// invoke this on a short ticker (e.g. every 100ms) alongside rendering.
func (m *Mirror) TickIntents() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stationIntent.Tick()
	m.volumeIntent.Tick()
	m.pauseIntent.Tick()
}

// SendCommand writes a framed Command to the daemon.
func (m *Mirror) SendCommand(cmd protocol.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return fmt.Errorf("clientmirror: not connected")
	}
	encoded, err := protocol.Encode(protocol.Message{Command: &cmd})
	if err != nil {
		return err
	}
	if _, err := m.writer.Write(encoded); err != nil {
		return err
	}
	return m.writer.Flush()
}

// Close tears down the connection, idempotently.
func (m *Mirror) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		if m.conn != nil {
			m.conn.Close()
		}
		m.mu.Unlock()
		close(m.done)
	})
}

func (m *Mirror) readLoop(conn net.Conn) {
	defer m.Close()
	reader := bufio.NewReaderSize(conn, 64*1024)

	for {
		payload, err := readFrame(reader)
		if err != nil {
			if err != io.EOF {
				m.log.Debug().Err(err).Msg("read error")
			}
			return
		}

		msg, err := protocol.DecodePayload(payload)
		if err != nil {
			m.log.Warn().Err(err).Msg("malformed frame from daemon")
			continue
		}
		if msg.Broadcast == nil {
			continue
		}
		if !m.handleBroadcast(*msg.Broadcast) {
			return
		}
	}
}

// handleBroadcast applies one broadcast to the mirror's state. Returns false
// if the connection should be torn down (protocol version mismatch).
func (m *Mirror) handleBroadcast(b protocol.Broadcast) bool {
	switch b.Type {
	case protocol.BcastHello:
		return m.onHello(b)
	case protocol.BcastState:
		m.onState(b)
	case protocol.BcastIcy:
		m.onIcy(b)
	case protocol.BcastLog:
		m.onLog(b)
	case protocol.BcastError:
		m.onError(b)
	case protocol.BcastAudioLevel:
		// No mirrored field: callers that want live level metering read it
		// directly off the wire via a future extension point; nothing to do
		// here today.
	case protocol.BcastPcm:
		m.onPcm(b)
	}
	return true
}

func (m *Mirror) onHello(b protocol.Broadcast) bool {
	if b.ProtocolVersion != protocol.ProtocolVersion {
		m.log.Error().Int("daemon_version", b.ProtocolVersion).Int("client_version", protocol.ProtocolVersion).
			Msg("protocol version mismatch, disconnecting")
		select {
		case m.errors <- fmt.Sprintf("incompatible daemon protocol version %d (client supports %d)", b.ProtocolVersion, protocol.ProtocolVersion):
		default:
		}
		return false
	}

	m.mu.Lock()
	m.helloReceived = true
	if b.State != nil {
		m.state = b.State.Clone()
	}
	m.mu.Unlock()

	m.reconcileIntents()
	return true
}

func (m *Mirror) onState(b protocol.Broadcast) {
	if b.State == nil {
		return
	}
	m.mu.Lock()
	if b.State.Rev > m.state.Rev {
		m.state = b.State.Clone()
	}
	m.mu.Unlock()
	m.reconcileIntents()
}

func (m *Mirror) reconcileIntents() {
	m.mu.Lock()
	defer m.mu.Unlock()

	stationVal := noStation
	if m.state.CurrentStation != nil {
		stationVal = *m.state.CurrentStation
	}
	m.stationIntent.OnConfirmed(stationVal)
	m.volumeIntent.OnConfirmed(m.state.Volume)
	m.pauseIntent.OnConfirmed(m.state.IsPaused)
}

func (m *Mirror) onIcy(b protocol.Broadcast) {
	if b.Title == nil || *b.Title == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.icyHistory) > 0 && m.icyHistory[len(m.icyHistory)-1] == *b.Title {
		return
	}
	m.icyHistory = append(m.icyHistory, *b.Title)
	if len(m.icyHistory) > icyHistoryCap {
		m.icyHistory = m.icyHistory[len(m.icyHistory)-icyHistoryCap:]
	}
}

func (m *Mirror) onLog(b protocol.Broadcast) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logRing = append(m.logRing, b.Message)
	if len(m.logRing) > logRingCap {
		m.logRing = m.logRing[len(m.logRing)-logRingCap:]
	}
}

func (m *Mirror) onError(b protocol.Broadcast) {
	select {
	case m.errors <- b.Message:
	default:
		// Error channel saturated: drop rather than block the read loop.
	}
}

func (m *Mirror) onPcm(b protocol.Broadcast) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pcmPending = append(m.pcmPending, b.Samples...)
	if len(m.pcmPending) < jitterStartSamples {
		return
	}

	m.pcmRing = append(m.pcmRing, m.pcmPending...)
	m.pcmPending = m.pcmPending[:0]
	if overflow := len(m.pcmRing) - pcmRingCap; overflow > 0 {
		m.pcmRing = m.pcmRing[overflow:]
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > protocol.MaxFrameSize {
		return nil, protocol.ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
