// Package control implements the daemon's TCP control surface: a
// length-prefixed JSON frame protocol where the server greets every new
// connection with a Hello carrying a full state snapshot, accepts Command
// frames, and pushes Broadcast frames — including via the shared fan-out —
// for the lifetime of the connection. Grounded on the daemon's TCP
// accept/handle_client loop, adapted from its per-connection broadcast
// receiver (tokio::sync::broadcast) to internal/fanout's bounded
// Subscription, and from its read_buf accumulation to direct length-prefixed
// reads since each connection already has a dedicated blocking reader
// goroutine.
package control

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ja-mf/raddaemon/internal/fanout"
	"github.com/ja-mf/raddaemon/internal/protocol"
	"github.com/ja-mf/raddaemon/internal/reducer"
	"github.com/ja-mf/raddaemon/internal/state"
)

// Server accepts TCP connections and speaks the framed control protocol.
type Server struct {
	addr        string
	store       *state.Store
	broadcaster *fanout.Broadcaster[protocol.Broadcast]
	reducer     *reducer.Reducer
	log         zerolog.Logger

	mu          sync.Mutex
	clientCount int
}

// New constructs a Server bound to addr (e.g. "127.0.0.1:9876").
func New(addr string, store *state.Store, broadcaster *fanout.Broadcaster[protocol.Broadcast], r *reducer.Reducer, log zerolog.Logger) *Server {
	return &Server{
		addr:        addr,
		store:       store,
		broadcaster: broadcaster,
		reducer:     r,
		log:         log.With().Str("component", "control").Logger(),
	}
}

// ListenAndServe binds addr and accepts connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", s.addr, err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.log.Info().Str("addr", s.addr).Msg("control server listening")
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		go s.handleClient(ctx, conn, uuid.NewString())
	}
}

func (s *Server) handleClient(ctx context.Context, conn net.Conn, id string) {
	defer conn.Close()
	log := s.log.With().Str("client_id", id).Logger()
	log.Info().Str("peer", conn.RemoteAddr().String()).Msg("client connected")

	count := s.addClient()
	if err := s.reducer.Submit(ctx, reducer.DaemonEvent{Kind: reducer.EventClientConnected}); err != nil {
		log.Debug().Err(err).Msg("dispatch client_connected failed")
	}
	if err := s.reducer.Submit(ctx, reducer.DaemonEvent{Kind: reducer.EventClientCountChanged, ClientCount: count}); err != nil {
		log.Debug().Err(err).Msg("dispatch client_count_changed failed")
	}
	defer func() {
		count := s.removeClient()
		if err := s.reducer.Submit(ctx, reducer.DaemonEvent{Kind: reducer.EventClientCountChanged, ClientCount: count}); err != nil {
			log.Debug().Err(err).Msg("dispatch client_count_changed failed")
		}
		log.Info().Msg("client disconnected")
	}()

	snap := s.store.Get()
	hello := protocol.Message{Broadcast: &protocol.Broadcast{
		Type:            protocol.BcastHello,
		ProtocolVersion: protocol.ProtocolVersion,
		Rev:             snap.Rev,
		State:           &snap,
	}}
	if err := writeMessage(conn, hello); err != nil {
		return
	}

	sub := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(sub)

	clientCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.writeLoop(clientCtx, conn, sub, log)
	s.readLoop(ctx, conn, log)
}

// ClientCount reports the current number of connected control clients.
// Exposed for the HTTP control surface's metrics endpoint.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientCount
}

func (s *Server) addClient() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientCount++
	return s.clientCount
}

func (s *Server) removeClient() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientCount--
	return s.clientCount
}

func (s *Server) writeLoop(ctx context.Context, conn net.Conn, sub *fanout.Subscription[protocol.Broadcast], log zerolog.Logger) {
	for {
		select {
		case b, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeMessage(conn, protocol.Message{Broadcast: &b}); err != nil {
				return
			}
		case lagged, ok := <-sub.LaggedC():
			if !ok {
				return
			}
			log.Warn().Int("skipped", lagged.Skipped).Msg("client missed broadcast messages")
			snap := s.store.Get()
			_ = writeMessage(conn, protocol.Message{Broadcast: &protocol.Broadcast{
				Type: protocol.BcastState, Rev: snap.Rev, State: &snap,
			}})
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn net.Conn, log zerolog.Logger) {
	reader := bufio.NewReaderSize(conn, 4096)
	for {
		payload, err := readFrame(reader)
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("read error")
			}
			return
		}

		msg, err := protocol.DecodePayload(payload)
		if err != nil {
			log.Warn().Err(err).Msg("malformed frame, dropping connection")
			return
		}
		if msg.Command == nil {
			continue
		}
		log.Debug().Str("type", string(msg.Command.Type)).Msg("command received")
		if err := s.reducer.Submit(ctx, reducer.DaemonEvent{Kind: reducer.EventClientCommand, Command: msg.Command}); err != nil {
			log.Debug().Err(err).Msg("dispatch command failed")
		}
	}
}

func writeMessage(w io.Writer, msg protocol.Message) error {
	encoded, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(encoded)
	return err
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
