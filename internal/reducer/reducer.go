// Package reducer implements the daemon's event core: the single task that
// consumes every external input — client commands, engine events, process
// lifecycle signals, and timers — as one tagged DaemonEvent stream, and is
// the only writer of the state store. Grounded on spec.md §4.6; the
// original's corresponding core.rs reducer was not present in the retrieval
// pack, so this is built directly from the specification's event
// vocabulary and transition rules rather than a direct line-for-line port.
package reducer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ja-mf/raddaemon/internal/engine"
	"github.com/ja-mf/raddaemon/internal/fanout"
	"github.com/ja-mf/raddaemon/internal/protocol"
	"github.com/ja-mf/raddaemon/internal/state"
)

// EventKind tags a DaemonEvent's meaning. Go has no native sum type, so
// DaemonEvent carries every possible payload field and only the ones
// relevant to Kind are populated — the same shape used by protocol.Command
// and protocol.Broadcast.
type EventKind string

const (
	EventClientConnected    EventKind = "client_connected"
	EventClientCountChanged EventKind = "client_count_changed"
	EventClientCommand      EventKind = "client_command"
	EventEngineEvent        EventKind = "engine_event"
	EventEngineDied         EventKind = "engine_died"
	EventTick               EventKind = "tick"
	EventStationsReloaded   EventKind = "stations_reloaded"
)

// DaemonEvent is the single tagged union the reducer consumes.
type DaemonEvent struct {
	Kind EventKind

	ClientCount int
	Command     *protocol.Command
	EngineEvent engine.Event
	Stations    []protocol.Station
}

// connectTimeout bounds how long a Play/PlayFile command may sit in
// Connecting before the reducer gives up and reports Error, per spec.md
// §4.6 ("core-idle=true during intended playback is ... Error after a
// deadline").
const connectTimeout = 10 * time.Second

// pingFailureLimit is how many consecutive failed health pings demote the
// engine to Degraded.
const pingFailureLimit = 2

// nowFunc is indirected so tests can simulate elapsed time without sleeping.
var nowFunc = time.Now

// EngineDriver is the subset of *engine.Driver the reducer depends on,
// narrowed to an interface so tests can substitute a fake engine process.
type EngineDriver interface {
	TryReconnect(ctx context.Context) (*engine.Handle, error)
	SpawnAndConnect(ctx context.Context) (*engine.Handle, error)
	SetLastVolume(volume float64)
}

// Reducer is the daemon's single state-mutating task.
type Reducer struct {
	store       *state.Store
	driver      EngineDriver
	broadcaster *fanout.Broadcaster[protocol.Broadcast]
	log         zerolog.Logger

	events chan DaemonEvent

	handle         *engine.Handle
	connectStarted time.Time
	pingFailures   int
	restartEpoch   string
}

// New constructs a Reducer. queueSize bounds the event channel, per spec's
// bounded-queue backpressure policy.
func New(store *state.Store, driver EngineDriver, broadcaster *fanout.Broadcaster[protocol.Broadcast], log zerolog.Logger, queueSize int) *Reducer {
	return &Reducer{
		store:       store,
		driver:      driver,
		broadcaster: broadcaster,
		log:         log.With().Str("component", "reducer").Logger(),
		events:      make(chan DaemonEvent, queueSize),
	}
}

// Submit enqueues an event, blocking if the queue is full (client commands
// apply backpressure rather than being dropped, per spec.md §7). It returns
// ctx.Err() if ctx is cancelled before the event could be enqueued — the
// one dispatch-failure case callers need to distinguish from success.
func (r *Reducer) Submit(ctx context.Context, ev DaemonEvent) error {
	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle returns the reducer's current live engine handle, or nil if the
// engine is not currently connected. Exposed so other components (e.g. the
// proxy, which issues no IPC itself) can query connectivity.
func (r *Reducer) Handle() *engine.Handle { return r.handle }

// QueueDepth reports how many events are currently buffered awaiting
// dispatch. Exposed for the HTTP control surface's metrics endpoint.
func (r *Reducer) QueueDepth() int { return len(r.events) }

// Run drives the reducer loop until ctx is cancelled. It attempts an
// initial engine connection before entering the loop.
func (r *Reducer) Run(ctx context.Context) {
	r.connectEngine(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Reducer) dispatch(ctx context.Context, ev DaemonEvent) {
	switch ev.Kind {
	case EventClientConnected:
		r.log.Debug().Msg("client connected")
	case EventClientCountChanged:
		r.log.Debug().Int("count", ev.ClientCount).Msg("client count changed")
	case EventClientCommand:
		if ev.Command != nil {
			r.handleCommand(ctx, *ev.Command)
		}
	case EventEngineEvent:
		r.handleEngineEvent(ctx, ev.EngineEvent)
	case EventEngineDied:
		r.handleEngineDied(ctx)
	case EventTick:
		r.handleTick(ctx)
	case EventStationsReloaded:
		r.handleStationsReloaded(ctx, ev.Stations)
	default:
		r.log.Warn().Str("kind", string(ev.Kind)).Msg("unknown event kind")
	}
}

func (r *Reducer) broadcastState() {
	s := r.store.Get()
	r.broadcaster.Publish(protocol.Broadcast{
		Type: protocol.BcastState,
		Rev:  s.Rev,
		State: &s,
	})
}

func (r *Reducer) broadcastIcy(title *string) {
	r.broadcaster.Publish(protocol.Broadcast{Type: protocol.BcastIcy, Title: title})
}

func (r *Reducer) broadcastLog(message string) {
	r.broadcaster.Publish(protocol.Broadcast{Type: protocol.BcastLog, Message: message})
}

func (r *Reducer) broadcastError(message string) {
	r.broadcaster.Publish(protocol.Broadcast{Type: protocol.BcastError, Message: message})
}

func (r *Reducer) broadcastAudioLevel(rmsDb float32) {
	r.broadcaster.Publish(protocol.Broadcast{Type: protocol.BcastAudioLevel, RmsDb: rmsDb})
}
