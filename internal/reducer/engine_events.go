package reducer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ja-mf/raddaemon/internal/engine"
	"github.com/ja-mf/raddaemon/internal/protocol"
)

func (r *Reducer) handleEngineEvent(ctx context.Context, ev engine.Event) {
	id, data, ok := ev.AsPropertyChange()
	if !ok {
		return
	}

	switch id {
	case engine.ObsCoreIdle:
		r.onCoreIdle(data)
	case engine.ObsPause:
		r.onPause(data)
	case engine.ObsIcyTitle:
		r.onIcyTitle(data)
	case engine.ObsTimePos:
		r.onTimePos(data)
	case engine.ObsDuration:
		r.onDuration(data)
	case engine.ObsAudioLevel:
		r.onAudioLevel(data)
	}
}

func (r *Reducer) onCoreIdle(data any) {
	idle, ok := data.(bool)
	if !ok {
		return
	}
	s := r.store.Get()
	if !idle {
		// Ground truth: the engine is actively producing audio.
		if s.PlaybackStatus == protocol.StatusConnecting || s.PlaybackStatus == protocol.StatusError {
			r.store.SetPlaybackStatus(protocol.StatusPlaying)
			r.broadcastState()
		}
	}
	// idle == true while intended playback is handled by the Connecting
	// deadline in handleTick, not here: a momentary idle during a track
	// change is normal and must not flip to Error immediately.
}

func (r *Reducer) onPause(data any) {
	paused, ok := data.(bool)
	if !ok {
		return
	}
	s := r.store.Get()
	if paused && s.PlaybackStatus == protocol.StatusPlaying {
		r.store.SetPlaybackStatus(protocol.StatusPaused)
		r.broadcastState()
	} else if !paused && s.PlaybackStatus == protocol.StatusPaused {
		r.store.SetPlaybackStatus(protocol.StatusPlaying)
		r.broadcastState()
	}
}

func (r *Reducer) onIcyTitle(data any) {
	title, ok := data.(string)
	if !ok || title == "" {
		return
	}
	r.store.SetIcyTitle(&title)
	r.broadcastState()
	r.broadcastIcy(&title)
}

func (r *Reducer) onTimePos(data any) {
	pos, ok := data.(float64)
	if !ok {
		return
	}
	s := r.store.Get()
	r.store.SetTimeline(&pos, s.DurationSecs)
	r.broadcastState()
}

func (r *Reducer) onDuration(data any) {
	dur, ok := data.(float64)
	if !ok {
		return
	}
	s := r.store.Get()
	r.store.SetTimeline(s.TimePosSecs, &dur)
	r.broadcastState()
}

func (r *Reducer) onAudioLevel(data any) {
	rms, ok := data.(float64)
	if !ok {
		return
	}
	r.broadcastAudioLevel(float32(rms))
}

// handleTick runs periodic, non-event-driven checks: the Connecting→Error
// deadline and engine health pings. The caller (cmd/raddaemon's wiring) is
// expected to submit an EventTick roughly once a second.
func (r *Reducer) handleTick(ctx context.Context) {
	s := r.store.Get()
	if s.PlaybackStatus == protocol.StatusConnecting && !r.connectStarted.IsZero() {
		if nowFunc().Sub(r.connectStarted) >= connectTimeout {
			r.store.SetPlaybackStatus(protocol.StatusError)
			r.broadcastState()
			r.broadcastError("station failed to start within the connect deadline")
		}
	}

	if r.handle == nil {
		return
	}
	if err := r.handle.Ping(ctx); err != nil {
		r.pingFailures++
		if r.pingFailures >= pingFailureLimit {
			health := r.store.Get().EngineHealth
			if health.State == protocol.EngineRunning {
				r.store.SetEngineHealth(protocol.EngineHealth{
					State:  protocol.EngineDegraded,
					Reason: err.Error(),
				})
				r.broadcastState()
				r.broadcastLog(fmt.Sprintf("engine health degraded: %v", err))
			}
		}
	} else {
		r.pingFailures = 0
		health := r.store.Get().EngineHealth
		if health.State == protocol.EngineDegraded {
			r.store.SetEngineHealth(protocol.EngineHealth{State: protocol.EngineRunning})
			r.broadcastState()
		}
	}
}

// handleEngineDied reacts to the child process exiting or the IPC
// connection dying: mark Dead, then run the reconnect ladder
// (Dead → Restarting → Starting → Running).
func (r *Reducer) handleEngineDied(ctx context.Context) {
	r.handle = nil
	r.pingFailures = 0
	r.store.SetEngineHealth(protocol.EngineHealth{State: protocol.EngineDead})
	r.broadcastState()
	r.broadcastLog("engine process died, scheduling restart")

	r.connectEngine(ctx)
}

// connectEngine attempts TryReconnect first (reattaching to an
// already-running engine across a daemon restart), falling back to a fresh
// SpawnAndConnect. On success it re-registers property observation and the
// audio level filter, and marks the engine Running.
func (r *Reducer) connectEngine(ctx context.Context) {
	r.restartEpoch = uuid.NewString()
	log := r.log.With().Str("restart_epoch", r.restartEpoch).Logger()

	r.store.SetEngineHealth(protocol.EngineHealth{State: protocol.EngineRestarting})
	r.broadcastState()

	handle, err := r.driver.TryReconnect(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("try_reconnect failed")
	}
	if handle == nil {
		r.store.SetEngineHealth(protocol.EngineHealth{State: protocol.EngineStarting})
		r.broadcastState()

		handle, err = r.driver.SpawnAndConnect(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("spawn_and_connect failed")
			r.store.SetEngineHealth(protocol.EngineHealth{
				State:  protocol.EngineDead,
				Reason: err.Error(),
			})
			r.broadcastState()
			r.broadcastError(fmt.Sprintf("engine failed to start: %v", err))
			return
		}
	}

	r.handle = handle
	r.handle.ObserveAllProperties(ctx)
	if err := r.handle.SetAudioFilter(ctx); err != nil {
		log.Warn().Err(err).Msg("set audio filter failed")
	}
	r.store.SetEngineHealth(protocol.EngineHealth{State: protocol.EngineRunning})
	r.broadcastState()

	go r.watchDeath(handle)
	go r.watchEvents(handle)
}

// watchEvents forwards every unsolicited event off handle into the
// reducer's own event stream until the handle dies, at which point its
// Events channel closes and this goroutine exits on its own. Like
// watchDeath, it captures handle by value so it never touches the mutable
// r.handle field.
func (r *Reducer) watchEvents(handle *engine.Handle) {
	for ev := range handle.Events() {
		r.events <- DaemonEvent{Kind: EventEngineEvent, EngineEvent: ev}
	}
}

// watchDeath waits for a specific handle to die and then submits
// EventEngineDied; it does not check whether that handle is still the
// reducer's current connection. It captures handle by value so it never
// touches r.handle itself, which only the reducer goroutine may mutate.
func (r *Reducer) watchDeath(handle *engine.Handle) {
	<-handle.Dead()
	r.events <- DaemonEvent{Kind: EventEngineDied}
}

func (r *Reducer) handleStationsReloaded(ctx context.Context, stations []protocol.Station) {
	dropped := r.store.ReplaceStations(stations)
	r.broadcastState()
	r.broadcastLog(fmt.Sprintf("station list reloaded (%d stations)", len(stations)))
	if dropped {
		r.stop(ctx)
	}
}
