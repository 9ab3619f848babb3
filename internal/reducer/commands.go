package reducer

import (
	"context"
	"fmt"

	"github.com/ja-mf/raddaemon/internal/protocol"
)

func (r *Reducer) handleCommand(ctx context.Context, cmd protocol.Command) {
	switch cmd.Type {
	case protocol.CmdPlay:
		r.play(ctx, cmd.StationIdx)
	case protocol.CmdPlayFile:
		r.playFile(ctx, cmd.Path, 0, false)
	case protocol.CmdPlayFileAt:
		r.playFile(ctx, cmd.Path, cmd.StartSecs, false)
	case protocol.CmdPlayFilePausedAt:
		r.playFile(ctx, cmd.Path, cmd.StartSecs, true)
	case protocol.CmdStop:
		r.stop(ctx)
	case protocol.CmdNext:
		r.cycle(ctx, r.store.NextStation)
	case protocol.CmdPrev:
		r.cycle(ctx, r.store.PrevStation)
	case protocol.CmdRandom:
		r.cycle(ctx, r.store.RandomStation)
	case protocol.CmdTogglePause:
		r.togglePause(ctx)
	case protocol.CmdVolume:
		r.setVolume(ctx, cmd.Volume)
	case protocol.CmdSeekRelative:
		r.seekRelative(ctx, cmd.Seconds)
	case protocol.CmdSeekTo:
		r.seekTo(ctx, cmd.Seconds)
	case protocol.CmdGetState:
		r.broadcastState()
	default:
		r.log.Warn().Str("type", string(cmd.Type)).Msg("unknown command type")
	}
}

func (r *Reducer) play(ctx context.Context, idx int) {
	stations := r.store.Stations()
	if idx < 0 || idx >= len(stations) {
		r.broadcastError(fmt.Sprintf("station index %d out of range (have %d)", idx, len(stations)))
		return
	}

	if err := r.store.SetPlaying(idx); err != nil {
		r.log.Warn().Err(err).Msg("persist playing state failed")
	}
	r.connectStarted = nowFunc()
	r.broadcastState()

	if r.handle == nil {
		r.broadcastError("engine not connected")
		return
	}
	volume := r.store.Get().Volume
	if err := r.handle.LoadStream(ctx, stations[idx].URL, volume); err != nil {
		r.log.Warn().Err(err).Int("idx", idx).Msg("engine load failed")
		r.broadcastError(fmt.Sprintf("failed to start station %d: %v", idx, err))
	}
}

func (r *Reducer) playFile(ctx context.Context, path string, startSecs float64, paused bool) {
	if err := r.store.SetPlayingFile(path, startSecs); err != nil {
		r.log.Warn().Err(err).Msg("persist playing-file state failed")
	}
	r.connectStarted = nowFunc()
	r.broadcastState()

	if r.handle == nil {
		r.broadcastError("engine not connected")
		return
	}
	volume := r.store.Get().Volume
	if err := r.handle.LoadStream(ctx, path, volume); err != nil {
		r.log.Warn().Err(err).Str("path", path).Msg("engine load file failed")
		r.broadcastError(fmt.Sprintf("failed to play %s: %v", path, err))
		return
	}
	if startSecs > 0 {
		_ = r.handle.SeekTo(ctx, startSecs)
	}
	if paused {
		_ = r.handle.SetPause(ctx, true)
	}
}

func (r *Reducer) stop(ctx context.Context) {
	if err := r.store.SetStopped(); err != nil {
		r.log.Warn().Err(err).Msg("persist stopped state failed")
	}
	r.broadcastState()
	if r.handle != nil {
		r.handle.Stop(ctx)
	}
}

func (r *Reducer) cycle(ctx context.Context, advance func() error) {
	if err := advance(); err != nil {
		r.log.Warn().Err(err).Msg("station cycle failed")
		return
	}
	r.connectStarted = nowFunc()
	s := r.store.Get()
	r.broadcastState()

	if r.handle == nil || s.CurrentStation == nil {
		return
	}
	stations := r.store.Stations()
	idx := *s.CurrentStation
	if idx < 0 || idx >= len(stations) {
		return
	}
	if err := r.handle.LoadStream(ctx, stations[idx].URL, s.Volume); err != nil {
		r.log.Warn().Err(err).Int("idx", idx).Msg("engine load failed during cycle")
		r.broadcastError(fmt.Sprintf("failed to start station %d: %v", idx, err))
	}
}

func (r *Reducer) togglePause(ctx context.Context) {
	if r.handle == nil {
		return
	}
	current := r.handle.GetPause(ctx)
	if err := r.handle.SetPause(ctx, !current); err != nil {
		r.log.Warn().Err(err).Msg("toggle pause failed")
		r.broadcastError(fmt.Sprintf("pause toggle failed: %v", err))
	}
	// The authoritative Paused/Playing transition is applied when the
	// engine's own "pause" property-change event arrives, not here.
}

func (r *Reducer) setVolume(ctx context.Context, volume float64) {
	if err := r.store.SetVolume(volume); err != nil {
		r.log.Warn().Err(err).Msg("persist volume failed")
	}
	r.driver.SetLastVolume(r.store.Get().Volume)
	r.broadcastState()
	if r.handle != nil {
		if err := r.handle.SetVolume(ctx, volume); err != nil {
			r.log.Warn().Err(err).Msg("engine volume change failed")
		}
	}
}

func (r *Reducer) seekRelative(ctx context.Context, secs float64) {
	if r.handle == nil {
		return
	}
	if err := r.handle.SeekRelative(ctx, secs); err != nil {
		r.log.Warn().Err(err).Msg("relative seek failed")
		r.broadcastError(fmt.Sprintf("seek failed: %v", err))
	}
}

func (r *Reducer) seekTo(ctx context.Context, secs float64) {
	if r.handle == nil {
		return
	}
	if err := r.handle.SeekTo(ctx, secs); err != nil {
		r.log.Warn().Err(err).Msg("absolute seek failed")
		r.broadcastError(fmt.Sprintf("seek failed: %v", err))
	}
}
