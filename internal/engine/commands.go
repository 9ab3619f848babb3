package engine

import (
	"context"
	"fmt"
)

// LoadStream issues loadfile for url and applies the given volume
// (0.0-1.0), matching spec.md's Play command translation.
func (h *Handle) LoadStream(ctx context.Context, url string, volume float64) error {
	if _, err := h.Send(ctx, []any{"loadfile", url}); err != nil {
		return err
	}
	_, _ = h.Send(ctx, []any{"set_property", "volume", clampPercent(volume * 100)})
	return nil
}

// Stop issues a stop command. Engine-reported errors are swallowed, matching
// the original driver: stop is best-effort.
func (h *Handle) Stop(ctx context.Context) {
	_, _ = h.Send(ctx, []any{"stop"})
}

// SetVolume sets the engine's live volume (0.0-1.0).
func (h *Handle) SetVolume(ctx context.Context, volume float64) error {
	_, err := h.Send(ctx, []any{"set_property", "volume", clampPercent(volume * 100)})
	return err
}

// SetPause toggles the engine's pause state.
func (h *Handle) SetPause(ctx context.Context, paused bool) error {
	_, err := h.Send(ctx, []any{"set_property", "pause", paused})
	return err
}

// GetPause queries the engine's live pause state, defaulting to false on
// error rather than propagating it (matching the original's best-effort
// query semantics).
func (h *Handle) GetPause(ctx context.Context) bool {
	resp, err := h.Send(ctx, []any{"get_property", "pause"})
	if err != nil {
		return false
	}
	paused, _ := resp["data"].(bool)
	return paused
}

// SeekTo sets the absolute playback position in seconds.
func (h *Handle) SeekTo(ctx context.Context, secs float64) error {
	_, err := h.Send(ctx, []any{"set_property", "time-pos", secs})
	return err
}

// SeekRelative seeks by a relative offset in seconds.
func (h *Handle) SeekRelative(ctx context.Context, secs float64) error {
	_, err := h.Send(ctx, []any{"seek", secs, "relative"})
	return err
}

// ObserveAllProperties registers observe_property for every property the
// reducer needs ground truth for. Must be called once per fresh connection,
// whether from SpawnAndConnect or TryReconnect.
func (h *Handle) ObserveAllProperties(ctx context.Context) {
	props := []struct {
		id   uint64
		name string
	}{
		{ObsCoreIdle, "core-idle"},
		{ObsPause, "pause"},
		{ObsIcyTitle, "metadata/by-key/icy-title"},
		{ObsTimePos, "time-pos"},
		{ObsDuration, "duration"},
		{ObsAudioLevel, "af-metadata/meter"},
	}
	for _, p := range props {
		_, _ = h.Send(ctx, []any{"observe_property", p.id, p.name})
	}
	// Some mpv builds only expose icy-title under this alternate id; harmless
	// to register both. The reducer's property-change handling acts only on
	// ObsIcyTitle, so events carrying this alternate id are ignored.
	_, _ = h.Send(ctx, []any{"observe_property", obsIcyTitleAlt, "icy-title"})
}

// SetAudioFilter installs the lavfi astats filter so the engine exposes
// per-chunk RMS/peak levels via af-metadata/meter. Safe to call repeatedly.
func (h *Handle) SetAudioFilter(ctx context.Context) error {
	filter := []any{map[string]any{
		"name":  "lavfi",
		"label": "meter",
		"params": map[string]any{
			"graph": "astats=metadata=1:reset=1",
		},
	}}
	_, err := h.Send(ctx, []any{"set_property", "af", filter})
	if err != nil {
		return fmt.Errorf("engine: set audio filter: %w", err)
	}
	return nil
}

// Ping is a health check: it succeeds only if the engine answers a trivial
// query within the normal send timeout.
func (h *Handle) Ping(ctx context.Context) error {
	_, err := h.Send(ctx, []any{"get_property", "volume"})
	return err
}
