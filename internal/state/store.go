// Package state owns the daemon's single canonical DaemonState record and
// its on-disk persistence. Only the reducer (internal/reducer) calls the
// mutating methods here; every write bumps Rev and, where the original
// tracks it as durable (station choice, volume), atomically rewrites the
// state file via write-then-rename so a crash mid-write can never leave a
// torn file behind.
package state

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/ja-mf/raddaemon/internal/protocol"
)

// PersistentState is the subset of DaemonState that survives a restart.
type PersistentState struct {
	LastStationIdx *int    `json:"last_station_idx,omitempty"`
	Volume         float64 `json:"volume"`
}

func defaultPersistentState() PersistentState {
	return PersistentState{Volume: 0.5}
}

// Store guards the single DaemonState behind a RWMutex, matching the
// original's Arc<RwLock<DaemonState>>. Readers take Get(), which returns a
// deep-enough clone; every writer method takes the exclusive lock.
type Store struct {
	mu        sync.RWMutex
	state     protocol.DaemonState
	stateFile string
}

// New loads any persisted volume/station choice from stateFile (defaults
// applied on a missing or corrupt file) and builds the initial DaemonState
// around the given station list. An out-of-range persisted station index
// (the list shrank since last run) is dropped rather than clamped, leaving
// the daemon with no current station.
func New(stateFile string, stations []protocol.Station) *Store {
	persistent := loadPersistent(stateFile)

	current := persistent.LastStationIdx
	if current != nil && (*current < 0 || *current >= len(stations)) {
		current = nil
	}

	return &Store{
		state: protocol.DaemonState{
			Rev:            1,
			Stations:       stations,
			CurrentStation: current,
			Volume:         persistent.Volume,
			PlaybackStatus: protocol.StatusIdle,
			EngineHealth:   protocol.EngineHealth{State: protocol.EngineAbsent},
		},
		stateFile: stateFile,
	}
}

// Get returns a point-in-time snapshot safe for the caller to read and hold
// without racing the next write.
func (s *Store) Get() protocol.DaemonState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Stations returns the current station list, satisfying proxy.StationLookup.
func (s *Store) Stations() []protocol.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.Station(nil), s.state.Stations...)
}

// SetPlaying marks the given station index as the current playback target.
// Stale per-track fields (ICY title, timeline) from whatever was playing
// before are cleared.
func (s *Store) SetPlaying(idx int) error {
	s.mu.Lock()
	s.state.CurrentStation = &idx
	s.state.CurrentFile = nil
	s.state.IsPlaying = true
	s.state.PlaybackStatus = protocol.StatusConnecting
	s.state.IcyTitle = nil
	s.state.TimePosSecs = nil
	s.state.DurationSecs = nil
	s.state.Rev++
	s.mu.Unlock()
	return s.save()
}

// SetPlayingFile marks a local/file playback target, used by PlayFile and
// its paused/seek variants.
func (s *Store) SetPlayingFile(path string, startSecs float64) error {
	s.mu.Lock()
	s.state.CurrentStation = nil
	s.state.CurrentFile = &path
	s.state.IsPlaying = true
	s.state.PlaybackStatus = protocol.StatusConnecting
	s.state.IcyTitle = nil
	s.state.TimePosSecs = &startSecs
	s.state.DurationSecs = nil
	s.state.Rev++
	s.mu.Unlock()
	return s.save()
}

// SetStopped clears playback entirely.
func (s *Store) SetStopped() error {
	s.mu.Lock()
	s.state.IsPlaying = false
	s.state.IsPaused = false
	s.state.PlaybackStatus = protocol.StatusIdle
	s.state.IcyTitle = nil
	s.state.CurrentStation = nil
	s.state.CurrentFile = nil
	s.state.TimePosSecs = nil
	s.state.DurationSecs = nil
	s.state.Rev++
	s.mu.Unlock()
	return s.save()
}

// SetPlaybackStatus applies a ground-truth status transition observed from
// the engine. Not persisted: transient playback state is not durable.
func (s *Store) SetPlaybackStatus(status protocol.PlaybackStatus) {
	s.mu.Lock()
	s.state.IsPlaying = status == protocol.StatusPlaying || status == protocol.StatusPaused
	s.state.IsPaused = status == protocol.StatusPaused
	s.state.PlaybackStatus = status
	s.state.Rev++
	s.mu.Unlock()
}

// SetEngineHealth records the daemon's current view of the engine process.
func (s *Store) SetEngineHealth(health protocol.EngineHealth) {
	s.mu.Lock()
	s.state.EngineHealth = health
	s.state.Rev++
	s.mu.Unlock()
}

// SetVolume clamps and applies a new volume, persisting it.
func (s *Store) SetVolume(volume float64) error {
	if volume < 0 {
		volume = 0
	} else if volume > 1 {
		volume = 1
	}
	s.mu.Lock()
	s.state.Volume = volume
	s.state.Rev++
	s.mu.Unlock()
	return s.save()
}

// SetIcyTitle records the latest ICY stream title, or clears it with nil.
func (s *Store) SetIcyTitle(title *string) {
	s.mu.Lock()
	s.state.IcyTitle = title
	s.state.Rev++
	s.mu.Unlock()
}

// SetTimeline records the engine-reported playback position and duration.
func (s *Store) SetTimeline(posSecs, durationSecs *float64) {
	s.mu.Lock()
	s.state.TimePosSecs = posSecs
	s.state.DurationSecs = durationSecs
	s.state.Rev++
	s.mu.Unlock()
}

// NextStation advances to the following station, wrapping around. A no-op
// on an empty station list.
func (s *Store) NextStation() error {
	return s.step(func(current, n int) int { return (current + 1) % n })
}

// PrevStation moves to the preceding station, wrapping around.
func (s *Store) PrevStation() error {
	return s.step(func(current, n int) int {
		if current == 0 {
			return n - 1
		}
		return current - 1
	})
}

// RandomStation jumps to a uniformly random station, which may coincide
// with the current one.
func (s *Store) RandomStation() error {
	return s.step(func(_, n int) int { return rand.Intn(n) })
}

func (s *Store) step(next func(current, n int) int) error {
	s.mu.Lock()
	n := len(s.state.Stations)
	if n == 0 {
		s.mu.Unlock()
		return nil
	}
	current := 0
	if s.state.CurrentStation != nil {
		current = *s.state.CurrentStation
	}
	idx := next(current, n)
	s.state.CurrentStation = &idx
	s.state.CurrentFile = nil
	s.state.IsPlaying = true
	s.state.IsPaused = false
	s.state.PlaybackStatus = protocol.StatusConnecting
	s.state.IcyTitle = nil
	s.state.TimePosSecs = nil
	s.state.DurationSecs = nil
	s.state.Rev++
	s.mu.Unlock()
	return s.save()
}

// ReplaceStations swaps in a freshly loaded station list (hot reload). If
// the current station index no longer exists in the new list, playback
// selection is cleared rather than silently remapped to a different
// station; the caller (reducer) is expected to stop playback in that case.
func (s *Store) ReplaceStations(stations []protocol.Station) (droppedCurrent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Stations = stations
	if s.state.CurrentStation != nil && *s.state.CurrentStation >= len(stations) {
		s.state.CurrentStation = nil
		droppedCurrent = true
	}
	s.state.Rev++
	return droppedCurrent
}

func (s *Store) save() error {
	s.mu.RLock()
	persistent := PersistentState{
		LastStationIdx: s.state.CurrentStation,
		Volume:         s.state.Volume,
	}
	s.mu.RUnlock()

	if s.stateFile == "" {
		return nil
	}
	if dir := filepath.Dir(s.stateFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("state: create state dir: %w", err)
		}
	}

	payload, err := json.MarshalIndent(persistent, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal persistent state: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.stateFile)
	if err != nil {
		return fmt.Errorf("state: create pending state file: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(payload); err != nil {
		return fmt.Errorf("state: write pending state file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("state: replace state file: %w", err)
	}
	return nil
}

func loadPersistent(stateFile string) PersistentState {
	if stateFile == "" {
		return defaultPersistentState()
	}
	content, err := os.ReadFile(stateFile)
	if err != nil {
		return defaultPersistentState()
	}
	var persistent PersistentState
	if err := json.Unmarshal(content, &persistent); err != nil {
		return defaultPersistentState()
	}
	return persistent
}
