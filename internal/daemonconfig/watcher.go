package daemonconfig

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ja-mf/raddaemon/internal/protocol"
	"github.com/ja-mf/raddaemon/internal/state"
)

// debounce absorbs editors that emit several rapid Write/Rename events for a
// single logical save (e.g. write-then-rename atomic replace).
const debounce = 200 * time.Millisecond

// WatchStations watches the directory containing path for changes and
// invokes onReload with the freshly parsed station list whenever path itself
// is written or replaced. Runs until ctx is cancelled. Parse errors are
// logged and skipped rather than propagated, since a malformed edit should
// not crash the daemon mid-run — the prior station list stays in effect.
func WatchStations(ctx context.Context, path string, log zerolog.Logger, onReload func([]protocol.Station)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Base(path)
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(debounce)
			} else {
				if !pending.Stop() {
					<-pending.C
				}
				pending.Reset(debounce)
			}
			timerC = pending.C

		case <-timerC:
			timerC = nil
			pending = nil
			stations, err := state.LoadStations(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("station list reload failed, keeping prior list")
				continue
			}
			onReload(stations)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}
