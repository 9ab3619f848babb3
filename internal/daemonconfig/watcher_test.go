package daemonconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja-mf/raddaemon/internal/protocol"
)

func TestWatchStationsReportsReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stations.toml")
	initial := `[[station]]
name = "Alpha"
url = "http://alpha.example/stream"
`
	require.NoError(t, os.WriteFile(path, []byte(initial), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan []protocol.Station, 4)
	go func() {
		_ = WatchStations(ctx, path, zerolog.Nop(), func(s []protocol.Station) {
			reloads <- s
		})
	}()

	time.Sleep(50 * time.Millisecond) // let the watcher attach before we write

	updated := `[[station]]
name = "Alpha"
url = "http://alpha.example/stream"

[[station]]
name = "Beta"
url = "http://beta.example/stream"
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case stations := <-reloads:
		assert.Len(t, stations, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload after file write")
	}
}

func TestWatchStationsSurvivesMultipleSequentialEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stations.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[[station]]
name = "Alpha"
url = "http://alpha.example/stream"
`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan []protocol.Station, 4)
	go func() {
		_ = WatchStations(ctx, path, zerolog.Nop(), func(s []protocol.Station) {
			reloads <- s
		})
	}()

	time.Sleep(50 * time.Millisecond) // let the watcher attach before we write

	require.NoError(t, os.WriteFile(path, []byte(`[[station]]
name = "Alpha"
url = "http://alpha.example/stream"

[[station]]
name = "Beta"
url = "http://beta.example/stream"
`), 0o644))

	select {
	case stations := <-reloads:
		assert.Len(t, stations, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload after first write")
	}

	// A second edit after the first reload must also be observed: the
	// debounce timer's pending state has to be fully reset after firing,
	// or this second write deadlocks the watcher goroutine forever.
	require.NoError(t, os.WriteFile(path, []byte(`[[station]]
name = "Alpha"
url = "http://alpha.example/stream"

[[station]]
name = "Beta"
url = "http://beta.example/stream"

[[station]]
name = "Gamma"
url = "http://gamma.example/stream"
`), 0o644))

	select {
	case stations := <-reloads:
		assert.Len(t, stations, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload after second write; watcher may be deadlocked")
	}
}

func TestWatchStationsSkipsMalformedEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stations.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[[station]]
name = "Alpha"
url = "http://alpha.example/stream"
`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan []protocol.Station, 4)
	go func() {
		_ = WatchStations(ctx, path, zerolog.Nop(), func(s []protocol.Station) {
			reloads <- s
		})
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("not valid toml [[["), 0o644))

	select {
	case <-reloads:
		t.Fatal("malformed edit should not trigger a reload callback")
	case <-time.After(500 * time.Millisecond):
	}
}
