package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja-mf/raddaemon/internal/fanout"
	"github.com/ja-mf/raddaemon/internal/protocol"
)

func TestWarnAndErrorForwardToBroadcaster(t *testing.T) {
	broadcaster := fanout.New[protocol.Broadcast](16)
	sub := broadcaster.Subscribe()
	log := New(false, broadcaster)

	log.Warn().Msg("disk almost full")

	select {
	case b := <-sub.C():
		assert.Equal(t, protocol.BcastLog, b.Type)
		assert.Contains(t, b.Message, "disk almost full")
		assert.Contains(t, b.Message, "warn")
	case <-time.After(time.Second):
		t.Fatal("expected a Log broadcast for a Warn-level record")
	}
}

func TestInfoDoesNotForward(t *testing.T) {
	broadcaster := fanout.New[protocol.Broadcast](16)
	sub := broadcaster.Subscribe()
	log := New(false, broadcaster)

	log.Info().Msg("routine startup message")

	select {
	case b := <-sub.C():
		t.Fatalf("unexpected broadcast for an Info-level record: %+v", b)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestComponentScopedLoggerStillForwards(t *testing.T) {
	broadcaster := fanout.New[protocol.Broadcast](16)
	sub := broadcaster.Subscribe()
	log := New(false, broadcaster)
	scoped := log.With().Str("component", "engine").Logger()

	scoped.Error().Msg("engine ipc write failed")

	select {
	case b := <-sub.C():
		assert.Contains(t, b.Message, "engine ipc write failed")
	case <-time.After(time.Second):
		t.Fatal("expected the component-scoped logger to retain the broadcast hook")
	}
}

func TestDebugLoggerAcceptsDebugCalls(t *testing.T) {
	broadcaster := fanout.New[protocol.Broadcast](16)
	log := New(true, broadcaster)
	require.NotPanics(t, func() { log.Debug().Msg("verbose detail") })
}
