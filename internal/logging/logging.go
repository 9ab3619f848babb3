// Package logging builds the daemon's structured logger and wires it so
// Warn/Error records also reach connected clients. Grounded on
// original_source/crates/radio-daemon/src/main.rs's BroadcastLayer, a
// tracing::Layer that forwards WARN/ERROR events onto the daemon's
// broadcast channel; reproduced here as a zerolog.Hook since zerolog has no
// direct layer-composition equivalent, giving the reducer's own log stream
// the same "doubles as live client diagnostics" property as the original
// without inventing a second logging mechanism.
package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ja-mf/raddaemon/internal/fanout"
	"github.com/ja-mf/raddaemon/internal/protocol"
)

// New builds the daemon's base logger: human-readable console output in
// dev, forwarding Warn+ records onto broadcaster as Broadcast::Log so
// connected clients see real operational events, not just reducer-authored
// strings.
func New(debug bool, broadcaster *fanout.Broadcaster[protocol.Broadcast]) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	logger := zerolog.New(console).Level(level).With().Timestamp().Logger()

	if broadcaster != nil {
		logger = logger.Hook(broadcastHook{broadcaster: broadcaster})
	}
	return logger
}

// broadcastHook forwards Warn/Error-level records onto the shared
// broadcaster as Broadcast::Log. Lower-severity records are local-only.
type broadcastHook struct {
	broadcaster *fanout.Broadcaster[protocol.Broadcast]
}

func (h broadcastHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if level < zerolog.WarnLevel {
		return
	}
	formatted := fmt.Sprintf("%s [%s] %s", time.Now().Format("15:04:05"), level.String(), msg)
	h.broadcaster.Publish(protocol.Broadcast{Type: protocol.BcastLog, Message: formatted})
}
