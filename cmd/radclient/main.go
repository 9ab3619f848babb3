// Command radclient is a minimal terminal driver for the daemon's control
// protocol: it connects, mirrors daemon broadcasts via internal/clientmirror,
// and logs playback-status changes, ICY title changes, and daemon Error
// broadcasts through its stderr logger. Daemon Log broadcasts are kept in the
// mirror's history but not printed. It owns no rendering; a real terminal UI
// would sit on top of the same Mirror this binary drives directly.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ja-mf/raddaemon/internal/clientmirror"
	"github.com/ja-mf/raddaemon/internal/logging"
	"github.com/ja-mf/raddaemon/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9876", "daemon control protocol address")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := logging.New(*debug, nil)

	mirror := clientmirror.New(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mirror.Connect(ctx, *addr); err != nil {
		fmt.Fprintln(os.Stderr, "radclient:", err)
		os.Exit(1)
	}
	log.Info().Str("addr", *addr).Msg("connected to daemon")

	go watchTransitions(mirror, log)
	go tickIntents(ctx, mirror)

	fmt.Println("connected. commands: play <idx> | stop | next | prev | random | pause | volume <0-1> | seek <secs> | state | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if err := runCommand(mirror, line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}

		select {
		case <-mirror.Done():
			fmt.Fprintln(os.Stderr, "disconnected from daemon")
			return
		default:
		}
	}

	mirror.Close()
}

func runCommand(mirror *clientmirror.Mirror, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "play":
		idx, err := requireInt(fields, "play <idx>")
		if err != nil {
			return err
		}
		mirror.IntentStation(idx)
		return mirror.SendCommand(protocol.Command{Type: protocol.CmdPlay, StationIdx: idx})
	case "stop":
		return mirror.SendCommand(protocol.Command{Type: protocol.CmdStop})
	case "next":
		return mirror.SendCommand(protocol.Command{Type: protocol.CmdNext})
	case "prev":
		return mirror.SendCommand(protocol.Command{Type: protocol.CmdPrev})
	case "random":
		return mirror.SendCommand(protocol.Command{Type: protocol.CmdRandom})
	case "pause":
		mirror.IntentPause(!mirror.State().IsPaused)
		return mirror.SendCommand(protocol.Command{Type: protocol.CmdTogglePause})
	case "volume":
		v, err := requireFloat(fields, "volume <0-1>")
		if err != nil {
			return err
		}
		mirror.IntentVolume(v)
		return mirror.SendCommand(protocol.Command{Type: protocol.CmdVolume, Volume: v})
	case "seek":
		s, err := requireFloat(fields, "seek <secs>")
		if err != nil {
			return err
		}
		return mirror.SendCommand(protocol.Command{Type: protocol.CmdSeekTo, Seconds: s})
	case "state":
		fmt.Printf("%+v\n", mirror.State())
		return nil
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func requireInt(fields []string, usage string) (int, error) {
	if len(fields) < 2 {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	return strconv.Atoi(fields[1])
}

func requireFloat(fields []string, usage string) (float64, error) {
	if len(fields) < 2 {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	return strconv.ParseFloat(fields[1], 64)
}

// watchTransitions logs daemon Error broadcasts as they arrive, and polls the
// mirror every 250ms to log playback-status and newest-ICY-title changes,
// giving this binary's "logs transitions" behavior.
func watchTransitions(mirror *clientmirror.Mirror, log zerolog.Logger) {
	var lastIcy string
	var lastStatus protocol.PlaybackStatus
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-mirror.Done():
			return
		case errMsg := <-mirror.Errors():
			log.Error().Msg(errMsg)
		case <-ticker.C:
			s := mirror.State()
			if s.PlaybackStatus != lastStatus {
				log.Info().Str("status", string(s.PlaybackStatus)).Msg("playback status changed")
				lastStatus = s.PlaybackStatus
			}
			if history := mirror.IcyHistory(); len(history) > 0 {
				if newest := history[len(history)-1]; newest != lastIcy {
					log.Info().Str("title", newest).Msg("now playing")
					lastIcy = newest
				}
			}
		}
	}
}

func tickIntents(ctx context.Context, mirror *clientmirror.Mirror) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-mirror.Done():
			return
		case <-ticker.C:
			mirror.TickIntents()
		}
	}
}
