// Command raddaemon is the radio player daemon: it owns the audio engine,
// the canonical playback state, the TCP control protocol, the stream
// proxy, and the HTTP control surface, wiring them together the way
// cmd/resonate-server wires its flag-parsed Config into a single server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ja-mf/raddaemon/internal/control"
	"github.com/ja-mf/raddaemon/internal/daemonconfig"
	"github.com/ja-mf/raddaemon/internal/engine"
	"github.com/ja-mf/raddaemon/internal/fanout"
	"github.com/ja-mf/raddaemon/internal/httpapi"
	"github.com/ja-mf/raddaemon/internal/logging"
	"github.com/ja-mf/raddaemon/internal/protocol"
	"github.com/ja-mf/raddaemon/internal/proxy"
	"github.com/ja-mf/raddaemon/internal/reducer"
	"github.com/ja-mf/raddaemon/internal/state"
)

// broadcastCapacity bounds how many pending Broadcast frames the shared
// fan-out will buffer per subscriber before applying its drop-oldest policy.
const broadcastCapacity = 256

// reducerQueueCapacity bounds how many DaemonEvents may be pending dispatch.
const reducerQueueCapacity = 256

// tickInterval drives handleTick's periodic Connecting-deadline and engine
// health checks.
const tickInterval = time.Second

func main() {
	cfg, err := daemonconfig.FromFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "raddaemon:", err)
		os.Exit(2)
	}

	broadcaster := fanout.New[protocol.Broadcast](broadcastCapacity)
	log := logging.New(cfg.Debug, broadcaster)

	stations, err := state.LoadStations(cfg.StationsPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.StationsPath).Msg("failed to load station list, starting with none")
		stations = nil
	}
	store := state.New(cfg.StatePath, stations)

	driver := engine.NewDriver(cfg.EngineBinary, cfg.EngineSocketPath, store.Get().Volume)
	r := reducer.New(store, driver, broadcaster, log, reducerQueueCapacity)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go r.Run(ctx)
	go runTicker(ctx, r)

	go func() {
		if err := daemonconfig.WatchStations(ctx, cfg.StationsPath, log, func(s []protocol.Station) {
			if err := r.Submit(ctx, reducer.DaemonEvent{Kind: reducer.EventStationsReloaded, Stations: s}); err != nil {
				log.Debug().Err(err).Msg("dispatch stations_reloaded failed")
			}
		}); err != nil {
			log.Warn().Err(err).Msg("station list watcher stopped")
		}
	}()

	controlAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	controlSrv := control.New(controlAddr, store, broadcaster, r, log)

	streamProxy := proxy.New(store, log)
	api := httpapi.New(store, r, controlSrv, streamProxy, log)

	proxyAddr := fmt.Sprintf("127.0.0.1:%d", cfg.ProxyPort)
	proxyHTTP := &http.Server{Addr: proxyAddr, Handler: streamProxy.Router()}

	httpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.HTTPPort)
	apiHTTP := &http.Server{Addr: httpAddr, Handler: api.Router()}

	errs := make(chan error, 3)
	go func() { errs <- controlSrv.ListenAndServe(ctx) }()
	go func() { errs <- serveHTTP(proxyHTTP, "proxy", proxyAddr) }()
	go func() { errs <- serveHTTP(apiHTTP, "http control surface", httpAddr) }()

	log.Info().
		Str("control_addr", controlAddr).
		Str("proxy_addr", proxyAddr).
		Str("http_addr", httpAddr).
		Int("stations", len(stations)).
		Msg("raddaemon started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errs:
		log.Error().Err(err).Msg("a listener died, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = proxyHTTP.Shutdown(shutdownCtx)
	_ = apiHTTP.Shutdown(shutdownCtx)
}

func serveHTTP(srv *http.Server, name, addr string) error {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%s: listen %s: %w", name, addr, err)
	}
	return nil
}

// runTicker submits an EventTick roughly once a second, the cadence
// handleTick's doc comment expects for its Connecting-deadline and engine
// health checks.
func runTicker(ctx context.Context, r *reducer.Reducer) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Submit(ctx, reducer.DaemonEvent{Kind: reducer.EventTick})
		}
	}
}
