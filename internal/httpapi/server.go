// Package httpapi implements the daemon's loopback HTTP control surface: a
// small REST API mirroring the TCP control protocol's commands, plus a
// Prometheus /metrics endpoint. Grounded on the daemon's chi-based admin
// router, generalized from its media-library routes to the command set
// spec.md's control protocol defines, and on its rate-limit middleware
// stack for protecting mutating routes from being hammered by several
// client instances at once.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/ja-mf/raddaemon/internal/protocol"
	"github.com/ja-mf/raddaemon/internal/reducer"
	"github.com/ja-mf/raddaemon/internal/state"
)

// ProxyMetrics is the subset of *proxy.Proxy the metrics route needs.
// Narrowed to an interface so this package does not import proxy directly.
type ProxyMetrics interface {
	SubscriberCounts() map[int]int
}

// ClientCounter is the subset of *control.Server the metrics route needs.
type ClientCounter interface {
	ClientCount() int
}

// QueueDepther is the subset of *reducer.Reducer the metrics route needs.
type QueueDepther interface {
	QueueDepth() int
}

// Server serves the HTTP control surface and /metrics.
type Server struct {
	store   *state.Store
	reducer *reducer.Reducer
	clients ClientCounter
	queue   QueueDepther
	proxy   ProxyMetrics
	log     zerolog.Logger
}

// New builds a Server. clients and proxyMetrics may be nil if not yet wired
// (e.g. during startup ordering); their metrics are simply omitted.
func New(store *state.Store, r *reducer.Reducer, clients ClientCounter, proxyMetrics ProxyMetrics, log zerolog.Logger) *Server {
	return &Server{
		store:   store,
		reducer: r,
		clients: clients,
		queue:   r,
		proxy:   proxyMetrics,
		log:     log.With().Str("component", "httpapi").Logger(),
	}
}

// Router builds the chi route table for the HTTP control surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(countRequests)

	mutate := httprate.Limit(
		20, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests),
	)

	r.Get("/api/state", s.handleState)
	r.With(mutate).Post("/api/play/{idx}", s.handlePlay)
	r.With(mutate).Post("/api/stop", s.handleStop)
	r.With(mutate).Post("/api/next", s.handleNext)
	r.With(mutate).Post("/api/prev", s.handlePrev)
	r.With(mutate).Post("/api/random", s.handleRandom)
	r.With(mutate).Post("/api/pause", s.handleTogglePause)
	r.With(mutate).Post("/api/volume/{pct}", s.handleVolumePercent)
	r.With(mutate).Post("/api/volume", s.handleVolumeBody)
	r.With(mutate).Post("/api/seek", s.handleSeek)
	r.Get("/metrics", s.handleMetrics)

	return r
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		statusClass := strconv.Itoa(ww.Status()/100) + "xx"
		httpRequestsTotal.WithLabelValues(chi.RouteContext(r.Context()).RoutePattern(), statusClass).Inc()
	})
}

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Get())
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid station index")
		return
	}
	if !s.submit(w, r, protocol.Command{Type: protocol.CmdPlay, StationIdx: idx}) {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Get())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.submit(w, r, protocol.Command{Type: protocol.CmdStop}) {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Get())
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if !s.submit(w, r, protocol.Command{Type: protocol.CmdNext}) {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Get())
}

func (s *Server) handlePrev(w http.ResponseWriter, r *http.Request) {
	if !s.submit(w, r, protocol.Command{Type: protocol.CmdPrev}) {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Get())
}

func (s *Server) handleRandom(w http.ResponseWriter, r *http.Request) {
	if !s.submit(w, r, protocol.Command{Type: protocol.CmdRandom}) {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Get())
}

func (s *Server) handleTogglePause(w http.ResponseWriter, r *http.Request) {
	if !s.submit(w, r, protocol.Command{Type: protocol.CmdTogglePause}) {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Get())
}

func (s *Server) handleVolumePercent(w http.ResponseWriter, r *http.Request) {
	pct, err := strconv.Atoi(chi.URLParam(r, "pct"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid volume percentage")
		return
	}
	if !s.submit(w, r, protocol.Command{Type: protocol.CmdVolume, Volume: float64(pct) / 100}) {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Get())
}

func (s *Server) handleVolumeBody(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Volume float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.submit(w, r, protocol.Command{Type: protocol.CmdVolume, Volume: body.Volume}) {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Get())
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seconds  float64 `json:"seconds"`
		Absolute bool    `json:"absolute"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cmdType := protocol.CmdSeekRelative
	if body.Absolute {
		cmdType = protocol.CmdSeekTo
	}
	if !s.submit(w, r, protocol.Command{Type: cmdType, Seconds: body.Seconds}) {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Get())
}

// submit dispatches cmd to the reducer. On dispatch failure (the request's
// context was cancelled before the reducer's queue accepted the event) it
// writes the 500 response itself and returns false so the caller skips its
// own success response.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, cmd protocol.Command) bool {
	if err := s.reducer.Submit(r.Context(), reducer.DaemonEvent{Kind: reducer.EventClientCommand, Command: &cmd}); err != nil {
		s.log.Warn().Err(err).Str("command", string(cmd.Type)).Msg("command dispatch failed")
		writeError(w, http.StatusInternalServerError, "command dispatch failed")
		return false
	}
	return true
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.clients != nil {
		clientsConnected.Set(float64(s.clients.ClientCount()))
	}
	if s.queue != nil {
		reducerQueueDepth.Set(float64(s.queue.QueueDepth()))
	}
	if s.proxy != nil {
		for idx, count := range s.proxy.SubscriberCounts() {
			proxySubscribers.WithLabelValues(strconv.Itoa(idx)).Set(float64(count))
		}
	}
	metricsHandler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
