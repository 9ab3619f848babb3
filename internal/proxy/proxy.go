// Package proxy implements the stream-multiplexing HTTP proxy: it serves
// GET /stream/{idx} by opening exactly one upstream connection per station
// and fanning its bytes out to every local subscriber, so the engine (or
// any number of them) never needs more than one upstream connection per
// station. Grounded on the daemon's proxy handler, generalized from its
// one-upstream-per-request model to a shared, broadcast-backed stream per
// station per spec.md's fan-out requirement.
package proxy

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ja-mf/raddaemon/internal/fanout"
	"github.com/ja-mf/raddaemon/internal/protocol"
)

// chunkSize bounds a single upstream read and thus a single broadcast unit.
const chunkSize = 32 * 1024

// subscriberCapacity is the per-subscriber buffered-chunk channel depth.
const subscriberCapacity = 4096

// gracePeriod is how long an upstream pump keeps reading with zero live
// subscribers before tearing itself down.
const gracePeriod = 2 * time.Second

// StationLookup resolves a station index to its upstream URL. Implemented
// by *state.Store in production; a small fake in tests.
type StationLookup interface {
	Stations() []protocol.Station
}

// sharedStream is one station's shared upstream connection: cached response
// headers plus the broadcaster every subscriber attaches to.
type sharedStream struct {
	headers     http.Header
	broadcaster *fanout.Broadcaster[[]byte]
}

// Proxy serves the multiplexed stream endpoint and owns the map of active
// shared streams, one per station index currently being fetched upstream.
type Proxy struct {
	lookup StationLookup
	client *http.Client
	log    zerolog.Logger

	mu       sync.Mutex
	streams  map[int]*sharedStream
	creating map[int]chan struct{}
}

// New builds a Proxy that resolves station URLs via lookup.
func New(lookup StationLookup, log zerolog.Logger) *Proxy {
	return &Proxy{
		lookup: lookup,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		log:      log.With().Str("component", "proxy").Logger(),
		streams:  make(map[int]*sharedStream),
		creating: make(map[int]chan struct{}),
	}
}

// SubscriberCounts reports the live listener count for every station
// currently streaming, keyed by station index. Used by the HTTP control
// surface's metrics endpoint.
func (p *Proxy) SubscriberCounts() map[int]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int]int, len(p.streams))
	for idx, stream := range p.streams {
		out[idx] = stream.broadcaster.SubscriberCount()
	}
	return out
}

// Router builds the chi route table for the proxy's single endpoint.
func (p *Proxy) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/stream/{idx}", p.handleStream)
	return r
}

func (p *Proxy) handleStream(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	stream, ok := p.getOrCreateStream(idx)
	if !ok {
		if idx < 0 || idx >= len(p.lookup.Stations()) {
			http.NotFound(w, r)
		} else {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		}
		return
	}

	p.serveSubscriber(w, r, stream)
}

// getOrCreateStream is single-flighted per station index: the first caller
// for an idx with no live stream opens the upstream connection while every
// concurrent caller for the same idx waits on it instead of racing it, so
// exactly one upstream connection is ever opened per station.
func (p *Proxy) getOrCreateStream(idx int) (*sharedStream, bool) {
	p.mu.Lock()
	if existing, ok := p.streams[idx]; ok {
		p.mu.Unlock()
		return existing, true
	}
	if wait, ok := p.creating[idx]; ok {
		p.mu.Unlock()
		<-wait
		p.mu.Lock()
		existing, ok := p.streams[idx]
		p.mu.Unlock()
		return existing, ok
	}
	wait := make(chan struct{})
	p.creating[idx] = wait
	p.mu.Unlock()

	stream, ok := p.openUpstream(idx)

	p.mu.Lock()
	delete(p.creating, idx)
	p.mu.Unlock()
	close(wait)

	return stream, ok
}

// openUpstream opens the single upstream connection backing a station's
// shared stream. It deliberately does not inherit any one HTTP handler's
// request context: the connection must outlive whichever subscriber
// triggered it, since other subscribers may attach to the same stream
// later.
func (p *Proxy) openUpstream(idx int) (*sharedStream, bool) {
	stations := p.lookup.Stations()
	if idx < 0 || idx >= len(stations) {
		p.log.Warn().Int("idx", idx).Int("stations", len(stations)).Msg("station index not found")
		return nil, false
	}
	url := stations[idx].URL

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		p.log.Warn().Err(err).Int("idx", idx).Msg("build upstream request failed")
		return nil, false
	}
	req.Header.Set("Icy-MetaData", "1")

	p.log.Info().Int("idx", idx).Str("url", url).Msg("opening upstream")
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn().Err(err).Int("idx", idx).Msg("upstream connect failed")
		return nil, false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.log.Warn().Int("status", resp.StatusCode).Int("idx", idx).Msg("upstream returned non-2xx")
		resp.Body.Close()
		return nil, false
	}

	stream := &sharedStream{
		headers:     forwardableHeaders(resp.Header),
		broadcaster: fanout.New[[]byte](subscriberCapacity),
	}

	p.mu.Lock()
	p.streams[idx] = stream
	p.mu.Unlock()

	go p.pump(idx, stream, resp.Body)

	return stream, true
}

// forwardableHeaders copies only the header set safe to relay downstream:
// ICY metadata, content type, and transfer-encoding. Everything else
// (hop-by-hop headers, upstream-specific framing) is stripped.
func forwardableHeaders(h http.Header) http.Header {
	out := make(http.Header)
	for name, values := range h {
		lower := asciiLower(name)
		if len(lower) >= 4 && lower[:4] == "icy-" || lower == "content-type" || lower == "transfer-encoding" {
			out[name] = values
		}
	}
	return out
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func (p *Proxy) serveSubscriber(w http.ResponseWriter, r *http.Request, stream *sharedStream) {
	sub := stream.broadcaster.Subscribe()
	defer stream.broadcaster.Unsubscribe(sub)

	header := w.Header()
	for name, values := range stream.headers {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)

	for {
		select {
		case chunk, ok := <-sub.C():
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-sub.LaggedC():
			// Dropped chunks for this subscriber: nothing to forward, just
			// keep consuming from where the broadcaster resumes.
		case <-r.Context().Done():
			return
		}
	}
}

func (p *Proxy) pump(idx int, stream *sharedStream, body io.ReadCloser) {
	defer body.Close()

	var graceDeadline time.Time
	buf := make([]byte, chunkSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			stream.broadcaster.Publish(chunk)
		}
		if err != nil {
			p.teardown(idx, stream, "upstream closed")
			return
		}

		if stream.broadcaster.SubscriberCount() == 0 {
			if graceDeadline.IsZero() {
				graceDeadline = time.Now().Add(gracePeriod)
			} else if time.Now().After(graceDeadline) {
				p.teardown(idx, stream, "grace period expired with no subscribers")
				return
			}
		} else {
			graceDeadline = time.Time{}
		}
	}
}

// teardown removes stream from the map, but only if it is still the current
// entry for idx — a newer stream may have replaced it already if a fresh
// request raced the pump's own exit.
func (p *Proxy) teardown(idx int, stream *sharedStream, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, ok := p.streams[idx]; ok && current == stream {
		delete(p.streams, idx)
		p.log.Debug().Int("idx", idx).Str("reason", reason).Msg("upstream pump exiting")
	}
}
