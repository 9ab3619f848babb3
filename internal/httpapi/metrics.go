package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	clientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "raddaemon_clients_connected",
		Help: "Number of control-protocol clients currently connected.",
	})

	reducerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "raddaemon_reducer_queue_depth",
		Help: "Number of events currently queued for the reducer goroutine.",
	})

	proxySubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "raddaemon_proxy_subscribers",
		Help: "Number of active listeners on a shared stream, by station index.",
	}, []string{"station_idx"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raddaemon_http_requests_total",
		Help: "Total HTTP control-surface requests, by route and status class.",
	}, []string{"route", "status"})
)

func metricsHandler() http.Handler { return promhttp.Handler() }
