// Package telemetry exposes the server's prometheus metrics. Collectors
// register on the default registry so the admin server can serve them
// with promhttp.Handler().
package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lwan_requests_total",
		Help: "Requests answered, by response status.",
	}, []string{"status"})

	readPackets = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lwan_request_read_packets",
		Help:    "Socket reads needed to assemble one request.",
		Buckets: []float64{1, 2, 3, 4, 8, 16},
	})

	bytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lwan_bytes_read_total",
		Help: "Bytes read from client sockets.",
	})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lwan_active_connections",
		Help: "Connections currently being served.",
	})

	timeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lwan_read_timeouts_total",
		Help: "Requests dropped after exhausting the read packet budget.",
	})

	proxyPreambles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lwan_proxy_preambles_total",
		Help: "PROXY protocol preambles decoded.",
	})

	rewritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lwan_url_rewrites_total",
		Help: "Handler-driven URL rewrites.",
	})
)

// ObserveResponse counts one answered request by status.
func ObserveResponse(status int) {
	requestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	if status == 408 {
		timeoutsTotal.Inc()
	}
}

// ObserveReadPackets records how many socket reads one request took.
func ObserveReadPackets(n int) {
	readPackets.Observe(float64(n))
}

// AddBytesRead accumulates bytes read off client sockets.
func AddBytesRead(n int) {
	if n > 0 {
		bytesRead.Add(float64(n))
	}
}

func ConnOpened() { activeConnections.Inc() }
func ConnClosed() { activeConnections.Dec() }

func IncProxyPreamble() { proxyPreambles.Inc() }
func IncRewrite()       { rewritesTotal.Inc() }
