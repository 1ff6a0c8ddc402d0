// Package observability exposes the server's prometheus metrics and the
// optional /metrics HTTP listener.
package observability

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"oltchat/internal/logging"
)

var (
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_connections",
			Help: "Number of currently open client connections.",
		},
	)
	packetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_packets_total",
			Help: "Total number of protocol packets by type and direction.",
		},
		[]string{"direction", "type"},
	)
	bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_bytes_total",
			Help: "Total bytes moved on client connections.",
		},
		[]string{"direction"},
	)
	fanoutPushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_pushes_total",
			Help: "Total number of server-initiated pushes by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		activeConnections,
		packetsTotal,
		bytesTotal,
		fanoutPushesTotal,
	)
}

func ConnOpened() { activeConnections.Inc() }
func ConnClosed() { activeConnections.Dec() }

func PacketReceived(packetType uint16) {
	packetsTotal.WithLabelValues("in", strconv.Itoa(int(packetType))).Inc()
}

func PacketSent(packetType uint16) {
	packetsTotal.WithLabelValues("out", strconv.Itoa(int(packetType))).Inc()
}

func BytesRead(n int)    { bytesTotal.WithLabelValues("in").Add(float64(n)) }
func BytesWritten(n int) { bytesTotal.WithLabelValues("out").Add(float64(n)) }

func FanoutPush(kind string) { fanoutPushesTotal.WithLabelValues(kind).Inc() }

// Serve runs the /metrics endpoint until ctx is done. An empty addr
// disables the listener entirely.
func Serve(ctx context.Context, addr string, logger logging.Logger) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info(ctx, "metrics listener started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(ctx, "metrics listener failed", "error", err)
	}
}
