package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatdesk"

// Metrics groups the collectors shared by the clients and the dev server.
// The "role" label is "customer" or "admin".
type Metrics struct {
	Dials         *prometheus.CounterVec
	DialFailures  *prometheus.CounterVec
	Connected     *prometheus.GaugeVec
	FramesIn      *prometheus.CounterVec
	FramesOut     *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec
	HubClients    *prometheus.GaugeVec
	BotReplies    *prometheus.CounterVec
	CustomerTones *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "dials_total",
			Help: "Socket dial attempts.",
		}, []string{"role"}),
		DialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "dial_failures_total",
			Help: "Socket dial attempts that failed.",
		}, []string{"role"}),
		Connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connected",
			Help: "1 while the socket is open.",
		}, []string{"role"}),
		FramesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "frames_received_total",
			Help: "Decoded frames received.",
		}, []string{"role"}),
		FramesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "frames_sent_total",
			Help: "Frames written to the socket.",
		}, []string{"role"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "frames_dropped_total",
			Help: "Frames that could not be decoded.",
		}, []string{"role"}),
		HubClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "hub", Name: "clients",
			Help: "Sockets attached to the dev server hub.",
		}, []string{"role"}),
		BotReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bot", Name: "replies_total",
			Help: "Bot replies produced by the dev server, by outcome.",
		}, []string{"outcome"}),
		CustomerTones: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bot", Name: "customer_tones_total",
			Help: "Customer messages seen by the dev server, by detected tone.",
		}, []string{"tone"}),
	}

	if reg != nil {
		reg.MustRegister(m.Dials, m.DialFailures, m.Connected, m.FramesIn,
			m.FramesOut, m.FramesDropped, m.HubClients, m.BotReplies, m.CustomerTones)
	}
	return m
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the collectors registered on the prometheus default registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// Handler exposes the default gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	glog.Infof("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
