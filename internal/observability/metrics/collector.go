// Package metrics turns relay bus events into Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/CCasusensa/ArtaleBroadcast/internal/delivery"
	"github.com/CCasusensa/ArtaleBroadcast/internal/eventbus"
	"github.com/CCasusensa/ArtaleBroadcast/internal/profile"
	"github.com/CCasusensa/ArtaleBroadcast/internal/relay"
	"github.com/CCasusensa/ArtaleBroadcast/internal/stream"
)

const namespace = "artale_relay"

// Collector owns a private registry so tests and multiple instances never
// collide on the global one.
type Collector struct {
	reg *prometheus.Registry

	messages    *prometheus.CounterVec
	lookups     *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	retryAfter  prometheus.Histogram
	queueDepth  prometheus.Gauge
	streamUp    prometheus.Gauge
	connects    prometheus.Counter
	disconnects prometheus.Counter
	uptime      prometheus.Histogram
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_total",
			Help: "Inbound stream messages by outcome.",
		}, []string{"outcome"}),
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "profile_lookups_total",
			Help: "Profile cache lookups by result (hit, miss, error, disabled).",
		}, []string{"result"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_attempts_total",
			Help: "Webhook delivery attempts by outcome (sent, rate_limited, failed).",
		}, []string{"outcome"}),
		retryAfter: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "webhook_retry_after_seconds",
			Help:    "Waits imposed by webhook rate limits.",
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 10, 30, 60},
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Payloads waiting for delivery, including the one in flight.",
		}),
		streamUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stream_up",
			Help: "1 while the stream connection is open.",
		}),
		connects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_connects_total",
			Help: "Successful stream connections.",
		}),
		disconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_disconnects_total",
			Help: "Stream connections lost or closed.",
		}),
		uptime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stream_connection_seconds",
			Help:    "Lifetime of stream connections.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 9),
		}),
	}
}

// Registry is what the ops server exposes on /metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	if bus == nil {
		<-ctx.Done()
		return nil
	}
	ch, unsub := bus.Subscribe(1024)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.handle(e)
		}
	}
}

func (c *Collector) handle(e eventbus.Event) {
	switch e.Type {
	case eventbus.RelayReceived:
		c.messages.WithLabelValues("accepted").Inc()
	case eventbus.RelayDropped:
		reason := "dropped"
		if d, ok := e.Data.(relay.DroppedEvent); ok && d.Reason != "" {
			reason = d.Reason
		}
		c.messages.WithLabelValues(reason).Inc()
	case eventbus.ProfileLookup:
		if d, ok := e.Data.(profile.LookupEvent); ok {
			c.lookups.WithLabelValues(d.Result).Inc()
		}
	case eventbus.DeliveryQueued:
		c.setDepth(e.Data)
	case eventbus.DeliverySent:
		c.deliveries.WithLabelValues("sent").Inc()
		c.setDepth(e.Data)
	case eventbus.DeliveryRateLimited:
		c.deliveries.WithLabelValues("rate_limited").Inc()
		if d, ok := e.Data.(delivery.Event); ok {
			c.retryAfter.Observe(d.RetryAfter.Seconds())
		}
		c.setDepth(e.Data)
	case eventbus.DeliveryFailed:
		c.deliveries.WithLabelValues("failed").Inc()
		c.setDepth(e.Data)
	case eventbus.StreamConnected:
		c.connects.Inc()
		c.streamUp.Set(1)
	case eventbus.StreamDisconnected:
		c.disconnects.Inc()
		c.streamUp.Set(0)
		if d, ok := e.Data.(stream.ConnEvent); ok && d.Uptime > 0 {
			c.uptime.Observe(d.Uptime.Seconds())
		}
	}
}

func (c *Collector) setDepth(data any) {
	if d, ok := data.(delivery.Event); ok {
		c.queueDepth.Set(float64(d.Depth))
	}
}
