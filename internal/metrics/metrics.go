// Package metrics exposes Prometheus collectors shared by the Agent and
// Zone servers, adapted from go-server-3/internal/metrics and
// go-server/internal/metrics/system.go (host resource gauges via gopsutil).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Registry wraps every Prometheus collector the fabric reports.
type Registry struct {
	ActiveConnections prometheus.Gauge
	Subscriptions     prometheus.Gauge

	MessagesPublished prometheus.Counter
	MessagesDelivered prometheus.Counter
	MessagesDropped   prometheus.Counter
	AuthFailures      prometheus.Counter
	BadChannels       prometheus.Counter
	StoreObjects      prometheus.Gauge

	BusReconnects prometheus.Counter
	BusErrors     prometheus.Counter

	HostCPUPercent    prometheus.Gauge
	HostMemoryPercent prometheus.Gauge
}

// NewRegistry constructs and registers all collectors under the given
// service name ("agent" or "zone").
func NewRegistry(service string) *Registry {
	ns := "pastry_" + service
	return &Registry{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: ns + "_connections_active",
			Help: "Number of active client connections.",
		}),
		Subscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: ns + "_subscriptions_active",
			Help: "Number of active bus target subscriptions.",
		}),
		MessagesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: ns + "_messages_published_total",
			Help: "Total messages published to the bus.",
		}),
		MessagesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: ns + "_messages_delivered_total",
			Help: "Total messages delivered to connections.",
		}),
		MessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: ns + "_messages_dropped_total",
			Help: "Total messages dropped due to backpressure or disconnects.",
		}),
		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: ns + "_auth_failures_total",
			Help: "Total failed authentication attempts.",
		}),
		BadChannels: promauto.NewCounter(prometheus.CounterOpts{
			Name: ns + "_bad_channels_total",
			Help: "Total malformed channel addresses encountered.",
		}),
		StoreObjects: promauto.NewGauge(prometheus.GaugeOpts{
			Name: ns + "_store_objects",
			Help: "Number of live Distributed Objects held by this process.",
		}),
		BusReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: ns + "_bus_reconnects_total",
			Help: "Total bus reconnect events.",
		}),
		BusErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: ns + "_bus_errors_total",
			Help: "Total bus error events.",
		}),
		HostCPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: ns + "_host_cpu_percent",
			Help: "Host CPU utilization percentage.",
		}),
		HostMemoryPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: ns + "_host_memory_percent",
			Help: "Host memory utilization percentage.",
		}),
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// RunSystemSampler periodically refreshes the host CPU/memory gauges until
// ctx is cancelled. This is the "user-provided hook task" suspension point
// spec.md §5 calls out.
func (r *Registry) RunSystemSampler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
				r.HostCPUPercent.Set(pct[0])
			}
			if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
				r.HostMemoryPercent.Set(vm.UsedPercent)
			}
		}
	}
}
