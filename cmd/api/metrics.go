package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	hubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auction",
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Live event stream subscriptions",
		},
	)

	dbConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pgxpool",
			Name:      "connections",
			Help:      "Current number of connections in the pool",
		},
		[]string{"state"},
	)

	dbConnectionPoolMax = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pgxpool",
			Name:      "max_conns",
			Help:      "Maximum number of connections in the pool",
		},
	)
)

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// collectRuntimeGauges polls pool and hub gauges until ctx is cancelled.
// pool may be nil when running on the memory driver.
func collectRuntimeGauges(ctx context.Context, pool *pgxpool.Pool, subscribers func() int) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hubSubscribers.Set(float64(subscribers()))
			if pool != nil {
				stats := pool.Stat()
				dbConnectionPoolSize.WithLabelValues("acquired").Set(float64(stats.AcquiredConns()))
				dbConnectionPoolSize.WithLabelValues("idle").Set(float64(stats.IdleConns()))
				dbConnectionPoolSize.WithLabelValues("total").Set(float64(stats.TotalConns()))
				dbConnectionPoolMax.Set(float64(stats.MaxConns()))
			}
		}
	}
}
