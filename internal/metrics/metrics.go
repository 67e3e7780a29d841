// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oncue_source_refresh_total",
		Help: "Source refreshes by source type and outcome.",
	}, []string{"type", "outcome"})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oncue_source_refresh_duration_seconds",
		Help:    "Wall time of source refreshes.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	RefreshCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oncue_source_refresh_coalesced_total",
		Help: "Refresh requests joined onto an already in-flight refresh.",
	})

	CatalogChannels = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "oncue_catalog_channels",
		Help: "Committed channels per source.",
	}, []string{"source_id"})

	ParseWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oncue_parse_warnings_total",
		Help: "Non-fatal playlist parse warnings by format.",
	}, []string{"format"})

	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oncue_xtream_auth_failures_total",
		Help: "Xtream authentication rejections.",
	})

	PINFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oncue_parental_pin_failures_total",
		Help: "Failed parental PIN verification attempts.",
	})

	PINLockouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oncue_parental_pin_lockouts_total",
		Help: "Lockout windows opened after repeated PIN failures.",
	})

	SyncConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oncue_sync_conflicts_total",
		Help: "Field conflicts reported by sync reconciliation.",
	})
)
