// Package metrics provides Prometheus metrics for downloads and playback.
// Labels stay low-cardinality: never download ids or URLs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DownloadsAddedTotal counts records created, by quality.
	DownloadsAddedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pitara_downloads_added_total",
		Help: "Total number of download records created, by quality.",
	}, []string{"quality"})

	// DownloadsFinishedTotal counts transfers reaching a terminal or cancelled outcome.
	DownloadsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pitara_downloads_finished_total",
		Help: "Total number of finished transfers, by outcome (completed/failed/cancelled).",
	}, []string{"outcome"})

	// DownloadBytesTotal counts bytes written by completed transfers.
	DownloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pitara_download_bytes_total",
		Help: "Total bytes written by completed transfers.",
	})

	// ActiveTransfers tracks transfers currently holding a concurrency slot.
	ActiveTransfers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pitara_active_transfers",
		Help: "Current number of running transfers.",
	})

	// PersistErrorsTotal counts failed writes of the download list.
	PersistErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pitara_persist_errors_total",
		Help: "Total number of failed download list writes.",
	})

	// QualitySwitchesTotal counts source swaps requested by the player, by target quality.
	QualitySwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pitara_quality_switches_total",
		Help: "Total number of playback quality switches, by target quality.",
	}, []string{"quality"})

	// SourceFallbacksTotal counts reverts to the original source, by result (reverted/unavailable).
	SourceFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pitara_source_fallbacks_total",
		Help: "Total number of playback source load failures, by result.",
	}, []string{"result"})
)
