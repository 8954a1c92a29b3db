/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClipAdvancesTotal counts scheduler iterations by outcome
	// (clip_ready, retry, end_of_stream, failed).
	ClipAdvancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydroclip_advances_total",
			Help: "Scheduler iterations by outcome.",
		},
		[]string{"node", "outcome"},
	)

	// ClipsTruncatedTotal counts clips cut short by the end of the last folder.
	ClipsTruncatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydroclip_clips_truncated_total",
			Help: "Clips shorter than the polling interval because data ran out.",
		},
		[]string{"node"},
	)

	// SegmentFetchesTotal counts segment downloads by result (ok, skipped).
	SegmentFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydroclip_segment_fetches_total",
			Help: "Segment downloads by result.",
		},
		[]string{"node", "result"},
	)

	// FolderRolloversTotal counts moves to the next folder by reason.
	FolderRolloversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydroclip_folder_rollovers_total",
			Help: "Folder rollovers by reason.",
		},
		[]string{"node", "reason"},
	)

	// PacingDriftTotal counts real-time deadlines that had already passed.
	PacingDriftTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydroclip_pacing_drift_total",
			Help: "Real-time pacing deadlines missed before the iteration started.",
		},
		[]string{"node"},
	)

	// PacingWaitSeconds observes how long real-time pacing slept.
	PacingWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hydroclip_pacing_wait_seconds",
			Help:    "Time spent waiting for a real-time deadline.",
			Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"node"},
	)

	// TranscodeDurationSeconds observes ffmpeg run time per clip.
	TranscodeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hydroclip_transcode_duration_seconds",
			Help:    "Time spent concatenating and transcoding one clip.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node", "result"},
	)
)

var (
	// DatabaseQueryDuration observes catalog query latency.
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hydroclip_db_query_duration_seconds",
			Help:    "Catalog database operation latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	// DatabaseErrorsTotal counts failed catalog operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydroclip_db_errors_total",
			Help: "Catalog database operations that returned an error.",
		},
		[]string{"operation"},
	)

	// UploadsTotal counts clip uploads to object storage by result.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hydroclip_uploads_total",
			Help: "Clip uploads to object storage by result.",
		},
		[]string{"result"},
	)
)
