// Package metrics exposes prometheus instrumentation for the encode pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "framepipe"

var (
	FramesSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_submitted_total",
			Help:      "Total raw frames submitted for encoding.",
		},
	)
	FramesEncoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_encoded_total",
			Help:      "Total frames compressed by the worker pool.",
		},
	)
	FramesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_delivered_total",
			Help:      "Total frames delivered to the consumer in order.",
		},
	)
	EncodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encode_errors_total",
			Help:      "Fatal encode errors by stage.",
		},
		[]string{"stage"},
	)
	EncodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "encode_duration_seconds",
			Help:      "Time spent compressing a single frame.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	SubmissionQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "submission_queue_depth",
			Help:      "Frames waiting in the submission queue.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		FramesSubmitted,
		FramesEncoded,
		FramesDelivered,
		EncodeErrors,
		EncodeDuration,
		SubmissionQueueDepth,
	)
}
