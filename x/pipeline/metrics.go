package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zkceremony/contributor/metrics"
)

// Metrics tracks artifact transfer volume and step outcomes.
type Metrics struct {
	StepsTotal       *prometheus.CounterVec
	BytesDownloaded  prometheus.Counter
	BytesUploaded    prometheus.Counter
	CallableFailures prometheus.Counter
	ComputeSeconds   prometheus.Histogram
	ZkeyBytes        prometheus.Histogram
	UploadParts      prometheus.Histogram
}

// NewMetrics registers the pipeline metrics. A nil registerer uses the
// default prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	r := metrics.NewComponentRegistry("pipeline", reg)
	return &Metrics{
		StepsTotal: r.NewCounterVec(prometheus.CounterOpts{
			Name: "steps_total",
			Help: "Contribution steps executed, by step type.",
		}, []string{"step"}),
		BytesDownloaded: r.NewCounter(prometheus.CounterOpts{
			Name: "bytes_downloaded_total",
			Help: "Zkey bytes fetched from artifact storage.",
		}),
		BytesUploaded: r.NewCounter(prometheus.CounterOpts{
			Name: "bytes_uploaded_total",
			Help: "Zkey bytes pushed to artifact storage.",
		}),
		CallableFailures: r.NewCounter(prometheus.CounterOpts{
			Name: "callable_failures_total",
			Help: "Server callable invocations that returned an error.",
		}),
		ComputeSeconds: r.NewHistogram(prometheus.HistogramOpts{
			Name:    "compute_seconds",
			Help:    "Wall time of the contribution transform.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		ZkeyBytes: r.NewHistogram(prometheus.HistogramOpts{
			Name:    "zkey_bytes",
			Help:    "Size of downloaded zkey artifacts.",
			Buckets: metrics.BytesBuckets,
		}),
		UploadParts: r.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_parts",
			Help:    "Parts acknowledged per upload attempt.",
			Buckets: metrics.CountBuckets,
		}),
	}
}

// NopMetrics returns metrics bound to a throwaway registry.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
