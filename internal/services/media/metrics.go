package media

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	sourceUpload = "upload"
	sourceURL    = "url"

	outcomeCreated  = "created"
	outcomeDeduped  = "deduped"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

type Metrics struct {
	ingests     *prometheus.CounterVec
	blobUploads *prometheus.CounterVec
}

// NewMetrics registers the pipeline counters on reg. A nil reg keeps the
// counters unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ingests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rouzer",
			Subsystem: "media",
			Name:      "ingest_total",
			Help:      "Media ingestions by source and outcome",
		}, []string{"source", "outcome"}),
		blobUploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rouzer",
			Subsystem: "media",
			Name:      "blob_uploads_total",
			Help:      "Blob store uploads by backend and result",
		}, []string{"backend", "result"}),
	}
}

func (m *Metrics) observeIngest(source string, err error, deduped bool) {
	if m == nil {
		return
	}
	outcome := outcomeCreated
	switch {
	case err != nil && IsRejection(err):
		outcome = outcomeRejected
	case err != nil:
		outcome = outcomeFailed
	case deduped:
		outcome = outcomeDeduped
	}
	m.ingests.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) observeUpload(backend string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.blobUploads.WithLabelValues(backend, result).Inc()
}
