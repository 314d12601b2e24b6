// Package metrics exposes aggregate pipeline counters over a Prometheus
// scrape endpoint. Only counts, sizes and durations are recorded, never
// transaction hashes, batch contents or submitter identifiers.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	vmmetrics "github.com/VictoriaMetrics/metrics"

	"github.com/flashbots/penum-ingress/pipeline"
)

// MetricsServer serves the Prometheus endpoint on its own listener, separate
// from the public API.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given listen address. An empty address
// is allowed; the server then never starts. The service name is exported as a
// constant service_up gauge so scrapes can be attributed.
func New(name, listenAddr string) (*MetricsServer, error) {
	vmmetrics.GetOrCreateGauge(
		fmt.Sprintf(`service_up{service=%q}`, name),
		func() float64 { return 1 })

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		vmmetrics.WritePrometheus(w, true)
	})

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the metrics endpoint.
func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// PipelineCollector implements pipeline.Sink on VictoriaMetrics counters and
// summaries.
type PipelineCollector struct {
	batchSize    *vmmetrics.Summary
	batchOpenFor *vmmetrics.Summary
	forwardDelay *vmmetrics.Summary
}

// NewPipelineCollector registers the pipeline metric set in the default
// registry.
func NewPipelineCollector() *PipelineCollector {
	return &PipelineCollector{
		batchSize:    vmmetrics.GetOrCreateSummary(`ingress_batch_size`),
		batchOpenFor: vmmetrics.GetOrCreateSummary(`ingress_batch_open_seconds`),
		forwardDelay: vmmetrics.GetOrCreateSummary(`ingress_batch_forward_delay_seconds`),
	}
}

func (c *PipelineCollector) EnvelopeRejected(reason string) {
	vmmetrics.GetOrCreateCounter(
		fmt.Sprintf(`ingress_envelopes_rejected_total{reason=%q}`, reason)).Inc()
}

func (c *PipelineCollector) BatchClosed(size int, openFor time.Duration, trigger pipeline.CloseTrigger) {
	vmmetrics.GetOrCreateCounter(
		fmt.Sprintf(`ingress_batches_closed_total{trigger=%q}`, string(trigger))).Inc()
	c.batchSize.Update(float64(size))
	c.batchOpenFor.Update(openFor.Seconds())
}

func (c *PipelineCollector) BatchForwarded(size int, sinceClose time.Duration) {
	vmmetrics.GetOrCreateCounter(`ingress_batches_forwarded_total`).Inc()
	c.forwardDelay.Update(sinceClose.Seconds())
}

func (c *PipelineCollector) ForwardOutcome(outcome string) {
	vmmetrics.GetOrCreateCounter(
		fmt.Sprintf(`ingress_relay_deliveries_total{outcome=%q}`, outcome)).Inc()
}

func (c *PipelineCollector) Anomaly(kind string) {
	vmmetrics.GetOrCreateCounter(
		fmt.Sprintf(`ingress_pipeline_anomalies_total{kind=%q}`, kind)).Inc()
}
