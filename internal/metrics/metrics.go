package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FranksOps/indexcheck/internal/storage"
)

var (
	BatchCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexcheck_batch_calls_total",
			Help: "Total number of batch API calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	BatchCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexcheck_batch_call_duration_seconds",
			Help:    "Duration of batch API calls in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"op"},
	)

	SearchesAppendedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexcheck_searches_appended_total",
			Help: "Total number of search requests accepted by the provider",
		},
	)

	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexcheck_result_polls_total",
			Help: "Total number of result polls by readiness",
		},
		[]string{"ready"},
	)

	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexcheck_verdicts_total",
			Help: "Total number of reconciled URL verdicts",
		},
		[]string{"indexed"},
	)

	SourceURLsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexcheck_source_urls_total",
			Help: "Total number of URLs discovered per source kind",
		},
		[]string{"source"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexcheck_proxy_failures_total",
			Help: "Total number of source fetches that failed through a proxy",
		},
		[]string{"proxy"},
	)
)

// RecordCall updates call counters for a single batch API operation.
func RecordCall(op string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	BatchCallsTotal.WithLabelValues(op, outcome).Inc()
	BatchCallDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordPoll counts a result poll.
func RecordPoll(ready bool) {
	if ready {
		PollsTotal.WithLabelValues("true").Inc()
		return
	}
	PollsTotal.WithLabelValues("false").Inc()
}

// RecordVerdicts counts reconciled verdicts by outcome.
func RecordVerdicts(verdicts []storage.Verdict) {
	var indexed, missing float64
	for _, v := range verdicts {
		if v.Indexed {
			indexed++
		} else {
			missing++
		}
	}
	VerdictsTotal.WithLabelValues("true").Add(indexed)
	VerdictsTotal.WithLabelValues("false").Add(missing)
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "port", port, "error", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
