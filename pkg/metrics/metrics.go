// Package metrics exports Prometheus counters/histograms for scheduler and
// executor activity. This is ambient observability, not a feature named in
// spec.md, carried because the teacher always instruments these concerns
// (grounded on pkg/agent/middleware/metrics/prometheus.go's PrometheusRecorder).
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storyforge/pkg/logx"
)

// Recorder exports orchestrator activity as Prometheus metrics. It owns a
// private registry rather than the global default one, so multiple
// instances (e.g. in tests) never collide on metric registration.
type Recorder struct {
	registry *prometheus.Registry

	storiesTransitioned *prometheus.CounterVec
	readinessPasses     *prometheus.CounterVec
	executorInvocations *prometheus.CounterVec
	executorDuration    *prometheus.HistogramVec
	plannerTokensUsed    prometheus.Counter
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		storiesTransitioned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyforge_story_transitions_total",
				Help: "Total number of DeveloperStory status transitions, by resulting status.",
			},
			[]string{"status"},
		),
		readinessPasses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyforge_readiness_passes_total",
				Help: "Total number of scheduler readiness passes, by outcome.",
			},
			[]string{"outcome"},
		),
		executorInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyforge_executor_invocations_total",
				Help: "Total number of ExecutorClient invocations, by outcome.",
			},
			[]string{"outcome"},
		),
		executorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storyforge_executor_duration_seconds",
				Help:    "Duration of ExecutorClient invocations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		plannerTokensUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storyforge_planner_tokens_used_total",
			Help: "Total tokens consumed by PlannerClient completions.",
		}),
	}

	reg.MustRegister(r.storiesTransitioned, r.readinessPasses, r.executorInvocations, r.executorDuration, r.plannerTokensUsed)
	return r
}

// ObserveStoryTransition records a DeveloperStory transition into status.
func (r *Recorder) ObserveStoryTransition(status string) {
	r.storiesTransitioned.WithLabelValues(status).Inc()
}

// ObserveReadinessPass records a scheduler UpdateReadiness call's outcome
// ("ok" or "cycle").
func (r *Recorder) ObserveReadinessPass(outcome string) {
	r.readinessPasses.WithLabelValues(outcome).Inc()
}

// ObserveExecutorInvocation records one ExecutorClient invocation.
func (r *Recorder) ObserveExecutorInvocation(outcome string, d time.Duration) {
	r.executorInvocations.WithLabelValues(outcome).Inc()
	r.executorDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// AddPlannerTokens records tokens consumed by a planner completion.
func (r *Recorder) AddPlannerTokens(n int64) {
	if n > 0 {
		r.plannerTokensUsed.Add(float64(n))
	}
}

// Server exposes the Recorder's registry on /metrics, gated by
// metrics.enabled in config.
type Server struct {
	httpServer *http.Server
	logger     *logx.Logger
}

// NewServer creates (but does not start) a metrics HTTP server for r on addr.
func NewServer(r *Recorder, addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger:     logx.NewLogger("metrics"),
	}
}

// Start runs the metrics server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shut down metrics server: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}
}
