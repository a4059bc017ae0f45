package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OracleCalls counts oracle invocations by problem class and outcome.
	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metaflux_oracle_calls_total",
		Help: "Total LP/NLP oracle calls by kind and outcome",
	}, []string{"kind", "outcome"})

	OracleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "metaflux_oracle_duration_seconds",
		Help:    "Oracle call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"kind"})

	// Evaluations counts fitness evaluations by outcome (sentinel, candidate, empty).
	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metaflux_evaluations_total",
		Help: "Total fitness evaluations by outcome",
	}, []string{"outcome"})

	FeasibleStarts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "metaflux_sampling_feasible_starts",
		Help: "Distinct feasible starts found by the latest sampling run",
	})

	Generations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "metaflux_optimizer_generations_total",
		Help: "Total optimizer generations completed",
	})

	BestObjective = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "metaflux_optimizer_best_objective",
		Help: "Best (minimization-oriented) objective seen by the optimizer",
	})

	Switches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metaflux_postprocess_switches_total",
		Help: "Feasible switches found by postprocessing, by target type",
	}, []string{"target_type"})

	SinkWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "metaflux_sink_writes_total",
		Help: "Artifact writes by outcome",
	}, []string{"outcome"})
)

// ServeMetrics exposes /metrics on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	logger = OrDefault(logger)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("metrics endpoint listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
