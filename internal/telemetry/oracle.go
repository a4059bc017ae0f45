package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"metaflux/internal/model"
	"metaflux/internal/oracle"
)

var tracer = otel.Tracer("metaflux.oracle")

// InstrumentedSolver decorates a solver with spans and call metrics.
type InstrumentedSolver struct {
	next oracle.Solver
}

var _ oracle.Solver = (*InstrumentedSolver)(nil)

func Instrument(next oracle.Solver) *InstrumentedSolver {
	return &InstrumentedSolver{next: next}
}

func (s *InstrumentedSolver) SolveLP(ctx context.Context, req oracle.LPRequest) (model.Result, error) {
	ctx, span := tracer.Start(ctx, "oracle.SolveLP",
		trace.WithAttributes(
			attribute.String("oracle.sense", req.Sense.String()),
			attribute.Int("oracle.ignored", len(req.Ignored)),
			attribute.Bool("oracle.loop", req.Loop),
			attribute.Bool("oracle.extended", req.Extension != nil),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := s.next.SolveLP(ctx, req)
	observe(span, "lp", time.Since(start), res, err)
	return res, err
}

func (s *InstrumentedSolver) SolveNLP(ctx context.Context, req oracle.NLPRequest) (model.Result, error) {
	ctx, span := tracer.Start(ctx, "oracle.SolveNLP",
		trace.WithAttributes(
			attribute.String("oracle.sense", req.Sense.String()),
			attribute.Int("oracle.seed_size", len(req.ActiveSeed.Values)),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := s.next.SolveNLP(ctx, req)
	observe(span, "nlp", time.Since(start), res, err)
	return res, err
}

// Variability forwards to the wrapped solver when it can analyze variability.
func (s *InstrumentedSolver) Variability(ctx context.Context, m *model.Model, enzyme, thermo bool) (model.Variability, error) {
	analyzer, ok := s.next.(oracle.VariabilityAnalyzer)
	if !ok {
		return nil, errors.New("wrapped solver does not support variability analysis")
	}
	ctx, span := tracer.Start(ctx, "oracle.Variability")
	defer span.End()
	v, err := analyzer.Variability(ctx, m, enzyme, thermo)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return v, err
}

func observe(span trace.Span, kind string, elapsed time.Duration, res model.Result, err error) {
	OracleDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	switch {
	case err != nil:
		OracleCalls.WithLabelValues(kind, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !res.AllOK:
		OracleCalls.WithLabelValues(kind, "infeasible").Inc()
		span.SetAttributes(attribute.Bool("oracle.all_ok", false))
	default:
		OracleCalls.WithLabelValues(kind, "ok").Inc()
		span.SetAttributes(
			attribute.Bool("oracle.all_ok", true),
			attribute.Float64("oracle.objective", res.Objective()),
		)
		span.SetStatus(codes.Ok, "")
	}
}
