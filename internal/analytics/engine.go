// Package analytics computes reports over the snapshot store.
//
// The Engine never writes. Every headcount is a distinct masked_id count
// taken from the store; totals are separate distinct counts, never sums of
// breakdown counts, unless a report documents otherwise.
package analytics

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JonMunkholm/enrolment/internal/core"
	"github.com/JonMunkholm/enrolment/internal/metrics"
)

// CensusTerms are the term labels accepted by the census drop report.
var CensusTerms = []string{
	"Hexamester 1",
	"Hexamester 4",
	"Semester 1 Canberra",
	"Semester 2 Canberra",
	"Summer Term",
	"Term 1",
	"Term 2",
	"Term 3",
}

// ValidTerm reports whether term is one of CensusTerms.
func ValidTerm(term string) bool {
	return slices.Contains(CensusTerms, term)
}

// InvalidTermError is returned for a term outside CensusTerms.
type InvalidTermError struct {
	Term string
}

func (e *InvalidTermError) Error() string {
	return fmt.Sprintf("invalid term %q", e.Term)
}

// Engine runs reports against an injected store.
type Engine struct {
	store core.Store
	// reader serves every query; Run points it at one store view.
	reader  core.Reader
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records report durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine reading from store.
func NewEngine(store core.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		reader: store,
		tracer: otel.Tracer("github.com/JonMunkholm/enrolment/internal/analytics"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run computes report. term is only used by the census drop report.
// The result is JSON-serializable. Every query of one report reads the same
// store view, so a concurrent upload never mixes generations in a payload.
func (e *Engine) Run(ctx context.Context, report core.Report, term string) (result any, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "analytics.Run", trace.WithAttributes(
		attribute.String("report", string(report)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.metrics.ObserveReport(string(report), time.Since(start))
	}()

	err = e.store.View(ctx, func(r core.Reader) error {
		view := *e
		view.reader = r
		var runErr error
		result, runErr = view.dispatch(ctx, report, term)
		return runErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) dispatch(ctx context.Context, report core.Report, term string) (any, error) {
	switch report {
	case core.ReportGender:
		return e.GenderParticipation(ctx)
	case core.ReportEquity:
		return e.EquityCohort(ctx)
	case core.ReportCDEV:
		return e.CDEV(ctx)
	case core.ReportYearOverYear:
		return e.YearOverYear(ctx)
	case core.ReportCensusComparison:
		return e.CensusComparison(ctx)
	case core.ReportCensusDrop:
		return e.CensusGenderDrop(ctx, term)
	}
	return nil, fmt.Errorf("unknown report %q", report)
}

// percent returns num/den*100 rounded to 2 decimal places, or 0 when den is 0.
func percent(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return round2(float64(num) / float64(den) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
