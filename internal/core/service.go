package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/enrolment/internal/config"
	"github.com/JonMunkholm/enrolment/internal/logging"
	"github.com/JonMunkholm/enrolment/internal/metrics"
)

// DefaultUploadTimeout bounds one batch when the config leaves it unset.
const DefaultUploadTimeout = 5 * time.Minute

// Invalidator drops derived data (cached reports) after snapshots change.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Service runs upload batches against a Store.
type Service struct {
	store       Store
	normalizer  *Normalizer
	limiter     *UploadLimiter
	metrics     *metrics.Metrics
	invalidator Invalidator
	tracer      trace.Tracer
	timeout     time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records batch and replace metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithInvalidator registers a hook run after every successful batch.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

// WithNormalizer replaces the default alias table.
func WithNormalizer(n *Normalizer) Option {
	return func(s *Service) { s.normalizer = n }
}

// NewService creates a Service over store.
func NewService(store Store, cfg config.UploadConfig, opts ...Option) *Service {
	s := &Service{
		store:      store,
		normalizer: NewNormalizer(nil),
		limiter:    NewUploadLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		tracer:     otel.Tracer("github.com/JonMunkholm/enrolment/internal/core"),
		timeout:    cfg.Timeout,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultUploadTimeout
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BatchResult describes a completed batch upload.
type BatchResult struct {
	BatchID        uuid.UUID    `json:"batch_id"`
	Mode           AnalysisMode `json:"analysis_mode"`
	ProcessedFiles int          `json:"processed_files"`
	// TablesUpdated lists table names in dispatch order.
	TablesUpdated []string    `json:"tables_updated"`
	Snapshots     []Placement `json:"snapshots"`
	Reports       []Report    `json:"reports"`

	ComparisonReady      bool `json:"comparison_ready,omitempty"`
	CensusAnalysisReady  bool `json:"census_analysis_ready,omitempty"`
	ComplexAnalysisReady bool `json:"complex_analysis_ready,omitempty"`

	DurationMS int64 `json:"duration_ms"`
}

func (r *BatchResult) setReady(flag string) {
	switch flag {
	case "comparison_ready":
		r.ComparisonReady = true
	case "census_analysis_ready":
		r.CensusAnalysisReady = true
	case "complex_analysis_ready":
		r.ComplexAnalysisReady = true
	}
}

// Placement returns where the file for role landed.
func (r *BatchResult) Placement(role Role) (Placement, bool) {
	for _, p := range r.Snapshots {
		if p.Role == role {
			return p, true
		}
	}
	return Placement{}, false
}

// Upload stores a single table as the CURRENT snapshot.
func (s *Service) Upload(ctx context.Context, t Table) (*BatchResult, error) {
	return s.BatchUpload(ctx, ModeDefault, []Table{t})
}

// BatchUpload normalizes, classifies and stores tables for mode.
//
// Every table is normalized before any snapshot is written, so a schema or
// file-count failure leaves all snapshots unchanged. Each role is replaced
// atomically; roles of one batch are written concurrently.
func (s *Service) BatchUpload(ctx context.Context, mode AnalysisMode, tables []Table) (result *BatchResult, err error) {
	start := time.Now()
	log := logging.WithFields(ctx, "mode", mode.String(), "files", len(tables))

	ctx, span := s.tracer.Start(ctx, "core.BatchUpload", trace.WithAttributes(
		attribute.String("analysis_mode", mode.String()),
		attribute.Int("files", len(tables)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.ObserveBatch(mode.String(), batchOutcome(err), time.Since(start))
	}()

	plan, err := mode.Plan()
	if err != nil {
		return nil, err
	}
	if err := mode.ValidateFileCount(len(tables)); err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx, len(tables)); err != nil {
		return nil, err
	}
	defer s.limiter.Release(len(tables))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	files, err := s.normalizeAll(ctx, tables)
	if err != nil {
		return nil, err
	}

	assignment, err := Classify(mode, files)
	if err != nil {
		return nil, err
	}
	for _, p := range assignment.Placements {
		if p.YearAmbiguous {
			log.Warn("academic year has no unique mode",
				"file", p.File, "role", p.Role, "year", p.Year)
		}
	}

	if err := s.replaceAll(ctx, assignment); err != nil {
		return nil, err
	}

	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx); err != nil {
			// stale reports expire by TTL
			log.Warn("report cache invalidation failed", "error", err)
		}
	}

	result = &BatchResult{
		BatchID:        uuid.New(),
		Mode:           mode,
		ProcessedFiles: len(tables),
		Snapshots:      assignment.Placements,
		Reports:        plan.Reports,
		DurationMS:     time.Since(start).Milliseconds(),
	}
	for _, p := range assignment.Placements {
		result.TablesUpdated = append(result.TablesUpdated, p.Table)
	}
	result.setReady(plan.ReadyFlag)

	log.Info("batch upload complete",
		"batch_id", result.BatchID,
		"tables", result.TablesUpdated,
		"duration_ms", result.DurationMS,
	)
	return result, nil
}

func (s *Service) normalizeAll(ctx context.Context, tables []Table) ([]NormalizedFile, error) {
	files := make([]NormalizedFile, len(tables))
	g, ctx := errgroup.WithContext(ctx)
	for i := range tables {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			nf, err := s.normalizer.Normalize(tables[i])
			if err != nil {
				return err
			}
			if len(nf.Ignored) > 0 {
				logging.FromContext(ctx).Debug("ignored source columns",
					"file", nf.Name, "columns", nf.Ignored)
			}
			files[i] = nf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// replaceAll writes every placement of a in one store batch, so a failure
// on any role leaves all roles as they were.
func (s *Service) replaceAll(ctx context.Context, a *Assignment) error {
	batch := make(Batch, len(a.Placements))
	tables := make([]string, 0, len(a.Placements))
	for _, p := range a.Placements {
		spec, err := LookupSnapshot(p.Role)
		if err != nil {
			return err
		}
		batch[p.Role] = spec.PrepareRows(a.Rows(p.Role))
		tables = append(tables, spec.Table)
	}

	ctx, span := s.tracer.Start(ctx, "store.ReplaceAll", trace.WithAttributes(
		attribute.StringSlice("tables", tables),
	))
	defer span.End()

	if err := s.store.ReplaceAll(ctx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("replace %s: %w", strings.Join(tables, ", "), err)
	}
	for role, rows := range batch {
		s.metrics.ObserveReplace(string(role), len(rows))
	}
	return nil
}

func batchOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsClientError(err):
		return "client_error"
	case errors.Is(err, ErrTooManyUploads):
		return "busy"
	default:
		return "error"
	}
}

// SnapshotStatus is the row count of one snapshot.
type SnapshotStatus struct {
	SnapshotSpec
	Rows int64 `json:"rows"`
}

// Snapshots reports the current row count of every snapshot.
func (s *Service) Snapshots(ctx context.Context) ([]SnapshotStatus, error) {
	specs := Snapshots()
	out := make([]SnapshotStatus, len(specs))
	for i, spec := range specs {
		n, err := s.store.RowCount(ctx, spec.Role)
		if err != nil {
			return nil, fmt.Errorf("row count %s: %w", spec.Table, err)
		}
		out[i] = SnapshotStatus{SnapshotSpec: spec, Rows: n}
	}
	return out, nil
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// UploadLimiterStatus returns the upload limiter state.
func (s *Service) UploadLimiterStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// WaitForUploads blocks until in-flight batches finish or ctx ends.
func (s *Service) WaitForUploads(ctx context.Context) error {
	err := s.limiter.WaitForDrain(ctx)
	if err != nil {
		slog.Warn("uploads still in flight at shutdown", "active", s.limiter.ActiveCount())
	}
	return err
}
