// Package web provides the HTTP API for snapshot uploads and reports.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/enrolment/internal/analytics"
	"github.com/JonMunkholm/enrolment/internal/config"
	"github.com/JonMunkholm/enrolment/internal/core"
	"github.com/JonMunkholm/enrolment/internal/metrics"
	webmw "github.com/JonMunkholm/enrolment/internal/web/middleware"
)

// Reports computes report payloads. *analytics.Engine and *cache.Reports
// both satisfy it.
type Reports interface {
	Run(ctx context.Context, report core.Report, term string) (any, error)
}

// HealthCheck is one dependency probed by /healthz.
type HealthCheck struct {
	Name  string
	Check func(context.Context) error
}

// Server is the HTTP server for the analytics service.
type Server struct {
	cfg      *config.Config
	service  *core.Service
	reports  Reports
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	checks   []HealthCheck
	validate *validator.Validate
	router   *chi.Mux
	server   *http.Server
	limiters []*rateLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records HTTP metrics in m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithHealthCheck adds a dependency to /healthz.
func WithHealthCheck(name string, check func(context.Context) error) Option {
	return func(s *Server) {
		s.checks = append(s.checks, HealthCheck{Name: name, Check: check})
	}
}

// NewServer creates a Server. The store is always part of /healthz.
func NewServer(service *core.Service, reports Reports, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		service:  service,
		reports:  reports,
		validate: newValidator(),
		router:   chi.NewRouter(),
		checks:   []HealthCheck{{Name: "store", Check: service.Ping}},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("census_term", func(fl validator.FieldLevel) bool {
		return analytics.ValidTerm(fl.Field().String())
	})
	return v
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(webmw.Metrics(s.metrics))
	s.router.Use(s.securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newLimiter(s.cfg.Rate.RequestsPerMinute).middleware)
	}
}

func (s *Server) newLimiter(perMinute int) *rateLimiter {
	rl := newRateLimiter(perMinute, s.metrics, func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, r, errRateLimited, http.StatusTooManyRequests)
	})
	s.limiters = append(s.limiters, rl)
	return rl
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleStatus)
	s.router.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Uploads get their own, stricter bucket on top of the global one.
	s.router.Group(func(r chi.Router) {
		if s.cfg.Rate.Enabled {
			r.Use(s.newLimiter(s.cfg.Rate.UploadLimit).middleware)
		}
		r.Post("/upload", s.handleUpload)
		r.Post("/batch_upload", s.handleBatchUpload)
	})

	s.router.Group(func(r chi.Router) {
		if s.cfg.Server.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
		}
		r.Get("/"+string(core.ReportGender), s.handleReport(core.ReportGender))
		r.Get("/"+string(core.ReportEquity), s.handleReport(core.ReportEquity))
		r.Get("/"+string(core.ReportCDEV), s.handleReport(core.ReportCDEV))
		r.Get("/"+string(core.ReportYearOverYear), s.handleReport(core.ReportYearOverYear))
		r.Get("/"+string(core.ReportCensusComparison), s.handleReport(core.ReportCensusComparison))
		r.Get("/"+string(core.ReportCensusDrop), s.handleCensusDrop)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/modes", s.handleModes)
		r.Get("/snapshots", s.handleSnapshots)
		r.Get("/terms", s.handleTerms)
	})
}

// Start listens on the configured address.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and the rate limiter janitors.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.Close()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if s.cfg.Security.EnableCSP {
			h.Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
		}
		next.ServeHTTP(w, r)
	})
}
