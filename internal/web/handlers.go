package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/enrolment/internal/analytics"
	"github.com/JonMunkholm/enrolment/internal/core"
	"github.com/JonMunkholm/enrolment/internal/web/templates"
)

// healthTimeout bounds every dependency probe.
const healthTimeout = 2 * time.Second

// handleStatus renders the status page.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.service.Snapshots(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	modes, err := modePlans()
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	view := templates.StatusView{
		Snapshots: snapshots,
		Modes:     modes,
		Uploads:   s.service.UploadLimiterStatus(),
	}
	if err := templates.StatusPage(view).Render(r.Context(), w); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
	}
}

// handleHealth probes every registered dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	healthy := true
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = err.Error()
			healthy = false
			continue
		}
		checks[c.Name] = "ok"
	}

	if !healthy {
		respond(w, r, http.StatusServiceUnavailable, "Unhealthy", checks)
		return
	}
	respond(w, r, http.StatusOK, "Success", checks)
}

// handleModes lists the analysis modes accepted by /batch_upload.
func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	modes, err := modePlans()
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	respond(w, r, http.StatusOK, "Success", modes)
}

// handleSnapshots reports row counts per snapshot and upload capacity.
func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.service.Snapshots(r.Context())
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	respond(w, r, http.StatusOK, "Success", map[string]any{
		"snapshots": snapshots,
		"uploads":   s.service.UploadLimiterStatus(),
	})
}

// handleTerms lists the terms accepted by the census drop report.
func (s *Server) handleTerms(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, "Success", analytics.CensusTerms)
}

// handleReport serves a report that takes no parameters.
func (s *Server) handleReport(report core.Report) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.runReport(w, r, report, "")
	}
}

// censusDropQuery is the query string of /census_gender_drop.
type censusDropQuery struct {
	Term string `json:"term" validate:"required,census_term"`
}

func (s *Server) handleCensusDrop(w http.ResponseWriter, r *http.Request) {
	q := censusDropQuery{Term: r.URL.Query().Get("term")}
	if err := s.validate.Struct(q); err != nil {
		s.respondError(w, r, fmt.Errorf("invalid term %q: %w", q.Term, err), http.StatusBadRequest)
		return
	}
	s.runReport(w, r, core.ReportCensusDrop, q.Term)
}

func (s *Server) runReport(w http.ResponseWriter, r *http.Request, report core.Report, term string) {
	result, err := s.reports.Run(r.Context(), report, term)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	respond(w, r, http.StatusOK, "Success", result)
}

func modePlans() ([]core.ModePlan, error) {
	modes := core.Modes()
	plans := make([]core.ModePlan, 0, len(modes))
	for _, m := range modes {
		p, err := m.Plan()
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}
