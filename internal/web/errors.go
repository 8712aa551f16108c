package web

// errors.go writes every response through one envelope:
//
//	{"code": <http status>, "message": "...", "result": ...}
//
// Failures add error_code and action from core.MapError and carry an empty
// result object. The technical error is only logged, with the request id.

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/enrolment/internal/analytics"
	"github.com/JonMunkholm/enrolment/internal/core"
	"github.com/JonMunkholm/enrolment/internal/logging"
	"github.com/JonMunkholm/enrolment/internal/tabular"
	"github.com/JonMunkholm/enrolment/internal/web/templates"
)

// Envelope is the JSON body of every API response.
type Envelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	Action    string `json:"action,omitempty"`
	Result    any    `json:"result"`
}

// errNoFile maps to FILE004.
var errNoFile = errors.New("no file provided")

// errFileTooLarge maps to FILE001.
var errFileTooLarge = errors.New("file too large")

func respond(w http.ResponseWriter, r *http.Request, status int, message string, result any) {
	if result == nil {
		result = struct{}{}
	}
	render.Status(r, status)
	render.JSON(w, r, Envelope{Code: status, Message: message, Result: result})
}

// respondError logs err and writes its user-facing form. status 0 derives
// the status from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	ue := core.NewUserError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", ue.Technical.Error(),
		"code", ue.User.Code,
	}
	// unmapped errors need a look at the logs whatever the status
	if status >= http.StatusInternalServerError || !core.IsUserFacing(err) {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	if wantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_ = templates.ErrorAlert(core.FormatUserError(err)).Render(r.Context(), w)
		return
	}

	render.Status(r, status)
	render.JSON(w, r, Envelope{
		Code:      status,
		Message:   ue.User.Message,
		ErrorCode: ue.User.Code,
		Action:    ue.User.Action,
		Result:    struct{}{},
	})
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	var (
		termErr   *analytics.InvalidTermError
		validErrs validator.ValidationErrors
		roleErr   *core.UnknownRoleError
	)
	switch {
	case errors.As(err, &roleErr):
		return http.StatusInternalServerError
	case core.IsClientError(err),
		errors.As(err, &termErr),
		errors.As(err, &validErrs),
		errors.Is(err, tabular.ErrUnsupportedFormat),
		errors.Is(err, tabular.ErrMalformed),
		errors.Is(err, tabular.ErrEmptyFile),
		errors.Is(err, errNoFile):
		return http.StatusBadRequest
	case errors.Is(err, errFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// wantsHTML reports whether the client asked for a page rather than the API.
func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.Contains(accept, "application/json")
}
