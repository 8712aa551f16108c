package web

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/JonMunkholm/enrolment/internal/core"
	"github.com/JonMunkholm/enrolment/internal/tabular"
)

// Multipart form fields.
const (
	formFile  = "file"
	formFiles = "files"
	formMode  = "analysis_mode"
)

// handleUpload stores one file as the CURRENT snapshot.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseUploadForm(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	defer form.RemoveAll()

	files := form.File[formFile]
	if len(files) == 0 {
		s.respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}

	s.runBatch(w, r, core.ModeDefault, files[:1])
}

// handleBatchUpload stores files according to analysis_mode.
func (s *Server) handleBatchUpload(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseUploadForm(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	defer form.RemoveAll()

	var modeName string
	if v := form.Value[formMode]; len(v) > 0 {
		modeName = v[0]
	}
	mode, err := core.ParseMode(modeName)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	files := form.File[formFiles]
	if len(files) == 0 {
		s.respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}
	// Reject a wrong count before reading any file.
	if err := mode.ValidateFileCount(len(files)); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	s.runBatch(w, r, mode, files)
}

func (s *Server) parseUploadForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	maxSize := s.cfg.Upload.MaxFileSize
	if r.ContentLength > maxSize {
		return nil, fmt.Errorf("%w: limit is %d bytes", errFileTooLarge, maxSize)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: limit is %d bytes", errFileTooLarge, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: %w", errNoFile, err)
	}
	return r.MultipartForm, nil
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request, mode core.AnalysisMode, files []*multipart.FileHeader) {
	sources := make([]tabular.Source, len(files))
	for i, fh := range files {
		if !tabular.Allowed(fh.Filename) {
			s.respondError(w, r, fmt.Errorf("%w: %q", tabular.ErrUnsupportedFormat, fh.Filename), http.StatusBadRequest)
			return
		}
		sources[i] = tabular.Source{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) {
				f, err := fh.Open()
				if err != nil {
					return nil, err
				}
				return f, nil
			},
		}
	}

	ctx := r.Context()
	tables, err := tabular.DecodeAll(ctx, sources)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	result, err := s.service.BatchUpload(ctx, mode, tables)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	respond(w, r, http.StatusOK, "Success", result)
}
