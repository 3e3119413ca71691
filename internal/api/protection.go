package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"content-protection/internal/models"
	"content-protection/internal/protection"
	"content-protection/internal/storage"
)

const (
	maxWatermarkLen = 100
	multipartMemory = 32 << 20
	// room for form fields and multipart framing on top of the file limits
	formOverhead = 1 << 20
)

var videoExtensions = map[string]bool{".mp4": true, ".mov": true, ".avi": true}

type imageResponse struct {
	JobID          string                 `json:"job_id"`
	Status         models.JobStatus       `json:"status"`
	ProtectedFiles []models.ProtectedFile `json:"protected_files"`
}

type videoResponse struct {
	JobID        string           `json:"job_id"`
	Status       models.JobStatus `json:"status"`
	ProtectedURL *string          `json:"protected_url"`
	FileName     string           `json:"file_name"`
}

func (s *Server) handleProtectImage(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.cfg.MaxImageFiles)*s.cfg.MaxImageBytes + formOverhead
	form, err := s.parseForm(w, r, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer form.RemoveAll()

	headers := form.File["files[]"]
	if len(headers) == 0 {
		headers = form.File["files"]
	}
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "files: at least one file is required")
		return
	}
	if len(headers) > s.cfg.MaxImageFiles {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("files: at most %d files per request", s.cfg.MaxImageFiles))
		return
	}
	for _, fh := range headers {
		if fh.Size > s.cfg.MaxImageBytes {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("files: %s exceeds the %dMB limit", fh.Filename, s.cfg.MaxImageBytes>>20))
			return
		}
	}

	req, err := s.submitRequest(r, form, models.MediaImage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	uploads, closeAll, err := openUploads(headers)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeAll()
	req.Files = uploads

	job, ok := s.submit(w, r, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, imageResponse{JobID: job.ID, Status: job.Status, ProtectedFiles: job.ProtectedFiles})
}

func (s *Server) handleProtectVideo(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseForm(w, r, s.cfg.MaxVideoBytes+formOverhead)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer form.RemoveAll()

	headers := form.File["file"]
	if len(headers) != 1 {
		writeError(w, http.StatusBadRequest, "file: exactly one video file is required")
		return
	}
	fh := headers[0]
	if !videoExtensions[strings.ToLower(filepath.Ext(fh.Filename))] {
		writeError(w, http.StatusBadRequest, "file: supported formats are mp4, mov, avi")
		return
	}
	if fh.Size > s.cfg.MaxVideoBytes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file: exceeds the %dMB limit", s.cfg.MaxVideoBytes>>20))
		return
	}

	req, err := s.submitRequest(r, form, models.MediaVideo)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	uploads, closeAll, err := openUploads(headers)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeAll()
	req.Files = uploads

	job, ok := s.submit(w, r, req)
	if !ok {
		return
	}
	resp := videoResponse{JobID: job.ID, Status: job.Status}
	if len(job.OriginalFiles) > 0 {
		resp.FileName = job.OriginalFiles[0].FileName
	}
	if len(job.ProtectedFiles) > 0 {
		resp.ProtectedURL = job.ProtectedFiles[0].ResultURL
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request, limit int64) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errors.New("request body too large")
		}
		return nil, errors.New("invalid multipart form")
	}
	return r.MultipartForm, nil
}

func (s *Server) submitRequest(r *http.Request, form *multipart.Form, media models.MediaType) (protection.SubmitRequest, error) {
	jobType, err := models.ParseJobType(strings.TrimSpace(formValue(form, "job_type")))
	if err != nil {
		return protection.SubmitRequest{}, err
	}
	text := strings.TrimSpace(formValue(form, "watermark_text"))
	if text == "" {
		text = s.cfg.DefaultWatermarkText
	}
	if utf8.RuneCountInString(text) > maxWatermarkLen {
		return protection.SubmitRequest{}, models.Invalid("watermark_text", "must be at most %d characters", maxWatermarkLen)
	}
	return protection.SubmitRequest{
		OwnerID:       userID(r),
		Media:         media,
		JobType:       jobType,
		WatermarkText: text,
	}, nil
}

// submit writes the error response itself and reports whether the job can be rendered.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, req protection.SubmitRequest) (*models.ProtectionJob, bool) {
	job, err := s.deps.Protector.Submit(r.Context(), req)
	switch {
	case err == nil:
		return job, true
	case models.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, protection.ErrProtectionFailed):
		msg := protection.FailureMessage
		if job != nil && job.ErrorMessage != nil {
			msg = *job.ErrorMessage
		}
		writeError(w, http.StatusInternalServerError, msg)
	default:
		s.log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("submit protection job failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
	return nil, false
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	out := []models.JobSummary{}
	for summary, err := range s.deps.Jobs.ListJobs(r.Context(), userID(r)) {
		if err != nil {
			s.log.Error().Err(err).Msg("list jobs failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "job_id"), userID(r))
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("get job failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func formValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func openUploads(headers []*multipart.FileHeader) ([]storage.Upload, func(), error) {
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	uploads := make([]storage.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("could not read %s", fh.Filename)
		}
		files = append(files, f)
		uploads = append(uploads, storage.Upload{Name: fh.Filename, Body: f})
	}
	return uploads, closeAll, nil
}
