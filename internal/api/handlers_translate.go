package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/dgallion1/pdftrans/internal/jobs"
)

var pdfMagic = []byte("%PDF-")

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	src, tgt, err := s.languages(r.FormValue("source_lang"), r.FormValue("target_lang"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.opts.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		jsonError(w, "file is not a PDF", http.StatusBadRequest)
		return
	}

	job := jobs.NewJob(uuid.NewString(), filename, src, tgt)
	job.SetFileData(data)
	s.submit(w, job)
}

type remoteRequest struct {
	Bucket     string `json:"bucket"`
	Path       string `json:"path"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

func (s *Server) handleTranslateRemote(w http.ResponseWriter, r *http.Request) {
	if !s.opts.RemoteEnabled {
		jsonError(w, "storage is not configured", http.StatusServiceUnavailable)
		return
	}
	var req remoteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Bucket == "" {
		req.Bucket = s.opts.SourceBucket
	}
	clean := path.Clean("/" + req.Path)
	if req.Path == "" || req.Bucket == "" || clean == "/" {
		jsonError(w, "bucket and path are required", http.StatusBadRequest)
		return
	}
	src, tgt, err := s.languages(req.SourceLang, req.TargetLang)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := jobs.NewJob(uuid.NewString(), path.Base(clean), src, tgt)
	job.Remote = &jobs.Remote{Bucket: req.Bucket, Path: strings.TrimPrefix(clean, "/")}
	s.submit(w, job)
}

func (s *Server) submit(w http.ResponseWriter, job *jobs.Job) {
	if err := s.jobs.Submit(job); err != nil {
		code := http.StatusServiceUnavailable
		if !errors.Is(err, jobs.ErrQueueFull) && !errors.Is(err, jobs.ErrStopped) {
			code = http.StatusInternalServerError
		}
		jsonError(w, err.Error(), code)
		return
	}
	snap := job.Snapshot()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     snap.ID,
		"status":     snap.Status,
		"poll_url":   fmt.Sprintf("/api/translate/%s/status", snap.ID),
		"result_url": fmt.Sprintf("/api/translate/%s/result", snap.ID),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	switch snap.Status {
	case jobs.StatusDone:
	case jobs.StatusError:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      snap.Error,
			"error_kind": snap.ErrorKind,
			"stage":      snap.Stage,
		})
		return
	default:
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "job not finished",
			"status":  snap.Status,
			"stage":   snap.Stage,
			"percent": snap.Percent,
		})
		return
	}

	pdf := job.Result()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", resultFilename(snap.Filename)))
	w.Header().Set("Content-Length", fmt.Sprint(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// languages applies the defaults and checks both tags parse.
func (s *Server) languages(src, tgt string) (string, string, error) {
	if src == "" {
		src = s.opts.SourceLang
	}
	if tgt == "" {
		tgt = s.opts.TargetLang
	}
	for _, tag := range []string{src, tgt} {
		if tag == "" {
			continue
		}
		if _, err := language.Parse(tag); err != nil {
			return "", "", fmt.Errorf("invalid language tag %q", tag)
		}
	}
	if src != "" && src == tgt {
		return "", "", fmt.Errorf("source and target language are both %q", src)
	}
	return src, tgt, nil
}

func resultFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" || base == "unnamed" {
		base = "document"
	}
	return base + "_translated.pdf"
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
