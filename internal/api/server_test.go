package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/jobs"
	"github.com/dgallion1/pdftrans/internal/pipeline"
	"github.com/dgallion1/pdftrans/internal/translate"
)

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*jobs.Job
	err  error
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: map[string]*jobs.Job{}} }

func (f *fakeJobs) Submit(job *jobs.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobs) GetJob(id string) *jobs.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

func (f *fakeJobs) QueueDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func (f *fakeJobs) only(t *testing.T) *jobs.Job {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(f.jobs))
	}
	for _, j := range f.jobs {
		return j
	}
	return nil
}

const testKey = "test-key"

func newTestServer(q Jobs) *Server {
	stats := translate.NewLatencyStats(time.Hour)
	stats.Record(120*time.Millisecond, false)
	return NewServer(q, stats, nil, Options{
		APIKey:         testKey,
		Version:        "1.2.3",
		MaxUploadBytes: 1 << 20,
		SourceLang:     "gu",
		TargetLang:     "en",
		RemoteEnabled:  true,
		SourceBucket:   "uploads",
	})
}

func do(t *testing.T, h http.Handler, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(newFakeJobs())
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "ok" || body["version"] != "1.2.3" {
		t.Errorf("body = %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(newFakeJobs())
	for _, auth := range []string{"", "Bearer wrong", "Basic " + testKey} {
		req := httptest.NewRequest(http.MethodGet, "/api/stats/translation", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("auth %q: status = %d", auth, rec.Code)
		}
	}
}

func TestTranslateUpload(t *testing.T) {
	q := newFakeJobs()
	srv := newTestServer(q)
	body, ct := multipartBody(t, "../lease.pdf", []byte("%PDF-1.4 content"), map[string]string{"target_lang": "en"})

	rec := do(t, srv, http.MethodPost, "/api/translate", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	resp := decode(t, rec)
	job := q.only(t)
	if resp["job_id"] != job.ID || resp["status"] != string(jobs.StatusQueued) {
		t.Errorf("response = %v", resp)
	}
	if resp["poll_url"] != fmt.Sprintf("/api/translate/%s/status", job.ID) {
		t.Errorf("poll_url = %v", resp["poll_url"])
	}
	snap := job.Snapshot()
	if snap.Source != "gu" || snap.Target != "en" || snap.Filename != "lease.pdf" {
		t.Errorf("job = %+v", snap)
	}
	if string(job.FileData()) != "%PDF-1.4 content" {
		t.Errorf("file data = %q", job.FileData())
	}
}

func TestTranslateUploadRejects(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		data   []byte
		fields map[string]string
		code   int
	}{
		{"missing file", "", nil, nil, http.StatusBadRequest},
		{"not a pdf", "a.pdf", []byte("hello"), nil, http.StatusBadRequest},
		{"bad language", "a.pdf", []byte("%PDF-1.4"), map[string]string{"source_lang": "not a tag!"}, http.StatusBadRequest},
		{"same language", "a.pdf", []byte("%PDF-1.4"), map[string]string{"source_lang": "en"}, http.StatusBadRequest},
		{"too large", "a.pdf", append([]byte("%PDF-"), bytes.Repeat([]byte("x"), 1<<20)...), nil, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newFakeJobs()
			body, ct := multipartBody(t, tt.file, tt.data, tt.fields)
			rec := do(t, newTestServer(q), http.MethodPost, "/api/translate", body, ct)
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.code, rec.Body)
			}
			if len(q.jobs) != 0 {
				t.Error("no job should be submitted")
			}
		})
	}
}

func TestTranslateQueueFull(t *testing.T) {
	q := newFakeJobs()
	q.err = fmt.Errorf("%w (1)", jobs.ErrQueueFull)
	body, ct := multipartBody(t, "a.pdf", []byte("%PDF-1.4"), nil)

	rec := do(t, newTestServer(q), http.MethodPost, "/api/translate", body, ct)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestTranslateRemote(t *testing.T) {
	q := newFakeJobs()
	srv := newTestServer(q)
	body := bytes.NewBufferString(`{"path":"user/../docs/deed.pdf","source_lang":"hi"}`)

	rec := do(t, srv, http.MethodPost, "/api/translate/remote", body, "application/json")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	job := q.only(t)
	if job.Remote == nil || job.Remote.Bucket != "uploads" || job.Remote.Path != "docs/deed.pdf" {
		t.Errorf("remote = %+v", job.Remote)
	}
	if snap := job.Snapshot(); snap.Source != "hi" || snap.Filename != "deed.pdf" {
		t.Errorf("job = %+v", snap)
	}

	rec = do(t, srv, http.MethodPost, "/api/translate/remote", bytes.NewBufferString(`{"path":""}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty path: status = %d", rec.Code)
	}
}

func TestTranslateRemoteDisabled(t *testing.T) {
	srv := NewServer(newFakeJobs(), nil, nil, Options{APIKey: testKey})
	rec := do(t, srv, http.MethodPost, "/api/translate/remote", bytes.NewBufferString(`{"path":"a.pdf"}`), "application/json")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestStatusAndResult(t *testing.T) {
	q := newFakeJobs()
	srv := newTestServer(q)
	job := jobs.NewJob("job-1", "lease.pdf", "gu", "en")
	q.Submit(job)

	if rec := do(t, srv, http.MethodGet, "/api/translate/missing/status", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d", rec.Code)
	}

	job.Apply(pipeline.Event{Stage: pipeline.StageTranslating, Done: 1, Total: 2})
	rec := do(t, srv, http.MethodGet, "/api/translate/job-1/status", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	snap := decode(t, rec)
	if snap["stage"] != "translating" || snap["percent"] != float64(55) {
		t.Errorf("snapshot = %v", snap)
	}

	rec = do(t, srv, http.MethodGet, "/api/translate/job-1/result", nil, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("unfinished result status = %d", rec.Code)
	}

	job.Complete([]byte("%PDF-1.4 out"), &document.TranslatedDocument{Title: "Lease"})
	rec = do(t, srv, http.MethodGet, "/api/translate/job-1/result", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/pdf" {
		t.Errorf("content type = %s", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "lease_translated.pdf") {
		t.Errorf("disposition = %s", rec.Header().Get("Content-Disposition"))
	}
	if rec.Body.String() != "%PDF-1.4 out" {
		t.Errorf("body = %q", rec.Body)
	}
}

func TestResultOfFailedJob(t *testing.T) {
	q := newFakeJobs()
	job := jobs.NewJob("job-err", "", "gu", "en")
	q.Submit(job)
	job.Apply(pipeline.Event{Stage: pipeline.StageError, FailedStage: pipeline.StageReassembling, Kind: document.KindReassembly, Message: "all blocks untranslated"})

	rec := do(t, newTestServer(q), http.MethodGet, "/api/translate/job-err/result", nil, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["error_kind"] != document.KindReassembly {
		t.Errorf("body = %v", body)
	}
}

func TestTranslationStats(t *testing.T) {
	rec := do(t, newTestServer(newFakeJobs()), http.MethodGet, "/api/stats/translation", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	stats, ok := body["stats"].(map[string]any)
	if !ok || stats["count"] != float64(1) {
		t.Errorf("body = %v", body)
	}

	srv := NewServer(newFakeJobs(), nil, nil, Options{APIKey: testKey})
	if rec := do(t, srv, http.MethodGet, "/api/stats/translation", nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("nil stats: status = %d", rec.Code)
	}
}

func TestSanitizeFilename(t *testing.T) {
	for in, want := range map[string]string{
		"lease.pdf":        "lease.pdf",
		"../../etc/passwd": "passwd",
		"dir\\file.pdf":    "dir_file.pdf",
		"":                 "unnamed",
	} {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
