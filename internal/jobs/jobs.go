// Package jobs runs translation pipelines in the background and keeps their
// state in memory for polling.
package jobs

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/pipeline"
)

// Status represents the state of a translation job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Remote locates a source PDF in object storage.
type Remote struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

// Job tracks the state of a single translation.
type Job struct {
	mu sync.Mutex

	ID       string `json:"job_id"`
	Filename string `json:"filename"`
	Source   string `json:"source_lang"`
	Target   string `json:"target_lang"`
	Remote   *Remote

	Status  Status         `json:"status"`
	Stage   pipeline.Stage `json:"stage"`
	Percent int            `json:"percent"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData   []byte
	result     []byte
	title      string
	report     *document.Report
	errMsg     string
	errKind    string
	outputPath string
}

// Progress tracks translation progress.
type Progress struct {
	TotalChunks int      `json:"total_chunks"`
	ChunksDone  int      `json:"chunks_done"`
	Errors      []string `json:"errors"`
}

// NewJob returns a queued job.
func NewJob(id, filename, source, target string) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		Filename:  filename,
		Source:    source,
		Target:    target,
		Status:    StatusQueued,
		Stage:     pipeline.StagePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Store is a thread-safe in-memory job registry with TTL eviction.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *Store) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *Store) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes jobs not updated within the TTL.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.updatedAt()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) updatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// Apply records a pipeline event. The done event only moves the stage;
// Complete marks the job done once its result is stored.
func (j *Job) Apply(ev pipeline.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Stage = ev.Stage
	j.UpdatedAt = time.Now()
	switch ev.Stage {
	case pipeline.StageError:
		j.Status = StatusError
		j.errMsg = ev.Message
		j.errKind = ev.Kind
		j.Progress.Errors = append(j.Progress.Errors, ev.Message)
		j.Percent = 0
		return
	case pipeline.StageTranslating:
		if ev.Total > 0 {
			j.Progress.TotalChunks = ev.Total
			j.Progress.ChunksDone = ev.Done
		}
	}
	if j.Status == StatusQueued {
		j.Status = StatusProcessing
	}
	j.Percent = ev.Percent()
}

// Complete stores the rendered PDF and marks the job done.
func (j *Job) Complete(pdf []byte, tdoc *document.TranslatedDocument) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = pdf
	if tdoc != nil {
		j.title = tdoc.Title
		rep := tdoc.Report
		j.report = &rep
		for _, f := range rep.FailedChunks {
			j.Progress.Errors = append(j.Progress.Errors, fmt.Sprintf("chunk %d: %s", f.Chunk, f.Error))
		}
	}
	j.fileData = nil
	j.Status = StatusDone
	j.Stage = pipeline.StageDone
	j.Percent = 100
	j.UpdatedAt = time.Now()
}

// Fail marks the job failed outside the pipeline, e.g. when the queue is
// full or the source cannot be fetched.
func (j *Job) Fail(kind, msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = StatusError
	j.Stage = pipeline.StageError
	j.errKind = kind
	j.errMsg = msg
	j.Progress.Errors = append(j.Progress.Errors, msg)
	j.fileData = nil
	j.UpdatedAt = time.Now()
}

// AddError records a non-fatal error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.Errors = append(j.Progress.Errors, err)
	j.UpdatedAt = time.Now()
}

// SetOutputPath records where the result was uploaded.
func (j *Job) SetOutputPath(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outputPath = path
}

// SetFileData sets the raw PDF bytes for processing and records their hash.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
	j.ContentHash = ContentHashHex(data)
}

// FileData returns the raw PDF bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// Result returns the rendered PDF, or nil until the job is done.
func (j *Job) Result() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Snapshot is a read-only, JSON-safe copy of job state.
type Snapshot struct {
	ID          string           `json:"job_id"`
	Status      Status           `json:"status"`
	Stage       pipeline.Stage   `json:"stage"`
	Percent     int              `json:"percent"`
	Filename    string           `json:"filename,omitempty"`
	Source      string           `json:"source_lang"`
	Target      string           `json:"target_lang"`
	Title       string           `json:"title,omitempty"`
	Progress    Progress         `json:"progress"`
	Report      *document.Report `json:"report,omitempty"`
	Error       string           `json:"error,omitempty"`
	ErrorKind   string           `json:"error_kind,omitempty"`
	OutputPath  string           `json:"output_path,omitempty"`
	ContentHash string           `json:"content_hash,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.Progress.Errors))
	copy(errs, j.Progress.Errors)
	return Snapshot{
		ID:       j.ID,
		Status:   j.Status,
		Stage:    j.Stage,
		Percent:  j.Percent,
		Filename: j.Filename,
		Source:   j.Source,
		Target:   j.Target,
		Title:    j.title,
		Progress: Progress{
			TotalChunks: j.Progress.TotalChunks,
			ChunksDone:  j.Progress.ChunksDone,
			Errors:      errs,
		},
		Report:      j.report,
		Error:       j.errMsg,
		ErrorKind:   j.errKind,
		OutputPath:  j.outputPath,
		ContentHash: j.ContentHash,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
