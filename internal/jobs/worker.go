package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/pipeline"
	"github.com/dgallion1/pdftrans/internal/storage"
)

// Worker processes a single translation job.
type Worker struct {
	run    Runner
	store  Storage
	bucket string
	log    *slog.Logger
}

func NewWorker(run Runner, store Storage, bucket string, log *slog.Logger) *Worker {
	return &Worker{run: run, store: store, bucket: bucket, log: log}
}

// Process runs the pipeline for a job, applying its events to the job and
// mirroring them to storage when configured.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID)

	data := job.FileData()
	if data == nil && job.Remote != nil {
		if w.store == nil {
			job.Fail(document.KindInternal, "storage is not configured")
			return
		}
		var err error
		data, err = w.store.Download(ctx, job.Remote.Bucket, job.Remote.Path)
		if err != nil {
			log.Error("download failed", "bucket", job.Remote.Bucket, "path", job.Remote.Path, "error", err)
			w.mirror(ctx, log, job.ID, storage.JobUpdate{Status: string(StatusError), ErrorMessage: err.Error()})
			job.Fail(document.KindExtraction, "download source: "+err.Error())
			return
		}
		job.SetFileData(data)
	}

	// The row is updated before the in-memory job so a poller that sees a
	// new status never observes a stale row.
	lastPercent := -1
	emit := func(ev pipeline.Event) {
		defer job.Apply(ev)
		if ev.Stage == pipeline.StageDone {
			return
		}
		upd := storage.JobUpdate{
			Progress: ev.Percent(),
			Status:   string(StatusProcessing),
			Stage:    string(ev.Stage),
		}
		if ev.Stage == pipeline.StageError {
			upd.Status = string(StatusError)
			upd.Stage = string(ev.FailedStage)
			upd.Progress = 0
			upd.ErrorMessage = ev.Message
		} else if upd.Progress == lastPercent {
			return
		}
		lastPercent = upd.Progress
		w.mirror(ctx, log, job.ID, upd)
	}

	res, err := w.run.Run(ctx, pipeline.Input{
		ID:     job.ID,
		PDF:    data,
		Source: job.Source,
		Target: job.Target,
	}, emit)
	if err != nil {
		log.Error("translation failed", "kind", document.KindOf(err), "error", err)
		if job.Snapshot().Status != StatusError {
			job.Fail(document.KindOf(err), err.Error())
		}
		return
	}

	var outPath string
	if w.store != nil && w.bucket != "" {
		outPath = job.ID + ".pdf"
		if err := w.store.Upload(ctx, w.bucket, outPath, res.PDF, "application/pdf"); err != nil {
			log.Warn("result upload failed", "bucket", w.bucket, "error", err)
			job.AddError("upload result: " + err.Error())
			outPath = ""
		} else {
			job.SetOutputPath(w.bucket + "/" + outPath)
		}
	}
	upd := storage.JobUpdate{Progress: 100, Status: string(StatusDone), Stage: string(pipeline.StageDone)}
	if outPath != "" {
		upd.OutputPath = w.bucket + "/" + outPath
	}
	w.mirror(ctx, log, job.ID, upd)
	job.Complete(res.PDF, res.Document)

	log.Info("job complete",
		"chunks", res.Chunks,
		"failed_chunks", len(res.Document.Report.FailedChunks),
		"untranslated_blocks", len(res.Document.Report.UntranslatedBlocks),
		"duration_ms", res.Duration.Milliseconds(),
	)
}

// mirror pushes a progress update to the job row. Failures are logged and
// never fail the job.
func (w *Worker) mirror(ctx context.Context, log *slog.Logger, id string, upd storage.JobUpdate) {
	if w.store == nil {
		return
	}
	if err := w.store.UpdateJob(ctx, id, upd); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Debug("job row missing, skipping progress update")
			return
		}
		log.Warn("job progress update failed", "error", err)
	}
}
