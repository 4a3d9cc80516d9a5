// Package pipeline runs one PDF through extraction, chunking, translation,
// reassembly and rendering, reporting progress as a stream of events.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/pdftrans/internal/chunker"
	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/reassemble"
	"github.com/dgallion1/pdftrans/internal/translate"
)

// DefaultTarget is used when Input.Target is empty.
const DefaultTarget = "en"

type Extractor interface {
	Extract(ctx context.Context, data []byte, lang string) (*document.Document, error)
}

type Translator interface {
	Translate(ctx context.Context, chunks []document.Chunk, src, tgt string, progress translate.Progress) []document.TranslatedChunk
}

type Renderer interface {
	Render(tdoc *document.TranslatedDocument) ([]byte, error)
}

// Input is one run request. Source may be empty to use the extractor's
// default language. ID becomes the run ID when set.
type Input struct {
	ID     string
	PDF    []byte
	Source string
	Target string
}

// Result is the output of a successful run.
type Result struct {
	RunID    string
	Source   *document.Document // The extracted source, for comparison output.
	Document *document.TranslatedDocument
	PDF      []byte
	Chunks   int
	Duration time.Duration
}

// Pipeline wires the stages together. It keeps no state between runs and is
// safe for concurrent use when its collaborators are.
type Pipeline struct {
	extractor  Extractor
	translator Translator
	renderer   Renderer
	chunkCfg   chunker.Config
	log        *slog.Logger
	now        func() time.Time
}

func New(ex Extractor, tr Translator, rn Renderer, chunkCfg chunker.Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		extractor:  ex,
		translator: tr,
		renderer:   rn,
		chunkCfg:   chunkCfg,
		log:        log,
		now:        time.Now,
	}
}

// Extract runs the extraction stage alone.
func (p *Pipeline) Extract(ctx context.Context, data []byte, lang string) (*document.Document, error) {
	return p.extractor.Extract(ctx, data, lang)
}

// Render runs the building stage alone.
func (p *Pipeline) Render(tdoc *document.TranslatedDocument) ([]byte, error) {
	return p.renderer.Render(tdoc)
}

// run carries the per-invocation state of Run.
type run struct {
	id      string
	tracker *Tracker
	emit    Emit
	now     func() time.Time
	log     *slog.Logger
}

func (r *run) send(ev Event) {
	ev.RunID = r.id
	ev.Time = r.now()
	if r.emit != nil {
		r.emit(ev)
	}
}

func (r *run) enter(ctx context.Context, stage Stage, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.tracker.Advance(stage); err != nil {
		return err
	}
	r.log.Debug("stage", "stage", stage)
	r.send(Event{Stage: stage, Message: msg})
	return nil
}

func (r *run) fail(err error) error {
	stage := r.tracker.Stage()
	if ferr := r.tracker.Fail(); ferr != nil {
		return fmt.Errorf("%w (%v)", err, ferr)
	}
	kind := document.KindOf(err)
	r.log.Error("run failed", "stage", stage, "kind", kind, "error", err)
	r.send(Event{Stage: StageError, FailedStage: stage, Kind: kind, Message: err.Error()})
	return fmt.Errorf("%s: %w", stage, err)
}

// Run executes every stage in order. Events are delivered to emit, which may
// be nil. Per-chunk translation failures do not stop the run; they surface as
// untranslated blocks in the result's report. Cancellation is observed at
// each stage boundary and discards any translation results already received.
func (p *Pipeline) Run(ctx context.Context, in Input, emit Emit) (*Result, error) {
	start := p.now()
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	target := in.Target
	if target == "" {
		target = DefaultTarget
	}
	r := &run{
		id:      id,
		tracker: NewTracker(),
		emit:    emit,
		now:     p.now,
		log:     p.log.With("run_id", id),
	}

	if err := r.enter(ctx, StageExtracting, "extracting text"); err != nil {
		return nil, r.fail(err)
	}
	doc, err := p.extractor.Extract(ctx, in.PDF, in.Source)
	if err != nil {
		return nil, r.fail(err)
	}
	r.log.Info("extracted", "pages", doc.Pages, "blocks", len(doc.Blocks), "failed_pages", len(doc.FailedPages), "language", doc.Language)

	if err := r.enter(ctx, StageChunking, "splitting into chunks"); err != nil {
		return nil, r.fail(err)
	}
	chunks, err := chunker.Chunk(doc, p.chunkCfg)
	if err != nil {
		return nil, r.fail(err)
	}
	st := chunker.Summarize(chunks)
	r.log.Info("chunked", "chunks", st.Chunks, "limit", p.chunkCfg.Limit, "payload_chars", st.PayloadChars, "max_payload", st.MaxPayload, "estimated_tokens", st.Tokens)

	if err := r.enter(ctx, StageTranslating, fmt.Sprintf("translating %d chunk(s)", len(chunks))); err != nil {
		return nil, r.fail(err)
	}
	r.send(Event{Stage: StageTranslating, Done: 0, Total: len(chunks)})
	translated := p.translator.Translate(ctx, chunks, doc.Language, target, func(done, total int) {
		r.send(Event{Stage: StageTranslating, Done: done, Total: total})
	})
	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}

	if err := r.enter(ctx, StageReassembling, "reassembling blocks"); err != nil {
		return nil, r.fail(err)
	}
	tdoc, err := reassemble.Reassemble(doc, translated, target)
	if err != nil {
		return nil, r.fail(err)
	}

	if err := r.enter(ctx, StageBuilding, "building pdf"); err != nil {
		return nil, r.fail(err)
	}
	out, err := p.renderer.Render(tdoc)
	if err != nil {
		return nil, r.fail(err)
	}

	if err := r.tracker.Advance(StageDone); err != nil {
		return nil, r.fail(err)
	}
	msg := "translation complete"
	if tdoc.Report.Partial() {
		msg = fmt.Sprintf("translation complete with %d untranslated block(s)", len(tdoc.Report.UntranslatedBlocks))
	}
	r.send(Event{Stage: StageDone, Done: len(chunks), Total: len(chunks), Message: msg})

	res := &Result{
		RunID:    id,
		Source:   doc,
		Document: tdoc,
		PDF:      out,
		Chunks:   len(chunks),
		Duration: p.now().Sub(start),
	}
	r.log.Info("run complete", "chunks", len(chunks), "failed_chunks", len(tdoc.Report.FailedChunks), "bytes", len(out), "duration_ms", res.Duration.Milliseconds())
	return res, nil
}
