// Package extractor turns PDF bytes into a structured Document.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/layout"
	"github.com/dgallion1/pdftrans/internal/ocr"
)

// Options configures extraction.
type Options struct {
	Language       string // Declared source language, BCP-47.
	Thresholds     layout.Thresholds
	MinTextDensity float64 // Characters per square inch for a page to count as selectable.
	LineTolerance  float64 // Baseline drift, as a fraction of font size, within one line.
	CellGapRatio   float64 // Horizontal gap, as a multiple of font size, that starts a new cell.

	OCR        ocr.Engine // Nil disables the OCR fallback.
	Rasterizer ocr.Rasterizer
	OCRDPI     int

	Log *slog.Logger
}

// DefaultOptions returns the documented defaults with OCR disabled.
func DefaultOptions() Options {
	return Options{
		Thresholds:     layout.DefaultThresholds(),
		MinTextDensity: 1.0,
		LineTolerance:  0.5,
		CellGapRatio:   2.0,
		OCRDPI:         200,
	}
}

// Extractor reads PDFs. It holds no per-document state and is safe for
// concurrent use.
type Extractor struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Extractor {
	d := DefaultOptions()
	if opts.MinTextDensity <= 0 {
		opts.MinTextDensity = d.MinTextDensity
	}
	if opts.LineTolerance <= 0 {
		opts.LineTolerance = d.LineTolerance
	}
	if opts.CellGapRatio <= 0 {
		opts.CellGapRatio = d.CellGapRatio
	}
	if opts.OCRDPI <= 0 {
		opts.OCRDPI = d.OCRDPI
	}
	if opts.Thresholds == (layout.Thresholds{}) {
		opts.Thresholds = d.Thresholds
	}
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Extractor{opts: opts, log: log}
}

// Language returns the declared source language.
func (e *Extractor) Language() string {
	return e.opts.Language
}

// pageSize is a page's dimensions in points.
type pageSize struct {
	W, H float64
}

func (p pageSize) squareInches() float64 {
	return (p.W / 72) * (p.H / 72)
}

var a4 = pageSize{W: 595.28, H: 841.89}

// Extract produces a Document from PDF bytes. lang is the declared source
// language; empty uses the configured default. Pages with no usable text are
// skipped and recorded; if no page yields text the result is an
// ExtractionError.
func (e *Extractor) Extract(ctx context.Context, data []byte, lang string) (*document.Document, error) {
	if lang == "" {
		lang = e.opts.Language
	}
	sizes, err := pageSizes(data)
	if err != nil {
		return nil, &document.ExtractionError{Reason: document.ReasonUnreadable, Err: err}
	}
	src := openTextLayer(data)
	if src == nil {
		e.log.Warn("text layer unreadable, relying on OCR", "pages", len(sizes))
	}

	doc := &document.Document{Pages: len(sizes), Language: lang}
	index := 0
	for i, size := range sizes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := i + 1
		lines, failure := e.readPage(ctx, data, src, page, size, lang)
		if failure != nil {
			e.log.Warn("page skipped", "page", page, "reason", failure.Reason, "detail", failure.Detail)
			doc.FailedPages = append(doc.FailedPages, *failure)
			continue
		}

		cands := layout.Classify(lines, e.opts.Thresholds)
		if len(cands) == 0 {
			doc.FailedPages = append(doc.FailedPages, document.PageFailure{Page: page, Reason: document.ReasonUnreadable, Detail: "no blocks"})
			continue
		}
		if index > 0 {
			doc.Blocks = append(doc.Blocks, document.Block{Index: index, Kind: document.KindPageBreak, Page: page})
			index++
		}
		for _, c := range cands {
			bbox := c.BBox
			doc.Blocks = append(doc.Blocks, document.Block{
				Index:   index,
				Kind:    c.Kind,
				Level:   c.Level,
				Ordinal: c.Ordinal,
				Text:    c.Text,
				Page:    c.Page,
				BBox:    &bbox,
				OCR:     c.OCR,
			})
			index++
		}
	}

	if index == 0 {
		return nil, &document.ExtractionError{Reason: document.ReasonUnreadable, Pages: doc.FailedPages}
	}
	e.log.Info("extracted document",
		"pages", doc.Pages,
		"blocks", len(doc.Blocks),
		"failed_pages", len(doc.FailedPages),
	)
	return doc, nil
}

// readPage returns the lines of one page from its text layer, or from OCR
// when the text layer is too sparse.
func (e *Extractor) readPage(ctx context.Context, data []byte, src *textLayer, page int, size pageSize, lang string) ([]layout.Line, *document.PageFailure) {
	var lines []layout.Line
	if src != nil {
		glyphs, err := src.glyphs(page)
		if err != nil {
			e.log.Debug("text layer read failed", "page", page, "error", err)
		} else {
			lines = buildLines(glyphs, page, e.opts.LineTolerance, e.opts.CellGapRatio)
		}
	}

	density := float64(countChars(lines)) / size.squareInches()
	if density >= e.opts.MinTextDensity {
		return lines, nil
	}
	e.log.Debug("page classified as scanned", "page", page, "density", density)

	recognized, err := e.recognize(ctx, data, page, size, lang)
	if err == nil {
		return recognized, nil
	}
	// A sparse but real text layer beats nothing.
	if countChars(lines) > 0 {
		e.log.Debug("using sparse text layer", "page", page, "ocr_error", err)
		return lines, nil
	}
	return nil, &document.PageFailure{Page: page, Reason: document.ReasonUnreadable, Detail: err.Error()}
}

func (e *Extractor) recognize(ctx context.Context, data []byte, page int, size pageSize, lang string) ([]layout.Line, error) {
	if e.opts.OCR == nil || e.opts.Rasterizer == nil {
		return nil, fmt.Errorf("no text layer and OCR disabled")
	}
	img, err := e.opts.Rasterizer.Rasterize(ctx, data, page, e.opts.OCRDPI)
	if err != nil {
		return nil, err
	}
	if img.DPI <= 0 {
		img.DPI = e.opts.OCRDPI
	}
	rec, err := e.opts.OCR.Recognize(ctx, img, ocr.LangHint(lang))
	if err != nil {
		return nil, err
	}
	lines := ocrLines(rec, page, img.DPI, size, e.opts.CellGapRatio)
	if countChars(lines) == 0 {
		return nil, fmt.Errorf("empty OCR output")
	}
	return lines, nil
}

// pageSizes validates the file and returns its page dimensions.
func pageSizes(data []byte) ([]pageSize, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return nil, fmt.Errorf("not a PDF")
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	if ctx.PageCount == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	sizes := make([]pageSize, ctx.PageCount)
	for i := range sizes {
		sizes[i] = a4
	}
	dims, err := ctx.PageDims()
	if err != nil {
		return sizes, nil
	}
	for i, d := range dims {
		if i < len(sizes) && d.Width > 0 && d.Height > 0 {
			sizes[i] = pageSize{W: d.Width, H: d.Height}
		}
	}
	return sizes, nil
}
