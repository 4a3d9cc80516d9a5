// Package render lays out a TranslatedDocument as a PDF.
package render

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/text/encoding/charmap"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/markup"
)

// Disclaimer is printed in every page footer.
const Disclaimer = "This document was automatically translated. Please verify important legal terms."

// Options configures the builder.
type Options struct {
	// FontPath is a UTF-8 TrueType font. Empty uses the core Helvetica
	// font, which only covers Latin-1 text.
	FontPath           string
	BoldFontPath       string
	ItalicFontPath     string
	BoldItalicFontPath string

	Watermark  string  // Stamped diagonally on every page when set.
	IndentStep float64 // Points per list nesting level.
	BodySize   float64
	Disclaimer string

	Log *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		IndentStep: 18,
		BodySize:   11,
		Disclaimer: Disclaimer,
	}
}

// Builder renders documents. It holds no per-document state.
type Builder struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Builder {
	d := DefaultOptions()
	if opts.IndentStep <= 0 {
		opts.IndentStep = d.IndentStep
	}
	if opts.BodySize <= 0 {
		opts.BodySize = d.BodySize
	}
	if opts.Disclaimer == "" {
		opts.Disclaimer = d.Disclaimer
	}
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Builder{opts: opts, log: log}
}

var headingSizes = map[int]float64{1: 20, 2: 16, 3: 13}

const (
	marginX      = 56.0
	marginTop    = 64.0
	marginBottom = 64.0
	cellPad      = 3.0
	tableSize    = 10.0
	lineFactor   = 1.35
)

// Render produces PDF bytes. Any failure in the PDF engine, the output
// validation, or the watermark is returned as a RenderError.
func (b *Builder) Render(tdoc *document.TranslatedDocument) ([]byte, error) {
	if err := b.checkEncodable(tdoc, nil); err != nil {
		return nil, &document.RenderError{Err: err}
	}
	w, err := b.newWriter(tdoc)
	if err != nil {
		return nil, &document.RenderError{Err: err}
	}

	blocks := tdoc.Blocks
	for i := 0; i < len(blocks); i++ {
		blk := blocks[i]
		switch blk.Kind {
		case document.KindPageBreak:
			w.pageBreak()
		case document.KindTableRow:
			j := i
			for j < len(blocks) && blocks[j].Kind == document.KindTableRow {
				j++
			}
			w.table(blocks[i:j])
			i = j - 1
		case document.KindHeading:
			w.heading(blk)
		case document.KindListItem:
			w.listItem(blk)
		default:
			w.paragraph(blk)
		}
		if err := w.pdf.Error(); err != nil {
			return nil, &document.RenderError{Err: fmt.Errorf("block %d: %w", blk.Index, err)}
		}
	}

	out, err := b.finish(w)
	if err != nil {
		return nil, &document.RenderError{Err: err}
	}
	b.log.Info("rendered pdf", "pages", w.pdf.PageCount(), "blocks", len(blocks), "bytes", len(out))
	return out, nil
}

// finish serializes the document, validates the output and applies the
// optional watermark.
func (b *Builder) finish(w *writer) ([]byte, error) {
	var buf bytes.Buffer
	if err := w.pdf.Output(&buf); err != nil {
		return nil, err
	}
	data := buf.Bytes()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return nil, fmt.Errorf("validate output: %w", err)
	}
	if b.opts.Watermark == "" {
		return data, nil
	}
	wm, err := api.TextWatermark(b.opts.Watermark, "font:Helvetica, points:48, rot:45, op:0.12, fillc:#808080", true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("create watermark: %w", err)
	}
	var out bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(data), &out, nil, wm, conf); err != nil {
		return nil, fmt.Errorf("apply watermark: %w", err)
	}
	return out.Bytes(), nil
}

// checkEncodable rejects text the core font cannot draw. Without a UTF-8
// font fpdf maps such runes to '.', which would silently lose content.
// src is only set for comparison output.
func (b *Builder) checkEncodable(tdoc *document.TranslatedDocument, src *document.Document) error {
	if b.opts.FontPath != "" {
		return nil
	}
	if r, ok := firstUnencodable(tdoc.Title); !ok {
		return fmt.Errorf("title: %w", unencodableError(r))
	}
	for _, blk := range tdoc.Blocks {
		if r, ok := firstUnencodable(blk.Ordinal + markup.Plain(blk.Text)); !ok {
			return fmt.Errorf("block %d: %w", blk.Index, unencodableError(r))
		}
	}
	if src == nil {
		return nil
	}
	for _, blk := range src.Blocks {
		if r, ok := firstUnencodable(blk.Ordinal + markup.Plain(blk.Text)); !ok {
			return fmt.Errorf("source block %d: %w", blk.Index, unencodableError(r))
		}
	}
	return nil
}

func firstUnencodable(s string) (rune, bool) {
	for _, r := range s {
		if _, ok := charmap.Windows1252.EncodeRune(r); !ok {
			return r, false
		}
	}
	return 0, true
}

func unencodableError(r rune) error {
	return fmt.Errorf("%q (%U) is not covered by the built-in font; configure a UTF-8 font (--font or PDFTRANS_FONT)", r, r)
}

// writer carries the per-render fpdf state.
type writer struct {
	pdf    *fpdf.Fpdf
	family string
	tr     func(string) string
	opts   Options
	fresh  bool // Nothing written on the current page yet.
}

func (b *Builder) newWriter(tdoc *document.TranslatedDocument) (*writer, error) {
	pdf := fpdf.New("P", "pt", "A4", "")
	w := &writer{pdf: pdf, family: "Helvetica", tr: func(s string) string { return s }, opts: b.opts}

	if b.opts.FontPath != "" {
		w.family = "body"
		styles := map[string]string{
			"":   b.opts.FontPath,
			"B":  b.opts.BoldFontPath,
			"I":  b.opts.ItalicFontPath,
			"BI": b.opts.BoldItalicFontPath,
		}
		for style, path := range styles {
			if path == "" {
				path = b.opts.FontPath
			}
			pdf.AddUTF8Font(w.family, style, path)
		}
		if err := pdf.Error(); err != nil {
			return nil, fmt.Errorf("load font: %w", err)
		}
	} else {
		w.tr = pdf.UnicodeTranslatorFromDescriptor("")
	}

	pdf.SetMargins(marginX, marginTop, marginX)
	pdf.SetAutoPageBreak(true, marginBottom)
	pdf.SetTitle(tdoc.Title, true)
	pdf.SetCreator("pdftrans", false)
	pdf.AliasNbPages("")

	header := w.tr(document.LanguagePair(tdoc.SourceLanguage, tdoc.TargetLanguage))
	title := w.tr(clipRunes(tdoc.Title, 70))
	pdf.SetHeaderFunc(func() {
		pageW, _ := pdf.GetPageSize()
		pdf.SetFont(w.family, "", 8)
		pdf.SetTextColor(110, 110, 110)
		pdf.SetXY(marginX, 28)
		pdf.CellFormat(pageW/2-marginX, 12, title, "", 0, "L", false, 0, "")
		pdf.CellFormat(pageW/2-marginX, 12, header, "", 1, "R", false, 0, "")
		pdf.SetDrawColor(200, 200, 200)
		pdf.Line(marginX, 42, pageW-marginX, 42)
		pdf.SetXY(marginX, marginTop)
		pdf.SetTextColor(0, 0, 0)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-48)
		pdf.SetFont(w.family, "", 8)
		pdf.SetTextColor(110, 110, 110)
		pdf.CellFormat(0, 12, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 1, "C", false, 0, "")
		pdf.SetFont(w.family, "I", 7)
		pdf.CellFormat(0, 10, w.tr(b.opts.Disclaimer), "", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})

	pdf.AddPage()
	w.fresh = true
	return w, nil
}

func (w *writer) pageBreak() {
	if w.fresh {
		return
	}
	w.pdf.AddPage()
	w.fresh = true
}

func (w *writer) lineHeight(size float64) float64 {
	return size * lineFactor
}

func (w *writer) setStyle(st markup.Style, base float64, forceBold bool) {
	style := ""
	if st.Bold || forceBold {
		style += "B"
	}
	if st.Italic {
		style += "I"
	}
	size := base
	switch st.Size {
	case markup.SizeLarge:
		size = base * 1.2
	case markup.SizeSmall:
		size = base * 0.85
	}
	w.pdf.SetFont(w.family, style, size)
}

// spans writes inline markup as flowing text from the current position.
func (w *writer) spans(text string, base float64, forceBold bool) {
	h := w.lineHeight(base)
	for _, sp := range markup.Parse(text) {
		w.setStyle(sp.Style, base, forceBold)
		w.pdf.Write(h, w.tr(sp.Text))
	}
	w.pdf.Ln(h)
}

// untranslated writes a block's source text, shaded and prefixed.
func (w *writer) untranslated(text string, size float64) {
	w.pdf.SetFont(w.family, "", size)
	w.pdf.SetTextColor(170, 20, 20)
	w.pdf.SetFillColor(255, 236, 236)
	w.pdf.MultiCell(0, w.lineHeight(size), w.tr("[untranslated] "+strings.TrimSpace(markup.Plain(text))), "", "L", true)
	w.pdf.SetTextColor(0, 0, 0)
}

func (w *writer) heading(blk document.TranslatedBlock) {
	size, ok := headingSizes[blk.Level]
	if !ok {
		size = headingSizes[3]
	}
	if !w.fresh {
		w.pdf.Ln(size * 0.5)
	}
	w.fresh = false
	if blk.Untranslated {
		w.untranslated(blk.Text, size)
	} else {
		w.spans(blk.Text, size, true)
	}
	w.pdf.Ln(size * 0.3)
}

func (w *writer) paragraph(blk document.TranslatedBlock) {
	w.fresh = false
	if blk.Untranslated {
		w.untranslated(blk.Text, w.opts.BodySize)
	} else {
		w.spans(blk.Text, w.opts.BodySize, false)
	}
	w.pdf.Ln(w.opts.BodySize * 0.4)
}

func (w *writer) listItem(blk document.TranslatedBlock) {
	w.fresh = false
	left, _, _, _ := w.pdf.GetMargins()
	indent := w.opts.IndentStep * float64(max(blk.Level, 1)-1)
	marker := blk.Ordinal
	if marker == "" {
		marker = "•"
	}
	size := w.opts.BodySize
	h := w.lineHeight(size)

	w.pdf.SetFont(w.family, "", size)
	marker = w.tr(marker)
	markerW := max(w.pdf.GetStringWidth(marker)+4, w.opts.IndentStep)

	w.pdf.SetX(left + indent)
	w.pdf.CellFormat(markerW, h, marker, "", 0, "L", false, 0, "")
	w.pdf.SetLeftMargin(left + indent + markerW)
	if blk.Untranslated {
		w.untranslated(blk.Text, size)
	} else {
		w.spans(blk.Text, size, false)
	}
	w.pdf.SetLeftMargin(left)
	w.pdf.SetX(left)
	w.pdf.Ln(size * 0.2)
}

// table draws consecutive rows as one bordered grid. Column widths follow
// the widest cell text, scaled down to the printable width.
func (w *writer) table(rows []document.TranslatedBlock) {
	w.fresh = false
	pdf := w.pdf
	pdf.SetFont(w.family, "", tableSize)
	h := w.lineHeight(tableSize)

	cells := make([][]string, len(rows))
	cols := 0
	for i, r := range rows {
		for _, c := range markup.Cells(r.Text) {
			cells[i] = append(cells[i], w.tr(strings.TrimSpace(markup.Plain(c))))
		}
		if r.Untranslated && len(cells[i]) > 0 {
			cells[i][0] = w.tr("[untranslated] ") + cells[i][0]
		}
		cols = max(cols, len(cells[i]))
	}
	if cols == 0 {
		return
	}

	widths := make([]float64, cols)
	for _, row := range cells {
		for j, c := range row {
			widths[j] = max(widths[j], pdf.GetStringWidth(c)+2*cellPad)
		}
	}
	pageW, pageH := pdf.GetPageSize()
	left, _, right, bottom := pdf.GetMargins()
	avail := pageW - left - right
	total := 0.0
	for j := range widths {
		widths[j] = max(widths[j], 24)
		total += widths[j]
	}
	if total > avail {
		for j := range widths {
			widths[j] *= avail / total
		}
	}

	pdf.SetDrawColor(120, 120, 120)
	for i, row := range cells {
		lines := 1
		for j, c := range row {
			lines = max(lines, len(w.splitText(c, widths[j]-2*cellPad)))
		}
		rowH := float64(lines)*h + 2*cellPad
		if pdf.GetY()+rowH > pageH-bottom {
			pdf.AddPage()
		}

		y := pdf.GetY()
		x := left
		if rows[i].Untranslated {
			pdf.SetTextColor(170, 20, 20)
			pdf.SetFillColor(255, 236, 236)
		}
		for j := range cols {
			style := "D"
			if rows[i].Untranslated {
				style = "FD"
			}
			pdf.Rect(x, y, widths[j], rowH, style)
			if j < len(row) {
				pdf.SetXY(x+cellPad, y+cellPad)
				pdf.MultiCell(widths[j]-2*cellPad, h, row[j], "", "L", false)
			}
			x += widths[j]
		}
		pdf.SetTextColor(0, 0, 0)
		pdf.SetXY(left, y+rowH)
	}
	pdf.Ln(w.opts.BodySize * 0.4)
}

// splitText wraps s, already passed through tr, to lines no wider than
// width. fpdf's SplitText indexes widths by rune, which only works for
// UTF-8 fonts; the core font path measures cp1252 bytes instead.
func (w *writer) splitText(s string, width float64) []string {
	if w.opts.FontPath != "" {
		return w.pdf.SplitText(s, width)
	}
	width -= 2 * w.pdf.GetCellMargin()
	fits := func(s string) bool { return w.pdf.GetStringWidth(s) <= width }

	var lines []string
	line := ""
	for _, word := range strings.Fields(s) {
		next := word
		if line != "" {
			next = line + " " + word
			if !fits(next) {
				lines = append(lines, line)
				next = word
			}
		}
		for len(next) > 1 && !fits(next) {
			cut := len(next) - 1
			for cut > 1 && !fits(next[:cut]) {
				cut--
			}
			lines = append(lines, next[:cut])
			next = next[cut:]
		}
		line = next
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
