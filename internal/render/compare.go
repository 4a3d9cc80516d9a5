package render

import (
	"fmt"
	"strings"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/markup"
)

// RenderComparison lays out the source document and its translation side
// by side, one row per block, under column headers naming both languages.
// Page breaks are not reproduced and inline styling is dropped. Failures
// are returned as a RenderError.
func (b *Builder) RenderComparison(doc *document.Document, tdoc *document.TranslatedDocument) ([]byte, error) {
	if err := b.checkEncodable(tdoc, doc); err != nil {
		return nil, &document.RenderError{Err: err}
	}
	w, err := b.newWriter(tdoc)
	if err != nil {
		return nil, &document.RenderError{Err: err}
	}

	source := make(map[int]string, len(doc.Blocks))
	for _, blk := range doc.Blocks {
		source[blk.Index] = comparisonText(blk)
	}

	pageW, _ := w.pdf.GetPageSize()
	c := &comparison{
		writer: w,
		colW:   (pageW - 2*marginX) / 2,
		src:    w.tr(document.LanguageName(tdoc.SourceLanguage)),
		tgt:    w.tr(document.LanguageName(tdoc.TargetLanguage)),
	}
	w.pdf.SetFont(w.family, "B", headingSizes[2])
	w.pdf.MultiCell(0, w.lineHeight(headingSizes[2]), w.tr("Side-by-side translation comparison"), "", "L", false)
	w.pdf.Ln(6)
	c.header()

	rows := 0
	for _, blk := range tdoc.Blocks {
		if blk.Kind == document.KindPageBreak {
			continue
		}
		left, right := source[blk.Index], comparisonText(blk.Block)
		if left == "" && right == "" {
			continue
		}
		if blk.Untranslated {
			right = "[untranslated] " + right
		}
		c.row(left, right, blk.Untranslated)
		if err := w.pdf.Error(); err != nil {
			return nil, &document.RenderError{Err: fmt.Errorf("block %d: %w", blk.Index, err)}
		}
		rows++
	}

	out, err := b.finish(w)
	if err != nil {
		return nil, &document.RenderError{Err: err}
	}
	b.log.Info("rendered comparison pdf", "pages", w.pdf.PageCount(), "rows", rows, "bytes", len(out))
	return out, nil
}

// comparisonText is the plain text of a block with its list marker; table
// cells are joined with " | ".
func comparisonText(blk document.Block) string {
	var text string
	if blk.Kind == document.KindTableRow {
		cells := markup.Cells(blk.Text)
		for i, c := range cells {
			cells[i] = strings.TrimSpace(markup.Plain(c))
		}
		text = strings.Join(cells, " | ")
	} else {
		text = strings.TrimSpace(markup.Plain(blk.Text))
	}
	if blk.Ordinal != "" && text != "" {
		text = blk.Ordinal + " " + text
	}
	return text
}

type comparison struct {
	*writer
	colW     float64
	src, tgt string // Column headers, already passed through tr.
}

func (c *comparison) header() {
	pdf := c.pdf
	size := c.opts.BodySize
	h := c.lineHeight(size) + 2*cellPad
	pdf.SetFont(c.family, "B", size)
	pdf.SetDrawColor(120, 120, 120)
	pdf.SetFillColor(230, 230, 230)
	pdf.SetX(marginX)
	pdf.CellFormat(c.colW, h, c.src, "1", 0, "L", true, 0, "")
	pdf.CellFormat(c.colW, h, c.tgt, "1", 1, "L", true, 0, "")
	c.fresh = false
}

// row draws one block pair. A row taller than the remaining page continues
// on the next page below a repeated header.
func (c *comparison) row(left, right string, untranslated bool) {
	pdf := c.pdf
	size := c.opts.BodySize
	h := c.lineHeight(size)
	pdf.SetFont(c.family, "", size)

	l := c.splitText(c.tr(left), c.colW-2*cellPad)
	r := c.splitText(c.tr(right), c.colW-2*cellPad)
	n := max(len(l), len(r), 1)
	_, pageH := pdf.GetPageSize()
	limit := pageH - marginBottom

	for i := 0; i < n; {
		if pdf.GetY()+h+2*cellPad > limit {
			pdf.AddPage()
			c.header()
			pdf.SetFont(c.family, "", size)
		}
		y := pdf.GetY()
		end := min(n, i+max(int((limit-y-2*cellPad)/h), 1))
		boxH := float64(end-i)*h + 2*cellPad

		pdf.SetFillColor(249, 249, 249)
		pdf.Rect(marginX, y, c.colW, boxH, "FD")
		style := "D"
		if untranslated {
			pdf.SetFillColor(255, 236, 236)
			style = "FD"
		}
		pdf.Rect(marginX+c.colW, y, c.colW, boxH, style)

		for k := i; k < end; k++ {
			ly := y + cellPad + float64(k-i)*h
			if k < len(l) {
				pdf.SetXY(marginX+cellPad, ly)
				pdf.CellFormat(c.colW-2*cellPad, h, l[k], "", 0, "L", false, 0, "")
			}
			if k < len(r) {
				if untranslated {
					pdf.SetTextColor(170, 20, 20)
				}
				pdf.SetXY(marginX+c.colW+cellPad, ly)
				pdf.CellFormat(c.colW-2*cellPad, h, r[k], "", 0, "L", false, 0, "")
				pdf.SetTextColor(0, 0, 0)
			}
		}
		pdf.SetXY(marginX, y+boxH)
		i = end
	}
}
