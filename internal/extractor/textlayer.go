package extractor

import (
	"bytes"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode"

	pdflib "github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"

	"github.com/dgallion1/pdftrans/internal/layout"
	"github.com/dgallion1/pdftrans/internal/ocr"
)

// glyph is one positioned piece of text from the content stream.
type glyph struct {
	S        string
	X, Y, W  float64
	FontSize float64
	Font     string
}

type textLayer struct {
	reader *pdflib.Reader
}

func openTextLayer(data []byte) *textLayer {
	r, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}
	return &textLayer{reader: r}
}

// glyphs reads the positioned text of a page. The content parser panics on
// some malformed streams; that is reported as an error for the page.
func (t *textLayer) glyphs(page int) (out []glyph, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("content stream: %v", r)
		}
	}()
	if page < 1 || page > t.reader.NumPage() {
		return nil, fmt.Errorf("page %d out of range", page)
	}
	p := t.reader.Page(page)
	if p.V.IsNull() {
		return nil, fmt.Errorf("page %d missing", page)
	}
	for _, tx := range p.Content().Text {
		if tx.S == "" {
			continue
		}
		out = append(out, glyph{S: tx.S, X: tx.X, Y: tx.Y, W: tx.W, FontSize: tx.FontSize, Font: tx.Font})
	}
	return out, nil
}

func bold(font string) bool {
	f := strings.ToLower(font)
	return strings.Contains(f, "bold") || strings.Contains(f, "black") || strings.Contains(f, "heavy") || strings.Contains(f, "semibold")
}

func italic(font string) bool {
	f := strings.ToLower(font)
	return strings.Contains(f, "italic") || strings.Contains(f, "oblique")
}

// buildLines groups glyphs into lines, cells and style runs. Glyphs with
// equal x keep their content-stream order.
func buildLines(glyphs []glyph, page int, lineTol, cellGap float64) []layout.Line {
	if len(glyphs) == 0 {
		return nil
	}
	sorted := slices.Clone(glyphs)
	slices.SortStableFunc(sorted, func(a, b glyph) int {
		switch {
		case a.Y > b.Y:
			return -1
		case a.Y < b.Y:
			return 1
		}
		return 0
	})

	var rows [][]glyph
	for _, g := range sorted {
		if n := len(rows); n > 0 {
			ref := rows[n-1][0]
			tol := lineTol * math.Max(math.Max(ref.FontSize, g.FontSize), 1)
			if math.Abs(ref.Y-g.Y) <= tol {
				rows[n-1] = append(rows[n-1], g)
				continue
			}
		}
		rows = append(rows, []glyph{g})
	}

	lines := make([]layout.Line, 0, len(rows))
	for _, row := range rows {
		slices.SortStableFunc(row, func(a, b glyph) int {
			switch {
			case a.X < b.X:
				return -1
			case a.X > b.X:
				return 1
			}
			return 0
		})
		if l, ok := buildLine(row, page, cellGap); ok {
			lines = append(lines, l)
		}
	}
	return lines
}

func buildLine(row []glyph, page int, cellGap float64) (layout.Line, bool) {
	l := layout.Line{Page: page, Y: row[0].Y, X0: row[0].X}
	var (
		cell    *layout.Cell
		prevEnd float64
		prevS   string
	)
	for i, g := range row {
		size := math.Max(g.FontSize, 1)
		l.FontSize = math.Max(l.FontSize, g.FontSize)
		gap := g.X - prevEnd
		if i == 0 || gap > cellGap*size {
			l.Cells = append(l.Cells, layout.Cell{X0: g.X})
			cell = &l.Cells[len(l.Cells)-1]
		} else if gap > 0.2*size && !endsSpace(prevS) && !startsSpace(g.S) {
			appendRun(cell, " ", g)
		}
		appendRun(cell, g.S, g)
		end := g.X + g.W
		cell.X1 = math.Max(cell.X1, end)
		l.X1 = math.Max(l.X1, end)
		prevEnd = math.Max(end, g.X)
		prevS = g.S
	}

	cells := l.Cells[:0]
	for _, c := range l.Cells {
		c.Runs = normalizeRuns(c.Runs)
		if len(c.Runs) > 0 {
			cells = append(cells, c)
		}
	}
	l.Cells = cells
	if len(l.Cells) == 0 {
		return layout.Line{}, false
	}
	l.X0 = l.Cells[0].X0
	return l, true
}

func appendRun(c *layout.Cell, s string, g glyph) {
	b, it := bold(g.Font), italic(g.Font)
	if n := len(c.Runs); n > 0 {
		last := &c.Runs[n-1]
		if s == " " || (last.Bold == b && last.Italic == it && math.Abs(last.FontSize-g.FontSize) < 0.5) {
			last.Text += s
			return
		}
	}
	c.Runs = append(c.Runs, layout.Run{Text: s, Bold: b, Italic: it, FontSize: g.FontSize})
}

// normalizeRuns applies NFC, collapses whitespace and drops empty runs.
func normalizeRuns(runs []layout.Run) []layout.Run {
	out := runs[:0]
	for _, r := range runs {
		r.Text = collapseSpace(norm.NFC.String(r.Text))
		if r.Text == "" {
			continue
		}
		if n := len(out); n > 0 && strings.HasSuffix(out[n-1].Text, " ") && strings.HasPrefix(r.Text, " ") {
			r.Text = strings.TrimLeft(r.Text, " ")
			if r.Text == "" {
				continue
			}
		}
		out = append(out, r)
	}
	if len(out) > 0 {
		out[0].Text = strings.TrimLeft(out[0].Text, " ")
		out[len(out)-1].Text = strings.TrimRight(out[len(out)-1].Text, " ")
		if out[len(out)-1].Text == "" {
			out = out[:len(out)-1]
		}
		if len(out) > 0 && out[0].Text == "" {
			out = out[1:]
		}
	}
	return out
}

func collapseSpace(s string) string {
	var sb strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) || r == ' ' {
			if !space {
				sb.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		sb.WriteRune(r)
	}
	return sb.String()
}

func endsSpace(s string) bool   { return strings.HasSuffix(s, " ") }
func startsSpace(s string) bool { return strings.HasPrefix(s, " ") }

func countChars(lines []layout.Line) int {
	n := 0
	for _, l := range lines {
		for _, c := range l.Cells {
			for _, r := range c.Runs {
				for _, ch := range r.Text {
					if !unicode.IsSpace(ch) {
						n++
					}
				}
			}
		}
	}
	return n
}

// ocrLines converts recognized pixel lines to page lines in points.
func ocrLines(rec []ocr.Line, page, dpi int, size pageSize, cellGap float64) []layout.Line {
	if dpi <= 0 {
		dpi = 72
	}
	scale := 72 / float64(dpi)
	var out []layout.Line
	for _, rl := range rec {
		if len(rl.Words) == 0 {
			continue
		}
		height := float64(rl.Box.Y1-rl.Box.Y0) * scale
		l := layout.Line{
			Page:     page,
			X0:       float64(rl.Box.X0) * scale,
			X1:       float64(rl.Box.X1) * scale,
			Y:        size.H - float64(rl.Box.Y1)*scale,
			FontSize: height,
			OCR:      true,
		}
		var cell *layout.Cell
		prevEnd := 0.0
		for i, w := range rl.Words {
			x0 := float64(w.Box.X0) * scale
			x1 := float64(w.Box.X1) * scale
			if i == 0 || x0-prevEnd > cellGap*math.Max(height, 1) {
				l.Cells = append(l.Cells, layout.Cell{X0: x0})
				cell = &l.Cells[len(l.Cells)-1]
				cell.Runs = []layout.Run{{Text: "", FontSize: height}}
			} else {
				cell.Runs[0].Text += " "
			}
			cell.Runs[0].Text += norm.NFC.String(w.Text)
			cell.X1 = x1
			prevEnd = x1
		}
		out = append(out, l)
	}
	slices.SortStableFunc(out, func(a, b layout.Line) int {
		switch {
		case a.Y > b.Y:
			return -1
		case a.Y < b.Y:
			return 1
		}
		return 0
	})
	return out
}
