// Package layout infers document structure from positioned text lines.
//
// Classify is a pure function: given the same lines and thresholds it always
// returns the same candidates. It knows nothing about PDF parsing or OCR; the
// extractor feeds it lines built from either source.
package layout

import (
	"math"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/markup"
)

// Run is a piece of a line's text with one font style.
type Run struct {
	Text     string  `json:"text"`
	Bold     bool    `json:"bold,omitempty"`
	Italic   bool    `json:"italic,omitempty"`
	FontSize float64 `json:"font_size"`
}

// Cell is a horizontally separated group of runs within a line.
type Cell struct {
	X0   float64 `json:"x0"`
	X1   float64 `json:"x1"`
	Runs []Run   `json:"runs"`
}

// Line is one visual line of text. Y is the baseline in PDF coordinates,
// growing upward; lines are expected in reading order.
type Line struct {
	Page     int     `json:"page"`
	X0       float64 `json:"x0"`
	X1       float64 `json:"x1"`
	Y        float64 `json:"y"`
	FontSize float64 `json:"font_size"`
	Cells    []Cell  `json:"cells"`
	OCR      bool    `json:"ocr,omitempty"`
}

// Text returns the line's plain text with cells separated by a space.
func (l Line) Text() string {
	var sb strings.Builder
	for i, c := range l.Cells {
		if i > 0 {
			sb.WriteByte(' ')
		}
		for _, r := range c.Runs {
			sb.WriteString(r.Text)
		}
	}
	return sb.String()
}

// Thresholds tunes the structure heuristics.
type Thresholds struct {
	HeadingRatio     float64 // Font size over body median that makes a heading.
	LineGapTolerance float64 // Extra baseline distance, as a fraction of line pitch, still within a paragraph.
	MarginTolerance  float64 // Left-edge drift in points still treated as the same margin.
	IndentStep       float64 // Points of indentation per list nesting level.
	ColumnTolerance  float64 // Cell x-alignment tolerance in points for table grids.
	MinTableRows     int
	LargeRatio       float64 // Run font size over body median rendered as <big>.
	SmallRatio       float64 // Run font size under body median rendered as <small>.
	MaxHeadingChars  int
	KeywordHeadings  bool // Detect headings by caps/keywords when font sizes are uniform.
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HeadingRatio:     1.2,
		LineGapTolerance: 0.6,
		MarginTolerance:  6,
		IndentStep:       18,
		ColumnTolerance:  8,
		MinTableRows:     2,
		LargeRatio:       1.15,
		SmallRatio:       0.85,
		MaxHeadingChars:  200,
		KeywordHeadings:  true,
	}
}

// Candidate is a block before sequence numbering.
type Candidate struct {
	Kind    document.Kind
	Level   int
	Ordinal string
	Text    string // Inline markup.
	Page    int
	BBox    document.Rect
	OCR     bool
}

// linePitch is the nominal baseline distance as a multiple of font size.
const linePitch = 1.2

var (
	bulletRe  = regexp.MustCompile(`^([•◦▪‣●○■□►➢·*–-])\s+`)
	numberRe  = regexp.MustCompile(`^(\((?:\p{Nd}+|[a-zA-Z]|[ivxlcdm]+)\)|(?:\p{Nd}+(?:\.\p{Nd}+)*|[a-zA-Z]|[ivxlcdm]+)[.)])\s+`)
	keywordRe = regexp.MustCompile(`^(?i:section|chapter|article|clause|part|schedule)\b`)
)

// ListMarker returns the leading list marker of text, if any.
func ListMarker(text string) (string, bool) {
	if m := bulletRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := numberRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return "", false
}

// BodyFontSize is the character-weighted median font size of lines.
func BodyFontSize(lines []Line) float64 {
	type sized struct {
		size  float64
		chars int
	}
	var all []sized
	total := 0
	for _, l := range lines {
		for _, c := range l.Cells {
			for _, r := range c.Runs {
				n := utf8.RuneCountInString(strings.TrimSpace(r.Text))
				if n == 0 || r.FontSize <= 0 {
					continue
				}
				all = append(all, sized{r.FontSize, n})
				total += n
			}
		}
	}
	if total == 0 {
		return 0
	}
	slices.SortFunc(all, func(a, b sized) int {
		switch {
		case a.size < b.size:
			return -1
		case a.size > b.size:
			return 1
		}
		return 0
	})
	half := (total + 1) / 2
	acc := 0
	for _, s := range all {
		acc += s.chars
		if acc >= half {
			return s.size
		}
	}
	return all[len(all)-1].size
}

type lineClass struct {
	kind    document.Kind
	level   int
	ordinal string
	table   bool
}

// Classify groups lines into block candidates.
func Classify(lines []Line, th Thresholds) []Candidate {
	if len(lines) == 0 {
		return nil
	}
	body := BodyFontSize(lines)
	margins := pageMargins(lines)
	classes := make([]lineClass, len(lines))
	markTables(lines, classes, th)

	for i, l := range lines {
		if classes[i].table {
			classes[i].kind = document.KindTableRow
			continue
		}
		classes[i] = classifyLine(l, body, margins[l.Page], th)
	}

	var (
		out  []Candidate
		cur  *builder
		prev Line
	)
	flush := func() {
		if cur != nil {
			out = append(out, cur.candidate(body, th))
			cur = nil
		}
	}
	for i, l := range lines {
		c := classes[i]
		switch {
		case c.table:
			flush()
			b := newBuilder(l, c)
			out = append(out, b.candidate(body, th))
		case cur != nil && continues(cur, prev, l, c, th):
			cur.add(l)
		default:
			flush()
			cur = newBuilder(l, c)
		}
		prev = l
	}
	flush()
	return out
}

func classifyLine(l Line, body float64, margin float64, th Thresholds) lineClass {
	text := strings.TrimSpace(l.Text())
	n := utf8.RuneCountInString(text)
	if body > 0 && l.FontSize >= body*th.HeadingRatio && n <= th.MaxHeadingChars {
		return lineClass{kind: document.KindHeading, level: headingLevel(l.FontSize / body)}
	}
	if marker, ok := ListMarker(text); ok && n > len(marker) {
		level := 1
		if th.IndentStep > 0 {
			level += int(math.Max(0, l.X0-margin) / th.IndentStep)
		}
		return lineClass{kind: document.KindListItem, level: level, ordinal: marker}
	}
	if th.KeywordHeadings && keywordHeading(text) {
		return lineClass{kind: document.KindHeading, level: 3}
	}
	return lineClass{kind: document.KindParagraph}
}

func headingLevel(ratio float64) int {
	switch {
	case ratio >= 1.8:
		return 1
	case ratio >= 1.5:
		return 2
	default:
		return 3
	}
}

// keywordHeading matches short section titles: all caps, a trailing colon,
// or a leading SECTION/CHAPTER/ARTICLE style keyword.
func keywordHeading(text string) bool {
	n := utf8.RuneCountInString(text)
	if n == 0 || n >= 100 {
		return false
	}
	if keywordRe.MatchString(text) {
		return true
	}
	if n < 60 && strings.HasSuffix(text, ":") {
		first, _ := utf8.DecodeRuneInString(text)
		return unicode.IsUpper(first)
	}
	letters, upper := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 3 && upper == letters && unicode.IsUpper(firstLetter(text))
}

func firstLetter(s string) rune {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return r
		}
	}
	return 0
}

func pageMargins(lines []Line) map[int]float64 {
	m := map[int]float64{}
	for _, l := range lines {
		if v, ok := m[l.Page]; !ok || l.X0 < v {
			m[l.Page] = l.X0
		}
	}
	return m
}

// markTables flags runs of consecutive multi-cell lines whose cells line up.
func markTables(lines []Line, classes []lineClass, th Thresholds) {
	minRows := max(th.MinTableRows, 2)
	i := 0
	for i < len(lines) {
		if len(lines[i].Cells) < 2 {
			i++
			continue
		}
		j := i + 1
		for j < len(lines) && lines[j].Page == lines[i].Page && aligned(lines[j-1], lines[j], th.ColumnTolerance) {
			j++
		}
		if j-i >= minRows {
			for k := i; k < j; k++ {
				classes[k].table = true
			}
		}
		i = j
	}
}

func aligned(a, b Line, tol float64) bool {
	if len(a.Cells) != len(b.Cells) || len(b.Cells) < 2 {
		return false
	}
	for k := range a.Cells {
		if math.Abs(a.Cells[k].X0-b.Cells[k].X0) > tol {
			return false
		}
	}
	return true
}

// continues reports whether line l extends the block being built.
func continues(cur *builder, prev, l Line, c lineClass, th Thresholds) bool {
	if l.Page != prev.Page {
		return false
	}
	pitch := prev.Y - l.Y
	limit := math.Max(prev.FontSize, l.FontSize) * linePitch * (1 + th.LineGapTolerance)
	if pitch <= 0 || pitch > limit {
		return false
	}
	if math.Abs(l.FontSize-prev.FontSize) > 0.15*math.Max(prev.FontSize, 1) {
		return false
	}
	switch cur.class.kind {
	case document.KindHeading:
		return c.kind == document.KindHeading && c.level == cur.class.level
	case document.KindListItem:
		return c.kind == document.KindParagraph && l.X0 > cur.first.X0+th.MarginTolerance
	case document.KindParagraph:
		if c.kind != document.KindParagraph {
			return false
		}
		if len(cur.lines) == 1 {
			dx := cur.first.X0 - l.X0
			return math.Abs(dx) <= th.MarginTolerance || (dx > 0 && dx <= 3*th.IndentStep)
		}
		return math.Abs(l.X0-prev.X0) <= th.MarginTolerance
	}
	return false
}

type builder struct {
	class lineClass
	first Line
	lines []Line
}

func newBuilder(l Line, c lineClass) *builder {
	return &builder{class: c, first: l, lines: []Line{l}}
}

func (b *builder) add(l Line) {
	b.lines = append(b.lines, l)
}

func (b *builder) candidate(body float64, th Thresholds) Candidate {
	c := Candidate{
		Kind:    b.class.kind,
		Level:   b.class.level,
		Ordinal: b.class.ordinal,
		Page:    b.first.Page,
		OCR:     b.first.OCR,
		BBox:    bbox(b.lines),
	}
	sized := b.class.kind != document.KindHeading
	if b.class.kind == document.KindTableRow {
		cells := make([]string, len(b.first.Cells))
		for i, cell := range b.first.Cells {
			cells[i] = markup.Render(spans(cell.Runs, body, th, sized))
		}
		c.Text = markup.Row(cells)
		return c
	}

	var all []markup.Span
	for i, l := range b.lines {
		var runs []Run
		for k, cell := range l.Cells {
			if k > 0 {
				runs = append(runs, Run{Text: " "})
			}
			runs = append(runs, cell.Runs...)
		}
		if i == 0 && b.class.kind == document.KindListItem {
			runs = stripPrefix(runs, b.class.ordinal)
		}
		sp := spans(runs, body, th, sized)
		if i > 0 && len(all) > 0 && len(sp) > 0 {
			last := &all[len(all)-1]
			last.Text = strings.TrimRight(last.Text, " ") + " "
		}
		all = append(all, sp...)
	}
	trimSpans(all)
	c.Text = markup.Render(all)
	return c
}

func spans(runs []Run, body float64, th Thresholds, sized bool) []markup.Span {
	out := make([]markup.Span, 0, len(runs))
	for _, r := range runs {
		st := markup.Style{Bold: r.Bold, Italic: r.Italic}
		if sized && body > 0 && r.FontSize > 0 {
			switch {
			case r.FontSize >= body*th.LargeRatio:
				st.Size = markup.SizeLarge
			case r.FontSize <= body*th.SmallRatio:
				st.Size = markup.SizeSmall
			}
		}
		if r.Text == " " && len(out) > 0 {
			st = out[len(out)-1].Style
		}
		out = append(out, markup.Span{Text: r.Text, Style: st})
	}
	return out
}

// stripPrefix removes the list marker and following spaces from runs.
func stripPrefix(runs []Run, marker string) []Run {
	out := slices.Clone(runs)
	for len(out) > 0 && strings.TrimSpace(out[0].Text) == "" {
		out = out[1:]
	}
	remaining := marker
	for len(out) > 0 && remaining != "" {
		t := strings.TrimLeft(out[0].Text, " ")
		if len(t) <= len(remaining) && strings.HasPrefix(remaining, t) {
			remaining = remaining[len(t):]
			out = out[1:]
			continue
		}
		out[0].Text = strings.TrimPrefix(t, remaining)
		remaining = ""
	}
	for len(out) > 0 {
		out[0].Text = strings.TrimLeft(out[0].Text, " \t")
		if out[0].Text != "" {
			break
		}
		out = out[1:]
	}
	return out
}

func trimSpans(all []markup.Span) {
	if len(all) == 0 {
		return
	}
	all[0].Text = strings.TrimLeft(all[0].Text, " ")
	all[len(all)-1].Text = strings.TrimRight(all[len(all)-1].Text, " ")
}

func bbox(lines []Line) document.Rect {
	r := document.Rect{X0: math.Inf(1), Y0: math.Inf(1), X1: math.Inf(-1), Y1: math.Inf(-1)}
	for _, l := range lines {
		r.X0 = math.Min(r.X0, l.X0)
		r.X1 = math.Max(r.X1, l.X1)
		r.Y0 = math.Min(r.Y0, l.Y-0.25*l.FontSize)
		r.Y1 = math.Max(r.Y1, l.Y+0.85*l.FontSize)
	}
	return r
}
