// Package markup reads and writes the inline markup carried by block text.
//
// Markup is a small HTML subset: <b>, <i>, <big> and <small> style runs,
// <td> cells for table rows, and entity escaping for &, < and >. Parsing is
// done with the x/net/html tokenizer so translated text that comes back with
// equivalent tags (<strong>, <em>) or extra entities still reads correctly.
package markup

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Size is the font-size class of a span relative to body text.
type Size int

const (
	SizeNormal Size = iota
	SizeSmall
	SizeLarge
)

// Style holds the style hints captured for a run of text.
type Style struct {
	Bold   bool `json:"bold,omitempty"`
	Italic bool `json:"italic,omitempty"`
	Size   Size `json:"size,omitempty"`
}

// Span is a run of text with one style.
type Span struct {
	Text  string
	Style Style
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Escape escapes text for inclusion in markup.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Render writes spans as markup. Adjacent spans with equal style are merged.
func Render(spans []Span) string {
	var sb strings.Builder
	merged := Merge(spans)
	for _, sp := range merged {
		if sp.Text == "" {
			continue
		}
		switch sp.Style.Size {
		case SizeLarge:
			sb.WriteString("<big>")
		case SizeSmall:
			sb.WriteString("<small>")
		}
		if sp.Style.Bold {
			sb.WriteString("<b>")
		}
		if sp.Style.Italic {
			sb.WriteString("<i>")
		}
		sb.WriteString(Escape(sp.Text))
		if sp.Style.Italic {
			sb.WriteString("</i>")
		}
		if sp.Style.Bold {
			sb.WriteString("</b>")
		}
		switch sp.Style.Size {
		case SizeLarge:
			sb.WriteString("</big>")
		case SizeSmall:
			sb.WriteString("</small>")
		}
	}
	return sb.String()
}

// Merge joins adjacent spans that share a style.
func Merge(spans []Span) []Span {
	var out []Span
	for _, sp := range spans {
		if sp.Text == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Style == sp.Style {
			out[n-1].Text += sp.Text
			continue
		}
		out = append(out, sp)
	}
	return out
}

// Parse reads markup into styled spans. Unknown tags are ignored.
func Parse(s string) []Span {
	z := html.NewTokenizer(strings.NewReader(s))
	var (
		spans                     []Span
		bold, italic, big, small int
	)
	style := func() Style {
		st := Style{Bold: bold > 0, Italic: italic > 0}
		switch {
		case big > small:
			st.Size = SizeLarge
		case small > big:
			st.Size = SizeSmall
		}
		return st
	}
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return Merge(spans)
		case html.TextToken:
			spans = append(spans, Span{Text: string(z.Text()), Style: style()})
		case html.StartTagToken, html.EndTagToken:
			name, _ := z.TagName()
			d := 1
			if tt == html.EndTagToken {
				d = -1
			}
			switch canonical(string(name)) {
			case "b":
				bold = max(bold+d, 0)
			case "i":
				italic = max(italic+d, 0)
			case "big":
				big = max(big+d, 0)
			case "small":
				small = max(small+d, 0)
			}
		}
	}
}

// Plain returns the text content of markup with tags removed.
func Plain(s string) string {
	var sb strings.Builder
	for _, sp := range Parse(s) {
		sb.WriteString(sp.Text)
	}
	return sb.String()
}

// Cells splits table-row markup into the inner markup of each <td>.
// Text outside any cell becomes its own cell.
func Cells(s string) []string {
	z := html.NewTokenizer(strings.NewReader(s))
	var (
		cells []string
		cur   strings.Builder
		in    bool
	)
	flush := func() {
		if in || strings.TrimSpace(cur.String()) != "" {
			cells = append(cells, cur.String())
		}
		cur.Reset()
	}
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if cur.Len() > 0 {
				flush()
			}
			return cells
		}
		if tt == html.StartTagToken || tt == html.EndTagToken {
			name, _ := z.TagName()
			if string(name) == "td" {
				if tt == html.StartTagToken {
					if cur.Len() > 0 {
						flush()
					}
					in = true
				} else {
					flush()
					in = false
				}
				continue
			}
		}
		cur.Write(z.Raw())
	}
}

// Row renders cell markup as a table-row text.
func Row(cells []string) string {
	var sb strings.Builder
	for _, c := range cells {
		sb.WriteString("<td>")
		sb.WriteString(c)
		sb.WriteString("</td>")
	}
	return sb.String()
}

func canonical(tag string) string {
	switch tag {
	case "strong":
		return "b"
	case "em":
		return "i"
	}
	return tag
}

// inline reports whether a tag opens a span that must not be split.
func inline(tag string) bool {
	switch canonical(tag) {
	case "b", "i", "big", "small", "td":
		return true
	}
	return false
}

// TagCounts counts opening inline tags by canonical name.
func TagCounts(s string) map[string]int {
	counts := map[string]int{}
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return counts
		}
		if tt != html.StartTagToken {
			continue
		}
		name, _ := z.TagName()
		if tag := string(name); inline(tag) {
			counts[canonical(tag)]++
		}
	}
}

// Interval is a byte range [Start, End) of markup text.
type Interval struct {
	Start int
	End   int
}

// Spans returns the byte intervals of outermost inline elements, from the
// first byte of the opening tag to the last byte of the closing tag.
// An element left open runs to the end of s.
func Spans(s string) []Interval {
	z := html.NewTokenizer(strings.NewReader(s))
	var (
		out   []Interval
		off   int
		depth int
		start int
	)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if depth > 0 {
				out = append(out, Interval{Start: start, End: len(s)})
			}
			return out
		}
		raw := len(z.Raw())
		if tt == html.StartTagToken || tt == html.EndTagToken {
			name, _ := z.TagName()
			if inline(string(name)) {
				if tt == html.StartTagToken {
					if depth == 0 {
						start = off
					}
					depth++
				} else if depth > 0 {
					depth--
					if depth == 0 {
						out = append(out, Interval{Start: start, End: off + raw})
					}
				}
			}
		}
		off += raw
	}
}

// ErrSegments is returned when a translated payload's segment wrappers do
// not match the expected count.
var ErrSegments = errors.New("segment wrappers mismatch")

// SplitSegments extracts the inner markup of each <p id="k"> wrapper in a
// payload, in id order. Blank text between wrappers is ignored; any other
// text outside a wrapper is an ErrSegments.
func SplitSegments(payload string, want int) ([]string, error) {
	z := html.NewTokenizer(strings.NewReader(payload))
	parts := make([]string, want)
	seen := make([]bool, want)
	var (
		cur   strings.Builder
		id    = -1
		depth int
	)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				return nil, z.Err()
			}
			break
		}
		if tt == html.StartTagToken || tt == html.EndTagToken {
			name, hasAttr := z.TagName()
			if string(name) == "p" {
				if tt == html.StartTagToken {
					if id >= 0 {
						depth++
						cur.Write(z.Raw())
						continue
					}
					k := segmentID(z, hasAttr)
					if k < 0 || k >= want || seen[k] {
						return nil, ErrSegments
					}
					id = k
					cur.Reset()
					continue
				}
				if id >= 0 && depth > 0 {
					depth--
					cur.Write(z.Raw())
					continue
				}
				if id >= 0 {
					parts[id] = cur.String()
					seen[id] = true
					id = -1
				}
				continue
			}
		}
		if id >= 0 {
			cur.Write(z.Raw())
			continue
		}
		if tt != html.TextToken || strings.TrimSpace(html.UnescapeString(string(z.Raw()))) != "" {
			return nil, ErrSegments
		}
	}
	if id >= 0 {
		parts[id] = cur.String()
		seen[id] = true
	}
	for _, ok := range seen {
		if !ok {
			return nil, ErrSegments
		}
	}
	return parts, nil
}

func segmentID(z *html.Tokenizer, hasAttr bool) int {
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		if string(key) != "id" {
			continue
		}
		n := 0
		if len(val) == 0 {
			return -1
		}
		for _, c := range val {
			if c < '0' || c > '9' {
				return -1
			}
			n = n*10 + int(c-'0')
		}
		return n
	}
	return -1
}
