package chunker

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/markup"
)

// Config controls chunking behavior.
type Config struct {
	Limit int // Maximum characters per request payload.
}

// DefaultConfig returns the translation service's documented request limit.
func DefaultConfig() Config {
	return Config{Limit: 1000}
}

// MinLimit is the smallest limit that leaves room for text after the
// segment wrapper.
const MinLimit = 32

// open is a chunk being accumulated.
type open struct {
	first    int
	last     int
	start    document.Position
	segments []document.Segment
	size     int
}

// Chunk splits a document into ordered chunks whose payloads fit cfg.Limit.
// Blocks are kept whole when they fit; a block that does not fit alone is
// split at sentence ends outside inline markup spans.
func Chunk(doc *document.Document, cfg Config) ([]document.Chunk, error) {
	if cfg.Limit < MinLimit {
		return nil, fmt.Errorf("chunk limit %d below minimum %d", cfg.Limit, MinLimit)
	}
	if doc.ContentBlocks() == 0 {
		return nil, &document.ChunkingError{Reason: "empty_document", Block: -1, Limit: cfg.Limit}
	}

	var (
		chunks  []document.Chunk
		cur     *open
		pending = -1 // First empty block waiting for a chunk.
	)
	emit := func(c *open, end document.Position) {
		chunks = append(chunks, build(doc, len(chunks), c, end))
	}
	closeCur := func() {
		if cur != nil {
			emit(cur, endOf(doc, cur.last))
			cur = nil
		}
	}
	startAt := func(i int) (int, document.Position) {
		if pending >= 0 {
			p := pending
			pending = -1
			return p, document.Position{Block: p}
		}
		return i, document.Position{Block: i}
	}

	for i, b := range doc.Blocks {
		if b.Empty() {
			switch {
			case cur != nil:
				cur.last = i
			case len(chunks) > 0:
				extend(doc, &chunks[len(chunks)-1], i)
			case pending < 0:
				pending = i
			}
			continue
		}

		n := document.Len(b.Text)
		if cur != nil {
			if cost := n + document.SegmentOverhead(len(cur.segments)); cur.size+cost <= cfg.Limit {
				cur.segments = append(cur.segments, document.Segment{Block: i, Start: 0, End: len(b.Text)})
				cur.size += cost
				cur.last = i
				continue
			}
		}
		closeCur()

		if n+document.SegmentOverhead(0) <= cfg.Limit {
			first, start := startAt(i)
			cur = &open{
				first:    first,
				last:     i,
				start:    start,
				segments: []document.Segment{{Block: i, Start: 0, End: len(b.Text)}},
				size:     n + document.SegmentOverhead(0),
			}
			continue
		}

		cuts, err := SplitPoints(b.Text, cfg.Limit-document.SegmentOverhead(0))
		if err != nil {
			return nil, &document.ChunkingError{Reason: document.ReasonUnsplittable, Block: b.Index, Limit: cfg.Limit}
		}
		bounds := append(append([]int{0}, cuts...), len(b.Text))
		for k := 0; k+1 < len(bounds); k++ {
			first, start := i, document.Position{Block: i, Offset: bounds[k]}
			if k == 0 {
				first, start = startAt(i)
			}
			piece := &open{
				first:    first,
				last:     i,
				start:    start,
				segments: []document.Segment{{Block: i, Start: bounds[k], End: bounds[k+1]}},
			}
			emit(piece, document.Position{Block: i, Offset: bounds[k+1]})
		}
	}
	closeCur()
	return chunks, nil
}

func build(doc *document.Document, index int, c *open, end document.Position) document.Chunk {
	ch := document.Chunk{
		Index:      index,
		FirstBlock: c.first,
		LastBlock:  c.last,
		Range:      document.Range{Start: c.start, End: end},
		Segments:   c.segments,
	}
	for i := range ch.Segments {
		s := &ch.Segments[i]
		s.Text = doc.Blocks[s.Block].Text[s.Start:s.End]
	}
	return ch
}

// extend stretches a closed chunk over a trailing empty block.
func extend(doc *document.Document, ch *document.Chunk, block int) {
	ch.LastBlock = block
	ch.Range.End = endOf(doc, block)
}

func endOf(doc *document.Document, block int) document.Position {
	return document.Position{Block: block, Offset: len(doc.Blocks[block].Text)}
}

// SplitPoints returns the byte offsets at which text must be cut so that no
// piece exceeds budget characters. Cuts fall after sentence terminators
// (. ? ! ।) and never inside an inline markup span; a sentence end inside a
// span moves back to the span's opening tag. The latest usable point wins.
func SplitPoints(text string, budget int) ([]int, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("budget %d", budget)
	}
	spans := markup.Spans(text)
	cands := candidates(text, spans)

	var cuts []int
	start := 0
	for document.Len(text[start:]) > budget {
		limit := start + byteOffset(text[start:], budget)
		best := -1
		for k := len(cands) - 1; k >= 0; k-- {
			c := cands[k]
			if c > limit || c <= start {
				continue
			}
			best = c
			break
		}
		if best < 0 {
			return nil, fmt.Errorf("no split point in [%d, %d]", start, limit)
		}
		cuts = append(cuts, best)
		start = best
	}
	return cuts, nil
}

// candidates lists legal cut offsets in ascending order, all at span depth 0.
func candidates(text string, spans []markup.Interval) []int {
	set := map[int]bool{}
	add := func(off int) {
		if off > 0 && off < len(text) {
			set[off] = true
		}
	}

	// Sentence ends in text outside spans.
	pos := 0
	for _, sp := range append(spans, markup.Interval{Start: len(text), End: len(text)}) {
		for _, off := range sentenceEnds(text[pos:sp.Start]) {
			add(pos + off)
		}
		if sp.Start >= len(text) {
			break
		}
		body := strings.TrimRightFunc(markup.Plain(text[sp.Start:sp.End]), unicode.IsSpace)
		if inner := strings.TrimRight(body, closers); inner != "" {
			_, n := utf8.DecodeLastRuneInString(inner)
			if strings.IndexFunc(inner[:len(inner)-n], isTerminator) >= 0 {
				add(sp.Start)
			}
		}
		if endsSentence(body) {
			add(sp.End + leadingSpace(text[sp.End:]))
		}
		pos = sp.End
	}

	out := make([]int, 0, len(set))
	for off := range set {
		out = append(out, off)
	}
	slices.Sort(out)
	return out
}

// sentenceEnds returns offsets just past each terminated sentence,
// including its trailing whitespace.
func sentenceEnds(s string) []int {
	var out []int
	off := 0
	state := -1
	rest := s
	for len(rest) > 0 {
		var sentence string
		sentence, rest, state = uniseg.FirstSentenceInString(rest, state)
		off += len(sentence)
		if endsSentence(strings.TrimRightFunc(sentence, unicode.IsSpace)) {
			out = append(out, off)
		}
	}
	return out
}

const closers = `"'”’)]`

func endsSentence(s string) bool {
	s = strings.TrimRight(s, closers)
	r, _ := utf8.DecodeLastRuneInString(s)
	return isTerminator(r)
}

func isTerminator(r rune) bool {
	return r == '.' || r == '?' || r == '!' || r == '।'
}

func leadingSpace(s string) int {
	return len(s) - len(strings.TrimLeftFunc(s, unicode.IsSpace))
}

// byteOffset returns the byte offset of the n-th rune of s, or len(s).
func byteOffset(s string, n int) int {
	i := 0
	for off := range s {
		if i == n {
			return off
		}
		i++
	}
	return len(s)
}
