package document

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Position addresses a byte offset inside a block's text.
type Position struct {
	Block  int `json:"block"`
	Offset int `json:"offset"`
}

// Less orders positions by block, then offset.
func (p Position) Less(q Position) bool {
	if p.Block != q.Block {
		return p.Block < q.Block
	}
	return p.Offset < q.Offset
}

// Range is a half-open span [Start, End) of the document's block text.
// Trailing empty blocks are included by End.Block even though they add no text.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Overlaps reports whether two ranges share any position.
func (r Range) Overlaps(o Range) bool {
	return r.Start.Less(o.End) && o.Start.Less(r.End)
}

// Segment is a slice of one block's text covered by a chunk. Text is the
// substring Block.Text[Start:End] and shares the block's storage.
type Segment struct {
	Block int    `json:"block"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Chunk is an ordered translation unit. It is a read-only view over the
// document's blocks: segment text is never copied out of the source.
type Chunk struct {
	Index      int       `json:"index"`
	FirstBlock int       `json:"first_block"`
	LastBlock  int       `json:"last_block"`
	Range      Range     `json:"range"`
	Segments   []Segment `json:"segments"`
}

// SegmentText returns the raw markup text of segment i.
func (c Chunk) SegmentText(i int) string {
	return c.Segments[i].Text
}

// Text returns the concatenated markup of all segments.
func (c Chunk) Text() string {
	if len(c.Segments) == 1 {
		return c.Segments[0].Text
	}
	var sb strings.Builder
	for _, s := range c.Segments {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// Payload is the wire form sent to the translation service.
func (c Chunk) Payload() string {
	var sb strings.Builder
	for i, s := range c.Segments {
		sb.WriteString(OpenSegment(i))
		sb.WriteString(s.Text)
		sb.WriteString(closeSegment)
	}
	return sb.String()
}

const closeSegment = "</p>"

// OpenSegment returns the wrapper tag that opens segment i of a payload.
func OpenSegment(i int) string {
	return `<p id="` + strconv.Itoa(i) + `">`
}

// SegmentOverhead is the number of characters the wrapper for segment i adds.
func SegmentOverhead(i int) int {
	return len(OpenSegment(i)) + len(closeSegment)
}

// Len counts characters as Unicode code points, the unit the service limits.
func Len(s string) int {
	return utf8.RuneCountInString(s)
}

// ChunkStatus is the outcome of translating one chunk.
type ChunkStatus string

const (
	StatusOK     ChunkStatus = "ok"
	StatusFailed ChunkStatus = "failed"
)

// TranslatedChunk pairs a Chunk with its translation outcome.
type TranslatedChunk struct {
	Chunk
	Language   string      `json:"language"`
	Status     ChunkStatus `json:"status"`
	Translated string      `json:"translated,omitempty"`
	Parts      []string    `json:"parts,omitempty"` // Translated text, one entry per source segment.
	Err        string      `json:"error,omitempty"`
	Attempts   int         `json:"attempts"`
}
