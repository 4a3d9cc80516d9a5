package document

// Kind identifies the structural role of a Block.
type Kind string

const (
	KindParagraph Kind = "paragraph"
	KindHeading   Kind = "heading"
	KindListItem  Kind = "list_item"
	KindTableRow  Kind = "table_row"
	KindPageBreak Kind = "page_break"
)

// Rect is a geometry hint in PDF points, origin bottom-left.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Block is one structural unit of a Document.
type Block struct {
	Index   int    `json:"index"`
	Kind    Kind   `json:"kind"`
	Level   int    `json:"level,omitempty"`   // Heading level (1-3) or list nesting level (1-based).
	Ordinal string `json:"ordinal,omitempty"` // List marker as written: "1.", "(a)", "•".
	Text    string `json:"text"`              // Inline markup; table rows hold <td> cells.
	Page    int    `json:"page"`
	BBox    *Rect  `json:"bbox,omitempty"`
	OCR     bool   `json:"ocr,omitempty"`
}

// Empty reports whether the block carries no translatable text.
func (b Block) Empty() bool {
	return b.Text == ""
}

// PageFailure records a page the extractor skipped.
type PageFailure struct {
	Page   int    `json:"page"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Document is the logical content of one PDF. It is immutable once built.
type Document struct {
	Pages       int           `json:"pages"`
	Language    string        `json:"language"`
	Blocks      []Block       `json:"blocks"`
	FailedPages []PageFailure `json:"failed_pages,omitempty"`
}

// Text returns the concatenation of all block texts in sequence order.
func (d *Document) Text() string {
	n := 0
	for _, b := range d.Blocks {
		n += len(b.Text)
	}
	buf := make([]byte, 0, n)
	for _, b := range d.Blocks {
		buf = append(buf, b.Text...)
	}
	return string(buf)
}

// ContentBlocks counts blocks that carry text.
func (d *Document) ContentBlocks() int {
	n := 0
	for _, b := range d.Blocks {
		if !b.Empty() {
			n++
		}
	}
	return n
}

// TranslatedBlock is a Block with translated text substituted.
type TranslatedBlock struct {
	Block
	Untranslated bool `json:"untranslated,omitempty"`
}

// Report summarizes partial failures of a run.
type Report struct {
	TotalChunks        int            `json:"total_chunks"`
	FailedChunks       []ChunkFailure `json:"failed_chunks,omitempty"`
	UntranslatedBlocks []int          `json:"untranslated_blocks,omitempty"`
	FailedPages        []PageFailure  `json:"failed_pages,omitempty"`
}

// ChunkFailure is one chunk that exhausted its retries.
type ChunkFailure struct {
	Chunk    int    `json:"chunk"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// Partial reports whether any content was left untranslated or skipped.
func (r Report) Partial() bool {
	return len(r.FailedChunks) > 0 || len(r.UntranslatedBlocks) > 0 || len(r.FailedPages) > 0
}

// TranslatedDocument mirrors the source Document's block structure.
type TranslatedDocument struct {
	Pages          int               `json:"pages"`
	SourceLanguage string            `json:"source_language"`
	TargetLanguage string            `json:"target_language"`
	Title          string            `json:"title,omitempty"`
	Blocks         []TranslatedBlock `json:"blocks"`
	Report         Report            `json:"report"`
}
