// Package reassemble maps translated chunks back onto the source blocks.
package reassemble

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/markup"
)

// Reassemble builds the TranslatedDocument. Each block's text is the
// concatenation of the translated segments that cover it, in chunk order.
// A block covered by any failed chunk keeps its source text and is flagged
// untranslated. It fails only when every content block is untranslated.
func Reassemble(doc *document.Document, translated []document.TranslatedChunk, target string) (*document.TranslatedDocument, error) {
	if len(translated) > 1 && !slices.IsSortedFunc(translated, func(a, b document.TranslatedChunk) int { return a.Index - b.Index }) {
		return nil, fmt.Errorf("translated chunks out of order")
	}

	parts := make([]strings.Builder, len(doc.Blocks))
	failed := make([]bool, len(doc.Blocks))
	covered := make([]bool, len(doc.Blocks))

	report := document.Report{
		TotalChunks: len(translated),
		FailedPages: doc.FailedPages,
	}
	for _, tc := range translated {
		ok := tc.Status == document.StatusOK && len(tc.Parts) == len(tc.Segments)
		if !ok {
			report.FailedChunks = append(report.FailedChunks, document.ChunkFailure{
				Chunk:    tc.Index,
				Attempts: tc.Attempts,
				Error:    failureMessage(tc),
			})
		}
		for i, seg := range tc.Segments {
			if seg.Block < 0 || seg.Block >= len(doc.Blocks) {
				return nil, fmt.Errorf("chunk %d references block %d of %d", tc.Index, seg.Block, len(doc.Blocks))
			}
			covered[seg.Block] = true
			if !ok {
				failed[seg.Block] = true
				continue
			}
			parts[seg.Block].WriteString(tc.Parts[i])
		}
	}

	out := &document.TranslatedDocument{
		Pages:          doc.Pages,
		SourceLanguage: doc.Language,
		TargetLanguage: target,
		Blocks:         make([]document.TranslatedBlock, len(doc.Blocks)),
	}
	content, untranslated := 0, 0
	for i, b := range doc.Blocks {
		tb := document.TranslatedBlock{Block: b}
		if !b.Empty() {
			content++
			if failed[i] || !covered[i] {
				tb.Untranslated = true
				untranslated++
				report.UntranslatedBlocks = append(report.UntranslatedBlocks, b.Index)
			} else {
				tb.Text = parts[i].String()
			}
		}
		out.Blocks[i] = tb
	}
	if content > 0 && untranslated == content {
		return nil, &document.ReassemblyError{Blocks: content}
	}
	out.Report = report
	out.Title = Title(out.Blocks)
	return out, nil
}

func failureMessage(tc document.TranslatedChunk) string {
	if tc.Err != "" {
		return tc.Err
	}
	return "segment count mismatch"
}

// Title is the plain text of the first translated heading, else of the
// first translated block.
func Title(blocks []document.TranslatedBlock) string {
	var first string
	for _, b := range blocks {
		if b.Empty() || b.Untranslated {
			continue
		}
		text := strings.TrimSpace(markup.Plain(b.Text))
		if b.Kind == document.KindTableRow {
			var cells []string
			for _, c := range markup.Cells(b.Text) {
				cells = append(cells, strings.TrimSpace(markup.Plain(c)))
			}
			text = strings.Join(cells, " ")
		}
		if b.Kind == document.KindHeading {
			return clip(text, 120)
		}
		if first == "" {
			first = text
		}
	}
	return clip(first, 120)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}
