package reassemble

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgallion1/pdftrans/internal/chunker"
	"github.com/dgallion1/pdftrans/internal/document"
)

func testDoc() *document.Document {
	texts := []struct {
		kind document.Kind
		text string
	}{
		{document.KindHeading, "<b>LEASE</b>"},
		{document.KindParagraph, "The tenant pays rent."},
		{document.KindPageBreak, ""},
		{document.KindListItem, "Keep the <i>premises</i> clean."},
		{document.KindTableRow, "<td>Rent</td><td>100</td>"},
	}
	doc := &document.Document{Pages: 2, Language: "gu"}
	for i, t := range texts {
		doc.Blocks = append(doc.Blocks, document.Block{Index: i, Kind: t.kind, Text: t.text, Page: 1})
	}
	return doc
}

// translateAll marks every chunk ok with its segments upper-cased, except
// the chunk indices listed in fail.
func translateAll(chunks []document.Chunk, fail ...int) []document.TranslatedChunk {
	out := make([]document.TranslatedChunk, len(chunks))
	for i, ch := range chunks {
		tc := document.TranslatedChunk{Chunk: ch, Language: "en", Status: document.StatusOK, Attempts: 1}
		for k := range ch.Segments {
			tc.Parts = append(tc.Parts, strings.ToUpper(ch.SegmentText(k)))
		}
		for _, f := range fail {
			if f == i {
				tc.Status = document.StatusFailed
				tc.Parts = nil
				tc.Err = "status 503"
				tc.Attempts = 3
			}
		}
		out[i] = tc
	}
	return out
}

func TestReassemble_AllTranslated(t *testing.T) {
	doc := testDoc()
	chunks, err := chunker.Chunk(doc, chunker.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	tdoc, err := Reassemble(doc, translateAll(chunks), "en")
	if err != nil {
		t.Fatalf("Reassemble() error: %v", err)
	}
	if len(tdoc.Blocks) != len(doc.Blocks) {
		t.Fatalf("block count %d, want %d", len(tdoc.Blocks), len(doc.Blocks))
	}
	for i, b := range tdoc.Blocks {
		if b.Index != i || b.Kind != doc.Blocks[i].Kind {
			t.Errorf("block %d out of order or kind changed: %+v", i, b.Block)
		}
		if b.Untranslated {
			t.Errorf("block %d flagged untranslated", i)
		}
		if want := strings.ToUpper(doc.Blocks[i].Text); b.Text != want {
			t.Errorf("block %d text %q, want %q", i, b.Text, want)
		}
	}
	if tdoc.Title != "LEASE" {
		t.Errorf("title = %q", tdoc.Title)
	}
	if tdoc.SourceLanguage != "gu" || tdoc.TargetLanguage != "en" {
		t.Errorf("languages = %s -> %s", tdoc.SourceLanguage, tdoc.TargetLanguage)
	}
	if tdoc.Report.Partial() {
		t.Errorf("unexpected partial report: %+v", tdoc.Report)
	}
}

func TestReassemble_OneFailedChunkFlagsItsBlock(t *testing.T) {
	doc := &document.Document{Pages: 1, Language: "gu"}
	for i := range 5 {
		doc.Blocks = append(doc.Blocks, document.Block{Index: i, Kind: document.KindParagraph, Text: strings.Repeat("w", 300)})
	}
	chunks, err := chunker.Chunk(doc, chunker.Config{Limit: 320})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 5 {
		t.Fatalf("expected one chunk per block, got %d", len(chunks))
	}

	tdoc, err := Reassemble(doc, translateAll(chunks, 1), "en")
	if err != nil {
		t.Fatalf("Reassemble() error: %v", err)
	}
	var flagged []int
	for _, b := range tdoc.Blocks {
		if b.Untranslated {
			flagged = append(flagged, b.Index)
			if b.Text != doc.Blocks[b.Index].Text {
				t.Errorf("untranslated block %d should keep source text", b.Index)
			}
		}
	}
	if len(flagged) != 1 || flagged[0] != 1 {
		t.Errorf("flagged blocks = %v, want [1]", flagged)
	}
	rep := tdoc.Report
	if rep.TotalChunks != 5 || len(rep.FailedChunks) != 1 || rep.FailedChunks[0].Chunk != 1 {
		t.Errorf("unexpected report: %+v", rep)
	}
	if rep.FailedChunks[0].Attempts != 3 || rep.FailedChunks[0].Error != "status 503" {
		t.Errorf("failure detail = %+v", rep.FailedChunks[0])
	}
}

func TestReassemble_SplitBlockWithOneFailedPiece(t *testing.T) {
	text := "First sentence here. " + strings.Repeat("A", 40) + ". " + strings.Repeat("B", 40) + "."
	doc := &document.Document{Pages: 1, Blocks: []document.Block{
		{Index: 0, Kind: document.KindParagraph, Text: text},
		{Index: 1, Kind: document.KindParagraph, Text: "Other."},
	}}
	chunks, err := chunker.Chunk(doc, chunker.Config{Limit: 64})
	if err != nil {
		t.Fatal(err)
	}
	if chunks[0].Segments[0].Block != 0 || chunks[1].Segments[0].Block != 0 {
		t.Fatalf("expected block 0 to be split, got %+v", chunks)
	}

	ok, err := Reassemble(doc, translateAll(chunks), "en")
	if err != nil {
		t.Fatal(err)
	}
	if ok.Blocks[0].Text != strings.ToUpper(text) {
		t.Errorf("split block not rejoined: %q", ok.Blocks[0].Text)
	}

	partial, err := Reassemble(doc, translateAll(chunks, 1), "en")
	if err != nil {
		t.Fatal(err)
	}
	if !partial.Blocks[0].Untranslated || partial.Blocks[0].Text != text {
		t.Errorf("block 0 should fall back to source text: %+v", partial.Blocks[0])
	}
}

func TestReassemble_AllFailedIsError(t *testing.T) {
	doc := testDoc()
	chunks, err := chunker.Chunk(doc, chunker.Config{Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	fail := make([]int, len(chunks))
	for i := range fail {
		fail[i] = i
	}
	_, err = Reassemble(doc, translateAll(chunks, fail...), "en")
	var re *document.ReassemblyError
	if !errors.As(err, &re) {
		t.Fatalf("expected ReassemblyError, got %v", err)
	}
	if re.Blocks != 4 {
		t.Errorf("ReassemblyError.Blocks = %d, want 4", re.Blocks)
	}
}

func TestReassemble_PageBreaksNeverFlagged(t *testing.T) {
	doc := testDoc()
	chunks, _ := chunker.Chunk(doc, chunker.Config{Limit: 50})
	tdoc, err := Reassemble(doc, translateAll(chunks, 1), "en")
	if err != nil {
		t.Fatal(err)
	}
	if !tdoc.Blocks[1].Untranslated {
		t.Error("block 1 should be untranslated")
	}
	if tdoc.Blocks[2].Untranslated || tdoc.Blocks[2].Kind != document.KindPageBreak {
		t.Errorf("page break changed: %+v", tdoc.Blocks[2])
	}
}

func TestReassemble_RejectsOutOfOrderChunks(t *testing.T) {
	doc := testDoc()
	chunks, _ := chunker.Chunk(doc, chunker.Config{Limit: 50})
	tcs := translateAll(chunks)
	tcs[0], tcs[1] = tcs[1], tcs[0]
	if _, err := Reassemble(doc, tcs, "en"); err == nil {
		t.Error("expected error for out-of-order chunks")
	}
}

func TestTitle_FallsBackToFirstBlock(t *testing.T) {
	blocks := []document.TranslatedBlock{
		{Block: document.Block{Kind: document.KindParagraph, Text: "<b>Agreement</b> between parties"}},
	}
	if got := Title(blocks); got != "Agreement between parties" {
		t.Errorf("Title() = %q", got)
	}
}
