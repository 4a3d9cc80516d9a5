package document

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds reported in pipeline error events.
const (
	KindExtraction  = "ExtractionError"
	KindChunking    = "ChunkingError"
	KindTranslation = "TranslationError"
	KindReassembly  = "ReassemblyError"
	KindRender      = "RenderError"
	KindCancelled   = "Cancelled"
	KindInternal    = "InternalError"
)

// ReasonUnreadable marks a source with no usable text on any page.
const ReasonUnreadable = "unreadable"

// ReasonUnsplittable marks a block with no legal split point under the limit.
const ReasonUnsplittable = "unsplittable_block"

// ExtractionError means no Document could be produced.
type ExtractionError struct {
	Reason string
	Pages  []PageFailure
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed (%s): %d page(s) failed", e.Reason, len(e.Pages))
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ChunkingError means a block could not be fit under the character limit.
type ChunkingError struct {
	Reason string
	Block  int
	Limit  int
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunking failed (%s): block %d exceeds limit %d", e.Reason, e.Block, e.Limit)
}

// TranslationError is a per-chunk failure. It is recorded, not fatal.
type TranslationError struct {
	Chunk    int
	Attempts int
	Err      error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempt(s): %v", e.Chunk, e.Attempts, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// ReassemblyError means every block ended up untranslated.
type ReassemblyError struct {
	Blocks int
}

func (e *ReassemblyError) Error() string {
	return fmt.Sprintf("reassembly failed: all %d block(s) untranslated", e.Blocks)
}

// RenderError wraps a PDF engine failure.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render failed: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// KindOf names the error kind of err for reporting.
func KindOf(err error) string {
	var (
		ee *ExtractionError
		ce *ChunkingError
		te *TranslationError
		re *ReassemblyError
		rn *RenderError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ee):
		return KindExtraction
	case errors.As(err, &ce):
		return KindChunking
	case errors.As(err, &te):
		return KindTranslation
	case errors.As(err, &re):
		return KindReassembly
	case errors.As(err, &rn):
		return KindRender
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
