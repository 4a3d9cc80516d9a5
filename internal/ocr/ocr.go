// Package ocr recognizes text on rasterized PDF pages.
package ocr

import (
	"context"
	"strings"

	"golang.org/x/text/language"
)

// Image is one rasterized page.
type Image struct {
	PNG  []byte
	DPI  int
	Page int
}

// Box is a pixel rectangle with a top-left origin.
type Box struct {
	X0, Y0, X1, Y1 int
}

// Word is a recognized word with its box.
type Word struct {
	Text string
	Box  Box
	Conf float64
}

// Line is a recognized text line. Words are in reading order.
type Line struct {
	Words []Word
	Box   Box
}

// Text joins the line's words with single spaces.
func (l Line) Text() string {
	parts := make([]string, 0, len(l.Words))
	for _, w := range l.Words {
		parts = append(parts, w.Text)
	}
	return strings.Join(parts, " ")
}

// Engine recognizes lines on a page image. lang is an engine language hint.
type Engine interface {
	Recognize(ctx context.Context, img Image, lang string) ([]Line, error)
}

// Rasterizer renders a single PDF page to an image.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, page, dpi int) (Image, error)
}

// LangHint maps a BCP-47 source tag to a tesseract language list.
// English is always included for numerals and Latin-script citations.
func LangHint(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return "eng"
	}
	base, _ := t.Base()
	iso3 := base.ISO3()
	if iso3 == "" || iso3 == "und" || iso3 == "eng" {
		return "eng"
	}
	return iso3 + "+eng"
}
