package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Poppler rasterizes pages with pdftoppm.
type Poppler struct {
	Path string // Binary path; "pdftoppm" when empty.
}

func (p *Poppler) Rasterize(ctx context.Context, pdf []byte, page, dpi int) (Image, error) {
	bin := p.Path
	if bin == "" {
		bin = "pdftoppm"
	}
	dir, err := os.MkdirTemp("", "pdftrans-ocr-*")
	if err != nil {
		return Image{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "src.pdf")
	if err := os.WriteFile(src, pdf, 0o600); err != nil {
		return Image{}, fmt.Errorf("write temp file: %w", err)
	}
	root := filepath.Join(dir, "page")
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, bin,
		"-r", strconv.Itoa(dpi),
		"-f", n, "-l", n,
		"-png", "-singlefile",
		src, root,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return Image{}, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, out)
	}
	data, err := os.ReadFile(root + ".png")
	if err != nil {
		return Image{}, fmt.Errorf("read rasterized page %d: %w", page, err)
	}
	return Image{PNG: data, DPI: dpi, Page: page}, nil
}

// Available reports whether both OCR binaries can be found.
func Available(tesseract, pdftoppm string) error {
	if tesseract == "" {
		tesseract = "tesseract"
	}
	if pdftoppm == "" {
		pdftoppm = "pdftoppm"
	}
	for _, bin := range []string{tesseract, pdftoppm} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found: %w", bin, err)
		}
	}
	return nil
}
