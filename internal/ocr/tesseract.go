package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// Tesseract runs the tesseract CLI and parses its TSV output.
type Tesseract struct {
	Path    string // Binary path; "tesseract" when empty.
	OEM     int
	PSM     int
	MinConf float64 // Words below this confidence are dropped.
}

// NewTesseract returns an engine using LSTM with a single uniform text block.
func NewTesseract(path string) *Tesseract {
	return &Tesseract{Path: path, OEM: 3, PSM: 6, MinConf: 30}
}

func (t *Tesseract) Recognize(ctx context.Context, img Image, lang string) ([]Line, error) {
	bin := t.Path
	if bin == "" {
		bin = "tesseract"
	}
	args := []string{
		"stdin", "stdout",
		"-l", lang,
		"--oem", strconv.Itoa(t.OEM),
		"--psm", strconv.Itoa(t.PSM),
	}
	if img.DPI > 0 {
		args = append(args, "--dpi", strconv.Itoa(img.DPI))
	}
	args = append(args, "tsv")

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = bytes.NewReader(img.PNG)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("tesseract page %d: %w: %s", img.Page, err, strings.TrimSpace(stderr.String()))
	}
	return ParseTSV(out, t.MinConf)
}

type lineKey struct {
	block, par, line int
}

// ParseTSV groups tesseract TSV word rows (level 5) into lines.
func ParseTSV(data []byte, minConf float64) ([]Line, error) {
	rows := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(rows) == 0 || !strings.HasPrefix(rows[0], "level") {
		return nil, fmt.Errorf("tsv: missing header")
	}
	lines := map[lineKey]*Line{}
	var order []lineKey
	for n, row := range rows[1:] {
		if row == "" {
			continue
		}
		f := strings.Split(row, "\t")
		if len(f) < 12 {
			return nil, fmt.Errorf("tsv row %d: %d fields", n+2, len(f))
		}
		if f[0] != "5" {
			continue
		}
		text := strings.TrimSpace(strings.Join(f[11:], "\t"))
		if text == "" {
			continue
		}
		conf, _ := strconv.ParseFloat(f[10], 64)
		if conf >= 0 && conf < minConf {
			continue
		}
		nums := make([]int, 8)
		for i := range nums {
			v, err := strconv.Atoi(f[i+2])
			if err != nil {
				return nil, fmt.Errorf("tsv row %d: field %d: %w", n+2, i+2, err)
			}
			nums[i] = v
		}
		key := lineKey{block: nums[0], par: nums[1], line: nums[2]}
		left, top, width, height := nums[4], nums[5], nums[6], nums[7]
		w := Word{Text: text, Conf: conf, Box: Box{X0: left, Y0: top, X1: left + width, Y1: top + height}}

		l, ok := lines[key]
		if !ok {
			l = &Line{Box: w.Box}
			lines[key] = l
			order = append(order, key)
		}
		l.Words = append(l.Words, w)
		l.Box = union(l.Box, w.Box)
	}

	out := make([]Line, 0, len(order))
	for _, k := range order {
		l := lines[k]
		sort.SliceStable(l.Words, func(i, j int) bool { return l.Words[i].Box.X0 < l.Words[j].Box.X0 })
		out = append(out, *l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Box.Y0 < out[j].Box.Y0 })
	return out, nil
}

func union(a, b Box) Box {
	return Box{
		X0: min(a.X0, b.X0),
		Y0: min(a.Y0, b.Y0),
		X1: max(a.X1, b.X1),
		Y1: max(a.Y1, b.Y1),
	}
}
