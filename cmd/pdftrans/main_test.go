package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-pdf/fpdf"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/pipeline"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeSamplePDF(t *testing.T, dir string) string {
	t.Helper()
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Text(72, 90, "LEASE AGREEMENT")
	pdf.SetFont("Helvetica", "", 11)
	pdf.Text(72, 130, "The Tenant shall pay rent monthly.")
	pdf.Text(72, 144, "Payment is due on the first day.")
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	path := filepath.Join(dir, "lease.pdf")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	return path
}

// echoServer returns every payload unchanged.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"translated_text": req.Text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranslate_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := writeSamplePDF(t, dir)
	report := filepath.Join(dir, "report.json")
	srv := echoServer(t)

	out, err := executeCommand(t, "translate", input,
		"--from", "en", "--to", "fr",
		"--backend", "http", "--translate-url", srv.URL,
		"--ocr=false", "--report", report,
	)
	if err != nil {
		t.Fatalf("translate failed: %v\n%s", err, out)
	}

	output := filepath.Join(dir, "lease_translated.pdf")
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF")
	}
	if !strings.Contains(out, "Wrote "+output) {
		t.Errorf("missing summary line, got: %s", out)
	}
	if !strings.Contains(out, "[100%]") {
		t.Errorf("missing final progress line, got: %s", out)
	}

	raw, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var rep struct {
		TargetLanguage string          `json:"target_language"`
		Report         document.Report `json:"report"`
	}
	if err := json.Unmarshal(raw, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.TargetLanguage != "fr" {
		t.Errorf("target_language = %q, want fr", rep.TargetLanguage)
	}
	if rep.Report.Partial() {
		t.Errorf("unexpected partial report: %+v", rep.Report)
	}
}

func TestTranslate_WritesComparison(t *testing.T) {
	dir := t.TempDir()
	input := writeSamplePDF(t, dir)
	compare := filepath.Join(dir, "compare.pdf")
	srv := echoServer(t)

	out, err := executeCommand(t, "translate", input,
		"--from", "en", "--to", "fr",
		"--backend", "http", "--translate-url", srv.URL,
		"--ocr=false", "--compare", compare,
	)
	if err != nil {
		t.Fatalf("translate failed: %v\n%s", err, out)
	}
	data, err := os.ReadFile(compare)
	if err != nil {
		t.Fatalf("read comparison: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("comparison is not a PDF")
	}
	if !strings.Contains(out, "Wrote comparison "+compare) {
		t.Errorf("missing comparison line, got: %s", out)
	}
}

func TestTranslate_ComparePathMustDifferFromOutput(t *testing.T) {
	dir := t.TempDir()
	input := writeSamplePDF(t, dir)
	output := filepath.Join(dir, "out.pdf")

	_, err := executeCommand(t, "translate", input, "-o", output, "--compare", output, "--translate-url", "http://127.0.0.1:1")
	if err == nil || !strings.Contains(err.Error(), "compare path must differ") {
		t.Fatalf("expected compare path error, got %v", err)
	}
}

func TestTranslate_RefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	input := writeSamplePDF(t, dir)
	output := filepath.Join(dir, "out.pdf")
	if err := os.WriteFile(output, []byte("existing"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := executeCommand(t, "translate", input, "-o", output, "--translate-url", "http://127.0.0.1:1")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	data, _ := os.ReadFile(output)
	if string(data) != "existing" {
		t.Errorf("output was modified")
	}
}

func TestTranslate_RejectsNonPDFInput(t *testing.T) {
	_, err := executeCommand(t, "translate", "/tmp/contract.docx")
	if err == nil || !strings.Contains(err.Error(), `unsupported input extension ".docx"`) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTranslate_RequiresBackendURL(t *testing.T) {
	t.Setenv("PDFTRANS_TRANSLATE_URL", "")
	dir := t.TempDir()
	input := writeSamplePDF(t, dir)

	_, err := executeCommand(t, "translate", input, "--backend", "http", "--ocr=false")
	if err == nil || !strings.Contains(err.Error(), "PDFTRANS_TRANSLATE_URL") {
		t.Fatalf("expected missing url error, got %v", err)
	}
}

func TestExtract_PrintsDocument(t *testing.T) {
	dir := t.TempDir()
	input := writeSamplePDF(t, dir)

	out, err := executeCommand(t, "extract", input, "--source-lang", "en", "--ocr=false")
	if err != nil {
		t.Fatalf("extract failed: %v\n%s", err, out)
	}
	start := strings.Index(out, "{")
	if start < 0 {
		t.Fatalf("no JSON in output: %s", out)
	}
	var doc document.Document
	if err := json.Unmarshal([]byte(out[start:]), &doc); err != nil {
		t.Fatalf("decode document: %v\n%s", err, out)
	}
	if doc.Pages != 1 || doc.Language != "en" {
		t.Errorf("pages=%d language=%q", doc.Pages, doc.Language)
	}
	if doc.ContentBlocks() == 0 {
		t.Fatalf("no content blocks")
	}
	if !strings.Contains(doc.Text(), "LEASE AGREEMENT") {
		t.Errorf("heading text missing from %q", doc.Text())
	}
}

func TestDefaultOutputPath(t *testing.T) {
	cases := map[string]string{
		"lease.pdf":           "lease_translated.pdf",
		"/tmp/a/Deed.PDF":     "/tmp/a/Deed_translated.pdf",
		"dir.v2/contract.pdf": "dir.v2/contract_translated.pdf",
	}
	for in, want := range cases {
		if got := defaultOutputPath(in); got != want {
			t.Errorf("defaultOutputPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	emit := progressPrinter(&buf)
	emit(pipeline.Event{Stage: pipeline.StageExtracting, Message: "extracting text"})
	emit(pipeline.Event{Stage: pipeline.StageTranslating, Done: 0, Total: 2})
	emit(pipeline.Event{Stage: pipeline.StageTranslating, Done: 0, Total: 2})
	emit(pipeline.Event{Stage: pipeline.StageTranslating, Done: 1, Total: 2})
	emit(pipeline.Event{Stage: pipeline.StageError, FailedStage: pipeline.StageTranslating, Message: "boom"})

	want := "[ 15%] extracting text\n" +
		"[ 40%] translating 0/2\n" +
		"[ 55%] translating 1/2\n" +
		"[ 40%] failed during translating: boom\n"
	if buf.String() != want {
		t.Errorf("progress output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestVersionFlag(t *testing.T) {
	out, err := executeCommand(t, "--version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "pdftrans ") {
		t.Errorf("unexpected version output: %q", out)
	}
}
