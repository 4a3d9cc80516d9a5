package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgallion1/pdftrans/internal/document"
)

// chunkOf builds a chunk whose segments are the given texts.
func chunkOf(index int, texts ...string) document.Chunk {
	ch := document.Chunk{Index: index, FirstBlock: index, LastBlock: index}
	for i, t := range texts {
		ch.Segments = append(ch.Segments, document.Segment{Block: index*10 + i, Start: 0, End: len(t), Text: t})
	}
	return ch
}

// fakeService "translates" by upper-casing text between tags.
type fakeService struct {
	mu     sync.Mutex
	calls  map[int]int
	failOn map[string]error // payload substring -> error
	delay  func(req Request) time.Duration
}

func newFake() *fakeService {
	return &fakeService{calls: map[int]int{}, failOn: map[string]error{}}
}

func (f *fakeService) Translate(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.calls[len(req.Text)]++
	var fail error
	for sub, err := range f.failOn {
		if strings.Contains(req.Text, sub) {
			fail = err
		}
	}
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(req)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail != nil {
		return "", fail
	}
	return upperText(req.Text), nil
}

func (f *fakeService) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func upperText(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			r = []rune(strings.ToUpper(string(r)))[0]
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func fastConfig() Config {
	return Config{MaxInFlight: 3, MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestTranslate_PreservesOrder(t *testing.T) {
	svc := newFake()
	// Earlier chunks finish last.
	svc.delay = func(req Request) time.Duration {
		return time.Duration(20-len(req.Text)%20) * time.Millisecond
	}
	var chunks []document.Chunk
	for i := range 8 {
		chunks = append(chunks, chunkOf(i, fmt.Sprintf("chunk %d %s", i, strings.Repeat("x", i))))
	}

	out := NewClient(svc, fastConfig(), nil, nil).Translate(context.Background(), chunks, "gu", "en", nil)
	if len(out) != len(chunks) {
		t.Fatalf("expected %d results, got %d", len(chunks), len(out))
	}
	for i, tc := range out {
		if tc.Index != i {
			t.Errorf("result %d carries chunk %d", i, tc.Index)
		}
		if tc.Status != document.StatusOK {
			t.Errorf("chunk %d status %s: %s", i, tc.Status, tc.Err)
		}
		if want := strings.ToUpper(chunks[i].Text()); tc.Parts[0] != want {
			t.Errorf("chunk %d part = %q, want %q", i, tc.Parts[0], want)
		}
		if tc.Language != "en" {
			t.Errorf("chunk %d language %q", i, tc.Language)
		}
	}
}

func TestTranslate_PersistentServerErrorFailsOneChunk(t *testing.T) {
	svc := newFake()
	svc.failOn["second"] = NewError(KindTransient, "", errors.New("status 503"))
	chunks := []document.Chunk{
		chunkOf(0, "first"), chunkOf(1, "second"), chunkOf(2, "third"),
		chunkOf(3, "fourth"), chunkOf(4, "fifth"),
	}

	stats := NewLatencyStats(time.Hour)
	out := NewClient(svc, fastConfig(), nil, stats).Translate(context.Background(), chunks, "gu", "en", nil)

	for i, tc := range out {
		if i == 1 {
			if tc.Status != document.StatusFailed {
				t.Fatalf("chunk 1 should fail, got %s", tc.Status)
			}
			if tc.Attempts != 3 {
				t.Errorf("chunk 1 attempts = %d, want 3", tc.Attempts)
			}
			if tc.Err == "" {
				t.Error("chunk 1 should carry the last error")
			}
			continue
		}
		if tc.Status != document.StatusOK || tc.Attempts != 1 {
			t.Errorf("chunk %d: status %s attempts %d", i, tc.Status, tc.Attempts)
		}
	}
	snap := stats.Snapshot()
	if snap.Count != 7 || snap.Failures != 3 {
		t.Errorf("stats count=%d failures=%d, want 7 and 3", snap.Count, snap.Failures)
	}
}

func TestTranslate_ClientErrorsAreNotRetried(t *testing.T) {
	for _, kind := range []Kind{KindBadRequest, KindAuth} {
		svc := newFake()
		svc.failOn["doc"] = NewError(kind, "", errors.New("rejected"))
		out := NewClient(svc, fastConfig(), nil, nil).Translate(context.Background(), []document.Chunk{chunkOf(0, "doc")}, "gu", "en", nil)
		if out[0].Status != document.StatusFailed {
			t.Fatalf("%s: expected failure", kind)
		}
		if out[0].Attempts != 1 || svc.totalCalls() != 1 {
			t.Errorf("%s: attempts=%d calls=%d, want 1", kind, out[0].Attempts, svc.totalCalls())
		}
	}
}

func TestTranslate_ValidationFailureIsRetried(t *testing.T) {
	var calls atomic.Int32
	svc := ServiceFunc(func(_ context.Context, req Request) (string, error) {
		if calls.Add(1) == 1 {
			// Drops the bold tag.
			return `<p id="0">RENT IS DUE</p>`, nil
		}
		return upperText(req.Text), nil
	})
	ch := chunkOf(0, "<b>Rent</b> is due")
	out := NewClient(svc, fastConfig(), nil, nil).Translate(context.Background(), []document.Chunk{ch}, "gu", "en", nil)
	if out[0].Status != document.StatusOK {
		t.Fatalf("expected success after retry, got %s: %s", out[0].Status, out[0].Err)
	}
	if out[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", out[0].Attempts)
	}
	if out[0].Parts[0] != "<b>RENT</b> IS DUE" {
		t.Errorf("part = %q", out[0].Parts[0])
	}
}

func TestTranslate_CancelledBeforeStart(t *testing.T) {
	svc := newFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunks := []document.Chunk{chunkOf(0, "a"), chunkOf(1, "b")}
	out := NewClient(svc, fastConfig(), nil, nil).Translate(ctx, chunks, "gu", "en", nil)
	for i, tc := range out {
		if tc.Status != document.StatusFailed {
			t.Errorf("chunk %d status %s", i, tc.Status)
		}
		if !strings.Contains(tc.Err, "context canceled") {
			t.Errorf("chunk %d error %q", i, tc.Err)
		}
		if tc.Index != i {
			t.Errorf("result %d carries chunk %d", i, tc.Index)
		}
	}
	if svc.totalCalls() != 0 {
		t.Errorf("service called %d times after cancel", svc.totalCalls())
	}
}

func TestTranslate_CancelStopsNewSubmissions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	svc := ServiceFunc(func(ctx context.Context, req Request) (string, error) {
		if calls.Add(1) == 1 {
			cancel()
		}
		<-ctx.Done()
		return "", ctx.Err()
	})
	var chunks []document.Chunk
	for i := range 10 {
		chunks = append(chunks, chunkOf(i, "text"))
	}
	cfg := fastConfig()
	cfg.MaxInFlight = 1
	out := NewClient(svc, cfg, nil, nil).Translate(ctx, chunks, "gu", "en", nil)
	for i, tc := range out {
		if tc.Status != document.StatusFailed {
			t.Errorf("chunk %d status %s", i, tc.Status)
		}
	}
	if n := calls.Load(); n > 2 {
		t.Errorf("service called %d times, want at most 2", n)
	}
}

func TestTranslate_ProgressReportsEveryChunk(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	chunks := []document.Chunk{chunkOf(0, "a"), chunkOf(1, "b"), chunkOf(2, "c")}
	NewClient(newFake(), fastConfig(), nil, nil).Translate(context.Background(), chunks, "gu", "en", func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if total != 3 {
			t.Errorf("total = %d", total)
		}
		seen = append(seen, done)
	})
	if fmt.Sprint(seen) != "[1 2 3]" {
		t.Errorf("progress = %v", seen)
	}
}

func TestTranslate_RespectsMaxInFlight(t *testing.T) {
	var active, peak atomic.Int32
	svc := ServiceFunc(func(ctx context.Context, req Request) (string, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return upperText(req.Text), nil
	})

	chunks := make([]document.Chunk, 20)
	for i := range chunks {
		chunks[i] = chunkOf(i, fmt.Sprintf("chunk %d", i))
	}
	cfg := fastConfig()
	out := NewClient(svc, cfg, nil, nil).Translate(context.Background(), chunks, "gu", "en", nil)

	for i, tc := range out {
		if tc.Status != document.StatusOK {
			t.Fatalf("chunk %d status %s: %s", i, tc.Status, tc.Err)
		}
	}
	if got := peak.Load(); got > int32(cfg.MaxInFlight) {
		t.Errorf("peak concurrency = %d, want <= %d", got, cfg.MaxInFlight)
	}
	if got := peak.Load(); got < 2 {
		t.Errorf("peak concurrency = %d, requests never overlapped", got)
	}
}

func TestTranslate_QPSSpacesRequests(t *testing.T) {
	cfg := fastConfig()
	cfg.QPS = 50 // 20ms apart
	chunks := []document.Chunk{chunkOf(0, "a"), chunkOf(1, "b"), chunkOf(2, "c"), chunkOf(3, "d")}
	start := time.Now()
	NewClient(newFake(), cfg, nil, nil).Translate(context.Background(), chunks, "gu", "en", nil)
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("4 requests at 50 qps finished in %v", elapsed)
	}
}

func TestCheckResponse(t *testing.T) {
	ch := chunkOf(0, "<b>Title</b>", "Body <i>text</i>.")
	tests := []struct {
		name    string
		resp    string
		wantErr bool
	}{
		{"ok", `<p id="0"><b>T</b></p><p id="1">B <i>t</i>.</p>`, false},
		{"reordered ids", `<p id="1">B <i>t</i>.</p><p id="0"><b>T</b></p>`, false},
		{"missing segment", `<p id="0"><b>T</b></p>`, true},
		{"extra segment", `<p id="0"><b>T</b></p><p id="1">B <i>t</i>.</p><p id="2">x</p>`, true},
		{"dropped tag", `<p id="0">T</p><p id="1">B <i>t</i>.</p>`, true},
		{"added tag", `<p id="0"><b>T</b></p><p id="1"><b>B</b> <i>t</i>.</p>`, true},
		{"empty segment", `<p id="0"><b></b></p><p id="1">B <i>t</i>.</p>`, true},
		{"text outside wrappers", `<p id="0"><b>T</b></p><p id="1">B <i>t</i>.</p> Extra sentence.`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, err := CheckResponse(ch, tt.resp)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if k, _ := KindOf(err); k != KindValidation {
					t.Errorf("kind = %q, want validation", k)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if parts[0] != "<b>T</b>" || parts[1] != "B <i>t</i>." {
				t.Errorf("parts = %q", parts)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	for attempt := range 8 {
		d := Backoff(attempt, 100*time.Millisecond, time.Second)
		base := min(100*time.Millisecond<<attempt, time.Second)
		if d < base || d > base+base/2+1 {
			t.Errorf("attempt %d: backoff %v outside [%v, %v]", attempt, d, base, base+base/2)
		}
	}
}

func TestRetryDelayPrefersRetryAfter(t *testing.T) {
	err := &Error{Kind: KindRateLimit, RetryAfter: 7 * time.Second}
	if d := retryDelay(fmt.Errorf("wrapped: %w", err), 0, time.Millisecond, time.Second); d != 7*time.Second {
		t.Errorf("retryDelay() = %v, want 7s", d)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := map[Kind]bool{
		KindTransient:  true,
		KindRateLimit:  true,
		KindValidation: true,
		KindAuth:       false,
		KindBadRequest: false,
	}
	for kind, want := range cases {
		if got := IsRetryable(NewError(kind, "", nil)); got != want {
			t.Errorf("IsRetryable(%s) = %v, want %v", kind, got, want)
		}
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("unclassified errors should not be retried")
	}
}
