package translate

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/markup"
)

// Config controls concurrency and retry behavior.
type Config struct {
	MaxInFlight   int
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxRetryAfter time.Duration // Upper bound on a server-requested delay.
	QPS           float64       // Request starts per second; zero disables spacing.
}

func DefaultConfig() Config {
	return Config{
		MaxInFlight:   4,
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		MaxRetryAfter: 2 * time.Minute,
	}
}

// Progress is called after each chunk settles.
type Progress func(done, total int)

// Client translates chunk manifests through a Service.
type Client struct {
	svc   Service
	cfg   Config
	log   *slog.Logger
	stats *LatencyStats
}

// NewClient wraps svc. A nil stats disables latency recording.
func NewClient(svc Service, cfg Config, log *slog.Logger, stats *LatencyStats) *Client {
	d := DefaultConfig()
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = d.MaxInFlight
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = d.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = d.MaxDelay
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = d.MaxRetryAfter
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{svc: svc, cfg: cfg, log: log, stats: stats}
}

// Stats returns the latency recorder, which may be nil.
func (c *Client) Stats() *LatencyStats {
	return c.stats
}

// Translate sends every chunk and returns one result per chunk, in input
// order. A chunk that exhausts its attempts is returned with StatusFailed;
// the others are unaffected. After ctx is cancelled no new request starts
// and unsent chunks are marked failed with the context error.
func (c *Client) Translate(ctx context.Context, chunks []document.Chunk, src, tgt string, progress Progress) []document.TranslatedChunk {
	out := make([]document.TranslatedChunk, len(chunks))
	if len(chunks) == 0 {
		return out
	}

	type chunkResult struct {
		tc  document.TranslatedChunk
		idx int
	}
	results := make(chan chunkResult, len(chunks))
	sem := make(chan struct{}, c.cfg.MaxInFlight)
	limit := newLimiter(c.cfg.QPS)
	defer limit.stop()

	go func() {
		for i, ch := range chunks {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				for j := i; j < len(chunks); j++ {
					results <- chunkResult{tc: cancelled(chunks[j], tgt, ctx.Err()), idx: j}
				}
				return
			}
			go func(i int, ch document.Chunk) {
				defer func() { <-sem }()
				results <- chunkResult{tc: c.translateChunk(ctx, ch, src, tgt, limit), idx: i}
			}(i, ch)
		}
	}()

	failed := 0
	for done := 1; done <= len(chunks); done++ {
		r := <-results
		out[r.idx] = r.tc
		if r.tc.Status == document.StatusFailed {
			failed++
		}
		if progress != nil {
			progress(done, len(chunks))
		}
	}
	c.log.Info("translation finished", "chunks", len(chunks), "failed", failed, "source", src, "target", tgt)
	return out
}

func cancelled(ch document.Chunk, tgt string, err error) document.TranslatedChunk {
	return document.TranslatedChunk{Chunk: ch, Language: tgt, Status: document.StatusFailed, Err: err.Error()}
}

func (c *Client) translateChunk(ctx context.Context, ch document.Chunk, src, tgt string, limit *limiter) document.TranslatedChunk {
	log := c.log.With("chunk", ch.Index)
	tc := document.TranslatedChunk{Chunk: ch, Language: tgt}
	req := Request{Text: ch.Payload(), Source: src, Target: tgt}

	var lastErr error
	for attempt := range c.cfg.MaxAttempts {
		if err := limit.wait(ctx); err != nil {
			lastErr = err
			break
		}
		tc.Attempts = attempt + 1

		start := time.Now()
		translated, err := c.svc.Translate(ctx, req)
		var parts []string
		if err == nil {
			parts, err = CheckResponse(ch, translated)
		}
		if c.stats != nil {
			c.stats.Record(time.Since(start), err != nil)
		}
		if err == nil {
			tc.Status = document.StatusOK
			tc.Translated = translated
			tc.Parts = parts
			return tc
		}

		lastErr = err
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if !IsRetryable(err) || attempt+1 == c.cfg.MaxAttempts {
			break
		}
		delay := retryDelay(err, attempt, c.cfg.BaseDelay, c.cfg.MaxDelay)
		delay = min(delay, c.cfg.MaxRetryAfter)
		kind, _ := KindOf(err)
		log.Warn("retryable translation error", "attempt", attempt+1, "kind", kind, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	tc.Status = document.StatusFailed
	tc.Err = lastErr.Error()
	log.Error("chunk translation failed", "attempts", tc.Attempts, "error", lastErr)
	return tc
}

// CheckResponse splits a translated payload into per-segment parts and
// verifies each part carries the same inline tags as its source segment.
func CheckResponse(ch document.Chunk, translated string) ([]string, error) {
	parts, err := markup.SplitSegments(translated, len(ch.Segments))
	if err != nil {
		return nil, Validation(fmt.Errorf("segment wrappers: %w", err))
	}
	for i, part := range parts {
		source := ch.SegmentText(i)
		want, got := markup.TagCounts(source), markup.TagCounts(part)
		if !maps.Equal(want, got) {
			return nil, Validation(fmt.Errorf("segment %d inline tags %v, want %v", i, got, want))
		}
		if strings.TrimSpace(markup.Plain(part)) == "" && strings.TrimSpace(markup.Plain(source)) != "" {
			return nil, Validation(fmt.Errorf("segment %d translated to empty text", i))
		}
	}
	return parts, nil
}

// limiter spaces request starts. A nil limiter never waits.
type limiter struct {
	ticker *time.Ticker
}

func newLimiter(qps float64) *limiter {
	if qps <= 0 {
		return nil
	}
	return &limiter{ticker: time.NewTicker(time.Duration(float64(time.Second) / qps))}
}

func (l *limiter) wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	select {
	case <-l.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limiter) stop() {
	if l != nil {
		l.ticker.Stop()
	}
}
