// Package translate sends chunks to a remote translation service with
// bounded concurrency, retries, and per-chunk failure isolation.
package translate

import "context"

// Request is one call to a translation service. Text is a chunk payload:
// <p id="k"> segment wrappers around inline markup.
type Request struct {
	Text   string
	Source string // BCP-47 tag.
	Target string
}

// Service translates a single payload. Implementations classify failures
// with *Error so the client can decide whether to retry.
type Service interface {
	Translate(ctx context.Context, req Request) (string, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, req Request) (string, error)

func (f ServiceFunc) Translate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
