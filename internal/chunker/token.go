package chunker

import (
	"strings"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/markup"
)

// EstimateTokens gives a rough token count for LLM-backed services.
// Characters, not tokens, are what the translation limit is measured in.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	tokens := int(float64(words) * 1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// Stats summarizes a chunk manifest.
type Stats struct {
	Chunks       int `json:"chunks"`
	Chars        int `json:"chars"`
	PayloadChars int `json:"payload_chars"`
	MaxPayload   int `json:"max_payload"`
	Tokens       int `json:"estimated_tokens"`
}

// Summarize reports the request volume a manifest will generate.
func Summarize(chunks []document.Chunk) Stats {
	st := Stats{Chunks: len(chunks)}
	for _, c := range chunks {
		st.Chars += document.Len(c.Text())
		n := document.Len(c.Payload())
		st.PayloadChars += n
		st.MaxPayload = max(st.MaxPayload, n)
		st.Tokens += EstimateTokens(markup.Plain(c.Text()))
	}
	return st
}
