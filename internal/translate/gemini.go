package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dgallion1/pdftrans/internal/document"
)

const geminiSystemPrompt = `You translate legal documents. The input is a sequence of <p id="N"> elements containing inline markup (<b>, <i>, <big>, <small>, <td>).

Rules:
- Translate only the text content from %s to %s.
- Keep every <p id="N"> element, in the same order, with the same id.
- Keep every inline tag in place around the translated words it marked; never add or drop tags.
- Keep numbers, dates, and defined terms consistent.
- Do not explain, summarize, or add notes.

Respond with ONLY the translated elements.`

// GeminiService translates payloads with a Gemini model.
type GeminiService struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiService opens a Gemini client. The request timeout is enforced
// through the context because a custom HTTP client breaks the library's
// API-key header injection.
func NewGeminiService(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeminiService{client: client, model: model, timeout: timeout}, nil
}

// Close closes the underlying genai client.
func (s *GeminiService) Close() error {
	return s.client.Close()
}

func (s *GeminiService) Translate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	model := s.client.GenerativeModel(s.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(fmt.Sprintf(geminiSystemPrompt, document.LanguageName(req.Source), document.LanguageName(req.Target)))},
	}
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx, genai.Text(req.Text))
	if err != nil {
		return "", classifyGeminiError(err)
	}
	text, err := extractResponseText(resp)
	if err != nil {
		return "", Validation(err)
	}
	return stripCodeBlock(text), nil
}

func extractResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned from Gemini")
	}
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		if sb.Len() > 0 {
			return sb.String(), nil
		}
	}
	return "", fmt.Errorf("no text parts found in Gemini response")
}

func classifyGeminiError(err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("gemini generate content failed: %w", err)

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 404:
			return NewError(KindBadRequest, "Gemini model not found or no access (404).", wrapped)
		case gerr.Code == 401 || gerr.Code == 403:
			return NewError(KindAuth, fmt.Sprintf("Gemini authentication/authorization failed (%d).", gerr.Code), wrapped)
		case gerr.Code == 429:
			e := &Error{Kind: KindRateLimit, SafeMessage: "Gemini rate limit exceeded (429).", Cause: wrapped}
			e.RetryAfter = parseRetryAfter(gerr.Header.Get("Retry-After"), time.Now())
			return e
		case gerr.Code >= 500:
			return NewError(KindTransient, fmt.Sprintf("Gemini service temporary error (%d).", gerr.Code), wrapped)
		default:
			return NewError(KindBadRequest, fmt.Sprintf("Gemini API error (%d).", gerr.Code), wrapped)
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// DNS, socket, and timeout failures are usually transient.
	return NewError(KindTransient, "Gemini request failed due to a temporary network error.", wrapped)
}

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
