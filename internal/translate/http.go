package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPService calls a REST translation API:
// POST {base}/translate with {text, source_language, target_language}.
type HTTPService struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPService(baseURL, apiKey string, timeout time.Duration) *HTTPService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type translateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
	Error          *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Translate sends one payload and returns the translated text.
func (s *HTTPService) Translate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(translateRequest{
		Text:           req.Text,
		SourceLanguage: req.Source,
		TargetLanguage: req.Target,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", NewError(KindBadRequest, "", fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", Transient(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp, respBody)
	}

	var apiResp translateResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", Validation(fmt.Errorf("decode response: %w (raw: %s)", err, truncate(string(respBody), 200)))
	}
	if apiResp.Error != nil {
		return "", NewError(KindBadRequest, "", fmt.Errorf("translation api error: %s: %s", apiResp.Error.Code, apiResp.Error.Message))
	}
	if strings.TrimSpace(apiResp.TranslatedText) == "" {
		return "", Validation(fmt.Errorf("empty translated_text"))
	}
	return apiResp.TranslatedText, nil
}

// Close releases idle connections.
func (s *HTTPService) Close() {
	s.httpClient.CloseIdleConnections()
}

func classifyStatus(resp *http.Response, body []byte) error {
	cause := fmt.Errorf("translation api status %d: %s", resp.StatusCode, truncate(string(body), 200))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{
			Kind:        KindRateLimit,
			SafeMessage: "Translation service rate limit exceeded (429).",
			Cause:       cause,
			RetryAfter:  parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		return NewError(KindTransient, fmt.Sprintf("Translation service temporary error (%d).", resp.StatusCode), cause)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(KindAuth, fmt.Sprintf("Translation service authentication failed (%d).", resp.StatusCode), cause)
	default:
		return NewError(KindBadRequest, fmt.Sprintf("Translation service rejected the request (%d).", resp.StatusCode), cause)
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindTransient, "Translation service timed out.", err)
	}
	return NewError(KindTransient, "Translation service unreachable.", err)
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
