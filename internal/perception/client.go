// Package perception routes and executes model calls against the
// OpenAI-compatible proxy endpoint.
package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inkwell/internal/diag"
	"inkwell/internal/logging"
)

const (
	defaultTimeout   = 22 * time.Second
	retryBackoffUnit = 600 * time.Millisecond
	maxAttempts      = 2
)

// CallRequest describes one model call.
type CallRequest struct {
	Model          string
	Messages       []ChatMessage
	Temperature    float64
	MaxTokens      int
	TopP           float64
	ResponseFormat *ResponseFormat
	Timeout        time.Duration
}

// Caller executes model requests with timeout, JSON-mode fallback, and
// bounded retry on transient failure.
type Caller struct {
	endpoint   string
	httpClient *http.Client
	bus        *diag.Bus
}

// NewCaller creates a caller against the given proxy endpoint
// (e.g. "http://127.0.0.1:8787/llm/v1/chat/completions").
func NewCaller(endpoint string, bus *diag.Bus) *Caller {
	if bus == nil {
		bus = diag.Nop()
	}
	return &Caller{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		bus:        bus,
	}
}

// statusError marks a non-2xx response so retry classification can
// branch on the code.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, truncate(e.body, 200))
}

func retriable(err error) bool {
	se, ok := err.(*statusError)
	if !ok {
		return false
	}
	return se.code == http.StatusTooManyRequests || se.code >= 500
}

// Call issues the request and returns the assistant's primary content,
// trimmed. On total failure it returns an empty string together with
// the error; callers that tolerate failure may ignore the error.
//
// Behavior:
//   - the whole call runs under one deadline (Timeout or the default);
//   - when JSON mode was requested and the response is a non-success or
//     doesn't look like a JSON object, one retry without the JSON hint;
//   - 429/5xx retried with fixed backoff proportional to the attempt
//     index, two attempts total; other error classes fail immediately.
func (c *Caller) Call(ctx context.Context, req CallRequest) (string, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	c.bus.Emit(diag.EventLLMRequest, map[string]interface{}{
		"model": req.Model,
		"json":  req.ResponseFormat != nil,
	})

	format := req.ResponseFormat
	jsonFallbackUsed := false

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * retryBackoffUnit
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		content, err := c.post(ctx, req, format)
		if err == nil {
			if format != nil && !looksJSONObject(content) && !jsonFallbackUsed {
				// Provider ignored JSON mode; retry once without the hint.
				jsonFallbackUsed = true
				format = nil
				content, err = c.post(ctx, req, nil)
			}
			if err == nil {
				elapsed := time.Since(start)
				logging.API("call model=%s attempt=%d len=%d elapsed=%v", req.Model, attempt, len(content), elapsed)
				c.bus.Emit(diag.EventLLMResponse, map[string]interface{}{
					"model": req.Model, "ok": true, "len": len(content),
				})
				return content, nil
			}
		}

		lastErr = err

		if format != nil && !jsonFallbackUsed && isJSONModeRejection(err) {
			// Provider rejected response_format outright; strip it and
			// retry without consuming the transient-retry budget.
			jsonFallbackUsed = true
			format = nil
			attempt--
			continue
		}
		if !retriable(err) {
			break
		}
		logging.Get(logging.CategoryAPI).Warn("call model=%s attempt=%d transient failure: %v", req.Model, attempt, err)
	}

	logging.Get(logging.CategoryAPI).Error("call model=%s failed: %v", req.Model, lastErr)
	c.bus.Emit(diag.EventLLMResponse, map[string]interface{}{
		"model": req.Model, "ok": false, "err": fmt.Sprint(lastErr),
	})
	return "", lastErr
}

func (c *Caller) post(ctx context.Context, req CallRequest, format *ResponseFormat) (string, error) {
	body := ChatRequest{
		Model:          req.Model,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		TopP:           req.TopP,
		ResponseFormat: format,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{code: resp.StatusCode, body: string(raw)}
	}

	var parsed ChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}

	msg := parsed.Choices[0].Message
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		content = strings.TrimSpace(msg.ReasoningContent)
	}
	return content, nil
}

// isJSONModeRejection reports whether the provider refused the
// response_format hint (typically a 400 naming the field).
func isJSONModeRejection(err error) bool {
	se, ok := err.(*statusError)
	if !ok {
		return false
	}
	if se.code != http.StatusBadRequest {
		return false
	}
	lower := strings.ToLower(se.body)
	return strings.Contains(lower, "response_format") || strings.Contains(lower, "json")
}

// looksJSONObject is a cheap structural check, not a parse.
func looksJSONObject(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
