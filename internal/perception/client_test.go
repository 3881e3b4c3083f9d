package perception

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionBody(content string) string {
	resp := ChatResponse{}
	resp.Choices = []ChatChoice{{Message: ChatResponseMessage{Content: content}}}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestCall_Success(t *testing.T) {
	var gotReq ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(completionBody("  你好  ")))
	}))
	defer srv.Close()

	c := NewCaller(srv.URL, nil)
	out, err := c.Call(context.Background(), CallRequest{
		Model:       "deepseek-chat",
		Messages:    []ChatMessage{{Role: "user", Content: "hi"}},
		Temperature: 0.2,
		MaxTokens:   100,
	})
	require.NoError(t, err)
	assert.Equal(t, "你好", out, "content should be trimmed")
	assert.Equal(t, "deepseek-chat", gotReq.Model)
	assert.Equal(t, 100, gotReq.MaxTokens)
}

func TestCall_ReasoningContentFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := ChatResponse{}
		resp.Choices = []ChatChoice{{Message: ChatResponseMessage{ReasoningContent: "推理输出"}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	out, err := NewCaller(srv.URL, nil).Call(context.Background(), CallRequest{Model: "deepseek-reasoner"})
	require.NoError(t, err)
	assert.Equal(t, "推理输出", out)
}

func TestCall_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionBody("ok")))
	}))
	defer srv.Close()

	out, err := NewCaller(srv.URL, nil).Call(context.Background(), CallRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCall_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	out, err := NewCaller(srv.URL, nil).Call(context.Background(), CallRequest{Model: "m"})
	require.Error(t, err)
	assert.Empty(t, out)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestCall_JSONModeRejectionFallsBack(t *testing.T) {
	var sawFormat, sawPlain atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat != nil {
			sawFormat.Store(true)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"response_format is not supported"}}`))
			return
		}
		sawPlain.Store(true)
		w.Write([]byte(completionBody(`{"entities":[]}`)))
	}))
	defer srv.Close()

	out, err := NewCaller(srv.URL, nil).Call(context.Background(), CallRequest{
		Model:          "m",
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"entities":[]}`, out)
	assert.True(t, sawFormat.Load(), "first attempt should request JSON mode")
	assert.True(t, sawPlain.Load(), "fallback should drop the format hint")
}

func TestCall_NonJSONContentRetriesWithoutFormat(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if calls.Add(1) == 1 {
			// Provider accepted JSON mode but rambled anyway.
			w.Write([]byte(completionBody("好的，这是结果：")))
			return
		}
		assert.Nil(t, req.ResponseFormat)
		w.Write([]byte(completionBody(`{"ok":true}`)))
	}))
	defer srv.Close()

	out, err := NewCaller(srv.URL, nil).Call(context.Background(), CallRequest{
		Model:          "m",
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCall_TimeoutReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(completionBody("late")))
	}))
	defer srv.Close()

	out, err := NewCaller(srv.URL, nil).Call(context.Background(), CallRequest{
		Model:   "m",
		Timeout: 20 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Empty(t, out)
}

func TestLooksJSONObject(t *testing.T) {
	assert.True(t, looksJSONObject(`{"a":1}`))
	assert.True(t, looksJSONObject("  {\n}  "))
	assert.False(t, looksJSONObject(`[1,2]`))
	assert.False(t, looksJSONObject("plain text"))
}
