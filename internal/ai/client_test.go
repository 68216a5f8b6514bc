package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token        string
	refreshed    string
	refreshCalls int
}

func (s *staticTokens) Token(ctx context.Context) (string, error) { return s.token, nil }

func (s *staticTokens) Refresh(ctx context.Context) (string, error) {
	s.refreshCalls++
	s.token = s.refreshed
	return s.refreshed, nil
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *staticTokens) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := &staticTokens{token: "tok", refreshed: "tok-fresh"}
	return NewClient(nil, srv.URL, 5*time.Second, tokens), tokens
}

func TestChat(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"response":        "Hypertension is elevated blood pressure.",
				"heading":         "Hypertension",
				"sources":         []string{"guidelines 2023"},
				"tokens_used":     321,
				"processing_time": 1.4,
			},
		})
	}))

	reply, err := client.Chat(context.Background(), ChatInput{
		ConversationID: "c1",
		Message:        "What is hypertension?",
		OCRContent:     "bp 150/95",
		History:        []HistoryMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "/ai/chat", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "What is hypertension?", gotBody["message"])
	assert.Equal(t, "bp 150/95", gotBody["ocr_content"])
	assert.Equal(t, "c1", gotBody["conversation_id"])

	assert.Equal(t, "Hypertension is elevated blood pressure.", reply.Response)
	assert.Equal(t, "Hypertension", reply.Heading)
	assert.Equal(t, []string{"guidelines 2023"}, reply.Sources)
	assert.Equal(t, 321, reply.TokensUsed)
	assert.InDelta(t, 1.4, reply.ProcessingTime, 0.001)
}

func TestChatOmitsEmptyOCRContent(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{"response": "ok"}})
	}))

	_, err := client.Chat(context.Background(), ChatInput{Message: "hello"})
	require.NoError(t, err)
	_, present := gotBody["ocr_content"]
	assert.False(t, present, "empty ocr_content must be absent from the payload")
}

func TestChatUnauthorizedTriggersSingleRefreshRetry(t *testing.T) {
	var auths []string
	client, tokens := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer tok-fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{"response": "ok"}})
	}))

	reply, err := client.Chat(context.Background(), ChatInput{Message: "hello"})
	require.NoError(t, err)

	assert.Equal(t, 1, tokens.refreshCalls)
	assert.Equal(t, []string{"Bearer tok", "Bearer tok-fresh"}, auths)
	assert.Equal(t, "ok", reply.Response)
}

func TestChatFailureEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"message": "Failed to process chat message",
			"error":   "model unavailable",
		})
	}))

	_, err := client.Chat(context.Background(), ChatInput{Message: "hello"})
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusInternalServerError, reqErr.Status)
	assert.Equal(t, "Failed to process chat message", reqErr.Message)
}

func TestChatUnsuccessfulBodyWithOKStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "quota exceeded"})
	}))

	_, err := client.Chat(context.Background(), ChatInput{Message: "hello"})
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "quota exceeded", reqErr.Message)
}

func TestSummarize(t *testing.T) {
	var gotBody map[string]string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ai/summarize", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"summary":         "Short summary.",
				"type":            "medical",
				"original_length": 120,
				"summary_length":  14,
			},
		})
	}))

	summary, err := client.Summarize(context.Background(), "long medical text", "medical")
	require.NoError(t, err)
	assert.Equal(t, "Short summary.", summary.Summary)
	assert.Equal(t, "medical", gotBody["type"])
	assert.Equal(t, 120, summary.OriginalLength)
}

func TestSuggestions(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ai/suggestions", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"suggestions": []string{"What are the side effects?", "When to see a doctor?"}},
		})
	}))

	suggestions, err := client.Suggestions(context.Background(), "ctx", "last")
	require.NoError(t, err)
	assert.Equal(t, []string{"What are the side effects?", "When to see a doctor?"}, suggestions)
}

func TestHealth(t *testing.T) {
	healthy := true
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ai/health", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))

	require.NoError(t, client.Health(context.Background()))
	healthy = false
	assert.Error(t, client.Health(context.Background()))
}
