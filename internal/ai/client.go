package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client talks to the chat-completion service. Responses use the
// {success, data} envelope; failure bodies carry a message and error field.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// TokenSource supplies bearer tokens and the single transparent refresh used
// on a 401 response.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// NewClient creates an AI service client.
func NewClient(log *slog.Logger, baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("service", "ai")),
	}
}

var _ Dispatcher = (*Client)(nil)

type chatRequest struct {
	ConversationID string           `json:"conversation_id,omitempty"`
	Message        string           `json:"message"`
	History        []HistoryMessage `json:"history,omitempty"`
	OCRContent     string           `json:"ocr_content,omitempty"`
}

// Chat issues the single chat-completion request for a turn.
func (c *Client) Chat(ctx context.Context, input ChatInput) (Reply, error) {
	payload := chatRequest{
		ConversationID: input.ConversationID,
		Message:        input.Message,
		History:        input.History,
		OCRContent:     input.OCRContent,
	}
	var reply Reply
	if err := c.post(ctx, "/ai/chat", payload, &reply); err != nil {
		c.logger.Error("chat dispatch failed",
			slog.String("conversation_id", input.ConversationID),
			slog.Any("error", err),
		)
		return Reply{}, err
	}
	return reply, nil
}

// Summarize condenses conversation text. summaryType selects the summary
// flavor understood by the service (e.g. medical, diagnostic, treatment).
func (c *Client) Summarize(ctx context.Context, content, summaryType string) (Summary, error) {
	payload := map[string]string{"content": content}
	if summaryType != "" {
		payload["type"] = summaryType
	}
	var summary Summary
	if err := c.post(ctx, "/ai/summarize", payload, &summary); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// Suggestions returns follow-up prompts for the current context.
func (c *Client) Suggestions(ctx context.Context, contextText, lastMessage string) ([]string, error) {
	payload := map[string]string{
		"context":      contextText,
		"last_message": lastMessage,
	}
	var out struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := c.post(ctx, "/ai/suggestions", payload, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

// Health probes the service.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ai/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RequestError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RequestError{Status: resp.StatusCode, Message: "service unhealthy"}
	}
	return nil
}

// envelope is the {success, data} wrapper around every JSON response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	ErrText string          `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &RequestError{Err: err}
	}

	respBody, status, err := c.send(ctx, path, body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if status < 200 || status >= 300 {
			return &RequestError{Status: status}
		}
		return &RequestError{Message: "parse response", Err: err}
	}
	if status < 200 || status >= 300 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.ErrText
		}
		return &RequestError{Status: status, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &RequestError{Message: "parse response data", Err: err}
	}
	return nil
}

// send executes the request, retrying exactly once with a refreshed token when
// the first attempt answers 401.
func (c *Client) send(ctx context.Context, path string, body []byte) ([]byte, int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, 0, &RequestError{Message: "no credentials", Err: err}
	}

	respBody, status, err := c.sendOnce(ctx, path, body, token)
	if err != nil || status != http.StatusUnauthorized {
		return respBody, status, err
	}

	c.logger.Debug("token rejected, refreshing")
	token, err = c.tokens.Refresh(ctx)
	if err != nil {
		return nil, 0, &RequestError{Status: http.StatusUnauthorized, Err: err}
	}
	return c.sendOnce(ctx, path, body, token)
}

func (c *Client) sendOnce(ctx context.Context, path string, body []byte, token string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, &RequestError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &RequestError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &RequestError{Err: err}
	}
	return respBody, resp.StatusCode, nil
}
