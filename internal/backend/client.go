package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/clinichat/clinichat/internal/auth"
)

// TokenSource supplies bearer tokens and the single transparent refresh used
// on a 401 response.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Client talks to the persistence service.
type Client struct {
	baseURL    string
	pageSize   int
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a persistence client.
func NewClient(log *slog.Logger, baseURL string, timeout time.Duration, pageSize int, tokens TokenSource) *Client {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		pageSize:   pageSize,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("service", "backend")),
	}
}

var _ Service = (*Client)(nil)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// CreateConversation creates a new thread. Called lazily on the first message
// of a thread so attachments can be associated with an id.
func (c *Client) CreateConversation(ctx context.Context, title, category string) (Conversation, error) {
	var conv Conversation
	body := map[string]string{"title": title, "category": category}
	if err := c.doJSON(ctx, http.MethodPost, "/chat/conversations", body, &conv); err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the user's conversations, newest activity first.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/chat/conversations", nil, &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out.Conversations, nil
}

// ListMessages returns one page of a conversation's messages, oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string, page int) ([]Message, error) {
	if page < 1 {
		page = 1
	}
	path := fmt.Sprintf("/chat/conversations/%s/messages?page=%d&page_size=%d",
		url.PathEscape(conversationID), page, c.pageSize)
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list messages: %w", mapNotFound(err, ErrConversationNotFound))
	}
	return out.Messages, nil
}

// UpdateTitle renames a conversation.
func (c *Client) UpdateTitle(ctx context.Context, conversationID, title string) (Conversation, error) {
	var conv Conversation
	path := "/chat/conversations/" + url.PathEscape(conversationID)
	if err := c.doJSON(ctx, http.MethodPatch, path, map[string]string{"title": title}, &conv); err != nil {
		return Conversation{}, fmt.Errorf("update title: %w", mapNotFound(err, ErrConversationNotFound))
	}
	return conv, nil
}

// DeleteConversation removes a conversation and its messages. Terminal.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := "/chat/conversations/" + url.PathEscape(conversationID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete conversation: %w", mapNotFound(err, ErrConversationNotFound))
	}
	return nil
}

// OCRStatus returns the attachment processing state for a message.
func (c *Client) OCRStatus(ctx context.Context, messageID string) (OCRStatus, error) {
	var status OCRStatus
	path := "/messages/" + url.PathEscape(messageID) + "/ocr-status"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &status); err != nil {
		return OCRStatus{}, fmt.Errorf("ocr status: %w", mapNotFound(err, ErrMessageNotFound))
	}
	return status, nil
}

// Upload sends the files and optional message text as one multipart request.
// The returned message already carries the blob metadata for each attachment
// with the OCR flag unset.
func (c *Client) Upload(ctx context.Context, conversationID string, input UploadInput) (Message, error) {
	if len(input.Files) == 0 {
		return Message{}, &UploadError{Message: "no files to upload"}
	}

	// Spool the multipart body once so a 401 retry can replay it.
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, file := range input.Files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="files"; filename="%s"`, quoteEscaper.Replace(file.Name)))
		if file.MimeType != "" {
			header.Set("Content-Type", file.MimeType)
		}
		part, err := writer.CreatePart(header)
		if err != nil {
			return Message{}, &UploadError{Message: "build multipart body", Err: err}
		}
		if _, err := io.Copy(part, file.Reader); err != nil {
			return Message{}, &UploadError{Message: "read file " + file.Name, Err: err}
		}
	}
	if strings.TrimSpace(input.Message) != "" {
		if err := writer.WriteField("message", input.Message); err != nil {
			return Message{}, &UploadError{Message: "build multipart body", Err: err}
		}
	}
	if err := writer.Close(); err != nil {
		return Message{}, &UploadError{Message: "build multipart body", Err: err}
	}

	path := "/conversations/" + url.PathEscape(conversationID) + "/upload"
	payload := buf.Bytes()
	respBody, status, err := c.do(ctx, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return Message{}, &UploadError{Err: err}
	}
	if status < 200 || status >= 300 {
		c.logger.Error("upload rejected", slog.String("conversation_id", conversationID), slog.Int("status", status))
		return Message{}, &UploadError{Status: status, Message: errorMessage(respBody)}
	}

	var parsed struct {
		MessageID   string       `json:"messageId"`
		Attachments []Attachment `json:"attachments"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Message{}, &UploadError{Message: "parse upload response", Err: err}
	}
	return Message{
		ID:             parsed.MessageID,
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        input.Message,
		Attachments:    parsed.Attachments,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// --- HTTP helpers ---

// doJSON runs a JSON request and decodes the response into out when non-nil.
// Not-found answers surface as *StatusError with status 404; callers map them
// to the sentinel fitting the route.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = data
	}

	respBody, status, err := c.do(ctx, func(token string) (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		c.logger.Error("backend error",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", status),
		)
		return &StatusError{Status: status, Body: errorMessage(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// do executes the request built by build, retrying exactly once with a
// refreshed token when the first attempt answers 401.
func (c *Client) do(ctx context.Context, build func(token string) (*http.Request, error)) ([]byte, int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	body, status, err := c.sendOnce(build, token)
	if err != nil {
		return nil, 0, err
	}
	if status != http.StatusUnauthorized {
		return body, status, nil
	}

	c.logger.Debug("token rejected, refreshing")
	token, err = c.tokens.Refresh(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrReauthRequired) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("refresh after 401: %w", err)
	}
	return c.sendOnce(build, token)
}

func (c *Client) sendOnce(build func(token string) (*http.Request, error), token string) ([]byte, int, error) {
	req, err := build(token)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// mapNotFound converts a 404 StatusError to the given sentinel.
func mapNotFound(err error, sentinel error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
		return sentinel
	}
	return err
}

// errorMessage extracts a short human-readable message from an error body.
func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	if text == "" {
		text = "unexpected response"
	}
	return text
}
